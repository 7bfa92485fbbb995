package model

import "time"

// Classification labels stored with every interaction.
const (
	ClassificationPending     = "Emoción por determinar"
	ClassificationCrisis      = "Riesgo de Crisis"
	ClassificationUpstreamErr = "Error API"
)

// Interaction is one persisted message/reply pair. Rows are append-only.
type Interaction struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	UserID         uint      `json:"user_id" gorm:"not null;index:idx_interactions_user_created,priority:1"`
	CreatedAt      time.Time `json:"created_at" gorm:"index:idx_interactions_user_created,priority:2"`
	UserMessage    string    `json:"user_message" gorm:"type:text;not null"`
	AssistantReply string    `json:"assistant_reply" gorm:"type:text;not null"`
	Classification string    `json:"classification" gorm:"size:64;not null"`

	// Relations
	User User `json:"-" gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}
