package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"chatbot/internal/model"
)

// dryRunDB builds a MySQL-dialect GORM handle that never touches a server.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/chatbot?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return db
}

func TestRecentByUser_SQL(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var out []model.Interaction
		return recentByUser(tx, 7, 20).Find(&out)
	})

	assert.Contains(t, sql, "FROM `interactions`")
	assert.Contains(t, sql, "user_id = 7")
	assert.Contains(t, sql, "ORDER BY created_at DESC,id DESC")
	assert.Contains(t, sql, "LIMIT 20")
}

func TestUserFindByEmail_SQL(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var user model.User
		return tx.Where("email = ?", "ana@example.com").First(&user)
	})

	assert.Contains(t, sql, "FROM `users`")
	assert.Contains(t, sql, "email = 'ana@example.com'")
}
