package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatbot/internal/cache"
	"chatbot/internal/gemini"
	"chatbot/internal/metrics"
	"chatbot/internal/model"
	"chatbot/internal/repository"
)

const historyCacheTTL = time.Minute

// Generator produces a reply for a fully assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatService runs the per-message conversation pipeline.
type ChatService interface {
	// Respond returns the reply for message. Upstream failures never surface
	// as errors; only a failed history read or write does.
	Respond(ctx context.Context, userID uint, message string) (string, error)
	// History returns the user's most recent interactions, newest first.
	History(ctx context.Context, userID uint) ([]model.Interaction, error)
}

// ChatConfig carries the tunables of the pipeline.
type ChatConfig struct {
	HistoryLimit    int
	UpstreamTimeout time.Duration
}

type chatService struct {
	interactions repository.InteractionRepository
	generator    Generator
	cache        *cache.Client
	metrics      *metrics.Metrics
	log          *zap.Logger
	cfg          ChatConfig
}

// NewChatService wires the pipeline. cache and m may be nil.
func NewChatService(
	interactions repository.InteractionRepository,
	generator Generator,
	cache *cache.Client,
	m *metrics.Metrics,
	log *zap.Logger,
	cfg ChatConfig,
) ChatService {
	if log == nil {
		log = zap.NewNop()
	}
	return &chatService{
		interactions: interactions,
		generator:    generator,
		cache:        cache,
		metrics:      m,
		log:          log,
		cfg:          cfg,
	}
}

func (s *chatService) Respond(ctx context.Context, userID uint, message string) (string, error) {
	recent, err := s.interactions.FindRecentByUser(ctx, userID, s.cfg.HistoryLimit)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	prompt := BuildPrompt(FormatHistory(recent), message)
	reply, classification := s.generate(ctx, userID, prompt)

	interaction := &model.Interaction{
		UserID:         userID,
		UserMessage:    message,
		AssistantReply: reply,
		Classification: classification,
	}
	// The exchange is recorded even if the caller has gone away.
	if err := s.interactions.Create(context.WithoutCancel(ctx), interaction); err != nil {
		return "", fmt.Errorf("save interaction: %w", err)
	}

	_ = s.cache.Delete(ctx, s.historyCacheKey(userID))
	s.metrics.CountInteraction(classification)
	s.log.Info("interaction stored",
		zap.Uint("user_id", userID),
		zap.Uint("interaction_id", interaction.ID),
		zap.String("classification", classification),
	)

	return reply, nil
}

// generate calls the upstream under the configured timeout and maps the
// result to the user-visible reply and its classification.
func (s *chatService) generate(ctx context.Context, userID uint, prompt string) (string, string) {
	upstreamCtx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.generator.Generate(upstreamCtx, prompt)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		s.metrics.ObserveUpstream(metrics.OutcomeOK, elapsed)
	case errors.Is(err, gemini.ErrMalformedResponse):
		s.metrics.ObserveUpstream(metrics.OutcomeMalformed, elapsed)
		s.log.Warn("upstream reply could not be parsed",
			zap.Uint("user_id", userID),
			zap.String("kind", "parse"),
			zap.Error(err),
		)
		text = parseFallback
	default:
		s.metrics.ObserveUpstream(metrics.OutcomeTransport, elapsed)
		s.log.Warn("upstream call failed",
			zap.Uint("user_id", userID),
			zap.String("kind", upstreamFailureKind(err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return ApologyReply, model.ClassificationUpstreamErr
	}

	if strings.Contains(text, CrisisMarker) {
		return CrisisReply, model.ClassificationCrisis
	}
	return text, model.ClassificationPending
}

func upstreamFailureKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gemini.ErrUnexpectedStatus):
		return "status"
	default:
		return "transport"
	}
}

func (s *chatService) History(ctx context.Context, userID uint) ([]model.Interaction, error) {
	key := s.historyCacheKey(userID)
	if data, _ := s.cache.Get(ctx, key); data != nil {
		var cached []model.Interaction
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	interactions, err := s.interactions.FindRecentByUser(ctx, userID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if interactions == nil {
		interactions = []model.Interaction{}
	}

	if payload, err := json.Marshal(interactions); err == nil {
		_ = s.cache.Set(ctx, key, payload, historyCacheTTL)
	}
	return interactions, nil
}

func (s *chatService) historyCacheKey(userID uint) string {
	return fmt.Sprintf("history:%d", userID)
}
