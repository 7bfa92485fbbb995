package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"chatbot/internal/gemini"
	"chatbot/internal/metrics"
	"chatbot/internal/model"
)

// memoryInteractions is an in-memory InteractionRepository. Every row gets the
// same timestamp so ordering relies on the insertion tiebreak.
type memoryInteractions struct {
	mu   sync.Mutex
	rows []model.Interaction
	at   time.Time
}

func newMemoryInteractions() *memoryInteractions {
	return &memoryInteractions{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *memoryInteractions) Create(_ context.Context, it *model.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.ID = uint(len(m.rows) + 1)
	it.CreatedAt = m.at
	m.rows = append(m.rows, *it)
	return nil
}

func (m *memoryInteractions) FindRecentByUser(_ context.Context, userID uint, limit int) ([]model.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Interaction
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryInteractions) forUser(userID uint) []model.Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Interaction
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// MockInteractionRepository is a mock implementation of InteractionRepository.
type MockInteractionRepository struct {
	mock.Mock
}

func (m *MockInteractionRepository) Create(ctx context.Context, it *model.Interaction) error {
	args := m.Called(ctx, it)
	return args.Error(0)
}

func (m *MockInteractionRepository) FindRecentByUser(ctx context.Context, userID uint, limit int) ([]model.Interaction, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Interaction), args.Error(1)
}

// fakeGenerator records prompts and answers with reply/err.
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   func(ctx context.Context, prompt string) (string, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.reply(ctx, prompt)
}

func replyWith(text string, err error) *fakeGenerator {
	return &fakeGenerator{reply: func(context.Context, string) (string, error) { return text, err }}
}

func testChatConfig() ChatConfig {
	return ChatConfig{HistoryLimit: 20, UpstreamTimeout: time.Second}
}

func TestChatService_RespondFirstMessage(t *testing.T) {
	repo := newMemoryInteractions()
	gen := replyWith("Hello!", nil)
	svc := NewChatService(repo, gen, nil, nil, nil, testChatConfig())

	reply, err := svc.Respond(context.Background(), 1, "Hola")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], EmptyHistoryPlaceholder)
	assert.Contains(t, gen.prompts[0], "Hola")
	assert.Contains(t, gen.prompts[0], "No diagnostiques")

	rows := repo.forUser(1)
	require.Len(t, rows, 1)
	assert.Equal(t, "Hola", rows[0].UserMessage)
	assert.Equal(t, "Hello!", rows[0].AssistantReply)
	assert.Equal(t, model.ClassificationPending, rows[0].Classification)
}

func TestChatService_RespondOutcomes(t *testing.T) {
	tests := []struct {
		name               string
		gen                *fakeGenerator
		wantReply          string
		wantClassification string
		wantOutcome        string
	}{
		{
			name:               "crisis marker replaced",
			gen:                replyWith("Entiendo. RIESGO_CRISIS detectado en el mensaje", nil),
			wantReply:          CrisisReply,
			wantClassification: model.ClassificationCrisis,
			wantOutcome:        metrics.OutcomeOK,
		},
		{
			name:               "malformed upstream reply escalates to crisis",
			gen:                replyWith("", fmt.Errorf("%w: unexpected end of JSON input", gemini.ErrMalformedResponse)),
			wantReply:          CrisisReply,
			wantClassification: model.ClassificationCrisis,
			wantOutcome:        metrics.OutcomeMalformed,
		},
		{
			name:               "non-2xx status",
			gen:                replyWith("", fmt.Errorf("%w: 503", gemini.ErrUnexpectedStatus)),
			wantReply:          ApologyReply,
			wantClassification: model.ClassificationUpstreamErr,
			wantOutcome:        metrics.OutcomeTransport,
		},
		{
			name:               "connection refused",
			gen:                replyWith("", errors.New("dial tcp 127.0.0.1:1: connect: connection refused")),
			wantReply:          ApologyReply,
			wantClassification: model.ClassificationUpstreamErr,
			wantOutcome:        metrics.OutcomeTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryInteractions()
			m := metrics.New(prometheus.NewRegistry())
			svc := NewChatService(repo, tt.gen, nil, m, nil, testChatConfig())

			reply, err := svc.Respond(context.Background(), 5, "me siento mal")
			require.NoError(t, err)
			assert.Equal(t, tt.wantReply, reply)
			assert.NotContains(t, reply, CrisisMarker)

			rows := repo.forUser(5)
			require.Len(t, rows, 1)
			assert.Equal(t, tt.wantClassification, rows[0].Classification)
			assert.Equal(t, tt.wantReply, rows[0].AssistantReply)

			assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues(tt.wantOutcome)))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Interactions.WithLabelValues(tt.wantClassification)))
		})
	}
}

func TestChatService_RespondTimeoutEveryCall(t *testing.T) {
	repo := newMemoryInteractions()
	core, logs := observer.New(zapcore.WarnLevel)
	gen := &fakeGenerator{reply: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	cfg := ChatConfig{HistoryLimit: 20, UpstreamTimeout: 10 * time.Millisecond}
	svc := NewChatService(repo, gen, nil, nil, zap.New(core), cfg)

	const calls = 3
	for i := 0; i < calls; i++ {
		reply, err := svc.Respond(context.Background(), 2, fmt.Sprintf("mensaje %d", i))
		require.NoError(t, err)
		assert.Equal(t, ApologyReply, reply)
	}

	rows := repo.forUser(2)
	require.Len(t, rows, calls)
	for _, r := range rows {
		assert.Equal(t, model.ClassificationUpstreamErr, r.Classification)
		assert.Equal(t, ApologyReply, r.AssistantReply)
	}

	failures := logs.FilterMessage("upstream call failed").All()
	require.Len(t, failures, calls)
	assert.Equal(t, "timeout", failures[0].ContextMap()["kind"])
}

func TestChatService_RespondUsesChronologicalHistory(t *testing.T) {
	repo := newMemoryInteractions()
	gen := replyWith("ok", nil)
	svc := NewChatService(repo, gen, nil, nil, nil, testChatConfig())
	ctx := context.Background()

	_, err := svc.Respond(ctx, 1, "primero")
	require.NoError(t, err)
	_, err = svc.Respond(ctx, 1, "segundo")
	require.NoError(t, err)
	_, err = svc.Respond(ctx, 9, "otro usuario")
	require.NoError(t, err)
	_, err = svc.Respond(ctx, 1, "tercero")
	require.NoError(t, err)

	last := gen.prompts[3]
	assert.Contains(t, last, "Usuario: primero\nAsistente: ok\n---\nUsuario: segundo\nAsistente: ok")
	assert.NotContains(t, last, EmptyHistoryPlaceholder)
	assert.NotContains(t, last, "otro usuario")
}

func TestChatService_RespondHistoryWindow(t *testing.T) {
	for _, k := range []int{5, 20, 25} {
		t.Run(fmt.Sprintf("%d prior interactions", k), func(t *testing.T) {
			repo := newMemoryInteractions()
			for i := 0; i < k; i++ {
				require.NoError(t, repo.Create(context.Background(), &model.Interaction{
					UserID:         1,
					UserMessage:    fmt.Sprintf("msg-%02d", i),
					AssistantReply: "r",
					Classification: model.ClassificationPending,
				}))
			}
			gen := replyWith("ok", nil)
			svc := NewChatService(repo, gen, nil, nil, nil, testChatConfig())

			_, err := svc.Respond(context.Background(), 1, "nuevo")
			require.NoError(t, err)

			prompt := gen.prompts[0]
			included := 0
			for i := 0; i < k; i++ {
				if containsTurn(prompt, i) {
					included++
				}
			}
			want := k
			if k > 20 {
				want = 20
			}
			assert.Equal(t, want, included)
			assert.True(t, containsTurn(prompt, k-1), "newest interaction always included")
			if k > 20 {
				assert.False(t, containsTurn(prompt, k-21), "oldest beyond the window is dropped")
			}
		})
	}
}

func containsTurn(prompt string, i int) bool {
	return strings.Contains(prompt, fmt.Sprintf("Usuario: msg-%02d\n", i))
}

func TestChatService_RespondStoreFailures(t *testing.T) {
	t.Run("history read fails", func(t *testing.T) {
		repo := new(MockInteractionRepository)
		repo.On("FindRecentByUser", mock.Anything, uint(1), 20).Return(nil, errors.New("db down"))
		gen := replyWith("unused", nil)

		svc := NewChatService(repo, gen, nil, nil, nil, testChatConfig())
		_, err := svc.Respond(context.Background(), 1, "hola")

		assert.Error(t, err)
		assert.Empty(t, gen.prompts)
		repo.AssertExpectations(t)
	})

	t.Run("write fails", func(t *testing.T) {
		repo := new(MockInteractionRepository)
		repo.On("FindRecentByUser", mock.Anything, uint(1), 20).Return([]model.Interaction{}, nil)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*model.Interaction")).Return(errors.New("disk full"))

		svc := NewChatService(repo, replyWith("hola", nil), nil, nil, nil, testChatConfig())
		reply, err := svc.Respond(context.Background(), 1, "hola")

		assert.Error(t, err)
		assert.Empty(t, reply)
		repo.AssertExpectations(t)
	})
}

func TestChatService_History(t *testing.T) {
	repo := newMemoryInteractions()
	svc := NewChatService(repo, replyWith("ok", nil), nil, nil, nil, testChatConfig())
	ctx := context.Background()

	empty, err := svc.History(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, msg := range []string{"a", "b", "c"} {
		_, err := svc.Respond(ctx, 1, msg)
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].UserMessage)
	assert.Equal(t, "a", history[2].UserMessage)
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, EmptyHistoryPlaceholder, FormatHistory(nil))

	newestFirst := []model.Interaction{
		{UserMessage: "¿y ahora?", AssistantReply: "Respira"},
		{UserMessage: "Hola", AssistantReply: "Hola, ¿cómo estás?"},
	}
	assert.Equal(t,
		"Usuario: Hola\nAsistente: Hola, ¿cómo estás?\n---\nUsuario: ¿y ahora?\nAsistente: Respira",
		FormatHistory(newestFirst),
	)
}

func TestBuildPrompt_KeepsTextVerbatim(t *testing.T) {
	msg := "dijo \"basta\"\ny se fue"
	prompt := BuildPrompt(EmptyHistoryPlaceholder, msg)

	assert.Contains(t, prompt, msg)
	assert.Contains(t, prompt, EmptyHistoryPlaceholder)
	assert.Less(t, strings.Index(prompt, EmptyHistoryPlaceholder), strings.Index(prompt, msg))
}
