package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newGatewayEcho(t *testing.T, svc *JWTService) (*echo.Echo, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)

	e := echo.New()
	e.Use(Gateway(svc, zap.New(core)))
	e.GET("/whoami", func(c echo.Context) error {
		id, ok := IdentityFrom(c)
		if !ok {
			return c.String(http.StatusOK, "anonymous")
		}
		return c.String(http.StatusOK, id.Subject)
	})
	return e, logs
}

func TestGateway(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, &clock)
	e, logs := newGatewayEcho(t, svc)

	valid, err := svc.Issue("ana@example.com", time.Hour)
	require.NoError(t, err)

	clock = clock.Add(-2 * time.Hour)
	expired, err := svc.Issue("old@example.com", time.Hour)
	require.NoError(t, err)
	clock = clock.Add(2 * time.Hour)

	tests := []struct {
		name       string
		header     string
		wantBody   string
		wantReason string
	}{
		{name: "no header", header: "", wantBody: "anonymous", wantReason: "missing"},
		{name: "valid bearer", header: "Bearer " + valid.Value, wantBody: "ana@example.com"},
		{name: "wrong scheme", header: "Basic " + valid.Value, wantBody: "anonymous", wantReason: "missing"},
		{name: "expired", header: "Bearer " + expired.Value, wantBody: "anonymous", wantReason: "expired"},
		{name: "malformed", header: "Bearer abc.def", wantBody: "anonymous", wantReason: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.TakeAll()

			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code, "gateway never rejects on its own")
			assert.Equal(t, tt.wantBody, rec.Body.String())

			entries := logs.TakeAll()
			if tt.wantReason == "" {
				assert.Empty(t, entries)
				return
			}
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantReason, entries[0].ContextMap()["reason"])
		})
	}
}
