package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "chatbot/internal/errors"
)

// Counter increments a windowed counter. Implementations that cannot reach
// their backend return 0 so the limiter lets the request through.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter allows at most limit events per key in each fixed window.
type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration
}

// New builds a limiter. A limit of zero or less disables limiting.
func New(counter Counter, limit int, window time.Duration) *Limiter {
	return &Limiter{counter: counter, limit: limit, window: window}
}

// Allow reports whether another event for key fits in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.counter == nil || l.limit <= 0 {
		return true
	}
	n, err := l.counter.Incr(ctx, fmt.Sprintf("ratelimit:%s", key), l.window)
	if err != nil {
		return true
	}
	return n <= int64(l.limit)
}

// Middleware rejects requests with 429 once keyFunc's key exceeds the limit.
// An empty key skips the check.
func Middleware(l *Limiter, keyFunc func(c echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := keyFunc(c)
			if key == "" || l.Allow(c.Request().Context(), key) {
				return next(c)
			}
			httpErr := apperrors.MapErrorToHTTP(apperrors.ErrRateLimited)
			c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", int(l.window.Seconds())))
			return c.JSON(http.StatusTooManyRequests, httpErr.ToErrorResponse())
		}
	}
}
