package auth

import (
	"errors"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// IdentityKey is the echo context key holding the caller's Identity.
const IdentityKey = "identity"

// Identity is the authenticated caller, resolved once per request.
type Identity struct {
	Subject string
}

// Verifier validates a raw bearer token and returns its subject.
type Verifier interface {
	Verify(token string) (string, error)
}

// Gateway extracts the bearer token from the Authorization header and, when it
// verifies, stores an Identity on the request. Requests with a missing or
// invalid token continue without one; rejecting them is left to the route
// authorization check.
func Gateway(verifier Verifier, log *zap.Logger) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  IdentityKey,
		TokenLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
		ParseTokenFunc: func(c echo.Context, raw string) (interface{}, error) {
			subject, err := verifier.Verify(raw)
			if err != nil {
				return nil, err
			}
			return Identity{Subject: subject}, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			log.Debug("request continues without identity",
				zap.String("reason", failureKind(err)),
				zap.String("path", c.Path()),
			)
			return nil
		},
		ContinueOnIgnoredError: true,
	})
}

// IdentityFrom returns the identity established by Gateway, if any.
func IdentityFrom(c echo.Context) (Identity, bool) {
	id, ok := c.Get(IdentityKey).(Identity)
	return id, ok
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenSignature):
		return "signature"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	default:
		return "missing"
	}
}
