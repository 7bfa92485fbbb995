package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// MinKeyBytes is the smallest accepted HMAC key (256 bits).
const MinKeyBytes = 32

var (
	// ErrTokenExpired is returned when the current time is at or past the token expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned when the token cannot be parsed into claims.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignature is returned when the signature does not match the signing key.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrKeyTooShort is returned when the decoded signing key is under MinKeyBytes.
	ErrKeyTooShort = errors.New("signing key must be at least 256 bits")
)

// Token is an issued bearer token and the instants it was signed for.
type Token struct {
	Value     string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// JWTService issues and verifies HS256 identity tokens. It holds no mutable
// state and is safe for concurrent use.
type JWTService struct {
	key    []byte
	now    func() time.Time
	parser *jwt.Parser
}

// NewJWTService creates a token service from a base64 encoded secret.
func NewJWTService(secret string) (*JWTService, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(key) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	return &JWTService{
		key: key,
		now: time.Now,
		// Expiry is checked against s.now so the clock stays injectable.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Issue signs a token for subject that expires lifetime from now.
func (s *JWTService) Issue(subject string, lifetime time.Duration) (Token, error) {
	now := s.now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(lifetime))

	claims := &jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	return Token{
		Value:     value,
		Subject:   subject,
		IssuedAt:  issuedAt.Time,
		ExpiresAt: expiresAt.Time,
	}, nil
}

// Verify checks the signature and expiry of tokenString and returns its
// subject. Failures are one of ErrTokenMalformed, ErrTokenSignature or
// ErrTokenExpired.
func (s *JWTService) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := s.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return "", fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
		return "", fmt.Errorf("%w: %v", ErrTokenSignature, err)
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return "", ErrTokenMalformed
	}
	if !s.now().Before(claims.ExpiresAt.Time) {
		return "", ErrTokenExpired
	}

	return claims.Subject, nil
}
