package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"chatbot/internal/auth"
	"chatbot/internal/cache"
	apperrors "chatbot/internal/errors"
	"chatbot/internal/model"
	"chatbot/internal/repository"
)

const (
	bcryptCost   = 10
	userCacheTTL = 5 * time.Minute
)

var (
	// ErrInvalidCredentials is returned when email or password is incorrect.
	// It does not say which one.
	ErrInvalidCredentials = fmt.Errorf("invalid email or password: %w", apperrors.ErrUnauthorized)
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = apperrors.ErrEmailTaken
)

// dummyHash keeps login timing similar for unknown emails.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcryptCost)

// TokenIssuer signs identity tokens for a subject.
type TokenIssuer interface {
	Issue(subject string, lifetime time.Duration) (auth.Token, error)
}

// AuthService handles registration, login and identity resolution.
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*model.User, auth.Token, error)
	Login(ctx context.Context, email, password string) (*model.User, auth.Token, error)
	// ResolveUser maps a verified token subject to its stored user.
	ResolveUser(ctx context.Context, email string) (*model.User, error)
}

type authService struct {
	users    repository.UserRepository
	tokens   TokenIssuer
	lifetime time.Duration
	cache    *cache.Client
}

// NewAuthService creates a new authentication service. cache may be nil.
func NewAuthService(users repository.UserRepository, tokens TokenIssuer, lifetime time.Duration, cache *cache.Client) AuthService {
	return &authService{
		users:    users,
		tokens:   tokens,
		lifetime: lifetime,
		cache:    cache,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register stores a new user with a hashed password and signs them in.
func (s *authService) Register(ctx context.Context, name, email, password string) (*model.User, auth.Token, error) {
	email = normalizeEmail(email)

	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, auth.Token{}, ErrEmailTaken
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auth.Token{}, fmt.Errorf("check user existence: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, auth.Token{}, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hashed),
	}
	if err := s.users.Create(ctx, user); err != nil {
		// Lost a race with a concurrent registration.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, auth.Token{}, ErrEmailTaken
		}
		return nil, auth.Token{}, fmt.Errorf("create user: %w", err)
	}

	token, err := s.tokens.Issue(user.Email, s.lifetime)
	if err != nil {
		return nil, auth.Token{}, fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login checks the password and issues a token whose subject is the email.
func (s *authService) Login(ctx context.Context, email, password string) (*model.User, auth.Token, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.Token{}, fmt.Errorf("find user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, auth.Token{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, auth.Token{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.Email, s.lifetime)
	if err != nil {
		return nil, auth.Token{}, fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

func (s *authService) ResolveUser(ctx context.Context, email string) (*model.User, error) {
	key := s.cacheKey(email)
	if data, _ := s.cache.Get(ctx, key); data != nil {
		var cached model.User
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	if payload, err := json.Marshal(user); err == nil {
		_ = s.cache.Set(ctx, key, payload, userCacheTTL)
	}
	return user, nil
}

func (s *authService) cacheKey(email string) string {
	return fmt.Sprintf("user:email:%s", email)
}
