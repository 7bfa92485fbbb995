package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"chatbot/internal/auth"
	"chatbot/internal/config"
	"chatbot/internal/db"
	"chatbot/internal/logger"
	"chatbot/internal/repository"
	"chatbot/internal/service"
)

// SeedUser is one entry of the seed file.
type SeedUser struct {
	Name     string `yaml:"nombre"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// seedFile lists the accounts to create.
type seedFile struct {
	Users []SeedUser `yaml:"users"`
}

var defaultUsers = []SeedUser{
	{Name: "Usuario Demo", Email: "demo@example.com", Password: "demo1234"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	log := logger.New(cfg.Environment, cfg.LogLevel, "chatbot-seed")
	defer func() { _ = log.Sync() }()

	users := defaultUsers
	if path := os.Getenv("SEED_FILE"); path != "" {
		users, err = loadSeedFile(path)
		if err != nil {
			log.Fatal("read seed file", zap.String("path", path), zap.Error(err))
		}
	}

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}
	if err := db.Migrate(gormDB); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	jwtService, err := auth.NewJWTService(cfg.JWTSecret)
	if err != nil {
		log.Fatal("token service", zap.Error(err))
	}
	authService := service.NewAuthService(repository.NewUserRepository(gormDB), jwtService, cfg.TokenLifetime, nil)

	created, skipped := seedUsers(context.Background(), authService, users, log)
	log.Info("seed completed", zap.Int("created", created), zap.Int("skipped", skipped))
}

func loadSeedFile(path string) ([]SeedUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f.Users, nil
}

// seedUsers registers every user, skipping emails that already exist.
func seedUsers(ctx context.Context, svc service.AuthService, users []SeedUser, log *zap.Logger) (created, skipped int) {
	for _, u := range users {
		if _, _, err := svc.Register(ctx, u.Name, u.Email, u.Password); err != nil {
			if errors.Is(err, service.ErrEmailTaken) {
				skipped++
				continue
			}
			log.Warn("seed user failed", zap.String("email", u.Email), zap.Error(err))
			skipped++
			continue
		}
		created++
	}
	return created, skipped
}
