// Package config содержит логику чтения конфигурации сервиса торгов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса торгов.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	SecretKey          string        `env:"SECRET_KEY"`
	AdminPassword      string        `env:"ADMIN_PASSWORD"`
	TeamCode           string        `env:"TEAM_CODE"`
	TotalBudget        int64         `env:"TOTAL_BUDGET"`
	TeamShare          float64       `env:"TEAM_SHARE"`
	RegistrationWindow time.Duration `env:"REGISTRATION_WINDOW"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSecretKey := cfg.SecretKey
	envAdminPassword := cfg.AdminPassword
	envTeamCode := cfg.TeamCode
	envTotalBudget := cfg.TotalBudget
	envTeamShare := cfg.TeamShare
	envRegistrationWindow := cfg.RegistrationWindow

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (in-memory store when empty)")
	flag.StringVar(&cfg.SecretKey, "s", "enactus-secret", "secret key for signing auth cookies")
	flag.StringVar(&cfg.AdminPassword, "p", "enactus2025", "admin console password")
	flag.StringVar(&cfg.TeamCode, "c", "enactus2025team", "registration code for team members")
	flag.Int64Var(&cfg.TotalBudget, "b", 100000, "total wallet budget for distribution")
	flag.Float64Var(&cfg.TeamShare, "t", 0.6, "share of the budget reserved for team members")
	flag.DurationVar(&cfg.RegistrationWindow, "w", 10*time.Minute, "registration window duration")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSecretKey != "" {
		cfg.SecretKey = envSecretKey
	}
	if envAdminPassword != "" {
		cfg.AdminPassword = envAdminPassword
	}
	if envTeamCode != "" {
		cfg.TeamCode = envTeamCode
	}
	if envTotalBudget != 0 {
		cfg.TotalBudget = envTotalBudget
	}
	if envTeamShare != 0 {
		cfg.TeamShare = envTeamShare
	}
	if envRegistrationWindow != 0 {
		cfg.RegistrationWindow = envRegistrationWindow
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.TeamShare < 0 || cfg.TeamShare > 1 {
		return nil, fmt.Errorf("team share must be within [0, 1], got %v", cfg.TeamShare)
	}

	return cfg, nil
}
