// Package config loads service configuration from the environment, after
// merging an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"examseal/core/storage"
)

// Ledger modes.
const (
	LedgerLocal = "local" // hash chain in a local leveldb
	LedgerHTTP  = "http"  // remote ledger gateway
)

// Config is the full service configuration.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080" validate:"required"`
	DBPath     string `env:"DB_PATH" envDefault:"data/examseal" validate:"required"`
	DataKey    string `env:"DATA_KEY"` // base64 AES-256 key; empty disables encryption at rest

	JWTSecret string `env:"JWT_SECRET" validate:"required_without=JWTPublicKeyPath,omitempty,min=32"`
	// JWTPublicKeyPath switches token verification to RS256 with this PEM key.
	JWTPublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH"`
	JWTIssuer        string `env:"JWT_ISSUER" envDefault:"examseal"`
	DevTokens        bool   `env:"DEV_TOKENS"`

	LedgerMode       string        `env:"LEDGER_MODE" envDefault:"local" validate:"oneof=local http"`
	LedgerDBPath     string        `env:"LEDGER_DB_PATH" envDefault:"data/ledger" validate:"required_if=LedgerMode local"`
	LedgerURL        string        `env:"LEDGER_URL" validate:"required_if=LedgerMode http,omitempty,url"`
	LedgerToken      string        `env:"LEDGER_TOKEN"`
	LedgerTimeout    time.Duration `env:"LEDGER_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	LedgerListenAddr string        `env:"LEDGER_LISTEN_ADDR" envDefault:":8090"`

	RateLimitPerMin int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120" validate:"gte=0"`
	AuditLogPath    string `env:"AUDIT_LOG_PATH"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	EnableHTTPS bool   `env:"ENABLE_HTTPS"`
	TLSCertPath string `env:"TLS_CERT_PATH" validate:"required_if=EnableHTTPS true"`
	TLSKeyPath  string `env:"TLS_KEY_PATH" validate:"required_if=EnableHTTPS true"`
}

var validate = validator.New()

// Load reads envFile (when it exists) into the process environment without
// overriding variables already set, then parses and validates Config.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	return Parse()
}

// Parse builds Config from the current environment.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.LedgerMode = strings.ToLower(cfg.LedgerMode)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.DataKeyBytes(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DataKeyBytes decodes DataKey. Nil means encryption at rest is off.
func (c Config) DataKeyBytes() ([]byte, error) {
	dek, err := storage.ParseDataKey(c.DataKey)
	if err != nil {
		return nil, fmt.Errorf("config: DATA_KEY: %w", err)
	}
	return dek, nil
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a JSON logger on stderr at the configured level.
func (c Config) NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: c.SlogLevel()}))
}
