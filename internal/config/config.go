package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/italolelis/download_history/internal/logctx"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DBPath      string `envconfig:"DB_PATH" default:"history.db" validate:"required"`
	StorageMode string `envconfig:"STORAGE_MODE" default:"sqlite" validate:"oneof=sqlite bolt"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL" validate:"omitempty,url"`

	// Startup pruning of stored rows.
	DedupOverwritten     bool          `envconfig:"DEDUP_OVERWRITTEN" default:"true"`
	OverwrittenRetention time.Duration `envconfig:"OVERWRITTEN_RETENTION" default:"2160h" validate:"min=0"`
	DeleteExpired        bool          `envconfig:"DELETE_EXPIRED" default:"false"`
	ExpiredRetention     time.Duration `envconfig:"EXPIRED_RETENTION" default:"2160h" validate:"min=0"`

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true" validate:"required_with=Username"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092" validate:"required,hostname_port"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s" validate:"nonzero_duration"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s" validate:"nonzero_duration"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s" validate:"nonzero_duration"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s" validate:"nonzero_duration"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"download_history"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables, populates the Config struct and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks field constraints declared in the validate tags.
func (c *Config) Validate() error {
	v := validator.New()

	if err := v.RegisterValidation("nonzero_duration", nonzeroDuration); err != nil {
		return fmt.Errorf("error registering validation: %w", err)
	}

	return v.Struct(c)
}

func nonzeroDuration(fl validator.FieldLevel) bool {
	d, ok := fl.Field().Interface().(time.Duration)

	return ok && d > 0
}

func (c *Config) SlogLevel() slog.Level {
	return logctx.ParseLevel(c.LogLevel)
}
