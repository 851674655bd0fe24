package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Server struct {
		Port        string   `env:"PORT" envDefault:"5250"`
		CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	}

	Database struct {
		// Path of the SQLite file, created on first start
		Path string `env:"DATABASE_PATH" envDefault:"database/immobilier.db"`
	}

	Ingestion struct {
		// Source of the DVF archive, a URL or a local path
		SourceURL string `env:"DVF_URL" envDefault:"https://www.data.gouv.fr/fr/datasets/r/5ffa8553-0e8f-4622-add9-5c0b593ca1f8"`

		// Directory holding the cached archive and the extracted text file
		DataDir string `env:"DATA_DIR" envDefault:"data"`

		// Number of rows cleaned and committed together
		BatchSize int `env:"INGEST_BATCH_SIZE" envDefault:"2000"`

		// Drop rows with an unparseable mutation date instead of keeping a null date
		StrictDates bool `env:"INGEST_STRICT_DATES" envDefault:"false"`

		// Used when the encoding of the extracted file cannot be detected
		FallbackEncoding string `env:"INGEST_FALLBACK_ENCODING" envDefault:"windows-1252"`

		// "batch" filters outliers per batch, "global" runs a first pass over the file
		OutlierMode string `env:"INGEST_OUTLIER_MODE" envDefault:"batch"`

		// Skip rows whose raw line hash is already stored
		Dedup bool `env:"INGEST_DEDUP" envDefault:"false"`

		HTTPTimeout time.Duration `env:"INGEST_HTTP_TIMEOUT" envDefault:"10m"`

		// First delay and total budget of the download retries
		RetryInitial   time.Duration `env:"INGEST_RETRY_INITIAL" envDefault:"2s"`
		MaxRetryWindow time.Duration `env:"INGEST_RETRY_WINDOW" envDefault:"2m"`
	}

	Communes struct {
		APIURL      string        `env:"COMMUNES_API_URL" envDefault:"https://geo.api.gouv.fr/communes"`
		HTTPTimeout time.Duration `env:"COMMUNES_HTTP_TIMEOUT" envDefault:"60s"`

		RetryInitial time.Duration `env:"COMMUNES_RETRY_INITIAL" envDefault:"500ms"`
		RetryWindow  time.Duration `env:"COMMUNES_RETRY_WINDOW" envDefault:"1m"`

		// Consecutive failures that open the breaker, and how long it stays open
		BreakerFailures    uint32        `env:"COMMUNES_BREAKER_FAILURES" envDefault:"3"`
		BreakerOpenTimeout time.Duration `env:"COMMUNES_BREAKER_OPEN_TIMEOUT" envDefault:"2m"`
	}

	Auth struct {
		JWTSecret string        `env:"JWT_SECRET,required"`
		TokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`

		// Account created or promoted to admin at startup when both are set
		AdminUsername string `env:"ADMIN_USERNAME"`
		AdminPassword string `env:"ADMIN_PASSWORD"`

		// Per client IP budget of the /auth endpoints
		RateLimit float64 `env:"AUTH_RATE_LIMIT" envDefault:"1"`
		RateBurst int     `env:"AUTH_RATE_BURST" envDefault:"5"`
	}

	Scheduler struct {
		Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"false"`

		// Hour of day (local time) at which the full refresh is queued
		Hour int `env:"SCHEDULER_HOUR" envDefault:"3"`

		// Queue a refresh as soon as the server starts
		RunOnStartup bool `env:"SCHEDULER_RUN_ON_STARTUP" envDefault:"false"`
	}

	Queue struct {
		BufferSize int `env:"QUEUE_BUFFER_SIZE" envDefault:"8"`
	}

	Telegram struct {
		BotToken string `env:"TELEGRAM_BOT_TOKEN"`
		ChatID   string `env:"TELEGRAM_CHAT_ID"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	switch cfg.Ingestion.OutlierMode {
	case "batch", "global":
	default:
		return nil, fmt.Errorf("INGEST_OUTLIER_MODE must be batch or global, got %q", cfg.Ingestion.OutlierMode)
	}
	if (cfg.Auth.AdminUsername == "") != (cfg.Auth.AdminPassword == "") {
		return nil, fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}
	return cfg, nil
}
