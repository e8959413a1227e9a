package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/charmbracelet/log"
)

// Config holds process settings read from the environment.
type Config struct {
	// HTTP
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Storage
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"file"`
	DataDir        string `env:"DATA_DIR" envDefault:"data"`

	// Simulated replies
	ReplyDelayMin  time.Duration `env:"REPLY_DELAY_MIN" envDefault:"1s"`
	ReplyDelayMax  time.Duration `env:"REPLY_DELAY_MAX" envDefault:"3s"`
	ReplyRulesPath string        `env:"REPLY_RULES_PATH"`

	// Rate limiting for message sends, per client IP
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"5"`
	RateBurst int     `env:"RATE_BURST" envDefault:"10"`

	// Daily usage report, cron syntax, empty disables it
	ReportSchedule string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Parse reads Config from the environment, applying defaults.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New is Parse that exits the process on invalid settings.
func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatal("failed to parse config", "error", err)
	}
	return cfg
}

// NewLogger builds the process logger at the configured level.
func (c *Config) NewLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		logger.Warn("unknown log level, using info", "level", c.LogLevel)
		level = log.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
