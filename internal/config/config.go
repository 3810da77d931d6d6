package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// IMAP
	IMAPHost        string        `env:"IMAP_HOST"`
	IMAPPort        int           `env:"IMAP_PORT" envDefault:"993"`
	IMAPUser        string        `env:"IMAP_USER"`
	IMAPPassword    string        `env:"IMAP_PASSWORD"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// Harvest
	UnseenOnly   bool          `env:"EMAIL_UNSEEN_ONLY" envDefault:"true"`
	BatchSize    int           `env:"FETCH_BATCH_SIZE" envDefault:"100"`
	Keywords     []string      `env:"CV_KEYWORDS" envSeparator:"," envDefault:"CV,Resume,Curriculum Vitae"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"10m"`

	// Storage
	AttachmentDir string `env:"ATTACHMENT_DIR" envDefault:"attachments"`
	StateDir      string `env:"STATE_DIR" envDefault:"state"`
	OutputCSV     string `env:"OUTPUT_CSV" envDefault:"csv/cv_summary.csv"`
	OutputExcel   string `env:"OUTPUT_EXCEL" envDefault:"excel/cv_summary.xlsx"`
	ArchivePath   string `env:"ARCHIVE_PATH" envDefault:"state/archive.db"`

	// LLM
	LLMProvider string        `env:"LLM_PROVIDER" envDefault:"gemini"` // "gemini" or "openrouter"
	LLMModel    string        `env:"LLM_MODEL" envDefault:"gemini-2.0-flash"`
	LLMAPIKey   string        `env:"LLM_API_KEY"`
	LLMTimeout  time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// ValidateMail checks the IMAP connection settings before any network I/O.
func (c *Config) ValidateMail() error {
	var missing []string
	if c.IMAPHost == "" {
		missing = append(missing, "IMAP_HOST")
	}
	if c.IMAPUser == "" {
		missing = append(missing, "IMAP_USER")
	}
	if c.IMAPPassword == "" {
		missing = append(missing, "IMAP_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing email configuration: %v", missing)
	}
	if c.IMAPPort < 1 || c.IMAPPort > 65535 {
		return fmt.Errorf("invalid IMAP port: %d", c.IMAPPort)
	}
	return nil
}

// ValidateLLM checks the structuring backend settings.
func (c *Config) ValidateLLM() error {
	if c.LLMProvider != "gemini" && c.LLMProvider != "openrouter" {
		return fmt.Errorf("unsupported LLM provider: %q", c.LLMProvider)
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is not set")
	}
	return nil
}
