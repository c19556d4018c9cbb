package config

import (
	"fmt"
	"net/mail"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Delivery DeliveryConfig `yaml:"delivery"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	DKIM     DKIMConfig     `yaml:"dkim"`
}

// ServerConfig contains general server settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"`
	// BaseURL is the public base URL used in unsubscribe links and
	// activation emails, e.g. https://news.example.com
	BaseURL string `yaml:"base_url"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"` // SQLite database
	OutboxPath   string `yaml:"outbox_path"`   // bbolt retry outbox
}

// SMTPConfig describes the relay used for outgoing mail
type SMTPConfig struct {
	Addr     string        `yaml:"addr"` // host:port of the relay
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	StartTLS bool          `yaml:"starttls"`
	Timeout  time.Duration `yaml:"timeout"` // per-connection; default 30s
}

// DeliveryConfig tunes submission dispatch
type DeliveryConfig struct {
	// Concurrency is the number of parallel recipient deliveries per
	// submission.
	Concurrency int `yaml:"concurrency"`
	// RecipientTimeout bounds a single recipient delivery.
	RecipientTimeout time.Duration `yaml:"recipient_timeout"`
	// MessageDelay is an optional pause between consecutive messages.
	MessageDelay time.Duration `yaml:"message_delay"`
	// BatchSize/BatchDelay throttle large sends: after every BatchSize
	// messages, wait BatchDelay. Zero disables batching.
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	// SchedulerInterval is how often due submissions are picked up.
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	// Retry settings for the outbox processor.
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxRetries    int           `yaml:"max_retries"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr string     `yaml:"listen_addr"`
	APIKey     string     `yaml:"api_key"`
	TLS        *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig enables TLS on the API listener, either from certificate
// files or via ACME.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	ACME      bool     `yaml:"acme"`
	ACMEHosts []string `yaml:"acme_hosts"`
	ACMECache string   `yaml:"acme_cache"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: :9090
	Path       string `yaml:"path"`        // Default: /metrics
}

// DKIMConfig contains DKIM signing settings for outgoing mail
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"` // PEM-encoded RSA private key
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname: "localhost",
		},
		Storage: StorageConfig{
			DatabasePath: "/var/lib/newsletterd/newsletterd.db",
			OutboxPath:   "/var/lib/newsletterd/outbox.db",
		},
		SMTP: SMTPConfig{
			Addr:    "localhost:25",
			Timeout: 30 * time.Second,
		},
		Delivery: DeliveryConfig{
			Concurrency:       5,
			RecipientTimeout:  30 * time.Second,
			SchedulerInterval: 30 * time.Second,
			RetryInterval:     5 * time.Minute,
			MaxRetries:        5,
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
			Path:       "/metrics",
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Hostname == "" {
		return fmt.Errorf("server.hostname is required")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if c.Storage.OutboxPath == "" {
		return fmt.Errorf("storage.outbox_path is required")
	}
	if c.SMTP.Addr == "" {
		return fmt.Errorf("smtp.addr is required")
	}
	if c.Delivery.Concurrency <= 0 {
		return fmt.Errorf("delivery.concurrency must be positive")
	}
	if c.Delivery.RecipientTimeout <= 0 {
		return fmt.Errorf("delivery.recipient_timeout must be positive")
	}
	if c.Delivery.BatchSize < 0 {
		return fmt.Errorf("delivery.batch_size must not be negative")
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	if tls := c.API.TLS; tls != nil {
		if tls.ACME {
			if len(tls.ACMEHosts) == 0 {
				return fmt.Errorf("api.tls.acme_hosts is required when acme is enabled")
			}
		} else if tls.CertFile == "" || tls.KeyFile == "" {
			return fmt.Errorf("api.tls requires cert_file and key_file (or acme)")
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	if c.DKIM.Enabled {
		if c.DKIM.Domain == "" || c.DKIM.Selector == "" || c.DKIM.KeyFile == "" {
			return fmt.Errorf("dkim requires domain, selector and key_file")
		}
	}
	return nil
}

// ValidateSender checks a newsletter sender address.
func ValidateSender(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid sender email %q: %w", email, err)
	}
	return nil
}
