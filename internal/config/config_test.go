package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
server:
  hostname: news.example.com
  base_url: https://news.example.com
storage:
  database_path: /tmp/test/newsletterd.db
  outbox_path: /tmp/test/outbox.db
smtp:
  addr: relay.example.com:587
  username: mailer
  password: secret
  starttls: true
delivery:
  concurrency: 10
  recipient_timeout: 15s
  batch_size: 100
  batch_delay: 1m
api:
  listen_addr: ":8443"
  api_key: test-key
logging:
  level: debug
  format: json
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Hostname != "news.example.com" {
		t.Errorf("Hostname = %v", cfg.Server.Hostname)
	}
	if cfg.Delivery.Concurrency != 10 {
		t.Errorf("Concurrency = %v, want 10", cfg.Delivery.Concurrency)
	}
	if cfg.Delivery.RecipientTimeout != 15*time.Second {
		t.Errorf("RecipientTimeout = %v, want 15s", cfg.Delivery.RecipientTimeout)
	}
	// Defaults survive partial config.
	if cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("Metrics.ListenAddr = %v, want :9090", cfg.Metrics.ListenAddr)
	}
	if cfg.Delivery.MaxRetries != 5 {
		t.Errorf("MaxRetries = %v, want default 5", cfg.Delivery.MaxRetries)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing hostname",
			mutate:  func(c *Config) { c.Server.Hostname = "" },
			wantErr: "server.hostname",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Delivery.Concurrency = 0 },
			wantErr: "delivery.concurrency",
		},
		{
			name:    "negative batch size",
			mutate:  func(c *Config) { c.Delivery.BatchSize = -1 },
			wantErr: "delivery.batch_size",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "tls without certs",
			mutate:  func(c *Config) { c.API.TLS = &TLSConfig{} },
			wantErr: "api.tls",
		},
		{
			name:    "acme without hosts",
			mutate:  func(c *Config) { c.API.TLS = &TLSConfig{ACME: true} },
			wantErr: "acme_hosts",
		},
		{
			name:    "dkim incomplete",
			mutate:  func(c *Config) { c.DKIM = DKIMConfig{Enabled: true, Domain: "example.com"} },
			wantErr: "dkim",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSender(t *testing.T) {
	if err := ValidateSender("news@example.com"); err != nil {
		t.Errorf("ValidateSender() error = %v", err)
	}
	if err := ValidateSender("not-an-address"); err == nil {
		t.Error("ValidateSender() expected error for invalid address")
	}
}
