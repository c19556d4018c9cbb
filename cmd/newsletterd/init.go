package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phoebebright/newsletterd/internal/dkim"
)

var (
	initDomain   string
	initHostname string
	initBaseURL  string
	initSMTPAddr string
	initDataDir  string
	initOutput   string
	initAPIKey   string
	initDKIM     bool
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize newsletterd configuration",
	Long: `Create a newsletterd configuration file, optionally generating DKIM keys.

Examples:
  # Minimal setup
  newsletterd init --domain example.com --smtp-relay mail.example.com:587

  # With DKIM signing
  newsletterd init --domain example.com --smtp-relay mail.example.com:587 --dkim`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDomain, "domain", "", "Mail domain (e.g., example.com)")
	initCmd.Flags().StringVar(&initHostname, "hostname", "", "Server hostname FQDN (default: news.<domain>)")
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "Public base URL (default: https://<hostname>)")
	initCmd.Flags().StringVar(&initSMTPAddr, "smtp-relay", "", "SMTP relay host:port (default: mail.<domain>:587)")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/newsletterd", "Data directory for databases and keys")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate DKIM keys")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")
	initCmd.MarkFlagRequired("domain")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if initHostname == "" {
		initHostname = "news." + initDomain
	}
	if initBaseURL == "" {
		initBaseURL = "https://" + initHostname
	}
	if initSMTPAddr == "" {
		initSMTPAddr = "mail." + initDomain + ":587"
	}
	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("Warning: could not create data directory: %v\n", err)
	}

	var dkimKeyPath string
	if initDKIM {
		dkimDir := filepath.Join(initDataDir, "dkim")
		if err := os.MkdirAll(dkimDir, 0700); err != nil {
			return fmt.Errorf("failed to create DKIM directory: %w", err)
		}

		kp, err := dkim.GenerateKey(initDomain, "newsletter")
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}
		dkimKeyPath = filepath.Join(dkimDir, initDomain+".key")
		if err := kp.SavePrivateKey(dkimKeyPath); err != nil {
			return fmt.Errorf("failed to save DKIM key: %w", err)
		}

		fmt.Printf("DKIM key saved to: %s\n", dkimKeyPath)
		fmt.Printf("Add this DNS record:\n")
		fmt.Printf("  Name: %s\n", kp.DNSName())
		fmt.Printf("  Type: TXT\n")
		fmt.Printf("  Value: %s\n", kp.DNSRecord())
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(dkimKeyPath)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", initOutput)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Review %s and fill in the SMTP relay credentials\n", initOutput)
	fmt.Printf("  2. Validate: newsletterd config validate -c %s\n", initOutput)
	fmt.Printf("  3. Start:    newsletterd serve -c %s\n", initOutput)

	return nil
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig(dkimKeyPath string) string {
	dkimSection := fmt.Sprintf(`dkim:
  enabled: false
  domain: "%s"
  selector: "newsletter"
  key_file: "%s/dkim/%s.key"`, initDomain, initDataDir, initDomain)
	if initDKIM && dkimKeyPath != "" {
		dkimSection = fmt.Sprintf(`dkim:
  enabled: true
  domain: "%s"
  selector: "newsletter"
  key_file: "%s"`, initDomain, dkimKeyPath)
	}

	return fmt.Sprintf(`server:
  hostname: "%s"
  base_url: "%s"

storage:
  database_path: "%s/newsletterd.db"
  outbox_path: "%s/outbox.db"

smtp:
  addr: "%s"
  username: ""
  password: ""
  starttls: true
  timeout: 30s

delivery:
  concurrency: 5
  recipient_timeout: 30s
  message_delay: 100ms
  batch_size: 200
  batch_delay: 10s
  scheduler_interval: 30s
  retry_interval: 5m
  max_retries: 5

api:
  listen_addr: ":8080"
  api_key: "%s"
  # tls:
  #   acme: true
  #   acme_hosts: ["%s"]
  #   acme_cache: "%s/certs"

logging:
  level: info
  format: text

metrics:
  enabled: true
  listen_addr: ":9090"
  path: /metrics

%s
`, initHostname, initBaseURL, initDataDir, initDataDir, initSMTPAddr,
		initAPIKey, initHostname, initDataDir, dkimSection)
}
