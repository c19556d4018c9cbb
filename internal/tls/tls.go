// Package tls builds the TLS configuration for the API listener,
// either from certificate files or automatically via ACME.
package tls

import (
	"crypto/tls"
	"fmt"

	"golang.org/x/crypto/acme/autocert"

	"github.com/phoebebright/newsletterd/internal/config"
)

// Configure returns the tls.Config for the API listener, or nil when
// TLS is not configured.
func Configure(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}

	if cfg.ACME {
		if len(cfg.ACMEHosts) == 0 {
			return nil, fmt.Errorf("acme enabled but no acme_hosts configured")
		}
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.ACMEHosts...),
			Cache:      autocert.DirCache(cfg.ACMECache),
		}
		c := m.TLSConfig()
		c.MinVersion = tls.VersionTLS12
		return c, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
