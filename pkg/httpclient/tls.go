// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// TLSConfig configures outbound TLS for a provider endpoint sitting
// behind a corporate proxy or a self-hosted gateway with its own CA.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification entirely.
	// Development/testing only - never set this for a production
	// provider endpoint.
	InsecureSkipVerify bool

	// CACertificate is a path to a PEM-encoded CA certificate to trust
	// in addition to the system pool.
	CACertificate string
}

// ConfigureTLS builds an *http.Transport honoring cfg. A nil cfg
// produces a transport with the system's default TLS settings.
func ConfigureTLS(cfg *TLSConfig) (*http.Transport, error) {
	transport := &http.Transport{TLSClientConfig: &tls.Config{}}
	if cfg == nil {
		return transport, nil
	}

	if cfg.CACertificate != "" {
		pem, err := os.ReadFile(cfg.CACertificate)
		if err != nil {
			return nil, fmt.Errorf("httpclient: read CA certificate %s: %w", cfg.CACertificate, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("httpclient: parse CA certificate %s", cfg.CACertificate)
		}
		transport.TLSClientConfig.RootCAs = pool
	}

	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig.InsecureSkipVerify = true
		slog.Warn("httpclient: TLS certificate verification disabled")
	}

	return transport, nil
}

// WithTLSConfig installs a TLS-configured transport. Apply this option
// after WithHTTPClient if both are given - this option always wins,
// preserving only the prior transport's Timeout.
func WithTLSConfig(cfg *TLSConfig) Option {
	return func(c *Client) {
		if cfg == nil {
			return
		}
		transport, err := ConfigureTLS(cfg)
		if err != nil {
			slog.Warn("httpclient: failed to configure TLS, keeping existing transport", "error", err)
			return
		}

		timeout := 120 * time.Second
		if c.transport != nil {
			timeout = c.transport.Timeout
		}
		c.transport = &http.Client{Transport: transport, Timeout: timeout}
	}
}
