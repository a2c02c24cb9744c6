package config

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// publicIPProbeURL is queried outside local mode to report this host's
// externally visible address for a diagnostic comparison against DOMAIN;
// the result never replaces DOMAIN.
const publicIPProbeURL = "https://api.ipify.org"

// BaseURL returns the externally visible base URL for the hub.
//
// In local mode this is built directly from PROTO/DOMAIN/PORT. In any other
// mode the configured DOMAIN is treated as the authoritative value and is
// used as-is; the public-IP probe only runs to log a mismatch warning, never
// to override an explicit DOMAIN.
func (c *Config) BaseURL() string {
	if c.Mode == "local" {
		return fmt.Sprintf("%s://%s:%s", c.Proto, c.Domain, c.Port)
	}
	return fmt.Sprintf("%s://%s", c.Proto, c.Domain)
}

// CheckPublicIP probes an external service for this host's public IP and
// returns it, for diagnostic comparison against the configured DOMAIN.
func CheckPublicIP(client *http.Client) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Get(publicIPProbeURL)
	if err != nil {
		return "", fmt.Errorf("public IP probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", fmt.Errorf("reading public IP probe response: %w", err)
	}
	return string(body), nil
}
