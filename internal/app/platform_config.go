package app

import (
	"strings"

	"github.com/mondtic/corporate-access/internal/platform"
)

// ClientConfig converts the platform configuration into the platform package
// representation.
func (c PlatformConfig) ClientConfig() platform.APIClientConfig {
	return platform.APIClientConfig{
		BaseURL: strings.TrimSpace(c.BaseURL),
		Token:   strings.TrimSpace(c.Token),
		Timeout: c.Timeout,
	}
}

// Enabled reports whether a host platform endpoint is configured.
func (c PlatformConfig) Enabled() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}
