package remote

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultHost           = "http://127.0.0.1:8550"
	DefaultConnectTimeout = 500 * time.Millisecond
	DefaultReadTimeout    = 3500 * time.Millisecond

	endpointPath   = "/api/v0/code-exec"
	tokenPath      = "/oauth2/access_token"
	tokenTypeParam = "jwt"
)

// OAuthConfig enables authenticated requests when all three fields are set.
type OAuthConfig struct {
	URL          string `yaml:"url"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
}

// Enabled reports whether every OAuth setting is present.
func (o OAuthConfig) Enabled() bool {
	return o.URL != "" && o.ClientID != "" && o.ClientSecret != ""
}

// TokenURL is the client-credentials endpoint below URL.
func (o OAuthConfig) TokenURL() string {
	return strings.TrimRight(o.URL, "/") + tokenPath
}

// Config holds the remote service settings.
type Config struct {
	Host           string        `yaml:"host"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	OAuth          OAuthConfig   `yaml:"oauth"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
}

// Endpoint returns the code-exec URL for Host.
func (c Config) Endpoint() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.Host, "/"))
	if err != nil {
		return "", fmt.Errorf("parse host %q: %w", c.Host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("host %q must be an http(s) URL", c.Host)
	}
	return u.String() + endpointPath, nil
}
