package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"github.com/spf13/pflag"
)

// Config holds runtime settings for the gophdine client.
//
// Fields:
//   - APIBaseURL: base URL of the REST API, including the /api prefix.
//   - Portal: "customer" (storefront) or "owner" (owner/admin portal).
//   - StorePath: SQLite file for the token store; empty keeps tokens in memory.
//   - StorePassphrase: optional passphrase sealing stored tokens at rest.
//   - RequestTimeout: per-request HTTP timeout.
//   - NetworkRetries: re-sends of GET/HEAD requests after transport failures.
//   - ResendCooldown: wait between two verification e-mails.
//   - TrustLegacyTokens: opt in to treating profiles without email_verified
//     as verified for sessions inherited from an earlier run. Off by
//     default; the status is reported as unknown instead.
//   - WatchStore: follow changes other processes make to StorePath.
type Config struct {
	APIBaseURL        string
	Portal            string
	StorePath         string
	StorePassphrase   string
	RequestTimeout    time.Duration
	NetworkRetries    int
	ResendCooldown    time.Duration
	TrustLegacyTokens bool
	WatchStore        bool
	LogLevel          string
	LogFormat         string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://localhost:8000/api"
	c.Portal = string(models.PortalCustomer)
	c.StorePath = "gophdine.db"
	c.StorePassphrase = ""
	c.RequestTimeout = 15 * time.Second
	c.NetworkRetries = 2
	c.ResendCooldown = 60 * time.Second
	c.TrustLegacyTokens = false
	c.WatchStore = false
	c.LogLevel = "warn"
	c.LogFormat = logging.FormatText
}

// Load builds a Config from defaults, the JSON file at path (if any), the
// GOPHDINE_* environment and the flags the user set on fs, in that order.
// fs may be nil.
func Load(path string, lookup LookupFunc, fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := ApplyFlags(cfg, fs); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PortalValue returns the parsed portal. Call Validate first.
func (c *Config) PortalValue() models.Portal {
	p, _ := models.ParsePortal(c.Portal)
	return p
}

// Validate rejects values the client cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("config: api url is required")
	}
	if _, err := models.ParsePortal(c.Portal); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case logging.FormatText, logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	if c.NetworkRetries < 0 {
		return fmt.Errorf("config: network retries must not be negative")
	}
	if c.ResendCooldown < 0 {
		return fmt.Errorf("config: resend cooldown must not be negative")
	}
	return nil
}
