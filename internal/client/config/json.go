package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophdine/internal/timex"
)

// JsonConfig is the on-disk shape of Config. Absent keys leave the current
// value alone.
type JsonConfig struct {
	APIBaseURL        *string         `json:"api_url"`
	Portal            *string         `json:"portal"`
	StorePath         *string         `json:"store_path"`
	StorePassphrase   *string         `json:"store_passphrase"`
	RequestTimeout    *timex.Duration `json:"request_timeout"`
	NetworkRetries    *int            `json:"network_retries"`
	ResendCooldown    *timex.Duration `json:"resend_cooldown"`
	TrustLegacyTokens *bool           `json:"trust_legacy_tokens"`
	WatchStore        *bool           `json:"watch_store"`
	LogLevel          *string         `json:"log_level"`
	LogFormat         *string         `json:"log_format"`
}

func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setIf(&config.APIBaseURL, c.APIBaseURL)
	setIf(&config.Portal, c.Portal)
	setIf(&config.StorePath, c.StorePath)
	setIf(&config.StorePassphrase, c.StorePassphrase)
	setIf(&config.NetworkRetries, c.NetworkRetries)
	setIf(&config.TrustLegacyTokens, c.TrustLegacyTokens)
	setIf(&config.WatchStore, c.WatchStore)
	setIf(&config.LogLevel, c.LogLevel)
	setIf(&config.LogFormat, c.LogFormat)
	if c.RequestTimeout != nil {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	if c.ResendCooldown != nil {
		config.ResendCooldown = c.ResendCooldown.Duration
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
