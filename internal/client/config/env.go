package config

import (
	"fmt"
	"strconv"
	"time"
)

// LookupFunc reads one environment variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Environment variables read by parseEnv.
const (
	EnvAPIURL            = "GOPHDINE_API_URL"
	EnvPortal            = "GOPHDINE_PORTAL"
	EnvStorePath         = "GOPHDINE_STORE"
	EnvStorePassphrase   = "GOPHDINE_STORE_PASSPHRASE"
	EnvRequestTimeout    = "GOPHDINE_TIMEOUT"
	EnvNetworkRetries    = "GOPHDINE_RETRIES"
	EnvResendCooldown    = "GOPHDINE_RESEND_COOLDOWN"
	EnvTrustLegacyTokens = "GOPHDINE_TRUST_LEGACY_TOKENS"
	EnvWatchStore        = "GOPHDINE_WATCH_STORE"
	EnvLogLevel          = "GOPHDINE_LOG_LEVEL"
	EnvLogFormat         = "GOPHDINE_LOG_FORMAT"
)

func parseEnv(config *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	str := func(dst *string, key string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str(&config.APIBaseURL, EnvAPIURL)
	str(&config.Portal, EnvPortal)
	str(&config.StorePath, EnvStorePath)
	str(&config.StorePassphrase, EnvStorePassphrase)
	str(&config.LogLevel, EnvLogLevel)
	str(&config.LogFormat, EnvLogFormat)

	if err := envValue(lookup, EnvRequestTimeout, time.ParseDuration, &config.RequestTimeout); err != nil {
		return err
	}
	if err := envValue(lookup, EnvResendCooldown, time.ParseDuration, &config.ResendCooldown); err != nil {
		return err
	}
	if err := envValue(lookup, EnvNetworkRetries, strconv.Atoi, &config.NetworkRetries); err != nil {
		return err
	}
	if err := envValue(lookup, EnvTrustLegacyTokens, strconv.ParseBool, &config.TrustLegacyTokens); err != nil {
		return err
	}
	return envValue(lookup, EnvWatchStore, strconv.ParseBool, &config.WatchStore)
}

func envValue[T any](lookup LookupFunc, key string, parse func(string) (T, error), dst *T) error {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return nil
	}
	v, err := parse(raw)
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = v
	return nil
}
