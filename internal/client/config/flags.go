package config

import (
	"github.com/spf13/pflag"
)

// Flag names registered by RegisterFlags.
const (
	FlagConfig          = "config"
	FlagAPIURL          = "api"
	FlagPortal          = "portal"
	FlagStore           = "store"
	FlagStorePassphrase = "store-passphrase"
	FlagTimeout         = "timeout"
	FlagRetries         = "retries"
	FlagResendCooldown  = "resend-cooldown"
	FlagTrustLegacy     = "trust-legacy-tokens"
	FlagWatchStore      = "watch-store"
	FlagLogLevel        = "log-level"
	FlagLogFormat       = "log-format"
)

// RegisterFlags adds the client flags to fs with the built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := &Config{}
	d.LoadDefaults()

	fs.StringP(FlagConfig, "c", "", "path to a JSON config file")
	fs.StringP(FlagAPIURL, "a", d.APIBaseURL, "base URL of the REST API")
	fs.StringP(FlagPortal, "p", d.Portal, "front-end to act as: customer or owner")
	fs.String(FlagStore, d.StorePath, "token store file; empty keeps tokens in memory")
	fs.String(FlagStorePassphrase, d.StorePassphrase, "passphrase sealing stored tokens")
	fs.Duration(FlagTimeout, d.RequestTimeout, "per-request timeout")
	fs.Int(FlagRetries, d.NetworkRetries, "retries of idempotent requests after network errors")
	fs.Duration(FlagResendCooldown, d.ResendCooldown, "wait between verification e-mails")
	fs.Bool(FlagTrustLegacy, d.TrustLegacyTokens, "treat stored sessions without a verification flag as verified")
	fs.Bool(FlagWatchStore, d.WatchStore, "follow token store changes made by other processes")
	fs.String(FlagLogLevel, d.LogLevel, "debug, info, warn or error")
	fs.String(FlagLogFormat, d.LogFormat, "text, json or console")
}

// ConfigPath returns the value of --config.
func ConfigPath(fs *pflag.FlagSet) string {
	if fs == nil {
		return ""
	}
	p, _ := fs.GetString(FlagConfig)
	return p
}

// ApplyFlags overlays the flags the user set explicitly. Defaults of unset
// flags do not override JSON or environment values.
func ApplyFlags(config *Config, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}

	var err error
	changed := func(name string, apply func() error) {
		if err != nil || fs.Lookup(name) == nil || !fs.Changed(name) {
			return
		}
		err = apply()
	}

	changed(FlagAPIURL, func() (e error) { config.APIBaseURL, e = fs.GetString(FlagAPIURL); return })
	changed(FlagPortal, func() (e error) { config.Portal, e = fs.GetString(FlagPortal); return })
	changed(FlagStore, func() (e error) { config.StorePath, e = fs.GetString(FlagStore); return })
	changed(FlagStorePassphrase, func() (e error) { config.StorePassphrase, e = fs.GetString(FlagStorePassphrase); return })
	changed(FlagTimeout, func() (e error) { config.RequestTimeout, e = fs.GetDuration(FlagTimeout); return })
	changed(FlagRetries, func() (e error) { config.NetworkRetries, e = fs.GetInt(FlagRetries); return })
	changed(FlagResendCooldown, func() (e error) { config.ResendCooldown, e = fs.GetDuration(FlagResendCooldown); return })
	changed(FlagTrustLegacy, func() (e error) { config.TrustLegacyTokens, e = fs.GetBool(FlagTrustLegacy); return })
	changed(FlagWatchStore, func() (e error) { config.WatchStore, e = fs.GetBool(FlagWatchStore); return })
	changed(FlagLogLevel, func() (e error) { config.LogLevel, e = fs.GetString(FlagLogLevel); return })
	changed(FlagLogFormat, func() (e error) { config.LogFormat, e = fs.GetString(FlagLogFormat); return })

	return err
}
