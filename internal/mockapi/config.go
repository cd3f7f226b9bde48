package mockapi

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/flagx"
	"github.com/dmitrijs2005/gophdine/internal/timex"
)

// Config holds runtime settings for the mock API.
//
// Fields:
//   - Addr: bind address of the HTTP listener.
//   - Prefix: path prefix of every endpoint ("/api").
//   - SecretKey: HMAC secret for signing access tokens (HS256).
//   - AccessTokenValidityDuration / RefreshTokenValidityDuration: token lifetimes.
//   - RotateRefreshTokens: issue a new refresh token on every refresh and
//     invalidate the old one.
//   - LoginOnVerify: return tokens from a successful verify-code call.
//   - SeedDemoUsers: create the demo accounts on start.
type Config struct {
	Addr                         string
	Prefix                       string
	SecretKey                    string
	AccessTokenValidityDuration  time.Duration
	RefreshTokenValidityDuration time.Duration
	RotateRefreshTokens          bool
	LoginOnVerify                bool
	SeedDemoUsers                bool
	LogFormat                    string
	LogLevel                     string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.Addr = ":8000"
	c.Prefix = "/api"
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 5 * time.Minute
	c.RefreshTokenValidityDuration = 24 * time.Hour
	c.RotateRefreshTokens = true
	c.LoginOnVerify = true
	c.SeedDemoUsers = true
	c.LogFormat = "text"
	c.LogLevel = "info"
}

// LoadConfig builds a Config from defaults, an optional JSON file (-c or
// -config) and command-line flags, in that order.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, flagx.ConfigFileFlag(args)); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// JsonConfig is the on-disk shape of Config; durations accept "90s" or
// integer nanoseconds.
type JsonConfig struct {
	Addr                         *string         `json:"addr"`
	Prefix                       *string         `json:"prefix"`
	SecretKey                    *string         `json:"secret_key"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	RotateRefreshTokens          *bool           `json:"rotate_refresh_tokens"`
	LoginOnVerify                *bool           `json:"login_on_verify"`
	SeedDemoUsers                *bool           `json:"seed_demo_users"`
	LogFormat                    *string         `json:"log_format"`
	LogLevel                     *string         `json:"log_level"`
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

	setIf(&config.Addr, c.Addr)
	setIf(&config.Prefix, c.Prefix)
	setIf(&config.SecretKey, c.SecretKey)
	setIf(&config.RotateRefreshTokens, c.RotateRefreshTokens)
	setIf(&config.LoginOnVerify, c.LoginOnVerify)
	setIf(&config.SeedDemoUsers, c.SeedDemoUsers)
	setIf(&config.LogFormat, c.LogFormat)
	setIf(&config.LogLevel, c.LogLevel)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration != nil {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// parseFlags overlays command-line flags.
//
// Supported flags:
//
//	-a string     bind address (":8000")
//	-s string     JWT HMAC secret key
//	-t duration   access token validity
//	-r duration   refresh token validity
//	-rotate bool  rotate refresh tokens
//	-seed bool    create demo accounts
//	-log-format   text, json or console
//	-log-level    debug, info, warn, error
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-s", "-t", "-r", "-rotate", "-seed", "-log-format", "-log-level"})

	fs := flag.NewFlagSet("mockapi", flag.ContinueOnError)

	fs.StringVar(&config.Addr, "a", config.Addr, "address and port to run server")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.DurationVar(&config.AccessTokenValidityDuration, "t", config.AccessTokenValidityDuration, "access token validity")
	fs.DurationVar(&config.RefreshTokenValidityDuration, "r", config.RefreshTokenValidityDuration, "refresh token validity")
	fs.BoolVar(&config.RotateRefreshTokens, "rotate", config.RotateRefreshTokens, "rotate refresh tokens")
	fs.BoolVar(&config.SeedDemoUsers, "seed", config.SeedDemoUsers, "create demo accounts")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	return fs.Parse(args)
}
