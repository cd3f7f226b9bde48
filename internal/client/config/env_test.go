package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseEnv(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	err := parseEnv(cfg, env(map[string]string{
		EnvPortal:            "owner",
		EnvStorePath:         "",
		EnvRequestTimeout:    "2s",
		EnvResendCooldown:    "30s",
		EnvTrustLegacyTokens: "true",
		EnvWatchStore:        "1",
		EnvLogFormat:         "json",
	}))
	require.NoError(t, err)

	assert.Equal(t, "owner", cfg.Portal)
	assert.Empty(t, cfg.StorePath, "an empty value selects the memory store")
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.ResendCooldown)
	assert.True(t, cfg.TrustLegacyTokens)
	assert.True(t, cfg.WatchStore)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 2, cfg.NetworkRetries, "unset variables keep the value")
}

func Test_parseEnv_NilLookup(t *testing.T) {
	cfg := &Config{Portal: "owner"}
	require.NoError(t, parseEnv(cfg, nil))
	assert.Equal(t, "owner", cfg.Portal)
}
