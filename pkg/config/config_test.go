package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:8443", cfg.BindAddr)
	assert.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr)
	assert.Equal(t, "memory", cfg.DatabaseDriver)
	assert.Equal(t, "memory", cfg.BrokerDriver)
	assert.Equal(t, "memory", cfg.KMSDriver)
	assert.Equal(t, uint(20), cfg.ChallengeDifficulty)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 60*time.Second, cfg.BrokerTimeout)
	assert.Equal(t, 24*time.Hour, cfg.SyncInterval)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("DG_DATABASE_DRIVER", "document")
	t.Setenv("DG_CHALLENGE_DIFFICULTY", "24")
	t.Setenv("DG_PROBE_TIMEOUT", "500ms")
	t.Setenv("DG_LOG_JSON", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "document", cfg.DatabaseDriver)
	assert.Equal(t, uint(24), cfg.ChallengeDifficulty)
	assert.Equal(t, 500*time.Millisecond, cfg.ProbeTimeout)
	assert.True(t, cfg.LogJSON)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DG_KMS_DRIVER", "hsm")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "DG_KMS_DRIVER", cfgErr.Variable)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("DG_BROKER_TIMEOUT", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidPublicURL(t *testing.T) {
	t.Setenv("DG_PUBLIC_URL", "not a url")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadAcceptsAbsolutePublicURL(t *testing.T) {
	t.Setenv("DG_PUBLIC_URL", "https://gateway.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example.com", cfg.PublicURL)
}
