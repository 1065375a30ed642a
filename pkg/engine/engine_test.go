package engine

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfed/gatewayd/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:            "error",
		DatabaseDriver:      "memory",
		BrokerDriver:        "memory",
		KMSDriver:           "memory",
		ChallengeDifficulty: 8,
		ProbeTimeout:        time.Second,
		SyncInterval:        24 * time.Hour,
		NodeID:              "self-instance",
	}
}

func TestNewWiresMemoryDriversByDefault(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	defer e.Close()

	assert.NotNil(t, e.Store)
	assert.NotNil(t, e.Broker)
	assert.NotNil(t, e.Connection)
	assert.NotNil(t, e.Admission)
	assert.NotNil(t, e.Router)
	assert.NotNil(t, e.Syncer)
	assert.NotNil(t, e.Collector)
}

func TestNewRejectsRedisDriverWithoutBackend(t *testing.T) {
	cfg := testConfig()
	cfg.BrokerDriver = "redis"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsVaultDriverWithoutBackend(t *testing.T) {
	cfg := testConfig()
	cfg.KMSDriver = "vault"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestLoadCatalogFileMergesIntoRegistry(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	defer e.Close()

	dir := t.TempDir()
	path := dir + "/catalog.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"basePackage":"dedi-link","messages":[{"id":"Custom"}]}`), 0o644))

	require.NoError(t, e.LoadCatalogFile(path))
	_, err = e.Registry.Lookup("dedi-link.Custom")
	assert.NoError(t, err)
}
