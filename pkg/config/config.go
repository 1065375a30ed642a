// Package config loads the gateway's process configuration from
// DG_-prefixed environment variables, the way a long-running daemon
// under process supervision is configured rather than via interactive
// flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// ConfigError is returned when an environment variable holds an unknown
// driver selector or a malformed duration/URL.
type ConfigError struct {
	Variable string
	Value    string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s=%q: %s", e.Variable, e.Value, e.Reason)
}

// Config is the full set of settings read at startup.
type Config struct {
	// Identity
	NetworkID string
	NodeID    string
	NodeName  string
	PublicURL string

	// Ambient
	LogLevel   string
	LogJSON    bool
	BindAddr   string
	MetricsAddr string

	// Drivers
	DatabaseDriver string // "memory" | "document"
	DataDir        string
	BrokerDriver   string // "memory" | "redis"
	KMSDriver      string // "memory" | "vault"

	// Admission
	ChallengeDifficulty uint

	// Timeouts
	ProbeTimeout    time.Duration
	BrokerTimeout   time.Duration
	PongWait        time.Duration
	ConnectionBudget time.Duration

	// Sync
	SyncInterval time.Duration
}

func envString(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(name string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigError{Variable: name, Value: v, Reason: "not a valid boolean"}
	}
	return b, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ConfigError{Variable: name, Value: v, Reason: "not a valid duration"}
	}
	return d, nil
}

func envUint(name string, fallback uint) (uint, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, &ConfigError{Variable: name, Value: v, Reason: "not a valid unsigned integer"}
	}
	return uint(n), nil
}

func validateDriver(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ConfigError{Variable: name, Value: value, Reason: fmt.Sprintf("must be one of %v", allowed)}
}

func validateURL(name, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Variable: name, Value: value, Reason: "not a valid absolute URL"}
	}
	return nil
}

// Load reads Config from the environment, returning a ConfigError on the
// first invalid value encountered.
func Load() (*Config, error) {
	cfg := &Config{
		NetworkID:      envString("DG_NETWORK_ID", ""),
		NodeID:         envString("DG_NODE_ID", ""),
		NodeName:       envString("DG_NODE_NAME", ""),
		PublicURL:      envString("DG_PUBLIC_URL", ""),
		LogLevel:       envString("DG_LOG_LEVEL", "info"),
		BindAddr:       envString("DG_BIND_ADDR", "127.0.0.1:8443"),
		MetricsAddr:    envString("DG_METRICS_ADDR", "127.0.0.1:9090"),
		DatabaseDriver: envString("DG_DATABASE_DRIVER", "memory"),
		DataDir:        envString("DG_DATA_DIR", "./gatewayd-data"),
		BrokerDriver:   envString("DG_BROKER_DRIVER", "memory"),
		KMSDriver:      envString("DG_KMS_DRIVER", "memory"),
	}

	var err error
	if cfg.LogJSON, err = envBool("DG_LOG_JSON", false); err != nil {
		return nil, err
	}
	if cfg.ChallengeDifficulty, err = envUint("DG_CHALLENGE_DIFFICULTY", 20); err != nil {
		return nil, err
	}
	if cfg.ProbeTimeout, err = envDuration("DG_PROBE_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.BrokerTimeout, err = envDuration("DG_BROKER_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.PongWait, err = envDuration("DG_PONG_WAIT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ConnectionBudget, err = envDuration("DG_CONNECTION_BUDGET", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = envDuration("DG_SYNC_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	if err := validateDriver("DG_DATABASE_DRIVER", cfg.DatabaseDriver, "memory", "document"); err != nil {
		return nil, err
	}
	if err := validateDriver("DG_BROKER_DRIVER", cfg.BrokerDriver, "memory", "redis"); err != nil {
		return nil, err
	}
	if err := validateDriver("DG_KMS_DRIVER", cfg.KMSDriver, "memory", "vault"); err != nil {
		return nil, err
	}
	if err := validateURL("DG_PUBLIC_URL", cfg.PublicURL); err != nil {
		return nil, err
	}

	return cfg, nil
}
