// Package config loads OpenAct's environment-driven runtime configuration.
// CLI flag and YAML/JSON config-file parsing are external collaborators;
// this package owns only the OPENACT_* environment surface and its
// defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is OpenAct's runtime configuration.
type Config struct {
	// ListenAddr is the REST surface bind address.
	ListenAddr string

	// StorePath is the SQLite database file path ("" uses an in-memory store).
	StorePath string

	// DBMaxConnections is the store connection pool size.
	DBMaxConnections int

	// RequireTenant enforces an explicit X-Tenant header on every request.
	RequireTenant bool

	// MasterKeyHex is the hex-encoded AEAD master key for AuthConnection
	// field-level encryption. Empty disables encryption (plaintext, key_version=0).
	MasterKeyHex string

	// GovernanceTimeout bounds every action execution; the effective timeout
	// is min(this, the HTTP executor's own total_ms, the envelope timeout).
	GovernanceTimeout time.Duration

	// GovernanceMaxConcurrency bounds in-flight executions process-wide.
	GovernanceMaxConcurrency int

	// MCPSchemaCacheTTL is the TTL for derived MCP input/output schemas.
	MCPSchemaCacheTTL time.Duration

	LogLevel  string
	LogFormat string
}

// Load builds a Config from the process environment, applying defaults for
// anything unset.
func Load() *Config {
	cfg := &Config{
		ListenAddr:               ":8080",
		StorePath:                "openact.db",
		DBMaxConnections:         10,
		RequireTenant:            false,
		GovernanceTimeout:        60 * time.Second,
		GovernanceMaxConcurrency: 50,
		MCPSchemaCacheTTL:        60 * time.Second,
		LogLevel:                 "info",
		LogFormat:                "json",
	}

	if v := os.Getenv("OPENACT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("OPENACT_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("OPENACT_DB_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DBMaxConnections = n
		}
	}
	if v := os.Getenv("OPENACT_REQUIRE_TENANT"); v == "1" || v == "true" {
		cfg.RequireTenant = true
	}
	cfg.MasterKeyHex = os.Getenv("OPENACT_MASTER_KEY")
	if v := os.Getenv("OPENACT_GOVERNANCE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.GovernanceTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("OPENACT_GOVERNANCE_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GovernanceMaxConcurrency = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// EncryptionEnabled reports whether a master key is configured.
func (c *Config) EncryptionEnabled() bool {
	return c.MasterKeyHex != ""
}
