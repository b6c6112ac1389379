package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// Default thresholds and sizes
const (
	DefaultDatabasePath    = "proofchain.db"
	DefaultGateway         = "gateway.pinata.cloud"
	DefaultLinkThreshold   = 0.92
	DefaultVerifyThreshold = 0.80
	DefaultGraphTopK       = 8
	DefaultMaxContentBytes = 32 << 20
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("ledger.backend", LedgerBackendSQLite)
	v.SetDefault("ledger.algod_url", "https://testnet-api.algonode.cloud")
	v.SetDefault("ledger.app_id", 0)
	v.SetDefault("ledger.strict_nonce", true)
	v.SetDefault("ledger.require_ledger", false)

	v.SetDefault("registration.enforce_signature", false)
	v.SetDefault("registration.allow_duplicate_default", false)

	v.SetDefault("content.gateway", DefaultGateway)
	v.SetDefault("content.max_bytes", DefaultMaxContentBytes)
	v.SetDefault("content.allow_private", false)
	v.SetDefault("content.cache_ttl_seconds", 300)
	v.SetDefault("content.timeout_seconds", 15)

	v.SetDefault("embeddings.capability", CapabilityHeuristic)
	v.SetDefault("embeddings.link_threshold", DefaultLinkThreshold)
	v.SetDefault("embeddings.verify_threshold", DefaultVerifyThreshold)

	v.SetDefault("forgery.capability", CapabilityHeuristic)

	v.SetDefault("graph.top_k", DefaultGraphTopK)

	v.SetDefault("outbound.timeout_seconds", 10)
	v.SetDefault("outbound.max_attempts", 3)
	v.SetDefault("outbound.initial_backoff_ms", 200)
	v.SetDefault("outbound.max_backoff_ms", 2000)
	v.SetDefault("outbound.rate_per_second", 10.0)
	v.SetDefault("outbound.burst", 5)

	v.SetDefault("metrics.enabled", true)
}

func newDefaultViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("ledger.token", "PROOFCHAIN_LEDGER_TOKEN", "ALGOD_TOKEN")
	v.BindEnv("ledger.algod_url", "PROOFCHAIN_LEDGER_ALGOD_URL", "ALGOD_URL")
	v.BindEnv("ledger.app_id", "PROOFCHAIN_LEDGER_APP_ID", "APP_ID")
	v.BindEnv("ledger.strict_nonce", "PROOFCHAIN_LEDGER_STRICT_NONCE", "ENFORCE_TX_NONCE")
	v.BindEnv("registration.enforce_signature", "PROOFCHAIN_REGISTRATION_ENFORCE_SIGNATURE", "ENFORCE_METADATA_SIGNATURE")
	v.BindEnv("database.path", "PROOFCHAIN_DATABASE_PATH")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetGraphTopK returns graph.top_k, defaulting non-positive values.
func (c *Config) GetGraphTopK() int {
	if c.Graph.TopK <= 0 {
		return DefaultGraphTopK
	}
	return c.Graph.TopK
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Ledger: %s, Embeddings: %s, Forgery: %s}",
		c.Database.Path, c.Ledger.Backend, c.Embeddings.Capability, c.Forgery.Capability)
}
