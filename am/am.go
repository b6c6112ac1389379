package am

import "time"

// Config represents the proofchain configuration
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database" toml:"database"`
	Ledger       LedgerConfig       `mapstructure:"ledger" toml:"ledger"`
	Registration RegistrationConfig `mapstructure:"registration" toml:"registration"`
	Content      ContentConfig      `mapstructure:"content" toml:"content"`
	Embeddings   EmbeddingsConfig   `mapstructure:"embeddings" toml:"embeddings"`
	Forgery      ForgeryConfig      `mapstructure:"forgery" toml:"forgery"`
	Graph        GraphConfig        `mapstructure:"graph" toml:"graph"`
	Outbound     OutboundConfig     `mapstructure:"outbound" toml:"outbound"`
	Metrics      MetricsConfig      `mapstructure:"metrics" toml:"metrics"`
}

// DatabaseConfig configures the SQLite record store
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// Ledger backends
const (
	LedgerBackendMemory = "memory" // process-local, lost on exit
	LedgerBackendSQLite = "sqlite" // local development ledger in the record database
	LedgerBackendAlgod  = "algod"  // read-only client of a public node
)

// LedgerConfig configures the append-only box registry
type LedgerConfig struct {
	Backend  string `mapstructure:"backend" toml:"backend"`
	AlgodURL string `mapstructure:"algod_url" toml:"algod_url"`
	Token    string `mapstructure:"token" toml:"token,omitempty"`
	AppID    uint64 `mapstructure:"app_id" toml:"app_id"`
	// StrictNonce rejects registrations without a confirmed caller transaction id
	StrictNonce bool `mapstructure:"strict_nonce" toml:"strict_nonce"`
	// RequireLedger rejects registrations when the ledger cannot be reached
	RequireLedger bool `mapstructure:"require_ledger" toml:"require_ledger"`
}

// RegistrationConfig configures registration policy
type RegistrationConfig struct {
	EnforceSignature      bool `mapstructure:"enforce_signature" toml:"enforce_signature"`
	AllowDuplicateDefault bool `mapstructure:"allow_duplicate_default" toml:"allow_duplicate_default"`
}

// ContentConfig configures content fetching from locators
type ContentConfig struct {
	Gateway        string `mapstructure:"gateway" toml:"gateway"`
	MaxBytes       int64  `mapstructure:"max_bytes" toml:"max_bytes"`
	AllowPrivate   bool   `mapstructure:"allow_private" toml:"allow_private"`
	CacheTTLSecs   int    `mapstructure:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
}

// Capability names shared by embeddings and forgery
const (
	CapabilityNone      = "none"
	CapabilityHeuristic = "heuristic"
	CapabilityModel     = "model"
)

// EmbeddingsConfig configures the perceptual embedding capability
type EmbeddingsConfig struct {
	Capability      string  `mapstructure:"capability" toml:"capability"`
	Endpoint        string  `mapstructure:"endpoint" toml:"endpoint,omitempty"`
	LinkThreshold   float64 `mapstructure:"link_threshold" toml:"link_threshold"`
	VerifyThreshold float64 `mapstructure:"verify_threshold" toml:"verify_threshold"`
}

// ForgeryConfig configures the forgery-likelihood capability
type ForgeryConfig struct {
	Capability string `mapstructure:"capability" toml:"capability"`
	Endpoint   string `mapstructure:"endpoint" toml:"endpoint,omitempty"`
}

// GraphConfig configures provenance graph construction
type GraphConfig struct {
	TopK int `mapstructure:"top_k" toml:"top_k"`
}

// OutboundConfig is the uniform policy for every call leaving the process
type OutboundConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	MaxAttempts      int     `mapstructure:"max_attempts" toml:"max_attempts"`
	InitialBackoffMS int     `mapstructure:"initial_backoff_ms" toml:"initial_backoff_ms"`
	MaxBackoffMS     int     `mapstructure:"max_backoff_ms" toml:"max_backoff_ms"`
	RatePerSecond    float64 `mapstructure:"rate_per_second" toml:"rate_per_second"` // 0 = unlimited
	Burst            int     `mapstructure:"burst" toml:"burst"`
}

// MetricsConfig configures Prometheus instrumentation
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
}

// Timeout returns the per-attempt outbound timeout.
func (o OutboundConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// InitialBackoff returns the first retry delay.
func (o OutboundConfig) InitialBackoff() time.Duration {
	return time.Duration(o.InitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling.
func (o OutboundConfig) MaxBackoff() time.Duration {
	return time.Duration(o.MaxBackoffMS) * time.Millisecond
}

// CacheTTL returns how long locator resolvability results are cached.
func (c ContentConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
