package am

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Database.Path != DefaultDatabasePath {
		t.Errorf("expected default database path %q, got %q", DefaultDatabasePath, cfg.Database.Path)
	}
	if cfg.Ledger.Backend != LedgerBackendSQLite {
		t.Errorf("expected sqlite ledger backend, got %q", cfg.Ledger.Backend)
	}
	if !cfg.Ledger.StrictNonce {
		t.Error("strict nonce policy should default to on")
	}
	if cfg.Embeddings.LinkThreshold != 0.92 {
		t.Errorf("expected link threshold 0.92, got %f", cfg.Embeddings.LinkThreshold)
	}
	if cfg.Embeddings.VerifyThreshold != 0.80 {
		t.Errorf("expected verify threshold 0.80, got %f", cfg.Embeddings.VerifyThreshold)
	}
	if cfg.GetGraphTopK() != 8 {
		t.Errorf("expected top_k 8, got %d", cfg.GetGraphTopK())
	}
	if cfg.Content.Gateway != DefaultGateway {
		t.Errorf("expected gateway %q, got %q", DefaultGateway, cfg.Content.Gateway)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.Ledger.Backend = "postgres" }, true},
		{"algod without app id", func(c *Config) { c.Ledger.Backend = LedgerBackendAlgod }, true},
		{"algod complete", func(c *Config) {
			c.Ledger.Backend = LedgerBackendAlgod
			c.Ledger.AppID = 42
		}, false},
		{"model embedder without endpoint", func(c *Config) { c.Embeddings.Capability = CapabilityModel }, true},
		{"model embedder with endpoint", func(c *Config) {
			c.Embeddings.Capability = CapabilityModel
			c.Embeddings.Endpoint = "http://embedder:8080/embed"
		}, false},
		{"unknown forgery capability", func(c *Config) { c.Forgery.Capability = "magic" }, true},
		{"link threshold out of range", func(c *Config) { c.Embeddings.LinkThreshold = 1.5 }, true},
		{"zero top_k uses default", func(c *Config) { c.Graph.TopK = 0 }, false},
		{"negative top_k", func(c *Config) { c.Graph.TopK = -1 }, true},
		{"zero attempts", func(c *Config) { c.Outbound.MaxAttempts = 0 }, true},
		{"inverted backoff", func(c *Config) {
			c.Outbound.InitialBackoffMS = 500
			c.Outbound.MaxBackoffMS = 100
		}, true},
		{"zero rate is unlimited", func(c *Config) { c.Outbound.RatePerSecond = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[ledger]
backend = "memory"
strict_nonce = false

[embeddings]
link_threshold = 0.95

[graph]
top_k = 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if cfg.Ledger.Backend != LedgerBackendMemory {
		t.Errorf("backend = %q", cfg.Ledger.Backend)
	}
	if cfg.Ledger.StrictNonce {
		t.Error("strict_nonce should be overridden to false")
	}
	if cfg.Embeddings.LinkThreshold != 0.95 {
		t.Errorf("link_threshold = %f", cfg.Embeddings.LinkThreshold)
	}
	if cfg.Embeddings.VerifyThreshold != DefaultVerifyThreshold {
		t.Errorf("verify_threshold should keep default, got %f", cfg.Embeddings.VerifyThreshold)
	}
	if cfg.Graph.TopK != 3 {
		t.Errorf("top_k = %d", cfg.Graph.TopK)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "am.toml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if cfg.Outbound.MaxAttempts != Defaults().Outbound.MaxAttempts {
		t.Errorf("max_attempts = %d", cfg.Outbound.MaxAttempts)
	}

	// Second write rotates the first into a backup
	if err := WriteDefault(path); err != nil {
		t.Fatalf("second WriteDefault() failed: %v", err)
	}
	if _, err := os.Stat(path + ".back1"); err != nil {
		t.Errorf("expected backup file: %v", err)
	}
}

func TestMarshal_RedactsToken(t *testing.T) {
	cfg := Defaults()
	cfg.Ledger.Token = "secret-token"

	data, err := Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret-token") {
		t.Error("ledger token must not be written")
	}
	if cfg.Ledger.Token != "secret-token" {
		t.Error("Marshal must not mutate its input")
	}
}
