package am

import "github.com/teranos/proofchain/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case LedgerBackendMemory, LedgerBackendSQLite:
	case LedgerBackendAlgod:
		if c.Ledger.AlgodURL == "" {
			return errors.New("ledger.algod_url cannot be empty for the algod backend")
		}
		if c.Ledger.AppID == 0 {
			return errors.New("ledger.app_id must be set for the algod backend")
		}
	default:
		return errors.Newf("ledger.backend must be one of memory, sqlite, algod, got %q", c.Ledger.Backend)
	}

	if err := validateCapability("embeddings", c.Embeddings.Capability, c.Embeddings.Endpoint); err != nil {
		return err
	}
	if err := validateCapability("forgery", c.Forgery.Capability, c.Forgery.Endpoint); err != nil {
		return err
	}

	if c.Embeddings.LinkThreshold < -1 || c.Embeddings.LinkThreshold > 1 {
		return errors.Newf("embeddings.link_threshold must be within [-1, 1], got %f", c.Embeddings.LinkThreshold)
	}
	if c.Embeddings.VerifyThreshold < -1 || c.Embeddings.VerifyThreshold > 1 {
		return errors.Newf("embeddings.verify_threshold must be within [-1, 1], got %f", c.Embeddings.VerifyThreshold)
	}

	// Graph top_k: 0 = default, negative = invalid
	if c.Graph.TopK < 0 {
		return errors.Newf("graph.top_k must be >= 0, got %d", c.Graph.TopK)
	}

	if c.Content.MaxBytes < 0 {
		return errors.Newf("content.max_bytes must be >= 0, got %d", c.Content.MaxBytes)
	}
	if c.Content.TimeoutSeconds < 0 {
		return errors.Newf("content.timeout_seconds must be >= 0, got %d", c.Content.TimeoutSeconds)
	}

	if c.Outbound.TimeoutSeconds <= 0 {
		return errors.Newf("outbound.timeout_seconds must be > 0, got %d", c.Outbound.TimeoutSeconds)
	}
	if c.Outbound.MaxAttempts < 1 {
		return errors.Newf("outbound.max_attempts must be >= 1, got %d", c.Outbound.MaxAttempts)
	}
	if c.Outbound.InitialBackoffMS < 0 || c.Outbound.MaxBackoffMS < 0 {
		return errors.New("outbound backoff durations must be >= 0")
	}
	if c.Outbound.MaxBackoffMS < c.Outbound.InitialBackoffMS {
		return errors.Newf("outbound.max_backoff_ms (%d) must be >= initial_backoff_ms (%d)",
			c.Outbound.MaxBackoffMS, c.Outbound.InitialBackoffMS)
	}
	if c.Outbound.RatePerSecond < 0 {
		return errors.Newf("outbound.rate_per_second must be >= 0, got %f", c.Outbound.RatePerSecond)
	}

	return nil
}

func validateCapability(section, capability, endpoint string) error {
	switch capability {
	case CapabilityNone, CapabilityHeuristic:
		return nil
	case CapabilityModel:
		if endpoint == "" {
			return errors.Newf("%s.endpoint cannot be empty when capability is model", section)
		}
		return nil
	default:
		return errors.Newf("%s.capability must be one of none, heuristic, model, got %q", section, capability)
	}
}
