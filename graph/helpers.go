package graph

import (
	"strings"

	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/registration"
)

// canonicalID picks a record's node ID: registration key, else digest, else locator.
// The second result names the strategy used.
func canonicalID(rec *registration.Record) (string, string) {
	var zero keys.RegistrationKey
	if rec.RegKey != zero {
		return rec.RegKey.Hex(), StrategyRegKey
	}
	if d := normalizeDigest(rec.DigestHex); d != "" {
		return d, StrategyDigest
	}
	return rec.ContentLocator, StrategyLocator
}

// queryID picks the query node ID: digest, else locator.
func queryID(q Query) (string, string) {
	if d := normalizeDigest(q.DigestHex); d != "" {
		return d, StrategyDigest
	}
	if loc := strings.TrimSpace(q.Locator); loc != "" {
		return loc, StrategyLocator
	}
	return defaultQueryID, StrategyLocator
}

// normalizeDigest returns lowercase hex without prefix, or "" if d is not a digest.
func normalizeDigest(d string) string {
	parsed, err := keys.ParseDigest(d)
	if err != nil {
		return ""
	}
	return parsed.Hex()
}

// shortLabel abbreviates long hex identifiers for display.
// Example: "3a7bd3e2360a3d29eea436fcfb7e44c735d117c4" becomes "3a7bd3e2…d117c4"
func shortLabel(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "…" + id[len(id)-6:]
}

// recordMetadata is the per-node detail a viewer shows on hover.
func recordMetadata(rec *registration.Record) map[string]interface{} {
	meta := map[string]interface{}{
		"signer":          rec.SignerID,
		"digest_hex":      rec.DigestHex,
		"content_key":     rec.ContentKey.Hex(),
		"content_locator": rec.ContentLocator,
		"status":          string(rec.Status),
		"ledger_status":   string(rec.LedgerStatus),
	}
	if rec.FileName != "" {
		meta["file_name"] = rec.FileName
	}
	if rec.LedgerTx != nil {
		meta["ledger_tx"] = *rec.LedgerTx
	}
	if !rec.CreatedAt.IsZero() {
		meta["registered_at"] = rec.CreatedAt
	}
	return meta
}
