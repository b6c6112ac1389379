// Package registration stores one record per registration attempt.
//
// Records are keyed by registration key; many records may share a content key.
// A record is created once and then only patched in place: embeddings,
// ledger outcome, revocation and near-duplicate lineage. Records are never deleted.
package registration

import (
	"time"

	"github.com/teranos/proofchain/keys"
)

// LedgerStatus is the outcome of anchoring a record on the ledger.
type LedgerStatus string

const (
	LedgerNone            LedgerStatus = "none"
	LedgerAnchored        LedgerStatus = "anchored"
	LedgerAlreadyAnchored LedgerStatus = "already_anchored"
	LedgerDeferred        LedgerStatus = "deferred"    // client must sign and broadcast the box writes
	LedgerUnavailable     LedgerStatus = "unavailable" // off-chain only, pending reconcile
)

// Status is the lifecycle state used by trust scoring.
type Status string

const (
	StatusVerified Status = "verified"
	StatusRevoked  Status = "revoked"
)

// SignatureStatus records the metadata signature check.
type SignatureStatus string

const (
	SignatureVerified           SignatureStatus = "verified"
	SignatureFailed             SignatureStatus = "failed"
	SignatureSkipped            SignatureStatus = "skipped"             // no signature or key supplied
	SignatureSkippedNoVerifier  SignatureStatus = "skipped_no_verifier" // no verifier configured
	SignatureVerificationFailed SignatureStatus = "error"
)

// Record is one persisted registration.
type Record struct {
	ID             string               `json:"id,omitempty"`
	RegKey         keys.RegistrationKey `json:"reg_key"`
	ContentKey     keys.ContentKey      `json:"content_key"`
	SignerID       string               `json:"signer_id"`
	DigestHex      string               `json:"sha256_hex"`
	ContentLocator string               `json:"content_locator,omitempty"`
	FileName       string               `json:"file_name,omitempty"`

	PerceptualHash  *string   `json:"phash,omitempty"`
	Embedding       []float32 `json:"-"` // nil when never computed
	EmbeddingDigest *string   `json:"embedding_digest,omitempty"`
	EmbeddingError  *string   `json:"embedding_error,omitempty"`

	NearDuplicateOf         *keys.RegistrationKey `json:"near_duplicate_of,omitempty"`
	NearDuplicateSimilarity *float64              `json:"near_duplicate_similarity,omitempty"`

	LedgerTx        *string          `json:"ledger_tx,omitempty"`
	LedgerStatus    LedgerStatus     `json:"ledger_status"`
	Status          Status           `json:"status"`
	SignatureStatus SignatureStatus  `json:"signature_status"`
	KYCPresent      bool             `json:"kyc_present"`
	NonceSource     keys.NonceSource `json:"nonce_source"`
	Attempts        int              `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasEmbedding reports whether a similarity vector is stored.
func (r *Record) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// Revoked reports whether the record has been revoked.
func (r *Record) Revoked() bool {
	return r.Status == StatusRevoked
}

// Clone returns a deep copy so callers cannot alias store state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Embedding != nil {
		c.Embedding = append([]float32(nil), r.Embedding...)
	}
	c.PerceptualHash = clonePtr(r.PerceptualHash)
	c.EmbeddingDigest = clonePtr(r.EmbeddingDigest)
	c.EmbeddingError = clonePtr(r.EmbeddingError)
	c.NearDuplicateOf = clonePtr(r.NearDuplicateOf)
	c.NearDuplicateSimilarity = clonePtr(r.NearDuplicateSimilarity)
	c.LedgerTx = clonePtr(r.LedgerTx)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
