// Package trust scores how much a registration of some content can be trusted.
//
// Each record earns positive weight for independent evidence (a verified
// signature, a ledger transaction, a resolvable locator, KYC details, not
// being revoked) and loses up to ForgeryWeight for a forgery likelihood.
package trust

import (
	"github.com/teranos/proofchain/internal/util"
)

// Positive signal weights sum to 80; the forgery penalty can remove up to 20.
const (
	WeightSignature  = 20.0
	WeightLedger     = 25.0
	WeightResolvable = 15.0
	WeightKYC        = 15.0
	WeightNotRevoked = 5.0
	ForgeryWeight    = 20.0
)

// Signals are the boolean evidence for one record.
type Signals struct {
	SignatureVerified bool `json:"signature_verified"`
	OnLedger          bool `json:"onchain_present"`
	Resolvable        bool `json:"locator_resolvable"`
	KYCPresent        bool `json:"kyc_present"`
	NotRevoked        bool `json:"not_revoked"`
}

// Breakdown is each signal's contribution to the score.
type Breakdown struct {
	Signature      float64 `json:"signature"`
	Ledger         float64 `json:"onchain"`
	Resolvable     float64 `json:"locator"`
	KYC            float64 `json:"kyc"`
	Status         float64 `json:"status"`
	ForgeryPenalty float64 `json:"forgery_penalty"`
}

// Score returns the clamped percentage and its breakdown. forgery is a
// likelihood in [0, 1]; values outside are clamped.
func Score(s Signals, forgery float64) (float64, Breakdown) {
	var b Breakdown
	if s.SignatureVerified {
		b.Signature = WeightSignature
	}
	if s.OnLedger {
		b.Ledger = WeightLedger
	}
	if s.Resolvable {
		b.Resolvable = WeightResolvable
	}
	if s.KYCPresent {
		b.KYC = WeightKYC
	}
	if s.NotRevoked {
		b.Status = WeightNotRevoked
	}
	b.ForgeryPenalty = util.Clamp(forgery, 0, 1) * ForgeryWeight

	base := b.Signature + b.Ledger + b.Resolvable + b.KYC + b.Status
	return util.Clamp(base-b.ForgeryPenalty, 0, 100), b
}

// FivePoint maps a percentage onto a 0-5 scale with two decimals.
func FivePoint(pct float64) float64 {
	return util.Round2(pct / 20)
}

// Mean averages percentages, nil when there are none.
func Mean(pcts []float64) *float64 {
	if len(pcts) == 0 {
		return nil
	}
	var sum float64
	for _, p := range pcts {
		sum += p
	}
	avg := sum / float64(len(pcts))
	return &avg
}
