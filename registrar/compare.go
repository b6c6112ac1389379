package registrar

import (
	"context"
	"strings"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/logger"
	"github.com/teranos/proofchain/registration"
)

// CompareQuery names a registered asset and a suspect asset. The registered
// side is a registration key or, without one, a locator. The suspect side is
// bytes or a locator.
type CompareQuery struct {
	RegKey         *keys.RegistrationKey
	Locator        string
	Suspect        []byte
	SuspectLocator string
}

// ComparisonResult is the outcome of Compare.
type ComparisonResult struct {
	dedup.Comparison
	// Record is set when the registered side was a registration
	Record *registration.Record `json:"record,omitempty"`
	// Source is where the registered bytes came from, when they were fetched
	Source string `json:"registered_source,omitempty"`
}

// Compare scores how closely the suspect asset reproduces the registered one.
// A registration's stored perceptual hash and embedding are used as-is; the
// registered bytes are fetched only for signals it lacks.
func (r *Registrar) Compare(ctx context.Context, q CompareQuery) (*ComparisonResult, error) {
	suspect := q.Suspect
	if len(suspect) == 0 {
		if strings.TrimSpace(q.SuspectLocator) == "" {
			return nil, errors.NewInvalidRequestError("suspect content or locator is required")
		}
		data, err := r.detector.Fetch(ctx, q.SuspectLocator)
		if err != nil {
			return nil, errors.Wrap(err, "fetch suspect")
		}
		suspect = data
	}

	out := &ComparisonResult{}
	var registered dedup.Fingerprint
	switch {
	case q.RegKey != nil:
		rec, err := r.find(ctx, *q.RegKey)
		if err != nil {
			return nil, err
		}
		out.Record = rec
		if registered, err = r.recordFingerprint(ctx, rec, out); err != nil {
			return nil, err
		}
	case strings.TrimSpace(q.Locator) != "":
		data, err := r.detector.Fetch(ctx, q.Locator)
		if err != nil {
			return nil, errors.Wrap(err, "fetch registered asset")
		}
		out.Source = q.Locator
		registered = r.detector.Fingerprint(ctx, data)
	default:
		return nil, errors.NewInvalidRequestError("a registration key or a registered locator is required")
	}

	out.Comparison = dedup.Score(registered, r.detector.Fingerprint(ctx, suspect))
	r.logger.Infow("Compared asset",
		"label", out.Label,
		logger.FieldScore, out.Combined)
	return out, nil
}

// recordFingerprint builds the registered side from a stored record, filling
// missing signals from the record's locator when it can be fetched.
func (r *Registrar) recordFingerprint(ctx context.Context, rec *registration.Record, out *ComparisonResult) (dedup.Fingerprint, error) {
	digest, err := keys.ParseDigest(rec.DigestHex)
	if err != nil {
		return dedup.Fingerprint{}, errors.Wrapf(err, "stored digest of %s", rec.RegKey.Hex())
	}
	fp := dedup.Fingerprint{Digest: digest, Embedding: rec.Embedding}
	if rec.PerceptualHash != nil {
		fp.PHash = *rec.PerceptualHash
	}

	wantEmbedding := fp.Embedding == nil && r.detector.Capability() != am.CapabilityNone
	if (fp.PHash != "" && !wantEmbedding) || rec.ContentLocator == "" {
		return fp, nil
	}
	data, err := r.detector.Fetch(ctx, rec.ContentLocator)
	if err != nil {
		r.logger.Debugw("Registered asset not fetched, comparing stored signals",
			logger.FieldRegKey, rec.RegKey.Hex(),
			logger.FieldError, err)
		return fp, nil
	}
	out.Source = rec.ContentLocator
	fetched := r.detector.Fingerprint(ctx, data)
	if fp.PHash == "" {
		fp.PHash = fetched.PHash
	}
	if fp.Embedding == nil {
		fp.Embedding = fetched.Embedding
	}
	return fp, nil
}
