package registrar

import (
	"context"
	"strings"

	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/graph"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/ledger"
	"github.com/teranos/proofchain/logger"
	"github.com/teranos/proofchain/registration"
)

// Classification statuses
const (
	ClassExactRegistered = "exact_registered"
	ClassDerivative      = "derivative"
	ClassUnregistered    = "unregistered"
)

// ClassifyQuery describes an asset to classify. Content takes precedence over
// Locator for embedding; DigestHex is derived from Content when absent.
type ClassifyQuery struct {
	Content        []byte
	Locator        string
	DigestHex      string
	Threshold      *float64 // defaults to the link threshold
	IncludeMatches bool
	IncludeGraph   bool
	TopK           int
}

// Classification is the verdict on an unknown asset.
type Classification struct {
	Status            string               `json:"status"`
	QueryDigest       string               `json:"query_sha256,omitempty"`
	CanonicalStrategy string               `json:"canonical_strategy"`
	ExactMatch        *registration.Record `json:"exact_match,omitempty"`
	BestMatch         *dedup.Match         `json:"best_match,omitempty"`
	Threshold         float64              `json:"similarity_threshold"`
	Matches           []dedup.Match        `json:"matches,omitempty"`
	Graph             *graph.Graph         `json:"lineage_graph,omitempty"`
	// EmbeddingSkipped explains a missing query embedding
	EmbeddingSkipped string `json:"embedding_skipped,omitempty"`
}

// Classify decides whether an asset is registered verbatim, a near-duplicate
// of something registered, or unknown.
func (r *Registrar) Classify(ctx context.Context, q ClassifyQuery) (*Classification, error) {
	locator := strings.TrimSpace(q.Locator)
	digestHex := strings.TrimSpace(q.DigestHex)
	if len(q.Content) > 0 && digestHex == "" {
		digestHex = keys.DigestOf(q.Content).Hex()
	}
	if len(q.Content) == 0 && locator == "" && digestHex == "" {
		return nil, errors.NewInvalidRequestError("content, locator or digest is required")
	}

	threshold := r.detector.LinkThreshold()
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	topK := q.TopK
	if topK <= 0 {
		topK = r.policy.GraphTopK
	}

	out := &Classification{
		Status:            ClassUnregistered,
		CanonicalStrategy: graph.StrategyRegKey,
		Threshold:         threshold,
	}

	// Exact match: same bytes, else same locator
	var exact []*registration.Record
	if digestHex != "" {
		d, err := keys.ParseDigest(digestHex)
		if err != nil {
			return nil, err
		}
		out.QueryDigest = d.Hex()
		if exact, err = r.store.FindByContentKey(ctx, keys.ContentKeyOf(d)); err != nil {
			return nil, errors.Wrap(err, "look up exact match")
		}
	}
	if len(exact) == 0 && locator != "" {
		var err error
		if exact, err = r.store.FindByLocator(ctx, locator); err != nil {
			return nil, errors.Wrap(err, "look up locator match")
		}
	}
	if len(exact) > 0 {
		out.Status = ClassExactRegistered
		out.ExactMatch = exact[0]
	}

	var emb dedup.EmbedOutcome
	if len(q.Content) > 0 {
		emb = r.detector.EmbedBytes(ctx, q.Content)
	} else {
		emb = r.detector.EmbedLocator(ctx, locator)
	}
	if !emb.OK() {
		out.EmbeddingSkipped = emb.Diagnostic()
	}

	all, err := r.store.All(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load registrations")
	}

	if emb.OK() {
		matches := r.detector.Rank(emb.Vector, all, nil)
		if len(matches) > topK {
			matches = matches[:topK]
		}
		if len(matches) > 0 {
			best := matches[0]
			out.BestMatch = &best
			r.metrics.ObserveBestSimilarity(best.Similarity)
			if out.Status == ClassUnregistered && best.Similarity >= threshold {
				out.Status = ClassDerivative
			}
		}
		if q.IncludeMatches {
			out.Matches = matches
		}
	}

	if q.IncludeGraph {
		out.Graph = r.graphs.Build(graph.Query{
			DigestHex: digestHex,
			Locator:   locator,
			Embedding: emb.Vector,
		}, all, graph.Options{TopK: topK, Threshold: threshold})
		if out.Graph != nil {
			out.CanonicalStrategy = out.Graph.Meta.CanonicalStrategy
		}
	}

	r.logger.Debugw("Classified asset",
		logger.FieldDigest, out.QueryDigest,
		logger.FieldLocator, locator,
		logger.FieldStatus, out.Status)
	return out, nil
}

// VerifyQuery compares an asset against one registration.
type VerifyQuery struct {
	RegKey    keys.RegistrationKey
	Content   []byte
	Locator   string
	Threshold *float64 // defaults to the verify threshold
}

// Verification is the outcome of Verify.
type Verification struct {
	dedup.Verdict
	RegKey string `json:"reg_key"`
	// FastPath is true when the registered side used its stored embedding
	FastPath bool `json:"fast_path"`
	// AnchorVerified is nil when the ledger holds no embedding anchor or could not be read
	AnchorVerified  *bool  `json:"anchor_verified,omitempty"`
	EmbeddingAnchor string `json:"embedding_anchor,omitempty"`
}

// Verify decides whether the query asset is authentic to the registration.
// A stored embedding that disagrees with the ledger anchor is refused.
func (r *Registrar) Verify(ctx context.Context, q VerifyQuery) (*Verification, error) {
	rec, err := r.find(ctx, q.RegKey)
	if err != nil {
		return nil, err
	}
	out := &Verification{RegKey: rec.RegKey.Hex()}

	if r.ledger != nil {
		value, ok, err := r.ledger.BoxGet(ctx, ledger.RegBoxName(rec.RegKey))
		switch {
		case err != nil:
			r.logger.Debugw("Anchor check skipped", logger.FieldRegKey, out.RegKey, logger.FieldError, err)
		case ok:
			box, err := ledger.DecodeRegBox(value)
			if err != nil {
				return nil, err
			}
			out.EmbeddingAnchor = box.AnchorHex()
		}
	}

	anchorEmb := r.detector.EmbedRecord(ctx, rec)
	if !anchorEmb.OK() {
		return nil, errors.Mark(
			errors.Newf("registered asset has no embedding: %s", anchorEmb.Diagnostic()),
			errors.ErrServiceUnavailable)
	}
	out.FastPath = anchorEmb.Reused

	if out.EmbeddingAnchor != "" {
		match := strings.EqualFold(out.EmbeddingAnchor, anchorEmb.Digest)
		out.AnchorVerified = &match
		if !match {
			return out, errors.Wrapf(ErrAnchorMismatch, "registration %s", out.RegKey)
		}
	}

	var queryEmb dedup.EmbedOutcome
	if len(q.Content) > 0 {
		queryEmb = r.detector.EmbedBytes(ctx, q.Content)
	} else {
		queryEmb = r.detector.EmbedLocator(ctx, strings.TrimSpace(q.Locator))
	}
	if !queryEmb.OK() {
		return nil, errors.Mark(
			errors.Newf("query asset could not be embedded: %s", queryEmb.Diagnostic()),
			errors.ErrServiceUnavailable)
	}

	out.Verdict = r.detector.Verify(queryEmb.Vector, anchorEmb.Vector, q.Threshold)
	return out, nil
}
