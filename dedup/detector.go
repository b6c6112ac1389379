package dedup

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/content"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/metrics"
	"github.com/teranos/proofchain/registration"
)

// SkipReason explains why an embedding is absent. Empty means it is present.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipNoCapability SkipReason = "no_capability"
	SkipNoLocator    SkipReason = "no_locator"
	SkipFetchFailed  SkipReason = "fetch_failed"
	SkipEmbedFailed  SkipReason = "embed_failed"
)

// EmbedOutcome is the result of a best-effort embedding step.
// Either Vector is set, or Skipped says why not and Err carries the cause if any.
type EmbedOutcome struct {
	Vector  []float32
	Digest  string
	Reused  bool // taken from the stored record
	Skipped SkipReason
	Err     error
}

// OK reports whether a vector is available.
func (o EmbedOutcome) OK() bool { return o.Skipped == SkipNone && len(o.Vector) > 0 }

// Diagnostic renders the skip for the record's embedding_error field.
func (o EmbedOutcome) Diagnostic() string {
	if o.OK() {
		return ""
	}
	if o.Err != nil {
		return string(o.Skipped) + ": " + o.Err.Error()
	}
	return string(o.Skipped)
}

// Match is a stored record and its similarity to a query.
type Match struct {
	Record     *registration.Record `json:"record"`
	Similarity float64              `json:"similarity"`
}

// Decision classifies a query against a registered anchor.
type Decision string

const (
	DecisionAuthentic  Decision = "authentic"
	DecisionDerivative Decision = "derivative"
)

// Verdict is the outcome of Verify.
type Verdict struct {
	Similarity float64  `json:"similarity"`
	Threshold  float64  `json:"threshold"`
	Decision   Decision `json:"decision"`
}

// Detector computes embeddings and finds near-duplicates among stored records.
type Detector struct {
	embedder        Embedder
	fetcher         content.Fetcher
	linkThreshold   float64
	verifyThreshold float64
	flight          singleflight.Group
	metrics         *metrics.Metrics
	logger          *zap.SugaredLogger
}

// NewDetector creates a detector. embedder may be nil (no capability); fetcher
// may be nil when records are only ever embedded from caller-supplied bytes.
func NewDetector(cfg am.EmbeddingsConfig, embedder Embedder, fetcher content.Fetcher, m *metrics.Metrics, logger *zap.SugaredLogger) *Detector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	link, verify := cfg.LinkThreshold, cfg.VerifyThreshold
	if link == 0 {
		link = am.DefaultLinkThreshold
	}
	if verify == 0 {
		verify = am.DefaultVerifyThreshold
	}
	return &Detector{
		embedder:        embedder,
		fetcher:         fetcher,
		linkThreshold:   link,
		verifyThreshold: verify,
		metrics:         m,
		logger:          logger.Named("dedup"),
	}
}

// Capability reports the configured embedding capability name.
func (d *Detector) Capability() string {
	if d.embedder == nil {
		return am.CapabilityNone
	}
	return d.embedder.Name()
}

// LinkThreshold is the minimum similarity for registration-time lineage.
func (d *Detector) LinkThreshold() float64 { return d.linkThreshold }

// VerifyThreshold returns override when set, else the configured default.
func (d *Detector) VerifyThreshold(override *float64) float64 {
	if override != nil {
		return *override
	}
	return d.verifyThreshold
}

// EmbedBytes embeds caller-supplied bytes.
func (d *Detector) EmbedBytes(ctx context.Context, data []byte) EmbedOutcome {
	if d.embedder == nil {
		return EmbedOutcome{Skipped: SkipNoCapability}
	}
	vec, err := d.embedder.Embed(ctx, data)
	if err != nil {
		d.metrics.IncEmbedding("failed")
		return EmbedOutcome{Skipped: SkipEmbedFailed, Err: err}
	}
	d.metrics.IncEmbedding("computed")
	return EmbedOutcome{Vector: vec, Digest: Digest(vec)}
}

// EmbedRecord reuses a stored embedding, otherwise fetches the record's locator
// and embeds it. Concurrent requests for one locator share a single fetch.
func (d *Detector) EmbedRecord(ctx context.Context, rec *registration.Record) EmbedOutcome {
	if rec.HasEmbedding() {
		d.metrics.IncEmbedding("reused")
		digest := Digest(rec.Embedding)
		if rec.EmbeddingDigest != nil {
			digest = *rec.EmbeddingDigest
		}
		return EmbedOutcome{Vector: rec.Embedding, Digest: digest, Reused: true}
	}
	return d.EmbedLocator(ctx, rec.ContentLocator)
}

// EmbedLocator fetches and embeds the content behind locator.
func (d *Detector) EmbedLocator(ctx context.Context, locator string) EmbedOutcome {
	if d.embedder == nil {
		return EmbedOutcome{Skipped: SkipNoCapability}
	}
	if locator == "" || d.fetcher == nil {
		return EmbedOutcome{Skipped: SkipNoLocator}
	}

	v, err, _ := d.flight.Do(locator, func() (interface{}, error) {
		data, err := d.fetcher.Fetch(ctx, locator)
		if err != nil {
			return EmbedOutcome{Skipped: SkipFetchFailed, Err: err}, nil
		}
		return d.EmbedBytes(ctx, data), nil
	})
	if err != nil {
		return EmbedOutcome{Skipped: SkipEmbedFailed, Err: err}
	}
	out := v.(EmbedOutcome)
	if out.Skipped == SkipFetchFailed {
		d.metrics.IncEmbedding("skipped")
		d.logger.Debugw("Embedding skipped", "locator", locator, "error", out.Err)
	}
	return out
}

// Rank scans every record with a stored embedding and returns matches in
// descending similarity. Ties keep registration order. exclude, if set, is skipped.
func (d *Detector) Rank(query []float32, records []*registration.Record, exclude *keys.RegistrationKey) []Match {
	if len(query) == 0 {
		return nil
	}
	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		if exclude != nil && rec.RegKey == *exclude {
			continue
		}
		if !rec.HasEmbedding() || len(rec.Embedding) != len(query) {
			continue
		}
		matches = append(matches, Match{Record: rec, Similarity: Similarity(query, rec.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

// LinkNew attaches rec to its most similar earlier registration when the
// similarity reaches the link threshold. Only rec is modified, and only if it
// has no lineage yet; the matched record is never touched.
func (d *Detector) LinkNew(ctx context.Context, store registration.Store, rec *registration.Record) (*Match, error) {
	if !rec.HasEmbedding() || rec.NearDuplicateOf != nil {
		return nil, nil
	}
	all, err := store.All(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load records for linking")
	}

	ranked := d.Rank(rec.Embedding, earlierThan(all, rec), &rec.RegKey)
	if len(ranked) == 0 {
		return nil, nil
	}
	best := ranked[0]
	d.metrics.ObserveBestSimilarity(best.Similarity)
	if best.Similarity < d.linkThreshold {
		return nil, nil
	}

	parent := best.Record.RegKey
	sim := best.Similarity
	if _, err := store.Update(ctx, registration.ByRegKey(rec.RegKey), registration.Patch{
		NearDuplicateOf:         &parent,
		NearDuplicateSimilarity: &sim,
	}); err != nil {
		return nil, errors.Wrapf(err, "link %s to %s", rec.RegKey.Hex(), parent.Hex())
	}
	rec.NearDuplicateOf = &parent
	rec.NearDuplicateSimilarity = &sim
	d.metrics.IncNearDuplicateLink()

	d.logger.Infow("Near-duplicate linked",
		"reg_key", rec.RegKey.Hex(),
		"parent", parent.Hex(),
		"similarity", sim,
	)
	return &best, nil
}

// earlierThan keeps records registered no later than rec, so lineage always
// points backwards in time.
func earlierThan(all []*registration.Record, rec *registration.Record) []*registration.Record {
	if rec.CreatedAt.IsZero() {
		return all
	}
	out := make([]*registration.Record, 0, len(all))
	for _, r := range all {
		if !r.CreatedAt.After(rec.CreatedAt) {
			out = append(out, r)
		}
	}
	return out
}

// Verify compares a query vector against an anchor vector.
func (d *Detector) Verify(query, anchor []float32, threshold *float64) Verdict {
	t := d.VerifyThreshold(threshold)
	sim := Similarity(query, anchor)
	decision := DecisionDerivative
	if sim >= t {
		decision = DecisionAuthentic
	}
	return Verdict{Similarity: sim, Threshold: t, Decision: decision}
}

// BackfillReport summarizes a Backfill run.
type BackfillReport struct {
	Updated int               `json:"updated"`
	Skipped int               `json:"skipped"`
	Failed  map[string]string `json:"failed,omitempty"` // reg_key -> diagnostic
}

// Backfill computes embeddings for stored records. With skipExisting, records
// that already carry one are left alone. Lineage is not recomputed.
func (d *Detector) Backfill(ctx context.Context, store registration.Store, skipExisting bool) (BackfillReport, error) {
	report := BackfillReport{Failed: map[string]string{}}
	if d.embedder == nil {
		return report, errors.WithHint(errors.New("no embedding capability configured"),
			"set embeddings.capability to heuristic or model")
	}

	all, err := store.All(ctx)
	if err != nil {
		return report, errors.Wrap(err, "load records for backfill")
	}

	for _, rec := range all {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if skipExisting && rec.HasEmbedding() {
			report.Skipped++
			continue
		}
		out := d.EmbedLocator(ctx, rec.ContentLocator)
		if !out.OK() {
			report.Failed[rec.RegKey.Hex()] = out.Diagnostic()
			diag := out.Diagnostic()
			if _, err := store.Update(ctx, registration.ByRegKey(rec.RegKey), registration.Patch{EmbeddingError: &diag}); err != nil {
				return report, err
			}
			continue
		}
		empty := ""
		if _, err := store.Update(ctx, registration.ByRegKey(rec.RegKey), registration.Patch{
			Embedding:       out.Vector,
			EmbeddingDigest: &out.Digest,
			EmbeddingError:  &empty,
		}); err != nil {
			return report, err
		}
		report.Updated++
	}

	d.logger.Infow("Embedding backfill complete",
		"updated", report.Updated,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
	)
	return report, nil
}
