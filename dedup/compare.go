package dedup

import (
	"context"
	"math"

	"github.com/teranos/proofchain/content"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
)

// Label summarizes a comparison.
type Label string

const (
	LabelIdentical     Label = "identical"
	LabelNearDuplicate Label = "near_duplicate"
	LabelEdited        Label = "likely_edited"
	LabelDifferent     Label = "different"

	// LabelInconclusive means the bytes differ and neither perceptual signal was available
	LabelInconclusive Label = "inconclusive"
)

// Signal weights. Each comparison renormalizes over the signals it has.
const (
	weightPHash     = 0.30
	weightEmbedding = 0.45

	nearDuplicateScore = 0.85
	editedScore        = 0.65
)

// Fingerprint is what a comparison knows about one asset.
type Fingerprint struct {
	Digest keys.Digest
	// PHash is empty for content that does not decode as an image
	PHash string
	// Embedding is nil without an embedding capability
	Embedding []float32
}

// Comparison scores a suspect asset against a registered one.
type Comparison struct {
	Identical           bool     `json:"identical"`
	PHashDistance       *int     `json:"phash_distance,omitempty"`
	PHashMatch          bool     `json:"phash_match"`
	PHashScore          *float64 `json:"phash_score,omitempty"`
	EmbeddingSimilarity *float64 `json:"embedding_similarity,omitempty"`
	EmbeddingScore      *float64 `json:"embedding_score,omitempty"`
	Combined            float64  `json:"combined"`
	Label               Label    `json:"label"`
}

// Fingerprint hashes and embeds data. Missing signals are left empty.
func (d *Detector) Fingerprint(ctx context.Context, data []byte) Fingerprint {
	fp := Fingerprint{Digest: keys.DigestOf(data)}
	if ph, err := PerceptualHash(data); err == nil {
		fp.PHash = ph
	}
	if out := d.EmbedBytes(ctx, data); out.OK() {
		fp.Embedding = out.Vector
	}
	return fp
}

// Fetch returns the bytes behind locator through the detector's fetcher.
func (d *Detector) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if d.fetcher == nil {
		return nil, errors.Wrapf(content.ErrNotAvailable, "no fetcher for %s", locator)
	}
	return d.fetcher.Fetch(ctx, locator)
}

// Score compares two fingerprints. Equal digests are identical outright;
// otherwise the perceptual hash and embedding scores are combined.
func Score(registered, suspect Fingerprint) Comparison {
	if registered.Digest == suspect.Digest {
		return Comparison{Identical: true, PHashMatch: true, Combined: 1, Label: LabelIdentical}
	}

	var c Comparison
	var sum, weights float64
	if registered.PHash != "" && suspect.PHash != "" {
		if dist, err := PerceptualDistance(registered.PHash, suspect.PHash); err == nil {
			c.PHashDistance = &dist
			c.PHashMatch = dist <= PHashMatchDistance
			score := math.Max(0, 1-float64(dist)/phashBits)
			if c.PHashMatch {
				score = 1
			}
			c.PHashScore = &score
			sum += weightPHash * score
			weights += weightPHash
		}
	}
	if len(registered.Embedding) > 0 && len(registered.Embedding) == len(suspect.Embedding) {
		sim := Similarity(registered.Embedding, suspect.Embedding)
		score := math.Max(0, math.Min(1, (sim-0.5)/0.5))
		c.EmbeddingSimilarity = &sim
		c.EmbeddingScore = &score
		sum += weightEmbedding * score
		weights += weightEmbedding
	}

	if weights == 0 {
		c.Label = LabelInconclusive
		return c
	}
	c.Combined = sum / weights
	switch {
	case c.Combined >= nearDuplicateScore:
		c.Label = LabelNearDuplicate
	case c.Combined >= editedScore:
		c.Label = LabelEdited
	default:
		c.Label = LabelDifferent
	}
	return c
}
