package graph

import (
	"go.uber.org/zap"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/registration"
)

// Ranker orders stored records by similarity to a query embedding.
// *dedup.Detector satisfies it.
type Ranker interface {
	Rank(query []float32, records []*registration.Record, exclude *keys.RegistrationKey) []dedup.Match
}

// Query identifies the asset a provenance graph is centred on.
// At least one of DigestHex or Locator should be set; Embedding is optional.
type Query struct {
	DigestHex string
	Locator   string
	Embedding []float32
}

// Options bounds and tunes a graph build.
type Options struct {
	TopK      int     // candidates kept after ranking, defaults to am.DefaultGraphTopK
	Threshold float64 // verify threshold separating query_match from query_neighbor
	// KeepHidden keeps links outside the curated set, flagged Hidden, instead of dropping them
	KeepHidden bool
}

// Builder assembles provenance graphs from a store snapshot.
type Builder struct {
	ranker Ranker
	logger *zap.SugaredLogger
}

// NewBuilder creates a graph builder. ranker may be nil, in which case only
// byte-identical registrations of the query are found.
func NewBuilder(ranker Ranker, logger *zap.SugaredLogger) *Builder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Builder{
		ranker: ranker,
		logger: logger.Named("graph.builder"),
	}
}

func (o Options) topK() int {
	if o.TopK <= 0 {
		return am.DefaultGraphTopK
	}
	return o.TopK
}
