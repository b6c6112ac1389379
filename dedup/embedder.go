// Package dedup links registrations to earlier near-duplicates using
// perceptual embeddings.
//
// Embeddings are L2-normalized so cosine similarity is a dot product. Search
// is a linear scan over every stored embedding, which is fine for a catalog
// of a few thousand assets; past that an approximate nearest-neighbor index
// should replace Rank.
package dedup

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/internal/outbound"
	"github.com/teranos/proofchain/version"
)

// Embedder turns asset bytes into a fixed-length normalized vector.
type Embedder interface {
	Embed(ctx context.Context, data []byte) ([]float32, error)
	Dimensions() int
	Name() string
}

// Capability selects how embeddings are produced. It is resolved once at startup.
type Capability int

const (
	CapabilityNone Capability = iota
	CapabilityHeuristic
	CapabilityModel
)

func (c Capability) String() string {
	switch c {
	case CapabilityHeuristic:
		return am.CapabilityHeuristic
	case CapabilityModel:
		return am.CapabilityModel
	default:
		return am.CapabilityNone
	}
}

// ParseCapability maps a configuration value to a Capability.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", am.CapabilityNone:
		return CapabilityNone, nil
	case am.CapabilityHeuristic:
		return CapabilityHeuristic, nil
	case am.CapabilityModel:
		return CapabilityModel, nil
	default:
		return CapabilityNone, errors.NewInvalidRequestError("unknown embedding capability %q", s)
	}
}

// NewEmbedder resolves the configured capability. CapabilityNone yields a nil Embedder.
func NewEmbedder(cfg am.EmbeddingsConfig, client *http.Client, policy *outbound.Policy, logger *zap.SugaredLogger) (Embedder, error) {
	capability, err := ParseCapability(cfg.Capability)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Named("dedup").Infow("Embedding capability resolved", "capability", capability.String())
	switch capability {
	case CapabilityHeuristic:
		return NewPixelEmbedder(), nil
	case CapabilityModel:
		return NewHTTPEmbedder(cfg.Endpoint, client, policy, logger), nil
	default:
		return nil, nil
	}
}

// HTTPEmbedder posts raw bytes to a model endpoint that answers {"embedding": [...]}.
type HTTPEmbedder struct {
	endpoint string
	client   *http.Client
	policy   *outbound.Policy
	logger   *zap.SugaredLogger
	dim      atomic.Int32
}

// NewHTTPEmbedder creates a client for endpoint.
func NewHTTPEmbedder(endpoint string, client *http.Client, policy *outbound.Policy, logger *zap.SugaredLogger) *HTTPEmbedder {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HTTPEmbedder{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		policy:   policy,
		logger:   logger.Named("dedup.model"),
	}
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, data []byte) ([]float32, error) {
	vec, err := outbound.Do(ctx, e.policy, "embeddings.model", func(ctx context.Context) ([]float32, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, outbound.Permanent(errors.Wrap(err, "build request"))
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, errors.Wrapf(err, "POST %s", e.endpoint)
		}
		defer resp.Body.Close()
		if err := outbound.CheckResponse(resp); err != nil {
			return nil, err
		}

		var out embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, outbound.Permanent(errors.Wrap(err, "decode embedding response"))
		}
		if len(out.Embedding) == 0 {
			return nil, outbound.Permanent(errors.Newf("no embedding returned from %s", e.endpoint))
		}
		return out.Embedding, nil
	})
	if err != nil {
		return nil, err
	}
	if !e.dim.CompareAndSwap(0, int32(len(vec))) && int(e.dim.Load()) != len(vec) {
		return nil, errors.Newf("model returned %d dimensions, expected %d", len(vec), e.dim.Load())
	}
	return Normalize(vec), nil
}

// Dimensions is 0 until the first successful call.
func (e *HTTPEmbedder) Dimensions() int { return int(e.dim.Load()) }

func (e *HTTPEmbedder) Name() string { return am.CapabilityModel }
