package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/content"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/internal/outbound"
	"github.com/teranos/proofchain/internal/util"
	"github.com/teranos/proofchain/registration"
	"github.com/teranos/proofchain/version"
)

// Forgery methods reported alongside a score
const (
	MethodNone      = am.CapabilityNone
	MethodHeuristic = am.CapabilityHeuristic
	MethodModel     = am.CapabilityModel
)

// Forgery is a forgery likelihood and how it was obtained. Score is nil when
// no signal applies.
type Forgery struct {
	Method string   `json:"method"`
	Score  *float64 `json:"score,omitempty"`
}

// Value returns the score, 0 when absent.
func (f Forgery) Value() float64 { return util.Deref(f.Score, 0) }

// Hint is group-level context the heuristic needs.
type Hint struct {
	DistinctSigners int
}

// ForgeryDetector estimates how likely a registered asset is forged.
type ForgeryDetector interface {
	Forgery(ctx context.Context, rec *registration.Record, hint Hint) Forgery
	Name() string
}

// NewForgeryDetector resolves the configured capability once at startup.
// An empty capability means heuristic.
func NewForgeryDetector(cfg am.ForgeryConfig, client *http.Client, fetcher content.Fetcher, policy *outbound.Policy, logger *zap.SugaredLogger) (ForgeryDetector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Capability)) {
	case am.CapabilityNone:
		return NoForgery{}, nil
	case "", am.CapabilityHeuristic:
		return HeuristicForgery{}, nil
	case am.CapabilityModel:
		if cfg.Endpoint == "" {
			return nil, errors.WithHint(
				errors.NewInvalidRequestError("forgery capability %q needs an endpoint", cfg.Capability),
				"set forgery.endpoint or choose the heuristic capability")
		}
		return NewModelForgery(cfg.Endpoint, client, fetcher, policy, logger), nil
	default:
		return nil, errors.NewInvalidRequestError("unknown forgery capability %q", cfg.Capability)
	}
}

// NoForgery disables the forgery signal.
type NoForgery struct{}

func (NoForgery) Forgery(context.Context, *registration.Record, Hint) Forgery {
	return Forgery{Method: MethodNone}
}

func (NoForgery) Name() string { return MethodNone }

// HeuristicForgery scores from registration metadata alone. Many distinct
// signers claiming identical bytes is the main signal; a stored perceptual
// hash adds a weak one.
type HeuristicForgery struct{}

// perceptualHashSignal is the weak signal for records carrying a perceptual hash.
const perceptualHashSignal = 0.1

// HeuristicScore blends the two signals 0.7/0.3 and clamps to [0, 1].
func HeuristicScore(distinctSigners int, perceptualHash *string) float64 {
	dup := util.Clamp(float64(distinctSigners-1)/4, 0, 1)
	var ph float64
	if perceptualHash != nil && len(*perceptualHash) > 8 {
		ph = perceptualHashSignal
	}
	return util.Clamp(dup*0.7+ph*0.3, 0, 1)
}

func (HeuristicForgery) Forgery(_ context.Context, rec *registration.Record, hint Hint) Forgery {
	score := HeuristicScore(hint.DistinctSigners, rec.PerceptualHash)
	return Forgery{Method: MethodHeuristic, Score: &score}
}

func (HeuristicForgery) Name() string { return MethodHeuristic }

// ModelForgery posts the asset's bytes to a detector answering {"score": x}.
// Any failure falls back to the heuristic.
type ModelForgery struct {
	endpoint string
	client   *http.Client
	fetcher  content.Fetcher
	policy   *outbound.Policy
	fallback HeuristicForgery
	logger   *zap.SugaredLogger
}

// NewModelForgery creates a model-backed detector.
func NewModelForgery(endpoint string, client *http.Client, fetcher content.Fetcher, policy *outbound.Policy, logger *zap.SugaredLogger) *ModelForgery {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ModelForgery{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		fetcher:  fetcher,
		policy:   policy,
		logger:   logger.Named("trust.forgery"),
	}
}

type forgeryResponse struct {
	Score *float64 `json:"score"`
}

func (m *ModelForgery) Forgery(ctx context.Context, rec *registration.Record, hint Hint) Forgery {
	score, err := m.predict(ctx, rec.ContentLocator)
	if err != nil {
		m.logger.Debugw("Forgery model unavailable, using heuristic",
			"reg_key", rec.RegKey.Hex(),
			"error", err)
		return m.fallback.Forgery(ctx, rec, hint)
	}
	return Forgery{Method: MethodModel, Score: &score}
}

func (m *ModelForgery) predict(ctx context.Context, locator string) (float64, error) {
	if m.fetcher == nil || locator == "" {
		return 0, errors.Mark(errors.New("no content to analyze"), content.ErrNotAvailable)
	}
	data, err := m.fetcher.Fetch(ctx, locator)
	if err != nil {
		return 0, err
	}

	return outbound.Do(ctx, m.policy, "forgery.model", func(ctx context.Context) (float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(data))
		if err != nil {
			return 0, outbound.Permanent(errors.Wrap(err, "build request"))
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := m.client.Do(req)
		if err != nil {
			return 0, errors.Wrapf(err, "POST %s", m.endpoint)
		}
		defer resp.Body.Close()
		if err := outbound.CheckResponse(resp); err != nil {
			return 0, err
		}

		var out forgeryResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return 0, outbound.Permanent(errors.Wrap(err, "decode forgery response"))
		}
		if out.Score == nil {
			return 0, outbound.Permanent(errors.Newf("no score returned from %s", m.endpoint))
		}
		return util.Clamp(*out.Score, 0, 1), nil
	})
}

func (m *ModelForgery) Name() string { return MethodModel }
