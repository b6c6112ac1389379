package content

import (
	"context"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/internal/httpclient"
	"github.com/teranos/proofchain/internal/outbound"
	"github.com/teranos/proofchain/version"
)

// Fetcher returns the bytes behind a locator, or ErrNotAvailable.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Resolver reports whether a locator currently serves content.
type Resolver interface {
	Resolvable(ctx context.Context, locator string) (bool, error)
}

// Doer is the subset of an HTTP client the gateway needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Gateway fetches locators over HTTP under the outbound policy.
// It implements both Fetcher and Resolver.
type Gateway struct {
	client   Doer
	policy   *outbound.Policy
	gateway  string
	maxBytes int64
	resolved *gocache.Cache
	logger   *zap.SugaredLogger
}

// NewGateway builds a Gateway from configuration.
func NewGateway(cfg am.ContentConfig, policy *outbound.Policy, logger *zap.SugaredLogger) *Gateway {
	client := httpclient.NewSaferClient(httpclient.Options{
		Timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		AllowPrivate: cfg.AllowPrivate,
	})
	return NewGatewayWithClient(cfg, client, policy, logger)
}

// NewGatewayWithClient uses client instead of the guarded default.
func NewGatewayWithClient(cfg am.ContentConfig, client Doer, policy *outbound.Policy, logger *zap.SugaredLogger) *Gateway {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ttl := cfg.CacheTTL()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Gateway{
		client:   client,
		policy:   policy,
		gateway:  cfg.Gateway,
		maxBytes: cfg.MaxBytes,
		resolved: gocache.New(ttl, 2*ttl),
		logger:   logger.Named("content"),
	}
}

// Fetch downloads the locator. Bodies larger than the configured cap are rejected.
// A gateway answering 404 or 410 also marks the error ErrNotFound.
func (g *Gateway) Fetch(ctx context.Context, locator string) ([]byte, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	target := loc.FetchURL(g.gateway)

	body, err := outbound.Do(ctx, g.policy, "content.fetch", func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, outbound.Permanent(errors.Wrap(err, "build request"))
		}
		req.Header.Set("User-Agent", version.UserAgent())
		resp, err := g.client.Do(req)
		if err != nil {
			if errors.Is(err, httpclient.ErrBlocked) {
				return nil, outbound.Permanent(err)
			}
			return nil, err
		}
		defer resp.Body.Close()
		if err := outbound.CheckResponse(resp); err != nil {
			return nil, err
		}
		return g.readCapped(resp.Body)
	})
	if err != nil {
		g.logger.Debugw("Content fetch failed", "locator", locator, "error", err)
		wrapped := errors.WithSecondaryError(errors.Wrapf(ErrNotAvailable, "%s", locator), err)
		if code := outbound.StatusCode(err); code == http.StatusNotFound || code == http.StatusGone {
			wrapped = errors.Mark(wrapped, errors.ErrNotFound)
		}
		return nil, wrapped
	}
	return body, nil
}

func (g *Gateway) readCapped(r io.Reader) ([]byte, error) {
	if g.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, g.maxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if int64(len(body)) > g.maxBytes {
		return nil, outbound.Permanent(errors.Newf("content exceeds %d bytes", g.maxBytes))
	}
	return body, nil
}

// Resolvable tries HEAD, then a one-byte ranged GET. 2xx and 206 count as available.
// Results are cached for the configured TTL. A locator that cannot be parsed is
// simply not resolvable.
func (g *Gateway) Resolvable(ctx context.Context, locator string) (bool, error) {
	if locator == "" {
		return false, nil
	}
	if v, ok := g.resolved.Get(locator); ok {
		return v.(bool), nil
	}
	loc, err := ParseLocator(locator)
	if err != nil {
		return false, nil
	}
	target := loc.FetchURL(g.gateway)

	ok := g.probe(ctx, http.MethodHead, target, nil)
	if !ok {
		ok = g.probe(ctx, http.MethodGet, target, map[string]string{"Range": "bytes=0-0"})
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	g.resolved.SetDefault(locator, ok)
	return ok, nil
}

func (g *Gateway) probe(ctx context.Context, method, target string, headers map[string]string) bool {
	ok, err := outbound.Do(ctx, g.policy, "content.probe", func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return false, outbound.Permanent(err)
		}
		req.Header.Set("User-Agent", version.UserAgent())
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := g.client.Do(req)
		if err != nil {
			if errors.Is(err, httpclient.ErrBlocked) {
				return false, outbound.Permanent(err)
			}
			return false, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		if err := outbound.CheckResponse(resp); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		g.logger.Debugw("Locator probe failed", "method", method, "url", target, "error", err)
		return false
	}
	return ok
}
