package trust

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/proofchain/content"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/ledger"
	"github.com/teranos/proofchain/logger"
	"github.com/teranos/proofchain/metrics"
	"github.com/teranos/proofchain/registration"
)

// maxConcurrentChecks bounds live ledger and locator checks per request.
const maxConcurrentChecks = 4

// Options selects the optional live checks.
type Options struct {
	// CheckLedger confirms each ledger transaction instead of trusting its presence
	CheckLedger bool
	// SkipResolve skips locator resolution; the resolvable signal is then false
	SkipResolve bool
	// SkipForgery drops the forgery penalty for this request
	SkipForgery bool
}

// RecordReport is the trust breakdown of one registration.
type RecordReport struct {
	RegKey        string    `json:"reg_key"`
	SignerID      string    `json:"signer_id"`
	ContentKey    string    `json:"content_key"`
	Signals       Signals   `json:"signals"`
	LedgerChecked bool      `json:"ledger_checked"`
	Forgery       Forgery   `json:"forgery"`
	Breakdown     Breakdown `json:"breakdown"`
	Pct           float64   `json:"pct"`
	Score5        float64   `json:"score_5"`
}

// Report aggregates every registration of one piece of content.
type Report struct {
	ContentKey      string         `json:"content_key,omitempty"`
	Locator         string         `json:"locator,omitempty"`
	DistinctSigners int            `json:"distinct_signers"`
	Records         []RecordReport `json:"registrants"`
	Average         *float64       `json:"average_pct"`
	Count           int            `json:"count"`
}

// Scorer computes trust reports. The ledger reader and resolver are optional.
type Scorer struct {
	store    registration.Store
	txs      ledger.TxStatusReader
	resolver content.Resolver
	forgery  ForgeryDetector
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

// NewScorer creates a scorer. A nil forgery detector means heuristic.
func NewScorer(store registration.Store, txs ledger.TxStatusReader, resolver content.Resolver, forgery ForgeryDetector, m *metrics.Metrics, log *zap.SugaredLogger) *Scorer {
	if forgery == nil {
		forgery = HeuristicForgery{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scorer{
		store:    store,
		txs:      txs,
		resolver: resolver,
		forgery:  forgery,
		metrics:  m,
		logger:   log.Named("trust"),
	}
}

// ForgeryMethod reports the configured forgery capability.
func (s *Scorer) ForgeryMethod() string { return s.forgery.Name() }

// ScoreContent scores every registration of content key k.
func (s *Scorer) ScoreContent(ctx context.Context, k keys.ContentKey, opts Options) (*Report, error) {
	records, err := s.store.FindByContentKey(ctx, k)
	if err != nil {
		return nil, errors.Wrapf(err, "load registrations for %s", k.Hex())
	}
	signers, err := s.store.DistinctSigners(ctx, k)
	if err != nil {
		return nil, errors.Wrapf(err, "count signers for %s", k.Hex())
	}
	report, err := s.score(ctx, records, signers, opts)
	if err != nil {
		return nil, err
	}
	report.ContentKey = k.Hex()
	return report, nil
}

// ScoreLocator scores every registration pointing at locator.
func (s *Scorer) ScoreLocator(ctx context.Context, locator string, opts Options) (*Report, error) {
	records, err := s.store.FindByLocator(ctx, locator)
	if err != nil {
		return nil, errors.Wrapf(err, "load registrations for %s", locator)
	}
	report, err := s.score(ctx, records, distinctSigners(records), opts)
	if err != nil {
		return nil, err
	}
	report.Locator = locator
	return report, nil
}

func (s *Scorer) score(ctx context.Context, records []*registration.Record, signers int, opts Options) (*Report, error) {
	report := &Report{
		DistinctSigners: signers,
		Records:         make([]RecordReport, len(records)),
	}
	if len(records) == 0 {
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report.Records[i] = s.scoreRecord(gctx, rec, Hint{DistinctSigners: signers}, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "trust checks")
	}

	pcts := make([]float64, 0, len(records))
	for _, r := range report.Records {
		pcts = append(pcts, r.Pct)
		s.metrics.ObserveTrustScore(r.Pct)
	}
	report.Average = Mean(pcts)
	report.Count = len(report.Records)

	s.logger.Debugw("Scored registrations",
		logger.FieldCount, report.Count,
		"distinct_signers", signers,
		logger.FieldCapability, s.forgery.Name())
	return report, nil
}

func (s *Scorer) scoreRecord(ctx context.Context, rec *registration.Record, hint Hint, opts Options) RecordReport {
	signals := Signals{
		SignatureVerified: rec.SignatureStatus == registration.SignatureVerified,
		KYCPresent:        rec.KYCPresent,
		NotRevoked:        !rec.Revoked(),
	}

	// A recorded transaction is a soft indicator unless confirmation is requested
	checked := false
	if rec.LedgerTx != nil && *rec.LedgerTx != "" {
		signals.OnLedger = true
		if opts.CheckLedger && s.txs != nil {
			checked = true
			ok, err := s.txs.TxConfirmed(ctx, *rec.LedgerTx)
			if err != nil {
				s.logger.Debugw("Ledger confirmation failed",
					logger.FieldRegKey, rec.RegKey.Hex(),
					logger.FieldTxID, *rec.LedgerTx,
					logger.FieldError, err)
			}
			signals.OnLedger = err == nil && ok
		}
	}

	if !opts.SkipResolve && s.resolver != nil && rec.ContentLocator != "" {
		ok, err := s.resolver.Resolvable(ctx, rec.ContentLocator)
		if err != nil {
			s.logger.Debugw("Locator check failed",
				logger.FieldRegKey, rec.RegKey.Hex(),
				logger.FieldLocator, rec.ContentLocator,
				logger.FieldError, err)
		}
		signals.Resolvable = err == nil && ok
	}

	forgery := Forgery{Method: MethodNone}
	if !opts.SkipForgery {
		forgery = s.forgery.Forgery(ctx, rec, hint)
	}

	pct, breakdown := Score(signals, forgery.Value())
	return RecordReport{
		RegKey:        rec.RegKey.Hex(),
		SignerID:      rec.SignerID,
		ContentKey:    rec.ContentKey.Hex(),
		Signals:       signals,
		LedgerChecked: checked,
		Forgery:       forgery,
		Breakdown:     breakdown,
		Pct:           pct,
		Score5:        FivePoint(pct),
	}
}

// distinctSigners counts signer ids case-insensitively, ignoring blanks.
func distinctSigners(records []*registration.Record) int {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if id := strings.ToLower(strings.TrimSpace(rec.SignerID)); id != "" {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}
