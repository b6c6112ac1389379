// Package registrar orchestrates registration of media assets: key derivation,
// policy checks, off-chain persistence, near-duplicate linking and ledger
// anchoring, plus the read paths built on them.
package registrar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/content"
	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/graph"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/ledger"
	"github.com/teranos/proofchain/logger"
	"github.com/teranos/proofchain/metrics"
	"github.com/teranos/proofchain/registration"
	"github.com/teranos/proofchain/trust"
)

// Policy is the registration policy resolved from configuration.
type Policy struct {
	// StrictNonce requires a confirmed caller transaction id as nonce and a reachable ledger
	StrictNonce bool
	// RequireLedger rejects registrations while the ledger is unreachable
	RequireLedger bool
	// EnforceSignature rejects registrations without a verified metadata signature
	EnforceSignature bool
	// AllowDuplicateDefault applies when a request leaves AllowDuplicate unset
	AllowDuplicateDefault bool
	// GraphTopK bounds classification graphs
	GraphTopK int
}

// PolicyFromConfig extracts the registration policy.
func PolicyFromConfig(cfg *am.Config) Policy {
	return Policy{
		StrictNonce:           cfg.Ledger.StrictNonce,
		RequireLedger:         cfg.Ledger.RequireLedger,
		EnforceSignature:      cfg.Registration.EnforceSignature,
		AllowDuplicateDefault: cfg.Registration.AllowDuplicateDefault,
		GraphTopK:             cfg.GetGraphTopK(),
	}
}

// Deps are the collaborators a Registrar composes. Ledger, KYC, Verifier and
// Scorer may be nil; Store and Detector are required.
type Deps struct {
	Store    registration.Store
	Ledger   ledger.Registry
	KYC      registration.KYCDirectory
	Detector *dedup.Detector
	Verifier SignatureVerifier
	Scorer   *trust.Scorer
	Metrics  *metrics.Metrics
	Logger   *zap.SugaredLogger
}

// Registrar is the entry point for every registration operation.
type Registrar struct {
	store    registration.Store
	ledger   ledger.Registry
	kyc      registration.KYCDirectory
	detector *dedup.Detector
	verifier SignatureVerifier
	scorer   *trust.Scorer
	graphs   *graph.Builder
	policy   Policy
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger

	now     func() time.Time
	entropy io.Reader
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithClock overrides the time source used for local nonces.
func WithClock(now func() time.Time) Option {
	return func(r *Registrar) { r.now = now }
}

// WithEntropy overrides the randomness used for local nonces.
func WithEntropy(rd io.Reader) Option {
	return func(r *Registrar) { r.entropy = rd }
}

// New creates a Registrar.
func New(deps Deps, policy Policy, opts ...Option) *Registrar {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	scorer := deps.Scorer
	if scorer == nil {
		var txs ledger.TxStatusReader
		if reader, ok := deps.Ledger.(ledger.TxStatusReader); ok {
			txs = reader
		}
		scorer = trust.NewScorer(deps.Store, txs, nil, nil, deps.Metrics, log)
	}
	var ranker graph.Ranker
	if deps.Detector != nil {
		ranker = deps.Detector
	}
	r := &Registrar{
		store:    deps.Store,
		ledger:   deps.Ledger,
		kyc:      deps.KYC,
		detector: deps.Detector,
		verifier: deps.Verifier,
		scorer:   scorer,
		graphs:   graph.NewBuilder(ranker, log),
		policy:   policy,
		metrics:  deps.Metrics,
		logger:   log.Named("registrar"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request is a registration request. DigestHex and SignerID are required.
type Request struct {
	DigestHex      string
	SignerID       string
	Nonce          string // caller transaction id, preferred nonce source
	ContentLocator string
	FileName       string
	PerceptualHash string
	Signature      string // base64 metadata signature over "MX" ‖ DigestHex
	AllowDuplicate *bool
	// Content, when present, is embedded directly instead of fetching ContentLocator
	Content []byte
}

// Result reports what a registration did.
type Result struct {
	Record        *registration.Record
	Created       bool
	Derivation    keys.Derivation
	NearDuplicate *dedup.Match
	Anchor        *ledger.AnchorResult
	// Owner is the earliest known registrant of the content on the ledger, if any
	Owner string
}

// Register runs the registration pipeline. Retrying an identical (digest, nonce)
// returns the stored record and creates no ledger boxes.
func (r *Registrar) Register(ctx context.Context, req Request) (*Result, error) {
	digest, err := keys.ParseDigest(req.DigestHex)
	if err != nil {
		r.metrics.IncRegistration("rejected")
		return nil, err
	}
	signer := strings.TrimSpace(req.SignerID)
	if signer == "" {
		r.metrics.IncRegistration("rejected")
		return nil, errors.NewInvalidRequestError("signer id is required")
	}
	if err := checkLocator(digest, req.ContentLocator); err != nil {
		r.metrics.IncRegistration("rejected")
		return nil, err
	}
	k := keys.ContentKeyOf(digest)
	log := r.logger.With(logger.FieldContentKey, k.Hex(), logger.FieldSigner, signer)

	sigStatus, err := r.checkSignature(signer, req)
	if err != nil {
		r.metrics.IncRegistration("rejected")
		return nil, err
	}

	// A caller nonce fixes R up front; an existing record means this is a retry
	var retry *registration.Record
	if req.Nonce != "" {
		rk := keys.RegistrationKeyOf(k, keys.CallerNonce(req.Nonce))
		if retry, err = r.store.FindByRegistrationKey(ctx, rk); err != nil {
			return nil, errors.Wrap(err, "look up prior attempt")
		}
	}

	ledgerUp := r.ledger != nil
	owner := ""
	if r.ledger != nil && retry == nil {
		owner, err = r.checkOwnership(ctx, k, signer, r.allowDuplicate(req))
		switch {
		case err == nil:
		case ledgerDown(err):
			if r.policy.StrictNonce || r.policy.RequireLedger {
				r.metrics.IncRegistration("rejected")
				return nil, errors.WithSecondaryError(errors.Wrap(ErrLedgerRequired, "ownership check"), err)
			}
			log.Warnw("Ledger unreachable, ownership check skipped", logger.FieldError, err)
			ledgerUp = false
		default:
			r.metrics.IncRegistration("rejected")
			return nil, err
		}
	}

	der, round, err := r.resolveNonce(ctx, digest, signer, req.Nonce, &ledgerUp)
	if err != nil {
		r.metrics.IncRegistration("rejected")
		return nil, err
	}
	log = log.With(logger.FieldRegKey, der.RegKey.Hex(), logger.FieldNonceSrc, der.Source)

	if der.Source == keys.NonceCaller && retry == nil && ledgerUp {
		if err := r.checkNonceTx(ctx, req.Nonce, &ledgerUp, log); err != nil {
			r.metrics.IncRegistration("rejected")
			return nil, err
		}
	}

	rec := &registration.Record{
		RegKey:          der.RegKey,
		ContentKey:      der.ContentKey,
		SignerID:        signer,
		DigestHex:       digest.Hex(),
		ContentLocator:  strings.TrimSpace(req.ContentLocator),
		FileName:        req.FileName,
		Status:          registration.StatusVerified,
		SignatureStatus: sigStatus,
		NonceSource:     der.Source,
		LedgerStatus:    registration.LedgerNone,
	}
	if req.PerceptualHash != "" {
		ph := req.PerceptualHash
		rec.PerceptualHash = &ph
	} else if len(req.Content) > 0 {
		if ph, err := dedup.PerceptualHash(req.Content); err == nil {
			rec.PerceptualHash = &ph
		}
	}
	if der.Source == keys.NonceCaller {
		tx := req.Nonce
		rec.LedgerTx = &tx
	}
	rec.KYCPresent = r.hasKYC(ctx, signer)

	if retry == nil {
		r.embed(ctx, rec, req.Content, log)
	}

	stored, created, err := r.store.Register(ctx, rec)
	if err != nil {
		return nil, errors.Wrap(err, "persist registration")
	}
	res := &Result{Record: stored, Created: created, Derivation: der, Owner: owner}
	if created {
		r.metrics.IncRegistration("created")
	} else {
		r.metrics.IncRegistration("retried")
		log.Infow("Registration retried", "attempts", stored.Attempts)
	}

	if created && stored.HasEmbedding() {
		match, err := r.detector.LinkNew(ctx, r.store, stored)
		if err != nil {
			log.Warnw("Near-duplicate linking failed", logger.FieldError, err)
		}
		res.NearDuplicate = match
	}

	status := registration.LedgerUnavailable
	if ledgerUp {
		anchor, st, err := r.anchor(ctx, stored, round, log)
		if err != nil {
			return nil, err
		}
		res.Anchor, status = anchor, st
		// A retry finds its own boxes; keep the first attempt's outcome
		if !created && st == registration.LedgerAlreadyAnchored && stored.LedgerStatus == registration.LedgerAnchored {
			status = registration.LedgerAnchored
		}
	} else if r.ledger == nil {
		status = registration.LedgerDeferred
	}
	r.metrics.IncLedgerAnchor(string(status))

	patch := registration.Patch{LedgerStatus: &status}
	if res.Anchor != nil && res.Anchor.TxID != "" && stored.LedgerTx == nil {
		patch.LedgerTx = &res.Anchor.TxID
	}
	if _, err := r.store.Update(ctx, registration.ByRegKey(stored.RegKey), patch); err != nil {
		return nil, errors.Wrap(err, "record ledger status")
	}

	final, err := r.store.FindByRegistrationKey(ctx, stored.RegKey)
	if err != nil {
		return nil, errors.Wrap(err, "reload registration")
	}
	res.Record = final

	log.Infow("Registration complete",
		"created", created,
		logger.FieldLedgerStatus, status)
	return res, nil
}

// checkLocator rejects a content-addressed locator that commits to bytes other
// than digest. Locators that make no such claim, or do not parse, pass.
func checkLocator(digest keys.Digest, locator string) error {
	loc, err := content.ParseLocator(locator)
	if err != nil {
		return nil
	}
	if match, known := loc.DigestMatches(digest); known && !match {
		return errors.WithDetailf(errors.Wrapf(ErrDigestMismatch, "locator %s", loc.CID),
			"digest: %s", digest.Hex())
	}
	return nil
}

func (r *Registrar) allowDuplicate(req Request) bool {
	if req.AllowDuplicate != nil {
		return *req.AllowDuplicate
	}
	return r.policy.AllowDuplicateDefault
}

// checkSignature maps the verifier outcome to a status, rejecting under the enforce policy.
func (r *Registrar) checkSignature(signer string, req Request) (registration.SignatureStatus, error) {
	enforce := r.policy.EnforceSignature
	if strings.TrimSpace(req.Signature) == "" {
		if enforce {
			return "", errors.WithHint(errors.Wrap(ErrSignatureRejected, "signature missing"),
				"sign \"MX\" followed by the digest hex with the signer's key")
		}
		return registration.SignatureSkipped, nil
	}
	if r.verifier == nil {
		if enforce {
			return "", errors.Wrap(ErrSignatureRejected, "no signature verifier configured")
		}
		return registration.SignatureSkippedNoVerifier, nil
	}

	ok, err := r.verifier.Verify(signer, strings.TrimSpace(req.DigestHex), req.Signature)
	switch {
	case err != nil:
		if enforce {
			return "", errors.WithSecondaryError(errors.Wrap(ErrSignatureRejected, "signature could not be checked"), err)
		}
		r.logger.Debugw("Signature check error", logger.FieldSigner, signer, logger.FieldError, err)
		return registration.SignatureVerificationFailed, nil
	case !ok:
		if enforce {
			return "", errors.Wrap(ErrSignatureRejected, "signature does not match signer")
		}
		return registration.SignatureFailed, nil
	default:
		return registration.SignatureVerified, nil
	}
}

// checkOwnership rejects content whose MediaBox belongs to another signer.
// The owner is the earliest off-chain record whose locator equals the box value.
func (r *Registrar) checkOwnership(ctx context.Context, k keys.ContentKey, signer string, allowDup bool) (string, error) {
	value, exists, err := r.ledger.BoxGet(ctx, ledger.MediaBoxName(k))
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}

	owner, err := r.mediaOwner(ctx, k, string(value))
	if err != nil {
		return "", err
	}
	if strings.EqualFold(owner, signer) || allowDup {
		return owner, nil
	}

	err = errors.Wrapf(ErrContentAlreadyRegistered, "content %s", k.Hex())
	if owner != "" {
		err = errors.WithDetailf(err, "owner: %s", owner)
	}
	return owner, errors.WithHint(err, "set allow_duplicate to register a second claim")
}

func (r *Registrar) mediaOwner(ctx context.Context, k keys.ContentKey, locator string) (string, error) {
	records, err := r.store.FindByContentKey(ctx, k)
	if err != nil {
		return "", errors.Wrap(err, "load registrants")
	}
	for _, rec := range records {
		if rec.ContentLocator == locator {
			return rec.SignerID, nil
		}
	}
	return "", nil
}

// resolveNonce picks the nonce by priority: caller id, then submitter ‖ round
// from the ledger, then a local fallback. ledgerUp is cleared when the ledger
// cannot supply a round. The returned round is 0 unless read from the ledger.
func (r *Registrar) resolveNonce(ctx context.Context, d keys.Digest, signer, callerNonce string, ledgerUp *bool) (keys.Derivation, uint64, error) {
	if callerNonce != "" {
		der, err := keys.Derive(d.Hex(), keys.CallerNonce(callerNonce), keys.NonceCaller)
		return der, 0, err
	}
	if r.policy.StrictNonce {
		return keys.Derivation{}, 0, errors.WithHint(ErrNonceRequired,
			"pass the broadcast transaction id as the nonce")
	}
	if r.ledger == nil && r.policy.RequireLedger {
		return keys.Derivation{}, 0, errors.Wrap(ErrLedgerRequired, "no ledger configured")
	}

	if *ledgerUp {
		round, err := r.ledger.CurrentRound(ctx)
		switch {
		case err == nil:
			der, err := keys.Derive(d.Hex(), keys.LedgerFallbackNonce(submitterOf(signer), round), keys.NonceLedger)
			return der, round, err
		case !ledgerDown(err):
			return keys.Derivation{}, 0, errors.Wrap(err, "read ledger round")
		case r.policy.RequireLedger:
			return keys.Derivation{}, 0, errors.WithSecondaryError(errors.Wrap(ErrLedgerRequired, "read round"), err)
		}
		r.logger.Warnw("Ledger unreachable, using local nonce", logger.FieldSigner, signer, logger.FieldError, err)
		*ledgerUp = false
	}

	nonce, err := keys.LocalFallbackNonce(signer, r.now(), r.entropy)
	if err != nil {
		return keys.Derivation{}, 0, err
	}
	der, err := keys.Derive(d.Hex(), nonce, keys.NonceLocal)
	return der, 0, err
}

// checkNonceTx looks the caller nonce up as a ledger transaction. Under the
// strict policy an unknown or pending transaction rejects the registration;
// otherwise it is logged. Registries without transaction status are trusted.
func (r *Registrar) checkNonceTx(ctx context.Context, txid string, ledgerUp *bool, log *zap.SugaredLogger) error {
	reader, ok := r.ledger.(ledger.TxStatusReader)
	if !ok {
		return nil
	}
	confirmed, err := reader.TxConfirmed(ctx, txid)
	switch {
	case errors.Is(err, ledger.ErrTxStatusUnsupported):
		return nil
	case err != nil && ledgerDown(err):
		if r.policy.StrictNonce || r.policy.RequireLedger {
			return errors.WithSecondaryError(errors.Wrap(ErrLedgerRequired, "nonce transaction check"), err)
		}
		log.Warnw("Ledger unreachable, nonce transaction unchecked", logger.FieldError, err)
		*ledgerUp = false
		return nil
	case err != nil && !errors.IsNotFoundError(err):
		return errors.Wrap(err, "check nonce transaction")
	case confirmed:
		return nil
	case r.policy.StrictNonce:
		return errors.WithHint(errors.Wrapf(ErrNonceUnconfirmed, "transaction %s", txid),
			"wait for the transaction to confirm before registering")
	}
	log.Warnw("Nonce transaction not confirmed", logger.FieldTxID, txid)
	return nil
}

func (r *Registrar) hasKYC(ctx context.Context, signer string) bool {
	if r.kyc == nil {
		return false
	}
	ok, err := r.kyc.HasKYC(ctx, signer)
	if err != nil {
		r.logger.Warnw("KYC lookup failed", logger.FieldSigner, signer, logger.FieldError, err)
		return false
	}
	return ok
}

// embed attaches an embedding or a diagnostic. Failure never blocks registration.
func (r *Registrar) embed(ctx context.Context, rec *registration.Record, data []byte, log *zap.SugaredLogger) {
	var out dedup.EmbedOutcome
	if len(data) > 0 {
		out = r.detector.EmbedBytes(ctx, data)
	} else {
		out = r.detector.EmbedLocator(ctx, rec.ContentLocator)
	}
	if out.OK() {
		digest := out.Digest
		rec.Embedding = out.Vector
		rec.EmbeddingDigest = &digest
		return
	}
	if out.Skipped == dedup.SkipNoCapability {
		return
	}
	diag := out.Diagnostic()
	rec.EmbeddingError = &diag
	log.Infow("Registering without embedding", "reason", diag)
}

// anchor writes MediaBox and RegBox for rec. Write refusals and outages are
// reported as ledger statuses, not errors.
func (r *Registrar) anchor(ctx context.Context, rec *registration.Record, round uint64, log *zap.SugaredLogger) (*ledger.AnchorResult, registration.LedgerStatus, error) {
	if round == 0 {
		var err error
		if round, err = r.ledger.CurrentRound(ctx); err != nil {
			if ledgerDown(err) {
				log.Warnw("Ledger unreachable, anchoring later", logger.FieldError, err)
				return nil, registration.LedgerUnavailable, nil
			}
			return nil, "", errors.Wrap(err, "read ledger round")
		}
	}

	var embAnchor *[ledger.AnchorSize]byte
	if rec.EmbeddingDigest != nil {
		if raw, err := hex.DecodeString(*rec.EmbeddingDigest); err == nil && len(raw) == ledger.AnchorSize {
			embAnchor = new([ledger.AnchorSize]byte)
			copy(embAnchor[:], raw)
		}
	}
	regBox := ledger.EncodeRegBox(embAnchor, submitterOf(rec.SignerID), round)

	res, err := ledger.Anchor(ctx, r.ledger,
		ledger.MediaBoxName(rec.ContentKey), []byte(rec.ContentLocator),
		ledger.RegBoxName(rec.RegKey), regBox)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrReadOnly):
		log.Infow("Ledger is read-only, client must submit box writes")
		return nil, registration.LedgerDeferred, nil
	case ledgerDown(err):
		log.Warnw("Ledger unreachable, anchoring later", logger.FieldError, err)
		return nil, registration.LedgerUnavailable, nil
	default:
		return nil, "", errors.Wrap(err, "anchor registration")
	}

	status := registration.LedgerAlreadyAnchored
	if res.RegCreated {
		status = registration.LedgerAnchored
	}
	log.Debugw("Anchored",
		"media_created", res.MediaCreated,
		"reg_created", res.RegCreated,
		logger.FieldTxID, res.TxID,
		logger.FieldRound, round)
	return &res, status, nil
}

// submitterOf is the signer's public key when the id is a ledger address,
// otherwise a stable hash of the id.
func submitterOf(signer string) [keys.Size]byte {
	if pk, err := keys.DecodeAddress(signer); err == nil {
		return pk
	}
	return sha256.Sum256([]byte(strings.ToLower(signer)))
}
