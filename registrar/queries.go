package registrar

import (
	"context"
	"strings"

	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/ledger"
	"github.com/teranos/proofchain/logger"
	"github.com/teranos/proofchain/registration"
	"github.com/teranos/proofchain/trust"
)

// DeriveKeys computes K and R the way Register would for a caller nonce.
// Without a nonce a local fallback is generated, which is not reproducible.
func (r *Registrar) DeriveKeys(digestHex, nonce, signer string) (keys.Derivation, error) {
	if nonce != "" {
		return keys.Derive(digestHex, keys.CallerNonce(nonce), keys.NonceCaller)
	}
	if _, err := keys.ParseDigest(digestHex); err != nil {
		return keys.Derivation{}, err
	}
	local, err := keys.LocalFallbackNonce(signer, r.now(), r.entropy)
	if err != nil {
		return keys.Derivation{}, err
	}
	return keys.Derive(digestHex, local, keys.NonceLocal)
}

// Lookup identifies content by digest or, failing that, by locator.
type Lookup struct {
	DigestHex string
	Locator   string
}

func (l Lookup) contentKey() (keys.ContentKey, bool, error) {
	if strings.TrimSpace(l.DigestHex) == "" {
		if strings.TrimSpace(l.Locator) == "" {
			return keys.ContentKey{}, false, errors.NewInvalidRequestError("a digest or a locator is required")
		}
		return keys.ContentKey{}, false, nil
	}
	d, err := keys.ParseDigest(l.DigestHex)
	if err != nil {
		return keys.ContentKey{}, false, err
	}
	return keys.ContentKeyOf(d), true, nil
}

// Registrants lists every registration of the content, oldest first.
// The content key is empty when the lookup was by locator.
func (r *Registrar) Registrants(ctx context.Context, l Lookup) ([]*registration.Record, string, error) {
	k, byKey, err := l.contentKey()
	if err != nil {
		return nil, "", err
	}
	if byKey {
		records, err := r.store.FindByContentKey(ctx, k)
		return records, k.Hex(), err
	}
	records, err := r.store.FindByLocator(ctx, strings.TrimSpace(l.Locator))
	return records, "", err
}

// Trust scores every registration of the content.
func (r *Registrar) Trust(ctx context.Context, l Lookup, opts trust.Options) (*trust.Report, error) {
	k, byKey, err := l.contentKey()
	if err != nil {
		return nil, err
	}
	if byKey {
		return r.scorer.ScoreContent(ctx, k, opts)
	}
	return r.scorer.ScoreLocator(ctx, strings.TrimSpace(l.Locator), opts)
}

// Reconciliation is the ledger view of one registration.
type Reconciliation struct {
	Record          *registration.Record
	RegBoxPresent   bool
	RegBox          *ledger.RegBox
	Owner           string // submitter address from the RegBox
	MediaBoxPresent bool
	MediaLocator    string
	// CanonicalOwner is true when the MediaBox holds this record's locator
	CanonicalOwner bool
	// AnchorMatches compares the RegBox embedding anchor with the stored digest; nil when either is absent
	AnchorMatches *bool
}

// Reconcile reads the ledger boxes of R and brings the record's ledger status up to date.
func (r *Registrar) Reconcile(ctx context.Context, rk keys.RegistrationKey) (*Reconciliation, error) {
	rec, err := r.find(ctx, rk)
	if err != nil {
		return nil, err
	}
	if r.ledger == nil {
		return nil, errors.Wrap(ErrLedgerRequired, "no ledger configured")
	}

	out := &Reconciliation{Record: rec}
	value, ok, err := r.ledger.BoxGet(ctx, ledger.RegBoxName(rk))
	if err != nil {
		return nil, errors.Wrap(err, "read registration box")
	}
	if ok {
		box, err := ledger.DecodeRegBox(value)
		if err != nil {
			return nil, err
		}
		out.RegBoxPresent = true
		out.RegBox = &box
		out.Owner = box.SubmitterAddress()
		if box.Anchor != nil && rec.EmbeddingDigest != nil {
			match := strings.EqualFold(box.AnchorHex(), *rec.EmbeddingDigest)
			out.AnchorMatches = &match
		}
	}

	media, ok, err := r.ledger.BoxGet(ctx, ledger.MediaBoxName(rec.ContentKey))
	if err != nil {
		return nil, errors.Wrap(err, "read media box")
	}
	if ok {
		out.MediaBoxPresent = true
		out.MediaLocator = string(media)
		out.CanonicalOwner = rec.ContentLocator != "" && out.MediaLocator == rec.ContentLocator
	}

	if out.RegBoxPresent {
		switch rec.LedgerStatus {
		case registration.LedgerNone, registration.LedgerDeferred, registration.LedgerUnavailable:
			status := registration.LedgerAnchored
			if _, err := r.store.Update(ctx, registration.ByRegKey(rk), registration.Patch{LedgerStatus: &status}); err != nil {
				return nil, errors.Wrap(err, "update ledger status")
			}
			rec.LedgerStatus = status
			r.logger.Infow("Reconciled ledger status",
				logger.FieldRegKey, rk.Hex(),
				logger.FieldLedgerStatus, status)
		}
	}
	return out, nil
}

// Revoke marks a registration revoked. Revocation only affects trust scoring.
func (r *Registrar) Revoke(ctx context.Context, rk keys.RegistrationKey) (*registration.Record, error) {
	status := registration.StatusRevoked
	n, err := r.store.Update(ctx, registration.ByRegKey(rk), registration.Patch{Status: &status})
	if err != nil {
		return nil, errors.Wrap(err, "revoke")
	}
	if n == 0 {
		return nil, errors.NewNotFoundError("registration %s", rk.Hex())
	}
	r.logger.Infow("Registration revoked", logger.FieldRegKey, rk.Hex())
	return r.find(ctx, rk)
}

// BackfillEmbeddings embeds stored records that have no embedding yet, or all
// records when skipExisting is false.
func (r *Registrar) BackfillEmbeddings(ctx context.Context, skipExisting bool) (dedup.BackfillReport, error) {
	return r.detector.Backfill(ctx, r.store, skipExisting)
}

// Stats summarizes the store.
type Stats struct {
	Records       int                               `json:"records"`
	ContentKeys   int                               `json:"content_keys"`
	Signers       int                               `json:"signers"`
	WithEmbedding int                               `json:"with_embedding"`
	Linked        int                               `json:"linked"`
	Revoked       int                               `json:"revoked"`
	LedgerStatus  map[registration.LedgerStatus]int `json:"ledger_status"`
	NonceSource   map[keys.NonceSource]int          `json:"nonce_source"`
}

// Stats scans the store once.
func (r *Registrar) Stats(ctx context.Context) (*Stats, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load registrations")
	}
	s := &Stats{
		Records:      len(all),
		LedgerStatus: make(map[registration.LedgerStatus]int),
		NonceSource:  make(map[keys.NonceSource]int),
	}
	contents := make(map[keys.ContentKey]struct{})
	signers := make(map[string]struct{})
	for _, rec := range all {
		contents[rec.ContentKey] = struct{}{}
		signers[strings.ToLower(rec.SignerID)] = struct{}{}
		if rec.HasEmbedding() {
			s.WithEmbedding++
		}
		if rec.NearDuplicateOf != nil {
			s.Linked++
		}
		if rec.Revoked() {
			s.Revoked++
		}
		s.LedgerStatus[rec.LedgerStatus]++
		s.NonceSource[rec.NonceSource]++
	}
	s.ContentKeys = len(contents)
	s.Signers = len(signers)
	return s, nil
}

func (r *Registrar) find(ctx context.Context, rk keys.RegistrationKey) (*registration.Record, error) {
	rec, err := r.store.FindByRegistrationKey(ctx, rk)
	if err != nil {
		return nil, errors.Wrap(err, "load registration")
	}
	if rec == nil {
		return nil, errors.NewNotFoundError("registration %s", rk.Hex())
	}
	return rec, nil
}
