package ledger

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/internal/outbound"
)

// Resilient applies the outbound policy to every call of an underlying Registry.
// Failures that survive the policy are reported as ErrUnavailable.
// Confirmed transactions are cached; confirmation cannot be revoked.
type Resilient struct {
	inner     Registry
	policy    *outbound.Policy
	confirmed *gocache.Cache
}

// NewResilient wraps inner.
func NewResilient(inner Registry, policy *outbound.Policy) *Resilient {
	return &Resilient{
		inner:     inner,
		policy:    policy,
		confirmed: gocache.New(time.Hour, 10*time.Minute),
	}
}

func (r *Resilient) BoxExists(ctx context.Context, name []byte) (bool, error) {
	return call(ctx, r, "ledger.box_exists", func(ctx context.Context) (bool, error) {
		return r.inner.BoxExists(ctx, name)
	})
}

func (r *Resilient) BoxCreateIfAbsent(ctx context.Context, name []byte, size int) (bool, error) {
	return call(ctx, r, "ledger.box_create", func(ctx context.Context) (bool, error) {
		return r.inner.BoxCreateIfAbsent(ctx, name, size)
	})
}

func (r *Resilient) BoxPut(ctx context.Context, name, value []byte) error {
	_, err := call(ctx, r, "ledger.box_put", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.BoxPut(ctx, name, value)
	})
	return err
}

func (r *Resilient) BoxGet(ctx context.Context, name []byte) ([]byte, bool, error) {
	type got struct {
		value []byte
		ok    bool
	}
	res, err := call(ctx, r, "ledger.box_get", func(ctx context.Context) (got, error) {
		v, ok, err := r.inner.BoxGet(ctx, name)
		return got{v, ok}, err
	})
	return res.value, res.ok, err
}

func (r *Resilient) CurrentRound(ctx context.Context) (uint64, error) {
	return call(ctx, r, "ledger.current_round", func(ctx context.Context) (uint64, error) {
		return r.inner.CurrentRound(ctx)
	})
}

// BoxCreateWith is forwarded only when the wrapped registry supports it.
func (r *Resilient) BoxCreateWith(ctx context.Context, name, value []byte) (bool, string, error) {
	type created struct {
		ok   bool
		txid string
	}
	res, err := call(ctx, r, "ledger.box_create", func(ctx context.Context) (created, error) {
		if ac, ok := r.inner.(AtomicCreator); ok {
			ok, txid, err := ac.BoxCreateWith(ctx, name, value)
			return created{ok, txid}, err
		}
		ok, err := r.inner.BoxCreateIfAbsent(ctx, name, len(value))
		if err != nil || !ok {
			return created{}, err
		}
		return created{ok: true}, r.inner.BoxPut(ctx, name, value)
	})
	return res.ok, res.txid, err
}

func (r *Resilient) TxConfirmed(ctx context.Context, txid string) (bool, error) {
	if _, ok := r.confirmed.Get(txid); ok {
		return true, nil
	}
	reader, ok := r.inner.(TxStatusReader)
	if !ok {
		return false, ErrTxStatusUnsupported
	}
	confirmed, err := call(ctx, r, "ledger.tx_status", func(ctx context.Context) (bool, error) {
		return reader.TxConfirmed(ctx, txid)
	})
	if err == nil && confirmed {
		r.confirmed.SetDefault(txid, true)
	}
	return confirmed, err
}

func call[T any](ctx context.Context, r *Resilient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	res, err := outbound.Do(ctx, r.policy, op, func(ctx context.Context) (T, error) {
		res, err := fn(ctx)
		if err != nil && isContract(err) {
			return res, outbound.Permanent(err)
		}
		return res, err
	})
	if err == nil || isContract(err) {
		return res, err
	}
	return res, Unavailable(op, err)
}

// isContract reports errors that describe the ledger's answer, not its reachability.
func isContract(err error) bool {
	return errors.IsAny(err, ErrReadOnly, ErrBoxSizeMismatch, ErrMalformedBox, errors.ErrNotFound)
}

// Unavailable wraps cause as ErrUnavailable, also matching errors.ErrServiceUnavailable.
func Unavailable(op string, cause error) error {
	return errors.Mark(
		errors.WithSecondaryError(errors.Wrap(ErrUnavailable, op), cause),
		errors.ErrServiceUnavailable,
	)
}
