// Package ledger is the append-only box registry registrations are anchored in.
//
// Two boxes matter: MediaBox(K) holds the content locator of the first
// registrant of K, and RegBox(R) holds the submitter and round of one
// registration. Boxes are create-if-absent; a second creation is a no-op.
package ledger

import (
	"context"
	"encoding/hex"

	"github.com/teranos/proofchain/errors"
)

var (
	// ErrUnavailable indicates the ledger could not be reached within policy
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrReadOnly indicates writes must be signed by the submitter's wallet
	ErrReadOnly = errors.New("ledger is read-only from this process")

	// ErrBoxSizeMismatch indicates a put whose value length differs from the box size
	ErrBoxSizeMismatch = errors.New("box size mismatch")

	// ErrTxStatusUnsupported indicates a registry that cannot report transaction status
	ErrTxStatusUnsupported = errors.New("ledger cannot report transaction status")
)

// Registry is the box contract the ledger program exposes.
type Registry interface {
	BoxExists(ctx context.Context, name []byte) (bool, error)
	// BoxCreateIfAbsent allocates a zero-filled box; false means it already existed.
	BoxCreateIfAbsent(ctx context.Context, name []byte, size int) (bool, error)
	BoxPut(ctx context.Context, name, value []byte) error
	// BoxGet returns the value and whether the box exists.
	BoxGet(ctx context.Context, name []byte) ([]byte, bool, error)
	CurrentRound(ctx context.Context) (uint64, error)
}

// TxStatusReader reports whether a transaction id is confirmed.
type TxStatusReader interface {
	TxConfirmed(ctx context.Context, txid string) (bool, error)
}

// AtomicCreator creates a box holding value in one step, returning the local transaction id.
// Registries that can do this avoid exposing a zero-filled box between create and put.
type AtomicCreator interface {
	BoxCreateWith(ctx context.Context, name, value []byte) (created bool, txid string, err error)
}

// AnchorResult reports what Anchor changed.
type AnchorResult struct {
	MediaCreated bool
	RegCreated   bool
	TxID         string // set by registries that commit locally
}

// Anchor writes MediaBox(K)=locator and RegBox(R)=regBox, each only if absent.
// Repeating an anchor for the same keys changes nothing.
func Anchor(ctx context.Context, reg Registry, mediaName, locator, regName, regBox []byte) (AnchorResult, error) {
	var res AnchorResult

	created, _, err := createIfAbsent(ctx, reg, mediaName, locator)
	if err != nil {
		return res, errors.Wrapf(err, "anchor media box %s", short(mediaName))
	}
	res.MediaCreated = created

	created, txid, err := createIfAbsent(ctx, reg, regName, regBox)
	if err != nil {
		return res, errors.Wrapf(err, "anchor registration box %s", short(regName))
	}
	res.RegCreated = created
	res.TxID = txid
	return res, nil
}

func createIfAbsent(ctx context.Context, reg Registry, name, value []byte) (bool, string, error) {
	exists, err := reg.BoxExists(ctx, name)
	if err != nil {
		return false, "", err
	}
	if exists {
		return false, "", nil
	}

	if ac, ok := reg.(AtomicCreator); ok {
		return ac.BoxCreateWith(ctx, name, value)
	}

	created, err := reg.BoxCreateIfAbsent(ctx, name, len(value))
	if err != nil || !created {
		return false, "", err
	}
	if err := reg.BoxPut(ctx, name, value); err != nil {
		return true, "", err
	}
	return true, "", nil
}

func short(name []byte) string {
	h := hex.EncodeToString(name)
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
