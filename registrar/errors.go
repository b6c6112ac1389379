package registrar

import (
	"context"

	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/ledger"
)

var (
	// ErrContentAlreadyRegistered indicates another signer owns the content on the ledger
	ErrContentAlreadyRegistered = errors.Mark(errors.New("content already registered"), errors.ErrConflict)

	// ErrNonceRequired indicates strict nonce policy and no caller transaction id
	ErrNonceRequired = errors.Mark(errors.New("registration nonce required"), errors.ErrInvalidRequest)

	// ErrNonceUnconfirmed indicates a caller nonce the ledger does not know as a confirmed transaction
	ErrNonceUnconfirmed = errors.Mark(errors.New("nonce transaction not confirmed"), ErrNonceRequired)

	// ErrDigestMismatch indicates a content-addressed locator that commits to other bytes
	ErrDigestMismatch = errors.Mark(errors.New("locator does not match digest"), errors.ErrInvalidRequest)

	// ErrLedgerRequired indicates the ledger is unreachable and policy forbids degrading
	ErrLedgerRequired = errors.Mark(errors.New("ledger required"), ledger.ErrUnavailable)

	// ErrSignatureRejected indicates the metadata signature failed under the enforce policy
	ErrSignatureRejected = errors.Mark(errors.New("metadata signature rejected"), errors.ErrForbidden)

	// ErrAnchorMismatch indicates the stored embedding disagrees with the ledger anchor
	ErrAnchorMismatch = errors.Mark(errors.New("embedding does not match ledger anchor"), errors.ErrConflict)
)

// ledgerDown reports errors that mean the ledger could not answer, as opposed
// to answers the ledger gave.
func ledgerDown(err error) bool {
	return errors.IsAny(err,
		ledger.ErrUnavailable,
		errors.ErrServiceUnavailable,
		errors.ErrTimeout,
		context.DeadlineExceeded,
	)
}
