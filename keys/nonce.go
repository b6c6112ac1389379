package keys

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/teranos/proofchain/errors"
)

// NonceSource records where a registration nonce came from.
type NonceSource string

const (
	// NonceCaller is a caller-supplied id, normally a broadcast ledger transaction id
	NonceCaller NonceSource = "caller"
	// NonceLedger is submitter ‖ big_endian(round), as the ledger program computes it
	NonceLedger NonceSource = "ledger"
	// NonceLocal is a process-local best-effort fallback
	NonceLocal NonceSource = "local"
)

// RoundSize is the width of the big-endian round suffix.
const RoundSize = 8

// CallerNonce returns the UTF-8 bytes of a caller-supplied id.
func CallerNonce(txid string) []byte {
	return []byte(txid)
}

// LedgerFallbackNonce returns submitter ‖ big_endian(round, 8).
func LedgerFallbackNonce(submitter [Size]byte, round uint64) []byte {
	out := make([]byte, Size+RoundSize)
	copy(out, submitter[:])
	binary.BigEndian.PutUint64(out[Size:], round)
	return out
}

// LocalFallbackNonce returns "signer:<unix-nanos>:<8 hex chars>" read from entropy.
// It is not reproducible by other parties.
func LocalFallbackNonce(signer string, now time.Time, entropy io.Reader) ([]byte, error) {
	if entropy == nil {
		entropy = rand.Reader
	}
	var buf [4]byte
	if _, err := io.ReadFull(entropy, buf[:]); err != nil {
		return nil, errors.Wrap(err, "read nonce entropy")
	}
	return []byte(fmt.Sprintf("%s:%d:%s", signer, now.UnixNano(), hex.EncodeToString(buf[:]))), nil
}

// Derivation is the full key set for one registration attempt.
type Derivation struct {
	Digest     Digest
	ContentKey ContentKey
	RegKey     RegistrationKey
	Nonce      []byte
	Source     NonceSource
}

// Derive computes K and R for a digest and an already-resolved nonce.
func Derive(digestHex string, nonce []byte, source NonceSource) (Derivation, error) {
	d, err := ParseDigest(digestHex)
	if err != nil {
		return Derivation{}, err
	}
	k := ContentKeyOf(d)
	return Derivation{
		Digest:     d,
		ContentKey: k,
		RegKey:     RegistrationKeyOf(k, nonce),
		Nonce:      append([]byte(nil), nonce...),
		Source:     source,
	}, nil
}
