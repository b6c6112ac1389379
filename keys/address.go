package keys

import (
	"bytes"
	"crypto/sha512"
	"encoding/base32"
	"strings"

	"github.com/teranos/proofchain/errors"
)

const checksumSize = 4

var addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrInvalidAddress is returned for a submitter address that does not decode.
var ErrInvalidAddress = errors.New("invalid submitter address")

// DecodeAddress decodes a base32 ledger address into its 32-byte public key.
// The trailing 4 bytes must equal the last 4 bytes of SHA-512/256 of the key.
func DecodeAddress(addr string) ([Size]byte, error) {
	var pk [Size]byte
	raw, err := addressEncoding.DecodeString(strings.TrimSpace(addr))
	if err != nil {
		return pk, invalid(errors.Wrapf(ErrInvalidAddress, "%q: not base32", truncate(addr, 80)))
	}
	if len(raw) != Size+checksumSize {
		return pk, invalid(errors.Wrapf(ErrInvalidAddress, "%q: want %d bytes, got %d", truncate(addr, 80), Size+checksumSize, len(raw)))
	}
	copy(pk[:], raw[:Size])
	if !bytes.Equal(raw[Size:], addressChecksum(pk)) {
		return pk, invalid(errors.Wrapf(ErrInvalidAddress, "%q: checksum mismatch", truncate(addr, 80)))
	}
	return pk, nil
}

// EncodeAddress is the inverse of DecodeAddress.
func EncodeAddress(pk [Size]byte) string {
	raw := make([]byte, 0, Size+checksumSize)
	raw = append(raw, pk[:]...)
	raw = append(raw, addressChecksum(pk)...)
	return addressEncoding.EncodeToString(raw)
}

func addressChecksum(pk [Size]byte) []byte {
	sum := sha512.Sum512_256(pk[:])
	return sum[len(sum)-checksumSize:]
}
