// Package keys derives the identities a registration is addressed by.
//
// A content key depends only on the asset bytes; a registration key binds a
// content key to one registration attempt through a nonce. Both are pure
// functions so every party can recompute them.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/teranos/proofchain/errors"
)

// Size is the byte length of a digest, content key and registration key.
const Size = sha256.Size

// ErrInvalidDigest is returned for digest hex that is malformed or not 32 bytes.
var ErrInvalidDigest = errors.New("invalid content digest")

// Digest is the raw SHA-256 of the asset bytes.
type Digest [Size]byte

// ContentKey is sha256(Digest).
type ContentKey [Size]byte

// RegistrationKey is sha256(ContentKey ‖ nonce).
type RegistrationKey [Size]byte

// ParseDigest decodes hex with an optional 0x prefix, case-insensitive.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := decodeHex32(s)
	if err != nil {
		return d, invalid(errors.Wrapf(ErrInvalidDigest, "%q: %s", truncate(s, 80), err.Error()))
	}
	copy(d[:], b)
	return d, nil
}

// DigestOf hashes raw asset bytes.
func DigestOf(content []byte) Digest {
	return Digest(sha256.Sum256(content))
}

// Hex returns lowercase hex without prefix.
func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

// ContentKeyOf derives K = sha256(H).
func ContentKeyOf(d Digest) ContentKey {
	return ContentKey(sha256.Sum256(d[:]))
}

// RegistrationKeyOf derives R = sha256(K ‖ nonce).
func RegistrationKeyOf(k ContentKey, nonce []byte) RegistrationKey {
	h := sha256.New()
	h.Write(k[:])
	h.Write(nonce)
	var r RegistrationKey
	copy(r[:], h.Sum(nil))
	return r
}

// Hex returns lowercase hex without prefix.
func (k ContentKey) Hex() string { return hex.EncodeToString(k[:]) }

// Bytes returns a copy of the key bytes.
func (k ContentKey) Bytes() []byte { return append([]byte(nil), k[:]...) }

// Hex returns lowercase hex without prefix.
func (r RegistrationKey) Hex() string { return hex.EncodeToString(r[:]) }

// Bytes returns a copy of the key bytes.
func (r RegistrationKey) Bytes() []byte { return append([]byte(nil), r[:]...) }

// ParseContentKey decodes a hex content key.
func ParseContentKey(s string) (ContentKey, error) {
	var k ContentKey
	b, err := decodeHex32(s)
	if err != nil {
		return k, errors.NewInvalidRequestError("content key %q: %s", truncate(s, 80), err.Error())
	}
	copy(k[:], b)
	return k, nil
}

// ParseRegistrationKey decodes a hex registration key.
func ParseRegistrationKey(s string) (RegistrationKey, error) {
	var r RegistrationKey
	b, err := decodeHex32(s)
	if err != nil {
		return r, errors.NewInvalidRequestError("registration key %q: %s", truncate(s, 80), err.Error())
	}
	copy(r[:], b)
	return r, nil
}

func decodeHex32(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.New("not valid hex")
	}
	if len(b) != Size {
		return nil, errors.Newf("want %d bytes, got %d", Size, len(b))
	}
	return b, nil
}

// invalid classifies err as caller input error without hiding its own sentinel.
func invalid(err error) error {
	return errors.Mark(err, errors.ErrInvalidRequest)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MarshalText renders the key as hex, so JSON and TOML output stay readable.
func (k ContentKey) MarshalText() ([]byte, error) { return []byte(k.Hex()), nil }

// UnmarshalText parses a hex content key.
func (k *ContentKey) UnmarshalText(b []byte) error {
	parsed, err := ParseContentKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (r RegistrationKey) MarshalText() ([]byte, error) { return []byte(r.Hex()), nil }

func (r *RegistrationKey) UnmarshalText(b []byte) error {
	parsed, err := ParseRegistrationKey(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (d Digest) MarshalText() ([]byte, error) { return []byte(d.Hex()), nil }
