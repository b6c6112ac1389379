package ledger

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
)

// RegBox layout: [optional 32-byte embedding anchor] ‖ submitter(32) ‖ big_endian(round, 8)
const (
	AnchorSize    = 32
	SubmitterSize = keys.Size
	RoundSize     = keys.RoundSize
	RegBoxMinSize = SubmitterSize + RoundSize
	RegBoxMaxSize = AnchorSize + RegBoxMinSize
)

// ErrMalformedBox is returned when box bytes do not match a known layout.
var ErrMalformedBox = errors.New("malformed box value")

// RegBox is the decoded value stored under a registration key.
type RegBox struct {
	Anchor    *[AnchorSize]byte
	Submitter [SubmitterSize]byte
	Round     uint64
}

// EncodeRegBox serializes a RegBox. A nil anchor yields the 40-byte form.
func EncodeRegBox(anchor *[AnchorSize]byte, submitter [SubmitterSize]byte, round uint64) []byte {
	size := RegBoxMinSize
	if anchor != nil {
		size = RegBoxMaxSize
	}
	out := make([]byte, 0, size)
	if anchor != nil {
		out = append(out, anchor[:]...)
	}
	out = append(out, submitter[:]...)
	return binary.BigEndian.AppendUint64(out, round)
}

// Encode serializes b.
func (b RegBox) Encode() []byte {
	return EncodeRegBox(b.Anchor, b.Submitter, b.Round)
}

// DecodeRegBox parses a RegBox. The trailing 40 bytes are submitter and round;
// any leading bytes are the anchor, which must then be exactly 32 bytes.
func DecodeRegBox(value []byte) (RegBox, error) {
	var b RegBox
	if len(value) < RegBoxMinSize {
		return b, errors.Wrapf(ErrMalformedBox, "registration box has %d bytes, need at least %d", len(value), RegBoxMinSize)
	}
	lead := len(value) - RegBoxMinSize
	switch lead {
	case 0:
	case AnchorSize:
		var anchor [AnchorSize]byte
		copy(anchor[:], value[:AnchorSize])
		b.Anchor = &anchor
	default:
		return b, errors.Wrapf(ErrMalformedBox, "registration box anchor has %d bytes, want %d", lead, AnchorSize)
	}
	copy(b.Submitter[:], value[lead:lead+SubmitterSize])
	b.Round = binary.BigEndian.Uint64(value[lead+SubmitterSize:])
	return b, nil
}

// SubmitterAddress renders the submitter as a base32 ledger address.
func (b RegBox) SubmitterAddress() string {
	return keys.EncodeAddress(b.Submitter)
}

// AnchorHex returns the embedding anchor as hex, or "" when absent.
func (b RegBox) AnchorHex() string {
	if b.Anchor == nil {
		return ""
	}
	return hex.EncodeToString(b.Anchor[:])
}

// MediaBoxName is the box name for a content key.
func MediaBoxName(k keys.ContentKey) []byte { return k.Bytes() }

// RegBoxName is the box name for a registration key.
func RegBoxName(r keys.RegistrationKey) []byte { return r.Bytes() }
