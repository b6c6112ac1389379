package ledger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/proofchain/errors"
	pctest "github.com/teranos/proofchain/internal/testing"
	"github.com/teranos/proofchain/keys"
)

func TestRegBoxRoundTrip(t *testing.T) {
	var submitter [SubmitterSize]byte
	copy(submitter[:], bytes.Repeat([]byte{0x11}, SubmitterSize))
	var anchor [AnchorSize]byte
	copy(anchor[:], bytes.Repeat([]byte{0xaa}, AnchorSize))

	plain := EncodeRegBox(nil, submitter, 42)
	require.Len(t, plain, 40)
	decoded, err := DecodeRegBox(plain)
	require.NoError(t, err)
	assert.Nil(t, decoded.Anchor)
	assert.Equal(t, submitter, decoded.Submitter)
	assert.Equal(t, uint64(42), decoded.Round)
	assert.Equal(t, "", decoded.AnchorHex())

	anchored := EncodeRegBox(&anchor, submitter, 1<<40)
	require.Len(t, anchored, 72)
	assert.Equal(t, anchor[:], anchored[:32], "anchor leads the value")
	decoded, err = DecodeRegBox(anchored)
	require.NoError(t, err)
	require.NotNil(t, decoded.Anchor)
	assert.Equal(t, anchor, *decoded.Anchor)
	assert.Equal(t, uint64(1<<40), decoded.Round)
	assert.Equal(t, anchored, decoded.Encode())
}

func TestDecodeRegBox_Malformed(t *testing.T) {
	for _, n := range []int{0, 39, 41, 71, 73} {
		_, err := DecodeRegBox(make([]byte, n))
		assert.ErrorIs(t, err, ErrMalformedBox, "length %d", n)
	}
}

func TestRegBox_SubmitterAddress(t *testing.T) {
	var pk [SubmitterSize]byte
	pk[0] = 7
	box := RegBox{Submitter: pk}

	decoded, err := keys.DecodeAddress(box.SubmitterAddress())
	require.NoError(t, err)
	assert.Equal(t, pk, decoded)
}

// registryContract runs the same expectations against every writable registry.
func registryContract(t *testing.T, reg Registry) {
	ctx := context.Background()
	name := bytes.Repeat([]byte{0x01}, 32)

	exists, err := reg.BoxExists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err := reg.BoxGet(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)

	before, err := reg.CurrentRound(ctx)
	require.NoError(t, err)

	created, err := reg.BoxCreateIfAbsent(ctx, name, 4)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = reg.BoxCreateIfAbsent(ctx, name, 4)
	require.NoError(t, err)
	assert.False(t, created, "second creation is a no-op")

	require.NoError(t, reg.BoxPut(ctx, name, []byte("ipfs")))
	assert.ErrorIs(t, reg.BoxPut(ctx, name, []byte("too long")), ErrBoxSizeMismatch)
	assert.True(t, errors.IsNotFoundError(reg.BoxPut(ctx, bytes.Repeat([]byte{0x02}, 32), []byte("x"))))

	value, ok, err := reg.BoxGet(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("ipfs"), value)

	after, err := reg.CurrentRound(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, before)
}

func TestMemoryRegistry(t *testing.T) {
	registryContract(t, NewMemory(100))
}

func TestSQLRegistry(t *testing.T) {
	db := pctest.CreateTestDB(t)
	registryContract(t, NewSQLRegistry(db, zaptest.NewLogger(t).Sugar()))
}

func TestAnchor_Idempotent(t *testing.T) {
	for name, reg := range map[string]Registry{
		"memory": NewMemory(1),
		"sql":    NewSQLRegistry(pctest.CreateTestDB(t), nil),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := keys.DigestOf([]byte("hello"))
			k := keys.ContentKeyOf(d)
			r := keys.RegistrationKeyOf(k, keys.CallerNonce("tx123"))
			var submitter [SubmitterSize]byte
			box := EncodeRegBox(nil, submitter, 7)

			first, err := Anchor(ctx, reg, MediaBoxName(k), []byte("bafyfirst"), RegBoxName(r), box)
			require.NoError(t, err)
			assert.True(t, first.MediaCreated)
			assert.True(t, first.RegCreated)
			assert.NotEmpty(t, first.TxID)

			again, err := Anchor(ctx, reg, MediaBoxName(k), []byte("bafysecond"), RegBoxName(r), box)
			require.NoError(t, err)
			assert.False(t, again.MediaCreated)
			assert.False(t, again.RegCreated)

			// First writer wins on the media box
			value, ok, err := reg.BoxGet(ctx, MediaBoxName(k))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("bafyfirst"), value)

			stored, ok, err := reg.BoxGet(ctx, RegBoxName(r))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, box, stored)

			confirmed, err := reg.(TxStatusReader).TxConfirmed(ctx, first.TxID)
			require.NoError(t, err)
			assert.True(t, confirmed)
		})
	}
}

func TestAnchor_SecondRegistrationSharesMediaBox(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory(1)
	k := keys.ContentKeyOf(keys.DigestOf([]byte("asset")))
	var submitter [SubmitterSize]byte

	r1 := keys.RegistrationKeyOf(k, []byte("tx-a"))
	r2 := keys.RegistrationKeyOf(k, []byte("tx-b"))

	_, err := Anchor(ctx, reg, MediaBoxName(k), []byte("cid-a"), RegBoxName(r1), EncodeRegBox(nil, submitter, 1))
	require.NoError(t, err)
	res, err := Anchor(ctx, reg, MediaBoxName(k), []byte("cid-b"), RegBoxName(r2), EncodeRegBox(nil, submitter, 2))
	require.NoError(t, err)

	assert.False(t, res.MediaCreated)
	assert.True(t, res.RegCreated)
	assert.Equal(t, 3, reg.BoxCount())
}
