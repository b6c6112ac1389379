package registrar

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/proofchain/content"
	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/ledger"
)

func blocksPNG(t *testing.T, invert bool, level png.CompressionLevel) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(((x/8)*53 + (y/8)*97 + (x/8)*(y/8)*29) % 256)
			if invert {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompare_Embeddings(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()

	res, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1", Content: []byte("alpha")})
	require.NoError(t, err)
	rk := res.Record.RegKey

	same, err := f.reg.Compare(ctx, CompareQuery{RegKey: &rk, Suspect: []byte("alpha")})
	require.NoError(t, err)
	assert.True(t, same.Identical)
	assert.Equal(t, dedup.LabelIdentical, same.Label)
	assert.Equal(t, "alice", same.Record.SignerID)

	edit, err := f.reg.Compare(ctx, CompareQuery{RegKey: &rk, Suspect: []byte("alpha-edit")})
	require.NoError(t, err)
	assert.Equal(t, dedup.LabelNearDuplicate, edit.Label)
	require.NotNil(t, edit.EmbeddingSimilarity)
	assert.Greater(t, *edit.EmbeddingSimilarity, 0.99)
	assert.Nil(t, edit.PHashDistance, "text has no perceptual hash")

	other, err := f.reg.Compare(ctx, CompareQuery{RegKey: &rk, Suspect: []byte("beta")})
	require.NoError(t, err)
	assert.Equal(t, dedup.LabelDifferent, other.Label)

	unknown, err := f.reg.Compare(ctx, CompareQuery{RegKey: &rk, Suspect: []byte("unknown")})
	require.NoError(t, err)
	assert.Equal(t, dedup.LabelInconclusive, unknown.Label)
}

func TestCompare_PerceptualHash(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()
	original := blocksPNG(t, false, png.DefaultCompression)

	res, err := f.reg.Register(ctx, Request{DigestHex: keys.DigestOf(original).Hex(), SignerID: "alice", Nonce: "tx1", Content: original})
	require.NoError(t, err)
	require.NotNil(t, res.Record.PerceptualHash, "hash computed from the registered bytes")
	assert.Regexp(t, `^p:[0-9a-f]{16}$`, *res.Record.PerceptualHash)
	rk := res.Record.RegKey

	recompressed, err := f.reg.Compare(ctx, CompareQuery{RegKey: &rk, Suspect: blocksPNG(t, false, png.NoCompression)})
	require.NoError(t, err)
	assert.False(t, recompressed.Identical)
	require.NotNil(t, recompressed.PHashDistance)
	assert.Zero(t, *recompressed.PHashDistance)
	assert.True(t, recompressed.PHashMatch)
	assert.Equal(t, dedup.LabelNearDuplicate, recompressed.Label)

	inverted, err := f.reg.Compare(ctx, CompareQuery{RegKey: &rk, Suspect: blocksPNG(t, true, png.DefaultCompression)})
	require.NoError(t, err)
	assert.False(t, inverted.PHashMatch)
	assert.Equal(t, dedup.LabelDifferent, inverted.Label)

	supplied := "p:0123456789abcdef"
	withHash, err := f.reg.Register(ctx, Request{DigestHex: keys.DigestOf(original).Hex(), SignerID: "alice", Nonce: "tx2", Content: original, PerceptualHash: supplied})
	require.NoError(t, err)
	assert.Equal(t, supplied, *withHash.Record.PerceptualHash, "a supplied hash is kept")
}

func TestCompare_RejectsBadQueries(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()
	rk := keys.RegistrationKey{9}

	_, err := f.reg.Compare(ctx, CompareQuery{RegKey: &rk})
	assert.True(t, errors.IsInvalidRequestError(err), "no suspect")

	_, err = f.reg.Compare(ctx, CompareQuery{Suspect: []byte("alpha")})
	assert.True(t, errors.IsInvalidRequestError(err), "no registered side")

	_, err = f.reg.Compare(ctx, CompareQuery{RegKey: &rk, Suspect: []byte("alpha")})
	assert.True(t, errors.IsNotFoundError(err))

	_, err = f.reg.Compare(ctx, CompareQuery{Locator: "https://assets.example/a.png", Suspect: []byte("alpha")})
	assert.ErrorIs(t, err, content.ErrNotAvailable, "no fetcher configured")
}
