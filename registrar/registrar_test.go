package registrar

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/errors"
	pctest "github.com/teranos/proofchain/internal/testing"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/ledger"
	"github.com/teranos/proofchain/metrics"
	"github.com/teranos/proofchain/registration"
	"github.com/teranos/proofchain/trust"
)

// vectorEmbedder maps known inputs to fixed vectors.
type vectorEmbedder map[string][]float32

func (v vectorEmbedder) Embed(ctx context.Context, data []byte) ([]float32, error) {
	vec, ok := v[string(data)]
	if !ok {
		return nil, errors.New("unsupported input")
	}
	return dedup.Normalize(append([]float32(nil), vec...)), nil
}

func (vectorEmbedder) Dimensions() int { return 3 }
func (vectorEmbedder) Name() string    { return "static" }

// downLedger answers every call as unreachable.
type downLedger struct{}

func (downLedger) BoxExists(ctx context.Context, name []byte) (bool, error) {
	return false, ledger.Unavailable("box_exists", errors.New("connection refused"))
}
func (downLedger) BoxCreateIfAbsent(ctx context.Context, name []byte, size int) (bool, error) {
	return false, ledger.Unavailable("box_create", errors.New("connection refused"))
}
func (downLedger) BoxPut(ctx context.Context, name, value []byte) error {
	return ledger.Unavailable("box_put", errors.New("connection refused"))
}
func (downLedger) BoxGet(ctx context.Context, name []byte) ([]byte, bool, error) {
	return nil, false, ledger.Unavailable("box_get", errors.New("connection refused"))
}
func (downLedger) CurrentRound(ctx context.Context) (uint64, error) {
	return 0, ledger.Unavailable("current_round", errors.New("connection refused"))
}

// readOnlyLedger reads from a memory registry and refuses writes.
type readOnlyLedger struct{ mem *ledger.Memory }

func (r readOnlyLedger) BoxExists(ctx context.Context, name []byte) (bool, error) {
	return r.mem.BoxExists(ctx, name)
}
func (readOnlyLedger) BoxCreateIfAbsent(ctx context.Context, name []byte, size int) (bool, error) {
	return false, ledger.ErrReadOnly
}
func (readOnlyLedger) BoxPut(ctx context.Context, name, value []byte) error {
	return ledger.ErrReadOnly
}
func (r readOnlyLedger) BoxGet(ctx context.Context, name []byte) ([]byte, bool, error) {
	return r.mem.BoxGet(ctx, name)
}
func (r readOnlyLedger) CurrentRound(ctx context.Context) (uint64, error) {
	return r.mem.CurrentRound(ctx)
}

type fixture struct {
	reg    *Registrar
	store  *registration.SQLStore
	ledger *ledger.Memory
}

func newFixture(t *testing.T, reg ledger.Registry, policy Policy, deps ...func(*Deps)) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	store := registration.NewSQLStore(pctest.CreateTestDB(t), log)
	emb := vectorEmbedder{
		"alpha":      {1, 0, 0},
		"alpha-edit": {0.99, 0.1, 0},
		"beta":       {0, 1, 0},
		"gamma":      {0, 0, 1},
	}
	d := Deps{
		Store:    store,
		Ledger:   reg,
		Detector: dedup.NewDetector(am.EmbeddingsConfig{LinkThreshold: 0.92, VerifyThreshold: 0.8}, emb, nil, m, log),
		Metrics:  m,
		Logger:   log,
	}
	for _, fn := range deps {
		fn(&d)
	}
	if policy.GraphTopK == 0 {
		policy.GraphTopK = am.DefaultGraphTopK
	}
	f := &fixture{
		reg:   New(d, policy, WithEntropy(bytes.NewReader(bytes.Repeat([]byte{0xab}, 64)))),
		store: store,
	}
	if mem, ok := reg.(*ledger.Memory); ok {
		f.ledger = mem
	}
	return f
}

func digestOf(s string) string { return keys.DigestOf([]byte(s)).Hex() }

func TestRegister_KeyDerivation(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()

	res, err := f.reg.Register(ctx, Request{
		DigestHex:      digestOf("hello"),
		SignerID:       "alice",
		Nonce:          "tx123",
		ContentLocator: "ipfs://bafyhello",
	})
	require.NoError(t, err)

	h := sha256.Sum256([]byte("hello"))
	k := sha256.Sum256(h[:])
	r := sha256.Sum256(append(k[:], []byte("tx123")...))

	assert.True(t, res.Created)
	assert.Equal(t, hex.EncodeToString(k[:]), res.Record.ContentKey.Hex())
	assert.Equal(t, hex.EncodeToString(r[:]), res.Record.RegKey.Hex())
	assert.Equal(t, keys.NonceCaller, res.Record.NonceSource)
	assert.Equal(t, registration.LedgerAnchored, res.Record.LedgerStatus)
	require.NotNil(t, res.Record.LedgerTx)
	assert.Equal(t, "tx123", *res.Record.LedgerTx)

	media, ok, err := f.ledger.BoxGet(ctx, k[:])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ipfs://bafyhello", string(media))
}

func TestRegister_RetryIsIdempotent(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()
	req := Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1", ContentLocator: "loc://alpha", Content: []byte("alpha")}

	first, err := f.reg.Register(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 2, f.ledger.BoxCount())

	second, err := f.reg.Register(ctx, req)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Record.RegKey, second.Record.RegKey)
	assert.Equal(t, 2, second.Record.Attempts)
	assert.Equal(t, registration.LedgerAnchored, second.Record.LedgerStatus)
	assert.Equal(t, 2, f.ledger.BoxCount(), "a retry creates no boxes")

	all, err := f.store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegister_StrictNonce(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{StrictNonce: true})

	_, err := f.reg.Register(context.Background(), Request{DigestHex: digestOf("alpha"), SignerID: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonceRequired)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestRegister_LedgerDown(t *testing.T) {
	ctx := context.Background()

	t.Run("strict rejects", func(t *testing.T) {
		f := newFixture(t, downLedger{}, Policy{StrictNonce: true})
		_, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLedgerRequired)

		all, err := f.store.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all, "nothing persisted")
	})

	t.Run("lenient degrades", func(t *testing.T) {
		f := newFixture(t, downLedger{}, Policy{})
		res, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, registration.LedgerUnavailable, res.Record.LedgerStatus)
		assert.Equal(t, keys.NonceLocal, res.Record.NonceSource)
		assert.Nil(t, res.Anchor)
	})
}

func TestRegister_NoLedgerDefers(t *testing.T) {
	f := newFixture(t, nil, Policy{})
	res, err := f.reg.Register(context.Background(), Request{DigestHex: digestOf("alpha"), SignerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, registration.LedgerDeferred, res.Record.LedgerStatus)
	assert.Equal(t, keys.NonceLocal, res.Record.NonceSource)
}

func TestRegister_ReadOnlyLedgerDefers(t *testing.T) {
	f := newFixture(t, readOnlyLedger{mem: ledger.NewMemory(7)}, Policy{})
	res, err := f.reg.Register(context.Background(), Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1"})
	require.NoError(t, err)
	assert.Equal(t, registration.LedgerDeferred, res.Record.LedgerStatus)
}

func TestRegister_LedgerFallbackNonce(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk [keys.Size]byte
	copy(pk[:], pub)
	addr := keys.EncodeAddress(pk)

	f := newFixture(t, ledger.NewMemory(4242), Policy{})
	res, err := f.reg.Register(context.Background(), Request{DigestHex: digestOf("alpha"), SignerID: addr})
	require.NoError(t, err)

	assert.Equal(t, keys.NonceLedger, res.Record.NonceSource)
	want := keys.RegistrationKeyOf(res.Record.ContentKey, keys.LedgerFallbackNonce(pk, 4242))
	assert.Equal(t, want, res.Record.RegKey)
}

func TestRegister_LedgerFallbackNonce_NamedSigner(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(4242), Policy{RequireLedger: true})
	ctx := context.Background()

	res, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "Alice"})
	require.NoError(t, err)

	assert.Equal(t, keys.NonceLedger, res.Record.NonceSource)
	submitter := sha256.Sum256([]byte("alice"))
	want := keys.RegistrationKeyOf(res.Record.ContentKey, keys.LedgerFallbackNonce(submitter, 4242))
	assert.Equal(t, want, res.Record.RegKey)

	raw, ok, err := f.ledger.BoxGet(ctx, ledger.RegBoxName(res.Record.RegKey))
	require.NoError(t, err)
	require.True(t, ok)
	box, err := ledger.DecodeRegBox(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), box.Round)
	assert.Equal(t, submitter, box.Submitter)
}

func TestRegister_RequireLedgerWithoutLedger(t *testing.T) {
	f := newFixture(t, nil, Policy{RequireLedger: true})
	_, err := f.reg.Register(context.Background(), Request{DigestHex: digestOf("alpha"), SignerID: "alice"})
	assert.ErrorIs(t, err, ErrLedgerRequired)
}

func TestRegister_NonceTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("strict rejects unknown transaction", func(t *testing.T) {
		f := newFixture(t, ledger.NewMemory(100), Policy{StrictNonce: true})
		_, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "never-broadcast"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNonceUnconfirmed)
		assert.ErrorIs(t, err, ErrNonceRequired)
		assert.True(t, errors.IsInvalidRequestError(err))

		all, err := f.store.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all, "nothing persisted")
		assert.Zero(t, f.ledger.BoxCount())
	})

	t.Run("strict accepts confirmed transaction", func(t *testing.T) {
		f := newFixture(t, ledger.NewMemory(100), Policy{StrictNonce: true})
		_, txid, err := f.ledger.BoxCreateWith(ctx, []byte("fee-payment"), []byte("paid"))
		require.NoError(t, err)

		res, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: txid})
		require.NoError(t, err)
		assert.Equal(t, keys.NonceCaller, res.Record.NonceSource)
		require.NotNil(t, res.Record.LedgerTx)
		assert.Equal(t, txid, *res.Record.LedgerTx)
		assert.Equal(t, registration.LedgerAnchored, res.Record.LedgerStatus)
	})

	t.Run("lenient registers unknown transaction", func(t *testing.T) {
		f := newFixture(t, ledger.NewMemory(100), Policy{})
		res, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "never-broadcast"})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, keys.NonceCaller, res.Record.NonceSource)
	})

	t.Run("registry without transaction status", func(t *testing.T) {
		f := newFixture(t, readOnlyLedger{mem: ledger.NewMemory(7)}, Policy{StrictNonce: true})
		res, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1"})
		require.NoError(t, err)
		assert.Equal(t, registration.LedgerDeferred, res.Record.LedgerStatus)
	})
}

func TestRegister_LocatorDigest(t *testing.T) {
	cidOf := func(data string) string {
		mh, err := multihash.Sum([]byte(data), multihash.SHA2_256, -1)
		require.NoError(t, err)
		return "ipfs://" + cid.NewCidV1(cid.Raw, mh).String()
	}
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()

	_, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1", ContentLocator: cidOf("beta")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDigestMismatch)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Zero(t, f.ledger.BoxCount())

	res, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1", ContentLocator: cidOf("alpha")})
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestRegister_Conflict(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()
	d := digestOf("alpha")

	_, err := f.reg.Register(ctx, Request{DigestHex: d, SignerID: "alice", Nonce: "tx1", ContentLocator: "loc://alpha"})
	require.NoError(t, err)

	_, err = f.reg.Register(ctx, Request{DigestHex: d, SignerID: "bob", Nonce: "tx2", ContentLocator: "loc://copy"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContentAlreadyRegistered)
	assert.True(t, errors.IsConflictError(err))

	// the owner may register again under a new nonce
	_, err = f.reg.Register(ctx, Request{DigestHex: d, SignerID: "ALICE", Nonce: "tx3"})
	require.NoError(t, err)

	allow := true
	res, err := f.reg.Register(ctx, Request{DigestHex: d, SignerID: "bob", Nonce: "tx2", AllowDuplicate: &allow})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "alice", res.Owner)
	assert.Equal(t, registration.LedgerAnchored, res.Record.LedgerStatus)
}

func TestRegister_Signature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk [keys.Size]byte
	copy(pk[:], pub)
	addr := keys.EncodeAddress(pk)
	d := digestOf("alpha")
	withVerifier := func(deps *Deps) { deps.Verifier = Ed25519Verifier{} }
	ctx := context.Background()

	t.Run("enforced and valid", func(t *testing.T) {
		f := newFixture(t, ledger.NewMemory(1), Policy{EnforceSignature: true}, withVerifier)
		res, err := f.reg.Register(ctx, Request{DigestHex: d, SignerID: addr, Nonce: "tx1", Signature: SignMetadata(priv, d)})
		require.NoError(t, err)
		assert.Equal(t, registration.SignatureVerified, res.Record.SignatureStatus)
	})

	t.Run("enforced and wrong digest", func(t *testing.T) {
		f := newFixture(t, ledger.NewMemory(1), Policy{EnforceSignature: true}, withVerifier)
		_, err := f.reg.Register(ctx, Request{DigestHex: d, SignerID: addr, Nonce: "tx1", Signature: SignMetadata(priv, digestOf("beta"))})
		assert.ErrorIs(t, err, ErrSignatureRejected)
	})

	t.Run("enforced and missing", func(t *testing.T) {
		f := newFixture(t, ledger.NewMemory(1), Policy{EnforceSignature: true}, withVerifier)
		_, err := f.reg.Register(ctx, Request{DigestHex: d, SignerID: addr, Nonce: "tx1"})
		assert.ErrorIs(t, err, ErrSignatureRejected)
	})

	t.Run("lenient records failure", func(t *testing.T) {
		f := newFixture(t, ledger.NewMemory(1), Policy{}, withVerifier)
		res, err := f.reg.Register(ctx, Request{DigestHex: d, SignerID: addr, Nonce: "tx1", Signature: SignMetadata(priv, digestOf("beta"))})
		require.NoError(t, err)
		assert.Equal(t, registration.SignatureFailed, res.Record.SignatureStatus)
	})

	t.Run("no verifier", func(t *testing.T) {
		f := newFixture(t, ledger.NewMemory(1), Policy{})
		res, err := f.reg.Register(ctx, Request{DigestHex: d, SignerID: addr, Nonce: "tx1", Signature: SignMetadata(priv, d)})
		require.NoError(t, err)
		assert.Equal(t, registration.SignatureSkippedNoVerifier, res.Record.SignatureStatus)
	})
}

func TestRegister_EmbeddingAndLineage(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()

	orig, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1", Content: []byte("alpha")})
	require.NoError(t, err)
	require.True(t, orig.Record.HasEmbedding())

	regBox, ok, err := f.ledger.BoxGet(ctx, ledger.RegBoxName(orig.Record.RegKey))
	require.NoError(t, err)
	require.True(t, ok)
	box, err := ledger.DecodeRegBox(regBox)
	require.NoError(t, err)
	assert.Equal(t, *orig.Record.EmbeddingDigest, box.AnchorHex())

	edit, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha-edit"), SignerID: "bob", Nonce: "tx2", Content: []byte("alpha-edit")})
	require.NoError(t, err)
	require.NotNil(t, edit.NearDuplicate)
	require.NotNil(t, edit.Record.NearDuplicateOf)
	assert.Equal(t, orig.Record.RegKey, *edit.Record.NearDuplicateOf)

	failed, err := f.reg.Register(ctx, Request{DigestHex: digestOf("unknown"), SignerID: "carol", Nonce: "tx3", Content: []byte("unknown")})
	require.NoError(t, err)
	assert.False(t, failed.Record.HasEmbedding())
	require.NotNil(t, failed.Record.EmbeddingError)
	assert.Contains(t, *failed.Record.EmbeddingError, string(dedup.SkipEmbedFailed))
}

func TestRegister_RejectsBadInput(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(1), Policy{})
	ctx := context.Background()

	_, err := f.reg.Register(ctx, Request{DigestHex: "not-hex", SignerID: "alice"})
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "  "})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestReconcile(t *testing.T) {
	mem := ledger.NewMemory(100)
	ctx := context.Background()

	// registered while the ledger was down
	down := newFixture(t, downLedger{}, Policy{})
	res, err := down.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1", ContentLocator: "loc://alpha"})
	require.NoError(t, err)
	require.Equal(t, registration.LedgerUnavailable, res.Record.LedgerStatus)

	// the client later anchored the boxes itself
	rec := res.Record
	_, err = ledger.Anchor(ctx, mem, ledger.MediaBoxName(rec.ContentKey), []byte(rec.ContentLocator),
		ledger.RegBoxName(rec.RegKey), ledger.EncodeRegBox(nil, submitterOf("alice"), 100))
	require.NoError(t, err)

	up := New(Deps{Store: down.store, Ledger: mem, Detector: down.reg.detector, Logger: zaptest.NewLogger(t).Sugar()}, Policy{})
	got, err := up.Reconcile(ctx, rec.RegKey)
	require.NoError(t, err)
	assert.True(t, got.RegBoxPresent)
	assert.True(t, got.MediaBoxPresent)
	assert.True(t, got.CanonicalOwner)
	assert.Nil(t, got.AnchorMatches)
	assert.Equal(t, registration.LedgerAnchored, got.Record.LedgerStatus)

	stored, err := down.store.FindByRegistrationKey(ctx, rec.RegKey)
	require.NoError(t, err)
	assert.Equal(t, registration.LedgerAnchored, stored.LedgerStatus)

	_, err = up.Reconcile(ctx, keys.RegistrationKey{})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRevoke(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(1), Policy{})
	ctx := context.Background()

	res, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1"})
	require.NoError(t, err)

	rec, err := f.reg.Revoke(ctx, res.Record.RegKey)
	require.NoError(t, err)
	assert.True(t, rec.Revoked())

	_, err = f.reg.Revoke(ctx, keys.RegistrationKey{1})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestClassify(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()

	_, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1", ContentLocator: "loc://alpha", Content: []byte("alpha")})
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, Request{DigestHex: digestOf("beta"), SignerID: "bob", Nonce: "tx2", Content: []byte("beta")})
	require.NoError(t, err)

	exact, err := f.reg.Classify(ctx, ClassifyQuery{Content: []byte("alpha")})
	require.NoError(t, err)
	assert.Equal(t, ClassExactRegistered, exact.Status)
	require.NotNil(t, exact.ExactMatch)
	assert.Equal(t, "alice", exact.ExactMatch.SignerID)

	byLocator, err := f.reg.Classify(ctx, ClassifyQuery{Locator: "loc://alpha"})
	require.NoError(t, err)
	assert.Equal(t, ClassExactRegistered, byLocator.Status)

	deriv, err := f.reg.Classify(ctx, ClassifyQuery{Content: []byte("alpha-edit"), IncludeMatches: true, IncludeGraph: true})
	require.NoError(t, err)
	assert.Equal(t, ClassDerivative, deriv.Status)
	require.NotNil(t, deriv.BestMatch)
	assert.Equal(t, "alice", deriv.BestMatch.Record.SignerID)
	assert.Len(t, deriv.Matches, 2)
	require.NotNil(t, deriv.Graph)
	assert.NotEmpty(t, deriv.Graph.Nodes)

	unknown, err := f.reg.Classify(ctx, ClassifyQuery{Content: []byte("gamma")})
	require.NoError(t, err)
	assert.Equal(t, ClassUnregistered, unknown.Status)

	_, err = f.reg.Classify(ctx, ClassifyQuery{})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestVerify(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()

	res, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1", Content: []byte("alpha")})
	require.NoError(t, err)
	rk := res.Record.RegKey

	v, err := f.reg.Verify(ctx, VerifyQuery{RegKey: rk, Content: []byte("alpha-edit")})
	require.NoError(t, err)
	assert.Equal(t, dedup.DecisionAuthentic, v.Decision)
	assert.True(t, v.FastPath)
	require.NotNil(t, v.AnchorVerified)
	assert.True(t, *v.AnchorVerified)

	strict := 0.999
	v, err = f.reg.Verify(ctx, VerifyQuery{RegKey: rk, Content: []byte("alpha-edit"), Threshold: &strict})
	require.NoError(t, err)
	assert.Equal(t, dedup.DecisionDerivative, v.Decision)

	_, err = f.reg.Verify(ctx, VerifyQuery{RegKey: rk, Content: []byte("unknown")})
	assert.True(t, errors.IsServiceUnavailableError(err))

	// tamper with the stored embedding
	swapped := dedup.Normalize([]float32{0, 1, 0})
	digest := dedup.Digest(swapped)
	_, err = f.store.Update(ctx, registration.ByRegKey(rk), registration.Patch{Embedding: swapped, EmbeddingDigest: &digest})
	require.NoError(t, err)

	v, err = f.reg.Verify(ctx, VerifyQuery{RegKey: rk, Content: []byte("beta")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnchorMismatch)
	require.NotNil(t, v)
	assert.False(t, *v.AnchorVerified)
}

func TestTrustAndRegistrants(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()
	d := digestOf("alpha")
	allow := true

	for i, signer := range []string{"alice", "bob"} {
		_, err := f.reg.Register(ctx, Request{DigestHex: d, SignerID: signer, Nonce: signer + "-tx", AllowDuplicate: &allow})
		require.NoError(t, err, "registration %d", i)
	}

	records, kHex, err := f.reg.Registrants(ctx, Lookup{DigestHex: d})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].SignerID)
	assert.Equal(t, keys.ContentKeyOf(keys.DigestOf([]byte("alpha"))).Hex(), kHex)

	report, err := f.reg.Trust(ctx, Lookup{DigestHex: d}, trust.Options{SkipResolve: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count)
	assert.Equal(t, 2, report.DistinctSigners)
	require.NotNil(t, report.Average)

	_, _, err = f.reg.Registrants(ctx, Lookup{})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestStatsAndDeriveKeys(t *testing.T) {
	f := newFixture(t, ledger.NewMemory(100), Policy{})
	ctx := context.Background()

	_, err := f.reg.Register(ctx, Request{DigestHex: digestOf("alpha"), SignerID: "alice", Nonce: "tx1", Content: []byte("alpha")})
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, Request{DigestHex: digestOf("beta"), SignerID: "bob"})
	require.NoError(t, err)

	s, err := f.reg.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Records)
	assert.Equal(t, 2, s.ContentKeys)
	assert.Equal(t, 2, s.Signers)
	assert.Equal(t, 1, s.WithEmbedding)
	assert.Equal(t, 1, s.NonceSource[keys.NonceCaller])
	assert.Equal(t, 1, s.NonceSource[keys.NonceLedger])
	assert.Equal(t, 2, s.LedgerStatus[registration.LedgerAnchored])

	der, err := f.reg.DeriveKeys(digestOf("hello"), "tx123", "alice")
	require.NoError(t, err)
	again, err := f.reg.DeriveKeys(digestOf("hello"), "tx123", "bob")
	require.NoError(t, err)
	assert.Equal(t, der.RegKey, again.RegKey, "caller nonce keys ignore the signer")

	local, err := f.reg.DeriveKeys(digestOf("hello"), "", "alice")
	require.NoError(t, err)
	assert.Equal(t, keys.NonceLocal, local.Source)
	assert.Equal(t, der.ContentKey, local.ContentKey)
}
