package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
)

func newRoot() *cobra.Command {
	root := &cobra.Command{Use: "proofchain", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().BoolP("json", "j", false, "")
	root.AddCommand(RegisterCmd, KeysCmd, RegistrantsCmd, RevokeCmd, VerifyCmd, CompareCmd, DbCmd, VersionCmd)
	return root
}

func execute(t *testing.T, args ...string) (map[string]interface{}, error) {
	t.Helper()
	root := newRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return nil, err
	}
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded), "output: %s", out.String())
	return decoded, nil
}

func isolatedConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PROOFCHAIN_DATABASE_PATH", filepath.Join(dir, "proofchain.db"))
	t.Setenv("PROOFCHAIN_LEDGER_BACKEND", am.LedgerBackendSQLite)
	t.Setenv("PROOFCHAIN_EMBEDDINGS_CAPABILITY", am.CapabilityNone)
	t.Setenv("PROOFCHAIN_METRICS_ENABLED", "false")
	t.Setenv("PROOFCHAIN_LEDGER_STRICT_NONCE", "false")
	am.Reset()
	t.Cleanup(am.Reset)
	return dir
}

func TestCLI_RegisterThenQuery(t *testing.T) {
	dir := isolatedConfig(t)
	asset := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(asset, []byte("hello"), 0o644))

	digest := keys.DigestOf([]byte("hello")).Hex()
	k := keys.ContentKeyOf(keys.DigestOf([]byte("hello")))
	rk := keys.RegistrationKeyOf(k, []byte("tx123")).Hex()

	out, err := execute(t, "register", "--file", asset, "--signer", "alice", "--nonce", "tx123", "--json")
	require.NoError(t, err)
	assert.Equal(t, true, out["created"])
	record := out["record"].(map[string]interface{})
	assert.Equal(t, rk, record["reg_key"])
	assert.Equal(t, k.Hex(), record["content_key"])
	assert.Equal(t, "anchored", record["ledger_status"])
	assert.Equal(t, asset, record["file_name"])

	out, err = execute(t, "keys", "--digest", digest, "--nonce", "tx123", "--json")
	require.NoError(t, err)
	assert.Equal(t, rk, out["reg_key"])

	out, err = execute(t, "registrants", "--digest", digest, "--json")
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["count"])
	assert.Equal(t, k.Hex(), out["content_key"])

	out, err = execute(t, "db", "stats", "--json")
	require.NoError(t, err)
	stats := out["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["records"])

	out, err = execute(t, "revoke", rk, "--json")
	require.NoError(t, err)
	assert.Equal(t, "revoked", out["status"])
}

func TestCLI_Compare(t *testing.T) {
	dir := isolatedConfig(t)
	asset := filepath.Join(dir, "hello.txt")
	other := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(asset, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("goodbye"), 0o644))

	out, err := execute(t, "register", "--file", asset, "--signer", "alice", "--nonce", "tx123", "--json")
	require.NoError(t, err)
	rk := out["record"].(map[string]interface{})["reg_key"].(string)

	out, err = execute(t, "compare", rk, "--file", asset, "--json")
	require.NoError(t, err)
	assert.Equal(t, "identical", out["label"])
	assert.Equal(t, true, out["identical"])

	out, err = execute(t, "compare", rk, "--file", other, "--json")
	require.NoError(t, err)
	assert.Equal(t, "inconclusive", out["label"], "text assets without embeddings carry no signal")

	_, err = execute(t, "compare", "--file", other)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestCLI_StrictNonceNeedsConfirmedTransaction(t *testing.T) {
	dir := isolatedConfig(t)
	t.Setenv("PROOFCHAIN_LEDGER_STRICT_NONCE", "true")
	am.Reset()
	asset := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(asset, []byte("hello"), 0o644))

	_, err := execute(t, "register", "--file", asset, "--signer", "alice", "--nonce", "never-broadcast")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestCLI_Errors(t *testing.T) {
	isolatedConfig(t)

	_, err := execute(t, "revoke", "not-a-key")
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = execute(t, "revoke", keys.RegistrationKey{7}.Hex())
	assert.True(t, errors.IsNotFoundError(err))

	_, err = execute(t, "verify", keys.RegistrationKey{7}.Hex())
	assert.True(t, errors.IsInvalidRequestError(err), "verify needs an asset")
}

func TestContentSource(t *testing.T) {
	dir := t.TempDir()
	asset := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(asset, []byte("alpha"), 0o644))
	want := keys.DigestOf([]byte("alpha")).Hex()

	data, digest, err := (&contentSource{file: asset}).load()
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), data)
	assert.Equal(t, want, digest)

	_, _, err = (&contentSource{file: asset, digest: keys.DigestOf([]byte("beta")).Hex()}).load()
	assert.True(t, errors.IsInvalidRequestError(err))

	data, digest, err = (&contentSource{digest: " " + want + " "}).load()
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, want, digest)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "abc", short("abc"))
	long := keys.RegistrationKey{1, 2, 3}.Hex()
	assert.Equal(t, long[:8]+"…"+long[len(long)-6:], short(long))
}
