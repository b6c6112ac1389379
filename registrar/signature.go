package registrar

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"

	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
)

// signPrefix is the domain separator wallets prepend to arbitrary signed bytes.
const signPrefix = "MX"

// SignatureVerifier checks a metadata signature over a digest.
type SignatureVerifier interface {
	// Verify returns false for a well-formed signature that does not match,
	// and an error when the inputs cannot be checked at all.
	Verify(signer, digestHex, signature string) (bool, error)
}

// Ed25519Verifier verifies base64 ed25519 signatures over "MX" ‖ digest_hex,
// with the public key taken from the signer's ledger address.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(signer, digestHex, signature string) (bool, error) {
	pk, err := keys.DecodeAddress(signer)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false, errors.Mark(errors.Wrap(err, "signature is not base64"), errors.ErrInvalidRequest)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, errors.NewInvalidRequestError("signature has %d bytes, want %d", len(sig), ed25519.SignatureSize)
	}
	msg := append([]byte(signPrefix), digestHex...)
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig), nil
}

// SignMetadata produces the signature Ed25519Verifier accepts. Used by tooling and tests.
func SignMetadata(priv ed25519.PrivateKey, digestHex string) string {
	msg := append([]byte(signPrefix), digestHex...)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
}
