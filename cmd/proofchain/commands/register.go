package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/registrar"
)

// RegisterCmd registers an asset
var RegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an asset",
	Long: `Register an asset under a signer.

The registration key is derived from the content key and a nonce. Pass the
broadcast transaction id with --nonce; without it the ledger round or a local
fallback is used, unless ledger.strict_nonce is set. Under strict_nonce the
transaction must be confirmed on the ledger.

Registering the same digest with the same nonce again is a retry: the stored
record is returned and no ledger state changes.

Examples:
  proofchain register --file photo.jpg --signer ALICE --nonce TXID
  proofchain register --digest 2cf24d... --signer ALICE --locator ipfs://bafy...
  proofchain register --file copy.jpg --signer BOB --nonce TX2 --allow-duplicate`,
	RunE: runRegister,
}

// KeysCmd derives keys without registering
var KeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Derive the content and registration keys for a digest",
	Long: `Derive K = sha256(H) and R = sha256(K ‖ nonce) for a digest.

Without --nonce a local fallback nonce is generated; the resulting R is not
reproducible.`,
	RunE: runKeys,
}

var (
	registerSource    contentSource
	registerSigner    string
	registerNonce     string
	registerName      string
	registerPHash     string
	registerSignature string
	registerAllowDup  bool

	keysSource contentSource
	keysNonce  string
	keysSigner string
)

func init() {
	registerSource.bind(RegisterCmd)
	RegisterCmd.Flags().StringVarP(&registerSigner, "signer", "s", "", "Signer id, normally a ledger address (required)")
	RegisterCmd.Flags().StringVarP(&registerNonce, "nonce", "n", "", "Broadcast transaction id used as the nonce")
	RegisterCmd.Flags().StringVar(&registerName, "name", "", "Original file name")
	RegisterCmd.Flags().StringVar(&registerPHash, "phash", "", "Perceptual hash of the asset")
	RegisterCmd.Flags().StringVar(&registerSignature, "signature", "", "Base64 ed25519 signature over \"MX\" followed by the digest hex")
	RegisterCmd.Flags().BoolVar(&registerAllowDup, "allow-duplicate", false, "Register even when another signer owns the content")
	RegisterCmd.MarkFlagRequired("signer")

	keysSource.bind(KeysCmd)
	KeysCmd.Flags().StringVarP(&keysNonce, "nonce", "n", "", "Nonce (transaction id)")
	KeysCmd.Flags().StringVarP(&keysSigner, "signer", "s", "", "Signer id, used only for the local fallback nonce")
}

func runRegister(cmd *cobra.Command, args []string) error {
	data, digest, err := registerSource.load()
	if err != nil {
		return err
	}
	if digest == "" {
		return errors.NewInvalidRequestError("--file or --digest is required")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	req := registrar.Request{
		DigestHex:      digest,
		SignerID:       registerSigner,
		Nonce:          strings.TrimSpace(registerNonce),
		ContentLocator: registerSource.locator,
		FileName:       registerName,
		PerceptualHash: registerPHash,
		Signature:      registerSignature,
		Content:        data,
	}
	if req.FileName == "" && registerSource.file != "" {
		req.FileName = registerSource.file
	}
	if cmd.Flags().Changed("allow-duplicate") {
		req.AllowDuplicate = &registerAllowDup
	}

	res, err := a.registrar.Register(context.Background(), req)
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(cmd, map[string]interface{}{
			"record":         res.Record,
			"created":        res.Created,
			"nonce_source":   res.Derivation.Source,
			"near_duplicate": res.NearDuplicate,
			"owner":          res.Owner,
		})
	}

	rec := res.Record
	if res.Created {
		pterm.Success.Println("Registered")
	} else {
		pterm.Info.Printf("Already registered (attempt %d)\n", rec.Attempts)
	}
	pterm.Printf("  Registration key: %s\n", rec.RegKey.Hex())
	pterm.Printf("  Content key:      %s\n", rec.ContentKey.Hex())
	pterm.Printf("  Nonce source:     %s\n", rec.NonceSource)
	pterm.Printf("  Ledger status:    %s\n", rec.LedgerStatus)
	pterm.Printf("  Signature:        %s\n", rec.SignatureStatus)
	if rec.EmbeddingError != nil {
		pterm.Warning.Printf("Stored without embedding: %s\n", *rec.EmbeddingError)
	}
	if res.NearDuplicate != nil {
		pterm.Info.Printf("Near-duplicate of %s (similarity %.4f, signer %s)\n",
			short(res.NearDuplicate.Record.RegKey.Hex()), res.NearDuplicate.Similarity, res.NearDuplicate.Record.SignerID)
	}
	return nil
}

func runKeys(cmd *cobra.Command, args []string) error {
	_, digest, err := keysSource.load()
	if err != nil {
		return err
	}
	if digest == "" {
		return errors.NewInvalidRequestError("--file or --digest is required")
	}

	// Key derivation needs no collaborators
	r := registrar.New(registrar.Deps{}, registrar.Policy{})
	der, err := r.DeriveKeys(digest, strings.TrimSpace(keysNonce), keysSigner)
	if err != nil {
		return err
	}

	out := map[string]string{
		"sha256_hex":   der.Digest.Hex(),
		"content_key":  der.ContentKey.Hex(),
		"reg_key":      der.RegKey.Hex(),
		"nonce_hex":    hex.EncodeToString(der.Nonce),
		"nonce_source": string(der.Source),
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "H: %s\nK: %s\nR: %s\nnonce (%s): %s\n",
		out["sha256_hex"], out["content_key"], out["reg_key"], der.Source, out["nonce_hex"])
	return nil
}
