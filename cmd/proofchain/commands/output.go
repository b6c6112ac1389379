package commands

import (
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/proofchain/display"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
)

func jsonOutput(cmd *cobra.Command) bool {
	return display.ShouldOutputJSON(cmd)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	if err := display.OutputJSON(cmd.OutOrStdout(), v); err != nil {
		return errors.Wrap(err, "failed to format JSON")
	}
	return nil
}

func renderTable(rows [][]string) error {
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

// short abbreviates a hex key for tables.
func short(hexKey string) string {
	if len(hexKey) <= 16 {
		return hexKey
	}
	return hexKey[:8] + "…" + hexKey[len(hexKey)-6:]
}

// contentSource is the shared --file/--digest/--locator flag set.
type contentSource struct {
	file    string
	digest  string
	locator string
}

func (s *contentSource) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.file, "file", "f", "", "Read the asset from a local file")
	cmd.Flags().StringVar(&s.digest, "digest", "", "SHA-256 of the asset bytes (hex)")
	cmd.Flags().StringVar(&s.locator, "locator", "", "Content locator (ipfs://CID, bare CID or https URL)")
}

// load reads the file, if any, and returns its bytes with the digest to use.
// An explicit --digest must agree with the file.
func (s *contentSource) load() ([]byte, string, error) {
	if s.file == "" {
		return nil, strings.TrimSpace(s.digest), nil
	}
	data, err := os.ReadFile(s.file)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read %s", s.file)
	}
	digest := keys.DigestOf(data).Hex()
	if s.digest != "" {
		want, err := keys.ParseDigest(s.digest)
		if err != nil {
			return nil, "", err
		}
		if want.Hex() != digest {
			return nil, "", errors.NewInvalidRequestError("--digest %s does not match %s (%s)", short(want.Hex()), s.file, short(digest))
		}
	}
	return data, digest, nil
}

// floatFlag returns the flag value only when the user set it.
func floatFlag(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}

func parseRegKey(arg string) (keys.RegistrationKey, error) {
	return keys.ParseRegistrationKey(strings.TrimPrefix(strings.TrimSpace(arg), "0x"))
}
