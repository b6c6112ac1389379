package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/proofchain/cmd/proofchain/commands"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/logger"
)

var rootCmd = &cobra.Command{
	Use:   "proofchain",
	Short: "proofchain - content registration and provenance",
	Long: `proofchain - Register media assets against a ledger and trace their provenance.

Each registration binds a content digest and a signer under a registration key,
persists the record, links it to earlier near-duplicates and anchors it on the
ledger as write-once boxes.

Available commands:
  register    - Register an asset
  keys        - Derive the content and registration keys for a digest
  registrants - List every registration of an asset
  trust       - Score the registrations of an asset
  classify    - Classify an unknown asset against the registry
  verify      - Compare an asset with one registration
  reconcile   - Bring a record's ledger status up to date
  revoke      - Revoke a registration
  embeddings  - Maintain stored embeddings
  db          - Database statistics
  am          - Manage configuration

Examples:
  proofchain register --file photo.jpg --signer ALICE --nonce TXID
  proofchain classify --file suspect.jpg --graph
  proofchain trust --file photo.jpg --check-ledger
  proofchain db stats`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 'am show' prints config to stdout and wants no log noise
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Print results as JSON")

	rootCmd.AddCommand(commands.RegisterCmd)
	rootCmd.AddCommand(commands.KeysCmd)
	rootCmd.AddCommand(commands.RegistrantsCmd)
	rootCmd.AddCommand(commands.TrustCmd)
	rootCmd.AddCommand(commands.ClassifyCmd)
	rootCmd.AddCommand(commands.VerifyCmd)
	rootCmd.AddCommand(commands.CompareCmd)
	rootCmd.AddCommand(commands.ReconcileCmd)
	rootCmd.AddCommand(commands.RevokeCmd)
	rootCmd.AddCommand(commands.EmbeddingsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", errors.Kind(err), err)
		for _, h := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", h)
		}
		os.Exit(1)
	}
}
