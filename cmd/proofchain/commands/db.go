package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/teranos/proofchain/db"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
	"github.com/teranos/proofchain/registration"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the proofchain database",
	Long: `db — Inspect the registration database

Examples:
  proofchain db stats             # Record counts by ledger status and nonce source`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display registration counts, embedding coverage, lineage links and ledger status distribution",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.registrar.Stats(context.Background())
	if err != nil {
		return errors.Wrap(err, "failed to collect statistics")
	}
	schema, err := db.SchemaVersion(a.db)
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(cmd, map[string]interface{}{
			"database":       a.cfg.GetDatabasePath(),
			"schema_version": schema,
			"stats":          stats,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database Statistics\n")
	fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Fprintf(out, "Database Path:    %s\n", a.cfg.GetDatabasePath())
	fmt.Fprintf(out, "Schema Version:   %s\n", schema)
	fmt.Fprintf(out, "Registrations:    %d\n", stats.Records)
	fmt.Fprintf(out, "Content Keys:     %d\n", stats.ContentKeys)
	fmt.Fprintf(out, "Signers:          %d\n", stats.Signers)
	fmt.Fprintf(out, "With Embedding:   %d\n", stats.WithEmbedding)
	fmt.Fprintf(out, "Lineage Links:    %d\n", stats.Linked)
	fmt.Fprintf(out, "Revoked:          %d\n", stats.Revoked)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Ledger Status:\n")
	statuses := make([]string, 0, len(stats.LedgerStatus))
	for s := range stats.LedgerStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(out, "  %-18s %d\n", s, stats.LedgerStatus[registration.LedgerStatus(s)])
	}

	fmt.Fprintf(out, "Nonce Source:\n")
	sources := make([]string, 0, len(stats.NonceSource))
	for s := range stats.NonceSource {
		sources = append(sources, string(s))
	}
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Fprintf(out, "  %-18s %d\n", s, stats.NonceSource[keys.NonceSource(s)])
	}
	return nil
}
