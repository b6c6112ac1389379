package commands

import (
	"context"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// EmbeddingsCmd groups embedding maintenance
var EmbeddingsCmd = &cobra.Command{
	Use:   "embeddings",
	Short: "Maintain stored embeddings",
}

var embeddingsBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute embeddings for stored records",
	Long: `Compute embeddings for records that have none, fetching each record's locator.

With --all every record is re-embedded. Near-duplicate lineage is not recomputed.`,
	RunE: runEmbeddingsBackfill,
}

var backfillAll bool

func init() {
	embeddingsBackfillCmd.Flags().BoolVar(&backfillAll, "all", false, "Re-embed records that already have an embedding")
	EmbeddingsCmd.AddCommand(embeddingsBackfillCmd)
}

func runEmbeddingsBackfill(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var spinner *pterm.SpinnerPrinter
	if !jsonOutput(cmd) {
		spinner, _ = pterm.DefaultSpinner.Start("Computing embeddings...")
	}
	report, err := a.registrar.BackfillEmbeddings(context.Background(), !backfillAll)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, report)
	}

	pterm.Success.Printf("Updated %d, skipped %d, failed %d\n", report.Updated, report.Skipped, len(report.Failed))
	if len(report.Failed) > 0 {
		regKeys := make([]string, 0, len(report.Failed))
		for rk := range report.Failed {
			regKeys = append(regKeys, rk)
		}
		sort.Strings(regKeys)
		rows := [][]string{{"Registration", "Reason"}}
		for _, rk := range regKeys {
			rows = append(rows, []string{short(rk), report.Failed[rk]})
		}
		return renderTable(rows)
	}
	return nil
}
