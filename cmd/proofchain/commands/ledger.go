package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// ReconcileCmd reads a registration's ledger boxes
var ReconcileCmd = &cobra.Command{
	Use:   "reconcile <reg_key>",
	Short: "Bring a record's ledger status up to date",
	Long: `Read the ledger boxes of a registration.

Records stored while the ledger was unreachable, or whose box writes were left
to the client, are marked anchored once their registration box exists.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

// RevokeCmd revokes a registration
var RevokeCmd = &cobra.Command{
	Use:   "revoke <reg_key>",
	Short: "Revoke a registration",
	Long:  "Mark a registration revoked. Revocation lowers its trust score; ledger boxes are never removed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevoke,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rk, err := parseRegKey(args[0])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.registrar.Reconcile(context.Background(), rk)
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, map[string]interface{}{
			"record":            res.Record,
			"reg_box_present":   res.RegBoxPresent,
			"owner":             res.Owner,
			"media_box_present": res.MediaBoxPresent,
			"media_locator":     res.MediaLocator,
			"canonical_owner":   res.CanonicalOwner,
			"anchor_matches":    res.AnchorMatches,
		})
	}

	pterm.Printf("Ledger status:    %s\n", res.Record.LedgerStatus)
	if res.RegBoxPresent {
		pterm.Printf("Registration box: present (submitter %s, round %d)\n", res.Owner, res.RegBox.Round)
	} else {
		pterm.Printf("Registration box: absent\n")
	}
	if res.MediaBoxPresent {
		pterm.Printf("Media box:        %q (canonical owner: %t)\n", res.MediaLocator, res.CanonicalOwner)
	} else {
		pterm.Printf("Media box:        absent\n")
	}
	if res.AnchorMatches != nil && !*res.AnchorMatches {
		pterm.Warning.Println("Stored embedding does not match the ledger anchor")
	}
	return nil
}

func runRevoke(cmd *cobra.Command, args []string) error {
	rk, err := parseRegKey(args[0])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.registrar.Revoke(context.Background(), rk)
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, rec)
	}
	pterm.Success.Printf("Revoked %s\n", rec.RegKey.Hex())
	return nil
}
