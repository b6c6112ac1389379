package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/registrar"
	"github.com/teranos/proofchain/trust"
)

// RegistrantsCmd lists the registrations of an asset
var RegistrantsCmd = &cobra.Command{
	Use:   "registrants",
	Short: "List every registration of an asset",
	Long: `List every registration of an asset, oldest first.

The asset is looked up by digest (directly or from --file) or, failing that, by locator.`,
	RunE: runRegistrants,
}

// TrustCmd scores the registrations of an asset
var TrustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Score the registrations of an asset",
	Long: `Score every registration of an asset from 0 to 100.

Signals: verified signature, on-ledger transaction, resolvable locator, KYC on
file and not revoked. A forgery likelihood subtracts up to 20 points.

Examples:
  proofchain trust --file photo.jpg
  proofchain trust --digest 2cf24d... --check-ledger
  proofchain trust --locator ipfs://bafy... --skip-resolve`,
	RunE: runTrust,
}

// ClassifyCmd classifies an unknown asset
var ClassifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify an unknown asset against the registry",
	Long: `Classify an asset as exact_registered, derivative or unregistered.

An exact match shares the digest or the locator of a registration. A derivative
is within the similarity threshold of a registered embedding.

Examples:
  proofchain classify --file suspect.jpg
  proofchain classify --file suspect.jpg --matches --graph --json
  proofchain classify --locator https://example.com/a.png --threshold 0.85`,
	RunE: runClassify,
}

// VerifyCmd compares an asset with one registration
var VerifyCmd = &cobra.Command{
	Use:   "verify <reg_key>",
	Short: "Compare an asset with one registration",
	Long: `Decide whether an asset is authentic to a registration.

The registration's stored embedding is checked against its ledger anchor first;
a mismatch is refused.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

// CompareCmd scores a suspect asset against a registered one
var CompareCmd = &cobra.Command{
	Use:   "compare [reg_key]",
	Short: "Score a suspect asset against a registered one",
	Long: `Score how closely a suspect asset reproduces a registered asset.

The registered side is a registration key or --registered-locator. Identical
bytes short-circuit; otherwise the perceptual hash distance and embedding
similarity are combined into one score and a label.

Examples:
  proofchain compare 3f2a...e9 --file suspect.png
  proofchain compare --registered-locator ipfs://bafy... --locator https://example.com/copy.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompare,
}

var (
	registrantsSource contentSource

	trustSource      contentSource
	trustCheckLedger bool
	trustSkipResolve bool
	trustSkipForgery bool

	classifySource  contentSource
	classifyMatches bool
	classifyGraph   bool
	classifyTopK    int

	verifySource contentSource

	compareSource     contentSource
	compareRegistered string
)

func init() {
	registrantsSource.bind(RegistrantsCmd)

	trustSource.bind(TrustCmd)
	TrustCmd.Flags().BoolVar(&trustCheckLedger, "check-ledger", false, "Confirm recorded transactions against the ledger")
	TrustCmd.Flags().BoolVar(&trustSkipResolve, "skip-resolve", false, "Do not probe content locators")
	TrustCmd.Flags().BoolVar(&trustSkipForgery, "skip-forgery", false, "Drop the forgery penalty")

	classifySource.bind(ClassifyCmd)
	ClassifyCmd.Flags().Float64("threshold", 0, "Similarity threshold for derivatives (default embeddings.link_threshold)")
	ClassifyCmd.Flags().BoolVar(&classifyMatches, "matches", false, "Include every ranked match")
	ClassifyCmd.Flags().BoolVar(&classifyGraph, "graph", false, "Include the lineage graph")
	ClassifyCmd.Flags().IntVar(&classifyTopK, "top-k", 0, "Maximum matches and graph candidates (default graph.top_k)")

	verifySource.bind(VerifyCmd)
	VerifyCmd.Flags().Float64("threshold", 0, "Similarity threshold for authenticity (default embeddings.verify_threshold)")

	compareSource.bind(CompareCmd)
	CompareCmd.Flags().StringVar(&compareRegistered, "registered-locator", "", "Locator of the registered asset when no registration key is given")
}

func lookupFrom(s *contentSource) (registrar.Lookup, error) {
	_, digest, err := s.load()
	if err != nil {
		return registrar.Lookup{}, err
	}
	return registrar.Lookup{DigestHex: digest, Locator: s.locator}, nil
}

func runRegistrants(cmd *cobra.Command, args []string) error {
	lookup, err := lookupFrom(&registrantsSource)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	records, kHex, err := a.registrar.Registrants(context.Background(), lookup)
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, map[string]interface{}{
			"content_key": kHex,
			"registrants": records,
			"count":       len(records),
		})
	}
	if len(records) == 0 {
		pterm.Info.Println("No registrations")
		return nil
	}

	rows := [][]string{{"Registration", "Signer", "Ledger", "Nonce", "Signature", "Status", "Created"}}
	for _, rec := range records {
		rows = append(rows, []string{
			short(rec.RegKey.Hex()),
			rec.SignerID,
			string(rec.LedgerStatus),
			string(rec.NonceSource),
			string(rec.SignatureStatus),
			string(rec.Status),
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return renderTable(rows)
}

func runTrust(cmd *cobra.Command, args []string) error {
	lookup, err := lookupFrom(&trustSource)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.registrar.Trust(context.Background(), lookup, trust.Options{
		CheckLedger: trustCheckLedger,
		SkipResolve: trustSkipResolve,
		SkipForgery: trustSkipForgery,
	})
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, report)
	}
	if report.Count == 0 {
		pterm.Info.Println("No registrations")
		return nil
	}

	rows := [][]string{{"Registration", "Signer", "Sig", "Ledger", "Locator", "KYC", "Active", "Forgery", "Pct", "Score"}}
	for _, r := range report.Records {
		forgery := r.Forgery.Method
		if r.Forgery.Score != nil {
			forgery = fmt.Sprintf("%s %.2f", r.Forgery.Method, *r.Forgery.Score)
		}
		rows = append(rows, []string{
			short(r.RegKey),
			r.SignerID,
			check(r.Signals.SignatureVerified),
			check(r.Signals.OnLedger),
			check(r.Signals.Resolvable),
			check(r.Signals.KYCPresent),
			check(r.Signals.NotRevoked),
			forgery,
			fmt.Sprintf("%.1f", r.Pct),
			fmt.Sprintf("%.2f", r.Score5),
		})
	}
	if err := renderTable(rows); err != nil {
		return err
	}
	pterm.Info.Printf("%d registrations, %d distinct signers, average %.1f\n",
		report.Count, report.DistinctSigners, *report.Average)
	return nil
}

func check(b bool) string {
	if b {
		return "✓"
	}
	return "·"
}

func runClassify(cmd *cobra.Command, args []string) error {
	data, digest, err := classifySource.load()
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.registrar.Classify(context.Background(), registrar.ClassifyQuery{
		Content:        data,
		Locator:        classifySource.locator,
		DigestHex:      digest,
		Threshold:      floatFlag(cmd, "threshold"),
		IncludeMatches: classifyMatches,
		IncludeGraph:   classifyGraph,
		TopK:           classifyTopK,
	})
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, res)
	}

	switch res.Status {
	case registrar.ClassExactRegistered:
		pterm.Success.Printf("Registered: %s by %s\n", short(res.ExactMatch.RegKey.Hex()), res.ExactMatch.SignerID)
	case registrar.ClassDerivative:
		pterm.Warning.Printf("Derivative of %s by %s (similarity %.4f >= %.2f)\n",
			short(res.BestMatch.Record.RegKey.Hex()), res.BestMatch.Record.SignerID, res.BestMatch.Similarity, res.Threshold)
	default:
		pterm.Info.Println("Unregistered")
	}
	if res.EmbeddingSkipped != "" {
		pterm.Warning.Printf("No similarity search: %s\n", res.EmbeddingSkipped)
	}
	if len(res.Matches) > 0 {
		rows := [][]string{{"Registration", "Signer", "Similarity"}}
		for _, m := range res.Matches {
			rows = append(rows, []string{short(m.Record.RegKey.Hex()), m.Record.SignerID, fmt.Sprintf("%.4f", m.Similarity)})
		}
		if err := renderTable(rows); err != nil {
			return err
		}
	}
	if res.Graph != nil {
		pterm.Info.Printf("Lineage graph: %d nodes, %d links (use --json for the full graph)\n",
			res.Graph.Meta.Stats.TotalNodes, res.Graph.Meta.Stats.TotalEdges)
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	rk, err := parseRegKey(args[0])
	if err != nil {
		return err
	}
	data, _, err := verifySource.load()
	if err != nil {
		return err
	}
	if len(data) == 0 && verifySource.locator == "" {
		return errors.NewInvalidRequestError("--file or --locator is required")
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.registrar.Verify(context.Background(), registrar.VerifyQuery{
		RegKey:    rk,
		Content:   data,
		Locator:   verifySource.locator,
		Threshold: floatFlag(cmd, "threshold"),
	})
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, res)
	}

	line := fmt.Sprintf("%s (similarity %.4f, threshold %.2f)", res.Decision, res.Similarity, res.Threshold)
	if res.Decision == dedup.DecisionAuthentic {
		pterm.Success.Println(line)
	} else {
		pterm.Warning.Println(line)
	}
	if res.AnchorVerified != nil {
		pterm.Info.Println("Embedding matches the ledger anchor")
	}
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	q := registrar.CompareQuery{Locator: compareRegistered, SuspectLocator: compareSource.locator}
	if len(args) == 1 {
		rk, err := parseRegKey(args[0])
		if err != nil {
			return err
		}
		q.RegKey = &rk
	}
	data, _, err := compareSource.load()
	if err != nil {
		return err
	}
	q.Suspect = data
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.registrar.Compare(context.Background(), q)
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(cmd, res)
	}

	line := fmt.Sprintf("%s (score %.2f)", res.Label, res.Combined)
	switch res.Label {
	case dedup.LabelIdentical, dedup.LabelNearDuplicate:
		pterm.Success.Println(line)
	case dedup.LabelInconclusive:
		pterm.Info.Println(line)
	default:
		pterm.Warning.Println(line)
	}
	if res.PHashDistance != nil {
		pterm.Info.Printfln("Perceptual hash distance %d", *res.PHashDistance)
	}
	if res.EmbeddingSimilarity != nil {
		pterm.Info.Printfln("Embedding similarity %.4f", *res.EmbeddingSimilarity)
	}
	return nil
}
