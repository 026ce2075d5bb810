package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"fca_cleaner/internal/fca"
	"fca_cleaner/internal/pipeline"
)

type analyzeOptions struct {
	journey string
	json    bool
	store   bool
}

func newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze PATTERN...",
		Short: "Analyze one or more FCA patterns",
		Example: `  fca analyze "DEL AI BO M BA LON 1000.00 NUC 1000.00 END"
  fca analyze --journey "LON BA DOH" "LON BA PAR WY DOH 800.00 NUC 800.00 END"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.journey, "journey", "j", "", "journey to compare with the pattern route")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print results as JSON")
	cmd.Flags().BoolVar(&opts.store, "store", false, "save results to the configured storage")
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *analyzeOptions, args []string) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	proc, cleanup, err := newProcessor(ctx, cc, opts.store, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	outcomes := make([]pipeline.Outcome, 0, len(args))
	for _, pattern := range args {
		out, err := proc.Process(ctx, "cli", pipeline.Input{Pattern: pattern, Journey: opts.journey}, opts.store)
		if err != nil {
			return err
		}
		outcomes = append(outcomes, out)
	}

	w := cmd.OutOrStdout()
	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(outcomes) == 1 {
			return enc.Encode(outcomes[0])
		}
		return enc.Encode(outcomes)
	}

	for i, out := range outcomes {
		if i > 0 {
			fmt.Fprintln(w)
		}
		printAnalysis(w, out)
	}
	return nil
}

// printAnalysis writes a human readable report of one outcome.
func printAnalysis(w io.Writer, out pipeline.Outcome) {
	res := out.Result
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-14s %s\n", label+":", value)
		}
	}

	line("ID", out.ID)
	line("Original", res.Original)
	line("Cleaned", res.Cleaned)
	status := "invalid"
	if res.IsValid {
		status = "valid"
	}
	if res.ErrorCode != "" {
		status += " (" + string(res.ErrorCode) + ")"
	}
	line("Status", status)
	line("Message", res.Message)
	line("Mode", res.Mode.String())
	if res.Reconstructed {
		line("Reconstructed", "yes")
	}
	line("Garbage", strings.Join(res.GarbageTokens, ", "))
	line("Spacing fixes", strings.Join(res.SpacingFixes, "; "))
	line("Fare", fareSummary(res.Fare))
	if jm := res.JourneyMatch; jm != nil {
		if jm.IsMatch {
			line("Journey", "matched")
		} else {
			line("Journey", "missing "+strings.Join(jm.MissingSegments, ", "))
		}
	}
	for _, warn := range res.Warnings {
		line("Warning", warn)
	}
}

func fareSummary(fc fca.FareCalculation) string {
	s := "calculated " + fc.CalculatedTotal.StringFixed(2)
	if fc.DeclaredTotal != nil {
		s += ", declared " + fc.DeclaredTotal.StringFixed(2)
	}
	if fc.DeclaredCurrency != "" {
		s += " " + fc.DeclaredCurrency
	}
	s += " [" + fc.Status.String() + "]"
	if fc.MismatchDetail != "" {
		s += " " + fc.MismatchDetail
	}
	return s
}
