package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"fca_cleaner/internal/batch"
	"fca_cleaner/internal/pipeline"
)

type batchOptions struct {
	input   string
	output  string
	format  string
	workers int
	store   bool
}

func newBatchCmd() *cobra.Command {
	opts := &batchOptions{}

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Analyze a file of patterns",
		Long: "Reads one pattern per line (a TAB separates an optional journey) or an\n" +
			"XLSX sheet with pattern and journey columns, and writes every result as\n" +
			"JSON lines, CSV or XLSX. A summary is printed to stderr.",
		Example: `  fca batch --input patterns.txt --output results.csv
  fca batch --input bookings.xlsx --output report.xlsx --workers 16`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "-", "input file, .xlsx or text; - reads stdin")
	f.StringVarP(&opts.output, "output", "o", "-", "output file; - writes stdout")
	f.StringVarP(&opts.format, "format", "f", "", "output format (jsonl, csv, xlsx); default from the output extension")
	f.IntVarP(&opts.workers, "workers", "w", 0, "parallel workers (default from batch.workers)")
	f.BoolVar(&opts.store, "store", false, "save results to the configured storage")
	return cmd
}

func runBatch(cmd *cobra.Command, opts *batchOptions) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	format := opts.format
	if format == "" {
		format = formatFromPath(opts.output)
	}

	inputs, err := readInputs(cmd, opts.input)
	if err != nil {
		return err
	}

	proc, cleanup, err := newProcessor(ctx, cc, opts.store, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	workers := opts.workers
	if workers <= 0 {
		workers = cc.Config.Batch.Workers
	}
	runner := batch.NewRunner(proc, batch.Options{
		Workers: workers,
		Persist: opts.store,
		Logger:  cc.Logger.Named("batch"),
	})

	rep, err := runner.Run(ctx, inputs)
	if err != nil {
		return err
	}

	if err := writeReport(cmd, opts.output, format, rep); err != nil {
		return err
	}

	s := rep.Summary
	fmt.Fprintf(cmd.ErrOrStderr(),
		"%d patterns: %d valid, %d invalid, %d reconstructed, %d fare mismatches, %d journey gaps\n",
		s.Total, s.Valid, s.Invalid, s.Reconstructed, s.FareMismatches, s.JourneyGaps)
	return nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return batch.FormatCSV
	case ".xlsx":
		return batch.FormatXLSX
	}
	return batch.FormatJSONL
}

func readInputs(cmd *cobra.Command, path string) ([]pipeline.Input, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return batch.ReadXLSX(r)
	}
	return batch.ReadLines(r)
}

func writeReport(cmd *cobra.Command, path, format string, rep *batch.Report) error {
	if path == "-" || path == "" {
		return batch.Write(cmd.OutOrStdout(), format, rep)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := batch.Write(f, format, rep); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
