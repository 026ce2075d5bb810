package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"fca_cleaner/internal/pipeline"
)

// Output formats accepted by Write.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
)

// Write encodes rep in the named format.
func Write(w io.Writer, format string, rep *Report) error {
	switch strings.ToLower(format) {
	case FormatJSONL, "":
		return WriteJSONL(w, rep.Results)
	case FormatCSV:
		return WriteCSV(w, rep.Results)
	case FormatXLSX:
		return WriteXLSX(w, rep)
	}
	return fmt.Errorf("unknown output format %q", format)
}

// WriteJSONL writes one JSON object per outcome.
func WriteJSONL(w io.Writer, outcomes []pipeline.Outcome) error {
	enc := json.NewEncoder(w)
	for i, o := range outcomes {
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("encode result %d: %w", i, err)
		}
	}
	return nil
}

var columns = []string{
	"id", "original", "cleaned", "is_valid", "reconstructed", "error_code", "message", "mode",
	"declared_currency", "declared_total", "calculated_total", "fare_status",
	"garbage_tokens", "spacing_fixes", "warnings", "journey_match", "missing_segments",
}

// row flattens an outcome into the columns above. List fields are joined
// with "; ".
func row(o pipeline.Outcome) []string {
	res := o.Result
	declared := ""
	if res.Fare.DeclaredTotal != nil {
		declared = res.Fare.DeclaredTotal.StringFixed(2)
	}
	journey, missing := "", ""
	if res.JourneyMatch != nil {
		journey = strconv.FormatBool(res.JourneyMatch.IsMatch)
		missing = strings.Join(res.JourneyMatch.MissingSegments, "; ")
	}
	return []string{
		o.ID,
		res.Original,
		res.Cleaned,
		strconv.FormatBool(res.IsValid),
		strconv.FormatBool(res.Reconstructed),
		string(res.ErrorCode),
		res.Message,
		res.Mode.String(),
		res.Fare.DeclaredCurrency,
		declared,
		res.Fare.CalculatedTotal.StringFixed(2),
		res.Fare.Status.String(),
		strings.Join(res.GarbageTokens, "; "),
		strings.Join(res.SpacingFixes, "; "),
		strings.Join(res.Warnings, "; "),
		journey,
		missing,
	}
}

// WriteCSV writes a header and one row per outcome.
func WriteCSV(w io.Writer, outcomes []pipeline.Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		if err := cw.Write(row(o)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Sheet names of the XLSX report.
const (
	ResultsSheet = "Results"
	SummarySheet = "Summary"
)

// WriteXLSX writes a workbook with a Results sheet and a Summary sheet.
func WriteXLSX(w io.Writer, rep *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ResultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := setRow(f, ResultsSheet, 1, toAny(columns)); err != nil {
		return err
	}
	n := 2
	for _, o := range rep.Results {
		if o.Result == nil {
			continue
		}
		if err := setRow(f, ResultsSheet, n, toAny(row(o))); err != nil {
			return err
		}
		n++
	}
	if err := f.SetRowStyle(ResultsSheet, 1, 1, header); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetPanes(ResultsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	s := rep.Summary
	summary := [][]any{
		{"metric", "count"},
		{"total", s.Total},
		{"valid", s.Valid},
		{"invalid", s.Invalid},
		{"reconstructed", s.Reconstructed},
		{"fare_mismatches", s.FareMismatches},
		{"garbage_tokens", s.GarbageTokens},
		{"journey_gaps", s.JourneyGaps},
		{"store_errors", s.StoreErrors},
	}
	for i, r := range summary {
		if err := setRow(f, SummarySheet, i+1, r); err != nil {
			return err
		}
	}
	if err := f.SetRowStyle(SummarySheet, 1, 1, header); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, n int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, n, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
