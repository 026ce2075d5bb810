// Package batch analyses files of patterns with a bounded worker pool and
// writes the results as JSON lines, CSV or an XLSX workbook.
package batch

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"fca_cleaner/internal/pipeline"
)

// ReadLines reads one pattern per line. A tab separates an optional journey
// string. Blank lines and lines starting with # are skipped.
func ReadLines(r io.Reader) ([]pipeline.Input, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var inputs []pipeline.Input
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pattern, journey, _ := strings.Cut(line, "\t")
		inputs = append(inputs, pipeline.Input{
			Pattern: strings.TrimSpace(pattern),
			Journey: strings.TrimSpace(journey),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return inputs, nil
}

// ReadXLSX reads patterns from the first sheet of a workbook. If the first
// row names a "pattern" column (and optionally "journey") those columns are
// used; otherwise column A is the pattern and column B the journey.
func ReadXLSX(r io.Reader) ([]pipeline.Input, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	patternCol, journeyCol := 0, 1
	if hp, hj, ok := headerColumns(rows[0]); ok {
		patternCol, journeyCol = hp, hj
		rows = rows[1:]
	}

	var inputs []pipeline.Input
	for _, row := range rows {
		pattern := strings.TrimSpace(cell(row, patternCol))
		if pattern == "" {
			continue
		}
		inputs = append(inputs, pipeline.Input{
			Pattern: pattern,
			Journey: strings.TrimSpace(cell(row, journeyCol)),
		})
	}
	return inputs, nil
}

func headerColumns(row []string) (pattern, journey int, ok bool) {
	pattern, journey = -1, -1
	for i, name := range row {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "pattern":
			pattern = i
		case "journey":
			journey = i
		}
	}
	return pattern, journey, pattern >= 0
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
