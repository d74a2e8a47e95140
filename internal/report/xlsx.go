package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	SuggestionsSheet  = "Suggestions"
	FailedChunksSheet = "Failed chunks"
)

var failedColumns = []string{"chunk_id", "page_start", "page_end", "kind", "error"}

// WriteXLSX writes a workbook with a suggestions sheet and, when any chunk
// failed, a second sheet listing the failures.
func (r *Report) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SuggestionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := writeHeader(f, SuggestionsSheet, Columns, bold); err != nil {
		return err
	}
	for i, row := range r.Rows {
		values := []any{
			row.Page, row.Issue, row.OriginalText, row.SuggestedText,
			row.Rationale, string(row.Severity), row.Confidence,
		}
		if err := setRow(f, SuggestionsSheet, i+2, values); err != nil {
			return err
		}
	}
	widths := map[string]float64{"A": 6, "B": 18, "C": 40, "D": 40, "E": 50, "F": 12, "G": 11}
	for col, wd := range widths {
		if err := f.SetColWidth(SuggestionsSheet, col, col, wd); err != nil {
			return err
		}
	}

	if len(r.FailedChunks) > 0 {
		if _, err := f.NewSheet(FailedChunksSheet); err != nil {
			return fmt.Errorf("add sheet: %w", err)
		}
		if err := writeHeader(f, FailedChunksSheet, failedColumns, bold); err != nil {
			return err
		}
		for i, fc := range r.FailedChunks {
			values := []any{fc.ChunkID, fc.PageStart, fc.PageEnd, string(fc.Kind), fc.Error}
			if err := setRow(f, FailedChunksSheet, i+2, values); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, cols []string, style int) error {
	values := make([]any, len(cols))
	for i, c := range cols {
		values[i] = c
	}
	if err := setRow(f, sheet, 1, values); err != nil {
		return err
	}
	return f.SetRowStyle(sheet, 1, 1, style)
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("%s row %d: %w", sheet, row, err)
	}
	return nil
}
