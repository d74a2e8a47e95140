package report

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes the header row and one row per suggestion. Failed chunks
// follow as "#" comment lines so that a partial report is never mistaken
// for a clean one.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if err := cw.Write(row.values()); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	for _, fc := range r.FailedChunks {
		if _, err := fmt.Fprintf(w, "# %s\n", failedChunkLine(fc)); err != nil {
			return err
		}
	}
	return nil
}
