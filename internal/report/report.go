// Package report turns a review result into a suggestion table and exports
// it as CSV or XLSX.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dgallion1/copyedit/internal/extract"
	"github.com/dgallion1/copyedit/internal/pipeline"
)

// Columns are the exported column names, in order.
var Columns = []string{"page", "issue", "original_text", "suggested_text", "rationale", "severity", "confidence"}

// Row is one suggestion in report form.
type Row struct {
	Page          int              `json:"page"`
	Issue         string           `json:"issue"`
	OriginalText  string           `json:"original_text"`
	SuggestedText string           `json:"suggested_text"`
	Rationale     string           `json:"rationale"`
	Severity      extract.Severity `json:"severity"`
	Confidence    float64          `json:"confidence"`
}

// Report is the formatted output of one review.
type Report struct {
	Title        string                 `json:"title,omitempty"`
	Rows         []Row                  `json:"rows"`
	FailedChunks []pipeline.FailedChunk `json:"failed_chunks"`
	Warnings     []string               `json:"warnings"`
}

// Build converts res into a report. Suggestions with neither original nor
// suggested text carry nothing to act on and are dropped with a warning.
// Rows are ordered by page, then severity; ties keep the model's order.
func Build(title string, res *pipeline.Result) *Report {
	r := &Report{
		Title:        title,
		Rows:         []Row{},
		FailedChunks: []pipeline.FailedChunk{},
		Warnings:     []string{},
	}
	if res == nil {
		return r
	}
	r.FailedChunks = append(r.FailedChunks, res.FailedChunks...)
	r.Warnings = append(r.Warnings, res.Warnings...)

	for _, s := range res.Suggestions {
		if strings.TrimSpace(s.OriginalText) == "" && strings.TrimSpace(s.SuggestedText) == "" {
			r.Warnings = append(r.Warnings, fmt.Sprintf("page %d: suggestion %q has no text; dropped", s.PageNumber, s.Issue))
			continue
		}
		r.Rows = append(r.Rows, Row{
			Page:          s.PageNumber,
			Issue:         s.Issue,
			OriginalText:  s.OriginalText,
			SuggestedText: s.SuggestedText,
			Rationale:     s.Rationale,
			Severity:      s.Severity,
			Confidence:    s.Confidence,
		})
	}

	sort.SliceStable(r.Rows, func(i, j int) bool {
		a, b := r.Rows[i], r.Rows[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		return a.Severity.Rank() < b.Severity.Rank()
	})
	return r
}

// Partial reports whether some pages went unreviewed.
func (r *Report) Partial() bool { return len(r.FailedChunks) > 0 }

// Counts returns the number of rows per severity.
func (r *Report) Counts() map[extract.Severity]int {
	out := map[extract.Severity]int{}
	for _, row := range r.Rows {
		out[row.Severity]++
	}
	return out
}

func (row Row) values() []string {
	return []string{
		strconv.Itoa(row.Page),
		row.Issue,
		row.OriginalText,
		row.SuggestedText,
		row.Rationale,
		string(row.Severity),
		strconv.FormatFloat(row.Confidence, 'f', 2, 64),
	}
}

func failedChunkLine(fc pipeline.FailedChunk) string {
	return fmt.Sprintf("chunk %d (pages %d-%d) failed: %s", fc.ChunkID, fc.PageStart, fc.PageEnd, fc.Error)
}
