package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Severity ranks how strongly an edit is recommended.
type Severity string

const (
	SeverityCritical    Severity = "critical"
	SeverityRecommended Severity = "recommended"
	SeverityOptional    Severity = "optional"
)

// Rank orders severities for reporting; lower sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityRecommended:
		return 1
	default:
		return 2
	}
}

// ParseSeverity maps free-form model output onto a known severity.
// Unknown or missing values become optional.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "high", "major", "error":
		return SeverityCritical
	case "recommended", "medium", "moderate", "warning":
		return SeverityRecommended
	default:
		return SeverityOptional
	}
}

// Suggestion is one proposed edit.
type Suggestion struct {
	PageNumber    int      `json:"page_number"`
	Issue         string   `json:"issue"`
	OriginalText  string   `json:"original_text"`
	SuggestedText string   `json:"suggested_text"`
	Rationale     string   `json:"rationale"`
	Severity      Severity `json:"severity"`
	Confidence    float64  `json:"confidence"`
}

// Alternate keys seen in model output, in lookup order.
var suggestionKeys = map[string][]string{
	"page":      {"page_number", "page", "pageNumber"},
	"issue":     {"issue", "issue_type", "category", "type"},
	"original":  {"original_text", "original", "originalText"},
	"suggested": {"suggested_text", "suggestion", "suggested", "suggestedText", "replacement"},
	"rationale": {"rationale", "reason", "explanation"},
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// ParseSuggestions decodes a model response into suggestions. It never
// fails: an unusable response yields no suggestions and a warning. Items
// without a page number are attributed to defaultPage.
func ParseSuggestions(body string, defaultPage int) ([]Suggestion, []string) {
	text := stripCodeBlock(body)
	if text == "" {
		return nil, []string{"empty model response"}
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		inner := findFirstJSON(text)
		if inner == "" {
			return nil, []string{fmt.Sprintf("response is not JSON: %v (raw: %s)", err, truncate(text, 200))}
		}
		if err2 := json.Unmarshal([]byte(inner), &doc); err2 != nil {
			return nil, []string{fmt.Sprintf("response is not JSON: %v (raw: %s)", err2, truncate(text, 200))}
		}
	}

	items, ok := suggestionArray(doc)
	if !ok {
		return nil, []string{fmt.Sprintf("response has no suggestion list (raw: %s)", truncate(text, 200))}
	}

	var (
		out      []Suggestion
		warnings []string
	)
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("suggestion %d is not an object; skipped", i))
			continue
		}
		sg, warn := fromMap(m, defaultPage)
		if warn != "" {
			warnings = append(warnings, fmt.Sprintf("suggestion %d: %s", i, warn))
		}
		out = append(out, sg)
	}
	return out, warnings
}

// suggestionArray accepts a bare array, {"suggestions": [...]}, or an object
// holding exactly one array. A null suggestions list means no edits.
func suggestionArray(doc any) ([]any, bool) {
	switch v := doc.(type) {
	case []any:
		return v, true
	case map[string]any:
		if list, ok := v["suggestions"]; ok {
			if list == nil {
				return []any{}, true
			}
			if arr, ok := list.([]any); ok {
				return arr, true
			}
		}
		var found []any
		n := 0
		for _, val := range v {
			if arr, ok := val.([]any); ok {
				found = arr
				n++
			}
		}
		if n == 1 {
			return found, true
		}
		if _, ok := lookup(v, "original"); ok {
			return []any{v}, true
		}
	}
	return nil, false
}

// maxPage bounds page numbers accepted from model output.
const maxPage = math.MaxInt32

// fromMap builds a suggestion from one decoded item. The returned warning is
// non-empty when a page number was present but unusable.
func fromMap(m map[string]any, defaultPage int) (Suggestion, string) {
	s := Suggestion{
		PageNumber:    defaultPage,
		Issue:         stringField(m, "issue"),
		OriginalText:  stringField(m, "original"),
		SuggestedText: stringField(m, "suggested"),
		Rationale:     stringField(m, "rationale"),
		Severity:      SeverityOptional,
	}
	var warn string
	if v, ok := lookup(m, "page"); ok {
		n, ok := toFloat(v)
		switch {
		case ok && n == 0:
			// Some models use 0 for "unknown".
		case ok && n >= 1 && n <= maxPage && n == math.Trunc(n):
			s.PageNumber = int(n)
		default:
			warn = fmt.Sprintf("invalid page number %v; using page %d", v, defaultPage)
		}
	}
	if v, ok := m["severity"].(string); ok {
		s.Severity = ParseSeverity(v)
	}
	if v, ok := m["confidence"]; ok {
		if f, ok := toFloat(v); ok && !math.IsNaN(f) {
			s.Confidence = math.Max(0, math.Min(1, f))
		}
	}
	return s, warn
}

func lookup(m map[string]any, field string) (any, bool) {
	for _, k := range suggestionKeys[field] {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(m map[string]any, field string) string {
	v, ok := lookup(m, field)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// findFirstJSON returns the first balanced JSON array or object in s,
// skipping brackets inside string literals.
func findFirstJSON(s string) string {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
