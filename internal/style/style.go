// Package style loads the style guide that is sent as the system prompt and
// builds the per-document header placed at the top of every chunk.
package style

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/copyedit/internal/config"
)

//go:embed default.yaml
var defaultGuide []byte

// Guide is a parsed style guide.
type Guide struct {
	Name         string            `yaml:"name"`
	Instructions string            `yaml:"instructions"`
	Rules        []string          `yaml:"rules"`
	DocTypes     map[string]string `yaml:"doc_types"`
	Audiences    map[string]string `yaml:"audiences"`
}

// Load reads a guide from path, or the built-in guide when path is empty.
func Load(path string) (*Guide, error) {
	data := defaultGuide
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read style guide: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes and validates a YAML guide.
func Parse(data []byte) (*Guide, error) {
	var g Guide
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, config.Invalidf("style guide: %v", err)
	}
	g.DocTypes = normalizeKeys(g.DocTypes)
	g.Audiences = normalizeKeys(g.Audiences)
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate rejects a guide that would produce an empty system prompt.
func (g *Guide) Validate() error {
	if strings.TrimSpace(g.Instructions) == "" && len(g.rules()) == 0 {
		return config.Invalidf("style guide has no instructions or rules")
	}
	return nil
}

// SystemPrompt renders the instructions and rules as one string.
func (g *Guide) SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(g.Instructions))
	if rules := g.rules(); len(rules) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Style rules:")
		for _, r := range rules {
			sb.WriteString("\n- ")
			sb.WriteString(r)
		}
	}
	return sb.String()
}

// Header describes the document to the model. Notes for a known document
// type or audience are appended; unknown values are passed through as given.
func (g *Guide) Header(docType, audience string) string {
	docType = strings.TrimSpace(docType)
	if docType == "" {
		docType = "report"
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		audience = "general"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Document type: %s\nAudience: %s", docType, audience)
	if note := g.DocTypes[key(docType)]; note != "" {
		sb.WriteString("\nDocument notes: " + note)
	}
	if note := g.Audiences[key(audience)]; note != "" {
		sb.WriteString("\nAudience notes: " + note)
	}
	return sb.String()
}

// KnownDocTypes lists the document types the guide has notes for, sorted.
func (g *Guide) KnownDocTypes() []string { return sortedKeys(g.DocTypes) }

// KnownAudiences lists the audiences the guide has notes for, sorted.
func (g *Guide) KnownAudiences() []string { return sortedKeys(g.Audiences) }

func (g *Guide) rules() []string {
	var out []string
	for _, r := range g.Rules {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func key(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[key(k)] = strings.TrimSpace(v)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
