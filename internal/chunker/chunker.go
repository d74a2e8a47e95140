package chunker

import (
	"fmt"
	"strings"

	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/document"
	"github.com/dgallion1/copyedit/internal/tokens"
)

// SafetyFraction is the share of the context window chunks may fill. The
// rest is left for the instruction prompt and the model's response.
const SafetyFraction = 0.9

// Estimator prices headers and pages. *tokens.Estimator satisfies it.
type Estimator interface {
	Text(s string) int
	Unit(u document.PageUnit, d tokens.Detail) (int, error)
}

// Options controls planning.
type Options struct {
	Mode             document.Mode
	Detail           tokens.Detail // Image mode only.
	WindowBudget     int           // Model context window in tokens.
	MaxUnitsPerChunk int           // Image mode only; 0 means unbounded.
}

// Part is one fragment of an image-mode user message.
type Part struct {
	Text  string
	Image *document.ImageRef
}

// Payload is a chunk's user message in wire order.
type Payload struct {
	Mode   document.Mode
	Detail tokens.Detail
	Text   string // Text mode: header plus "page N:" blocks.
	Parts  []Part // Image mode: header, then label and image per page.
}

// Chunk is a contiguous, page-aligned group of units sent as one request.
type Chunk struct {
	ID              int
	PageStart       int
	PageEnd         int
	Units           []document.PageUnit
	Payload         Payload
	EstimatedTokens int
	Overflow        bool // A single unit that alone exceeds the budget.
}

// Pages returns the page numbers covered by the chunk.
func (c Chunk) Pages() []int {
	out := make([]int, len(c.Units))
	for i, u := range c.Units {
		out[i] = u.Number
	}
	return out
}

// Warning is a soft violation recorded during planning.
type Warning struct {
	ChunkID int
	Page    int
	Message string
}

// Result is the planner's output.
type Result struct {
	Chunks       []Chunk
	Warnings     []Warning
	HeaderTokens int
	SafetyBudget int
}

// SafetyBudget returns floor(window * 0.9).
func SafetyBudget(window int) int {
	return window * 9 / 10
}

// Plan partitions units into page-aligned chunks that fit the safety budget.
// Units are packed greedily in page order. A unit whose cost alone exceeds
// the budget is placed in a chunk by itself and reported as a warning.
func Plan(units []document.PageUnit, header string, opts Options, est Estimator) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if err := document.Validate(units); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	res := &Result{
		HeaderTokens: est.Text(header),
		SafetyBudget: SafetyBudget(opts.WindowBudget),
	}
	available := res.SafetyBudget - res.HeaderTokens
	if available <= 0 {
		return nil, config.Invalidf("header needs %d tokens but the safety budget is %d (window %d)",
			res.HeaderTokens, res.SafetyBudget, opts.WindowBudget)
	}

	unitCap := 0
	if opts.Mode == document.ModeImage {
		unitCap = opts.MaxUnitsPerChunk
	}

	var current []document.PageUnit
	currentTokens := 0

	emit := func(group []document.PageUnit, groupTokens int, overflow bool) {
		id := len(res.Chunks) + 1
		res.Chunks = append(res.Chunks, Chunk{
			ID:              id,
			PageStart:       group[0].Number,
			PageEnd:         group[len(group)-1].Number,
			Units:           group,
			Payload:         assemble(header, group, opts),
			EstimatedTokens: res.HeaderTokens + groupTokens,
			Overflow:        overflow,
		})
	}

	for _, u := range units {
		if err := checkPayload(u, opts.Mode); err != nil {
			return nil, err
		}
		cost, err := est.Unit(u, opts.Detail)
		if err != nil {
			return nil, fmt.Errorf("estimate page %d: %w", u.Number, err)
		}

		full := unitCap > 0 && len(current) >= unitCap
		if len(current) > 0 && (currentTokens+cost > available || full) {
			emit(current, currentTokens, false)
			current = nil
			currentTokens = 0
		}

		if cost > available {
			emit([]document.PageUnit{u}, cost, true)
			res.Warnings = append(res.Warnings, Warning{
				ChunkID: len(res.Chunks),
				Page:    u.Number,
				Message: fmt.Sprintf("page %d needs %d tokens, over the %d available per chunk; sent alone",
					u.Number, cost, available),
			})
			continue
		}

		current = append(current, u)
		currentTokens += cost
	}
	if len(current) > 0 {
		emit(current, currentTokens, false)
	}

	return res, nil
}

func validateOptions(opts Options) error {
	if opts.WindowBudget <= 0 {
		return config.Invalidf("window budget must be positive, got %d", opts.WindowBudget)
	}
	switch opts.Mode {
	case document.ModeText:
	case document.ModeImage:
		if _, err := tokens.ImageTokens(opts.Detail); err != nil {
			return config.Invalidf("%v", err)
		}
		if opts.MaxUnitsPerChunk < 0 {
			return config.Invalidf("max units per chunk must not be negative, got %d", opts.MaxUnitsPerChunk)
		}
	default:
		return config.Invalidf("unknown mode %q", opts.Mode)
	}
	return nil
}

func checkPayload(u document.PageUnit, mode document.Mode) error {
	if mode == document.ModeImage && !u.IsImage() {
		return fmt.Errorf("page %d: text payload in image mode", u.Number)
	}
	if mode == document.ModeText && u.IsImage() {
		return fmt.Errorf("page %d: image payload in text mode", u.Number)
	}
	return nil
}

// assemble builds the chunk's user message in the mode-specific wire format.
func assemble(header string, group []document.PageUnit, opts Options) Payload {
	p := Payload{Mode: opts.Mode, Detail: opts.Detail}
	if opts.Mode == document.ModeImage {
		p.Parts = make([]Part, 0, 1+2*len(group))
		p.Parts = append(p.Parts, Part{Text: header})
		for _, u := range group {
			p.Parts = append(p.Parts,
				Part{Text: fmt.Sprintf("page %d:", u.Number)},
				Part{Image: u.Image},
			)
		}
		return p
	}

	var sb strings.Builder
	sb.WriteString(header)
	for _, u := range group {
		sb.WriteString("\n\n")
		sb.WriteString(document.FormatPage(u.Number, u.Text))
	}
	p.Text = sb.String()
	return p
}
