// Package tokens estimates the token cost of page content for a target model.
package tokens

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/dgallion1/copyedit/internal/document"
)

// Detail is the image rendering quality sent upstream.
type Detail string

const (
	DetailHigh Detail = "high"
	DetailLow  Detail = "low"
)

// Fixed per-image costs. A high-detail image is tiled (170 tokens per 512px
// tile plus an 85 token base); a low-detail image is downsampled to one tile.
const (
	HighDetailImageTokens = 2805
	LowDetailImageTokens  = 85
)

// FallbackModel supplies the encoding (o200k_base) when tiktoken does not
// know the configured model, e.g. for Anthropic and Gemini model names.
const FallbackModel = "gpt-4o"

// ParseDetail validates a detail level. Anything but high or low is an input error.
func ParseDetail(s string) (Detail, error) {
	switch Detail(strings.ToLower(strings.TrimSpace(s))) {
	case DetailHigh:
		return DetailHigh, nil
	case DetailLow:
		return DetailLow, nil
	}
	return "", fmt.Errorf("invalid detail level %q (want high or low)", s)
}

// ImageTokens returns the fixed cost of one image at the given detail level.
func ImageTokens(d Detail) (int, error) {
	switch d {
	case DetailHigh:
		return HighDetailImageTokens, nil
	case DetailLow:
		return LowDetailImageTokens, nil
	}
	return 0, fmt.Errorf("invalid detail level %q (want high or low)", d)
}

// Encoder turns text into tokens. *tiktoken.Tiktoken satisfies it.
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// EncoderFunc resolves the encoder for a model name.
type EncoderFunc func(model string) (Encoder, error)

func tiktokenForModel(model string) (Encoder, error) {
	return tiktoken.EncodingForModel(model)
}

// Estimator counts tokens for one model. It is safe for concurrent use.
type Estimator struct {
	model     string
	encModel  string
	enc       Encoder
	log       *slog.Logger
	noticeOne sync.Once
}

// Option configures an Estimator.
type Option func(*estimatorOptions)

type estimatorOptions struct {
	lookup EncoderFunc
	log    *slog.Logger
}

// WithEncoderFunc replaces the tiktoken lookup.
func WithEncoderFunc(fn EncoderFunc) Option {
	return func(o *estimatorOptions) { o.lookup = fn }
}

// WithLogger sets the logger used for the substitution notice.
func WithLogger(log *slog.Logger) Option {
	return func(o *estimatorOptions) { o.log = log }
}

// New resolves the tokenizer for model, falling back to FallbackModel when
// the model name is not recognized.
func New(model string, opts ...Option) (*Estimator, error) {
	o := estimatorOptions{lookup: tiktokenForModel, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Estimator{model: model, encModel: model, log: o.log}
	enc, err := o.lookup(model)
	if err != nil {
		enc, err = o.lookup(FallbackModel)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer for %s (fallback %s): %w", model, FallbackModel, err)
		}
		e.encModel = FallbackModel
	}
	e.enc = enc
	return e, nil
}

// Model returns the configured model name.
func (e *Estimator) Model() string { return e.model }

// TokenizerModel returns the model whose encoding is actually in use.
func (e *Estimator) TokenizerModel() string { return e.encModel }

// Substituted reports whether the fallback tokenizer is in use.
func (e *Estimator) Substituted() bool { return e.encModel != e.model }

// Text returns the token count of s. The first call on a substituted
// tokenizer logs an informational notice.
func (e *Estimator) Text(s string) int {
	if e.Substituted() {
		e.noticeOne.Do(func() {
			e.log.Info("tokenizer substituted",
				"model", e.model,
				"tokenizer_model", e.encModel,
			)
		})
	}
	if s == "" {
		return 0
	}
	return len(e.enc.Encode(s, nil, nil))
}

// Image returns the fixed cost of one image.
func (e *Estimator) Image(d Detail) (int, error) {
	return ImageTokens(d)
}

// Unit returns the cost of one page. Text pages are counted on their
// "page N:" wrapper; image pages cost the fixed amount for d.
func (e *Estimator) Unit(u document.PageUnit, d Detail) (int, error) {
	if u.IsImage() {
		return ImageTokens(d)
	}
	return e.Text(document.FormatPage(u.Number, u.Text)), nil
}
