package extract

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/dgallion1/copyedit/internal/chunker"
	"github.com/dgallion1/copyedit/internal/config"
)

// Request is one model call: the system instructions plus a chunk payload.
type Request struct {
	System    string
	Payload   chunker.Payload
	MaxTokens int
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u into the receiver.
func (u *Usage) Add(o *Usage) {
	if o == nil {
		return
	}
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Response is the model's raw text answer.
type Response struct {
	Text  string
	Usage *Usage
}

// Transport sends a request to a chat-completion provider. Failures should be
// returned as *CallError when the provider gives a status code.
type Transport interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// NewTransport builds the provider client selected by cfg.
func NewTransport(ctx context.Context, cfg config.Config) (Transport, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAITransport(cfg.OpenAIAPIKey, cfg.Model, cfg.BaseURL), nil
	case config.ProviderAnthropic:
		return NewAnthropicTransport(cfg.AnthropicAPIKey, cfg.Model, cfg.BaseURL), nil
	case config.ProviderGemini:
		return NewGeminiTransport(ctx, cfg.GeminiAPIKey, cfg.Model, cfg.BaseURL)
	}
	return nil, config.Invalidf("unknown provider %q", cfg.Provider)
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}
