package extract

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/dgallion1/copyedit/internal/document"
	"github.com/dgallion1/copyedit/internal/tokens"
)

// GeminiTransport calls the Gemini API through the genai SDK.
type GeminiTransport struct {
	client *genai.Client
	model  string
}

// NewGeminiTransport creates the SDK client. baseURL is optional.
func NewGeminiTransport(ctx context.Context, apiKey, model, baseURL string) (*GeminiTransport, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiTransport{client: client, model: model}, nil
}

func (c *GeminiTransport) Name() string { return "gemini" }

func (c *GeminiTransport) Complete(ctx context.Context, req Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	var parts []*genai.Part
	if req.Payload.Mode == document.ModeImage {
		if req.Payload.Detail == tokens.DetailLow {
			cfg.MediaResolution = genai.MediaResolutionLow
		} else {
			cfg.MediaResolution = genai.MediaResolutionHigh
		}
		for _, p := range req.Payload.Parts {
			if p.Image == nil {
				parts = append(parts, &genai.Part{Text: p.Text})
				continue
			}
			mt := p.Image.MIMEType
			if mt == "" {
				mt = "image/png"
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mt, Data: p.Image.Data}})
		}
	} else {
		parts = append(parts, &genai.Part{Text: req.Payload.Text})
	}

	res, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: parts}}, cfg)
	if err != nil {
		return nil, geminiError(err)
	}

	out := &Response{Text: res.Text()}
	if md := res.UsageMetadata; md != nil {
		out.Usage = &Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}
	return out, nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		ce := statusError(apiErr.Code, apiErr.Message, apiErr.Status)
		ce.Err = err
		return ce
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		ce := statusError(apiErrPtr.Code, apiErrPtr.Message, apiErrPtr.Status)
		ce.Err = err
		return ce
	}
	return asCallError(err)
}
