package extract

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dgallion1/copyedit/internal/document"
)

// OpenAITransport calls an OpenAI-compatible chat completions endpoint.
type OpenAITransport struct {
	client *openai.Client
	model  string
}

// NewOpenAITransport returns a client for model. baseURL may point at any
// OpenAI-compatible gateway; empty uses the public API.
func NewOpenAITransport(apiKey, model, baseURL string) *OpenAITransport {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAITransport{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *OpenAITransport) Name() string { return "openai" }

func (c *OpenAITransport) Complete(ctx context.Context, req Request) (*Response, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.Payload.Mode == document.ModeImage {
		user.MultiContent = openAIParts(req)
	} else {
		user.Content = req.Payload.Text
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			user,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, openAIError(err)
	}

	out := &Response{
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out, nil
}

func openAIParts(req Request) []openai.ChatMessagePart {
	detail := openai.ImageURLDetail(req.Payload.Detail)
	parts := make([]openai.ChatMessagePart, 0, len(req.Payload.Parts))
	for _, p := range req.Payload.Parts {
		if p.Image == nil {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(p.Image.MIMEType, p.Image.Data),
				Detail: detail,
			},
		})
	}
	return parts
}

// openAIError keeps the status code and error fields the SDK exposes.
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		param := ""
		if apiErr.Param != nil {
			param = *apiErr.Param
		}
		ce := statusError(apiErr.HTTPStatusCode, apiErr.Message,
			fmt.Sprintf("type=%s code=%v param=%s", apiErr.Type, apiErr.Code, param))
		ce.Err = err
		return ce
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		ce := statusError(reqErr.HTTPStatusCode, reqErr.Error(), "")
		ce.Err = err
		return ce
	}
	return asCallError(err)
}
