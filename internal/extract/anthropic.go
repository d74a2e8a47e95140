package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgallion1/copyedit/internal/document"
)

const defaultAnthropicURL = "https://api.anthropic.com"

// AnthropicTransport calls the Anthropic Messages API.
type AnthropicTransport struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicTransport returns a client for model. An empty baseURL uses the
// public endpoint. Per-call deadlines come from the caller's context.
func NewAnthropicTransport(apiKey, model, baseURL string) *AnthropicTransport {
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	return &AnthropicTransport{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (c *AnthropicTransport) Name() string { return "anthropic" }

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *anthropicError `json:"error"`
}

// Complete sends one user message built from the chunk payload.
func (c *AnthropicTransport) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages: []anthropicMessage{
			{Role: "user", Content: anthropicContent(req)},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var apiResp anthropicResponse
	decodeErr := json.Unmarshal(respBody, &apiResp)

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if decodeErr == nil && apiResp.Error != nil {
			msg = apiResp.Error.Type + ": " + apiResp.Error.Message
		}
		return nil, statusError(resp.StatusCode, msg, string(respBody))
	}
	if decodeErr != nil {
		return nil, statusError(http.StatusBadGateway, "decode response: "+decodeErr.Error(), truncate(string(respBody), 2000))
	}
	if apiResp.Error != nil {
		return nil, &CallError{Kind: KindClient, Message: apiResp.Error.Type + ": " + apiResp.Error.Message}
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	out := &Response{Text: sb.String()}
	if apiResp.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		}
	}
	return out, nil
}

func anthropicContent(req Request) []anthropicBlock {
	if req.Payload.Mode != document.ModeImage {
		return []anthropicBlock{{Type: "text", Text: req.Payload.Text}}
	}
	blocks := make([]anthropicBlock, 0, len(req.Payload.Parts))
	for _, p := range req.Payload.Parts {
		if p.Image == nil {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
			continue
		}
		mt := p.Image.MIMEType
		if mt == "" {
			mt = "image/png"
		}
		blocks = append(blocks, anthropicBlock{
			Type: "image",
			Source: &anthropicSource{
				Type:      "base64",
				MediaType: mt,
				Data:      base64.StdEncoding.EncodeToString(p.Image.Data),
			},
		})
	}
	return blocks
}

// Close releases idle connections.
func (c *AnthropicTransport) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
