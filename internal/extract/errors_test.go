package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{429, KindRateLimit},
		{500, KindServer},
		{502, KindServer},
		{503, KindServer},
		{529, KindServer},
		{400, KindClient},
		{401, KindClient},
		{403, KindClient},
		{404, KindClient},
		{422, KindClient},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"call error wins over message", &CallError{Kind: KindClient, Message: "rate limit policy invalid"}, KindClient},
		{"wrapped call error", fmt.Errorf("send: %w", statusError(503, "down", "")), KindServer},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), KindServer},
		{"cancelled", context.Canceled, KindCancelled},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindServer},
		{"rate limit message", errors.New("Rate limit reached for gpt-4o"), KindRateLimit},
		{"quota message", errors.New("RESOURCE_EXHAUSTED: quota"), KindRateLimit},
		{"anything else", errors.New("invalid model name"), KindClient},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("%s: Classify = %s, want %s", tt.name, got, tt.want)
		}
	}
	if Classify(nil) != "" {
		t.Error("Classify(nil) should be empty")
	}
}

func TestCallErrorMessage(t *testing.T) {
	err := statusError(401, "invalid x-api-key", "")
	if got := err.Error(); got != "client error (status 401): invalid x-api-key" {
		t.Fatalf("unexpected message %q", got)
	}
	var ce *CallError
	if !errors.As(fmt.Errorf("chunk 2: %w", err), &ce) || ce.StatusCode != 401 {
		t.Fatal("expected CallError through wrapping")
	}
	if KindClient.Retryable() || KindCancelled.Retryable() || !KindServer.Retryable() || !KindRateLimit.Retryable() {
		t.Fatal("unexpected Retryable result")
	}
}
