package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a failed upstream call.
type Kind string

const (
	KindRateLimit Kind = "rate_limit" // Transient: HTTP 429 or a rate-limit message.
	KindServer    Kind = "server"     // Transient: HTTP 5xx or a timed-out call.
	KindClient    Kind = "client"     // Fatal: bad request, auth, unknown model.
	KindCancelled Kind = "cancelled"  // The caller's context ended.
)

// Retryable reports whether a failure of this kind is worth another attempt.
func (k Kind) Retryable() bool {
	return k == KindRateLimit || k == KindServer
}

// CallError is a classified transport failure.
type CallError struct {
	Kind       Kind
	StatusCode int    // 0 when no HTTP response was received.
	Message    string // Human-readable summary.
	Detail     string // Structured error body or provider error fields, if any.
	Err        error
}

func (e *CallError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " error (status %d)", e.StatusCode)
	} else {
		sb.WriteString(" error")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(truncate(e.Message, 300))
	}
	return sb.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP status to a failure kind.
func ClassifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code >= 500:
		return KindServer
	default:
		return KindClient
	}
}

var rateLimitPatterns = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota exceeded",
	"resource exhausted",
	"resource_exhausted",
}

// Classify returns the kind of any error returned by a transport. Structured
// information wins; message matching is only used for errors that carry no
// status code.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindServer
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindServer
	}
	if matchesRateLimit(err.Error()) {
		return KindRateLimit
	}
	return KindClient
}

func matchesRateLimit(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range rateLimitPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// asCallError converts any transport error into a *CallError.
func asCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{Kind: Classify(err), Message: err.Error(), Err: err}
}

// statusError builds a CallError from an HTTP status and response body.
func statusError(code int, msg, detail string) *CallError {
	return &CallError{
		Kind:       ClassifyStatus(code),
		StatusCode: code,
		Message:    msg,
		Detail:     detail,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
