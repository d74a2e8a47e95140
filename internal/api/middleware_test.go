package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, nil))
	h := middleware.RequestID(AuthMiddleware("k3y", log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		status int
		reason string
	}{
		{"no header", "", http.StatusUnauthorized, "missing authorization"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "missing authorization"},
		{"basic scheme", "Basic k3y", http.StatusUnauthorized, "missing authorization"},
		{"wrong key", "Bearer nope", http.StatusUnauthorized, "invalid api key"},
		{"valid", "Bearer k3y", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.Reset()
			req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.reason == "" {
				assert.Empty(t, logs.String())
				return
			}
			assert.JSONEq(t, `{"error":"`+tt.reason+`"}`, rec.Body.String())

			var line map[string]any
			require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
			assert.Equal(t, "unauthorized request", line["msg"])
			assert.Equal(t, tt.reason, line["reason"])
			assert.NotEmpty(t, line["request_id"])
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := middleware.RequestID(RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/boom":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/missing":
			http.NotFound(w, r)
		default:
			w.Write([]byte("hello"))
		}
	})))

	tests := []struct {
		path   string
		status float64
		level  string
	}{
		{"/ok", 200, "INFO"},
		{"/health", 200, "DEBUG"},
		{"/missing", 404, "WARN"},
		{"/boom", 500, "ERROR"},
	}
	for _, tt := range tests {
		logs.Reset()
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

		var line map[string]any
		require.NoError(t, json.Unmarshal(logs.Bytes(), &line), tt.path)
		assert.Equal(t, tt.status, line["status"], tt.path)
		assert.Equal(t, tt.level, line["level"], tt.path)
		assert.NotEmpty(t, line["request_id"], tt.path)
	}

	logs.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
	assert.Equal(t, float64(len("hello")), line["bytes"])
}
