package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	body := map[string]any{
		"provider":    s.cfg.Provider,
		"model":       s.cfg.Model,
		"stats":       s.stats.Snapshot(),
		"queue_depth": s.service.QueueDepth(),
	}
	if s.history != nil {
		if usage, err := s.history.TotalUsage(r.Context()); err == nil {
			body["lifetime_usage"] = usage
		} else {
			s.log.Warn("usage totals unavailable", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
