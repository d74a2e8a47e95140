package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/extract"
	"github.com/dgallion1/copyedit/internal/pipeline"
	"github.com/dgallion1/copyedit/internal/store"
)

// History is the read side of the run history. *store.Store satisfies it.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (store.Run, error)
	TotalUsage(ctx context.Context) (store.Usage, error)
}

// Server is the HTTP API server for copyedit.
type Server struct {
	router  chi.Router
	service *pipeline.Service
	history History
	stats   *extract.LLMStats
	log     *slog.Logger
	cfg     config.Config
}

// NewServer creates and configures the HTTP server. history and stats may
// be nil.
func NewServer(svc *pipeline.Service, history History, stats *extract.LLMStats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		service: svc,
		history: history,
		stats:   stats,
		log:     log,
		cfg:     cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.CopyeditAPIKey, s.log))

		r.Post("/api/reviews", s.handleSubmitReview)
		r.Post("/api/reviews/batch", s.handleBatchSubmit)
		r.Get("/api/reviews/{jobID}/status", s.handleReviewStatus)
		r.Get("/api/reviews/{jobID}/report", s.handleReport(formatJSON))
		r.Get("/api/reviews/{jobID}/report.csv", s.handleReport(formatCSV))
		r.Get("/api/reviews/{jobID}/report.xlsx", s.handleReport(formatXLSX))

		r.Get("/api/history", s.handleListHistory)
		r.Get("/api/history/{runID}", s.handleGetHistory)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
