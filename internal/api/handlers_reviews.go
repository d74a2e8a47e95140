package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/copyedit/internal/document"
	"github.com/dgallion1/copyedit/internal/parser"
	"github.com/dgallion1/copyedit/internal/pipeline"
	"github.com/dgallion1/copyedit/internal/report"
)

// reviewForm holds the fields shared by single and batch uploads.
type reviewForm struct {
	title    string
	docType  string
	audience string
	mode     document.Mode
}

func parseReviewForm(r *http.Request) (reviewForm, error) {
	mode, err := document.ParseMode(strings.ToLower(strings.TrimSpace(r.FormValue("mode"))))
	if err != nil {
		return reviewForm{}, err
	}
	return reviewForm{
		title:    strings.TrimSpace(r.FormValue("title")),
		docType:  strings.TrimSpace(r.FormValue("doc_type")),
		audience: strings.TrimSpace(r.FormValue("audience")),
		mode:     mode,
	}, nil
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	form, err := parseReviewForm(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	job, status, err := s.newJob(header.Filename, file, form)
	if err != nil {
		jsonError(w, err.Error(), status)
		return
	}
	if err := s.service.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"status":   pipeline.StatusQueued,
		"poll_url": fmt.Sprintf("/api/reviews/%s/status", job.ID),
	})
}

func (s *Server) handleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	form, err := parseReviewForm(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// A shared title would mislabel every file but one.
	form.title = ""

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	var results []map[string]any
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)
		job, err := s.openAndQueue(fh, form)
		if err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    err.Error(),
			})
			continue
		}
		results = append(results, map[string]any{
			"filename": filename,
			"job_id":   job.ID,
			"status":   pipeline.StatusQueued,
			"poll_url": fmt.Sprintf("/api/reviews/%s/status", job.ID),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"jobs": results})
}

func (s *Server) openAndQueue(fh *multipart.FileHeader, form reviewForm) (*pipeline.Job, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file")
	}
	defer f.Close()

	job, _, err := s.newJob(fh.Filename, f, form)
	if err != nil {
		return nil, err
	}
	if err := s.service.Submit(job); err != nil {
		return nil, err
	}
	return job, nil
}

// newJob validates an upload and reads it into a queued job. The returned
// status is the HTTP code to use when err is non-nil.
func (s *Server) newJob(name string, r io.Reader, form reviewForm) (*pipeline.Job, int, error) {
	filename := sanitizeFilename(name)
	if !parser.IsSupportedExtension(filename) {
		return nil, http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}
	if form.mode == document.ModeImage && !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, http.StatusBadRequest, fmt.Errorf("image mode requires a PDF upload")
	}

	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to read file")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)
	}
	if len(data) == 0 {
		return nil, http.StatusBadRequest, fmt.Errorf("file is empty")
	}

	return pipeline.NewJob(filename, form.title, form.docType, form.audience, form.mode, data), 0, nil
}

func (s *Server) handleReviewStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.service.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

type reportFormat int

const (
	formatJSON reportFormat = iota
	formatCSV
	formatXLSX
)

func (s *Server) handleReport(format reportFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job := s.service.GetJob(jobID)
		if job == nil {
			jsonError(w, "job not found", http.StatusNotFound)
			return
		}
		snap := job.Snapshot()
		if !snap.Status.Done() {
			jsonError(w, fmt.Sprintf("job is still %s", snap.Status), http.StatusConflict)
			return
		}
		res := job.Result()
		if res == nil {
			jsonError(w, "job failed before review: "+strings.Join(snap.Progress.Errors, "; "), http.StatusConflict)
			return
		}

		rep := report.Build(snap.Title, res)
		base := strings.TrimSuffix(snap.Filename, filepath.Ext(snap.Filename)) + "-suggestions"

		var err error
		switch format {
		case formatCSV:
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, base))
			err = rep.WriteCSV(w)
		case formatXLSX:
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, base))
			err = rep.WriteXLSX(w)
		default:
			w.Header().Set("Content-Type", "application/json")
			err = json.NewEncoder(w).Encode(map[string]any{
				"job_id":  snap.ID,
				"status":  snap.Status,
				"partial": rep.Partial(),
				"counts":  rep.Counts(),
				"report":  rep,
			})
		}
		if err != nil {
			s.log.Error("report write failed", "job_id", snap.ID, "error", err)
		}
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
