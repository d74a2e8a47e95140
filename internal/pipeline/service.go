package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/copyedit/internal/chunker"
	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/store"
)

// History persists finished runs. *store.Store satisfies it.
type History interface {
	SaveRun(ctx context.Context, run store.Run) error
}

// HeaderBuilder renders the per-document context header. *style.Guide
// satisfies it.
type HeaderBuilder interface {
	Header(docType, audience string) string
}

// ServiceDeps are shared by every job the service runs.
type ServiceDeps struct {
	Executor  ChunkExecutor
	Estimator chunker.Estimator
	Style     HeaderBuilder
	History   History // Optional.
	Provider  string
	Model     string
}

// Service runs review jobs on a fixed pool of workers.
type Service struct {
	jobs  *JobStore
	queue chan *Job
	deps  ServiceDeps
	log   *slog.Logger
	cfg   config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the job service. Call Start to begin processing.
func NewService(cfg config.Config, deps ServiceDeps, log *slog.Logger) *Service {
	return &Service{
		jobs:  NewJobStore(cfg.JobTTL),
		queue: make(chan *Job, cfg.MaxQueueSize),
		deps:  deps,
		log:   log,
		cfg:   cfg,
	}
}

// Start launches worker goroutines.
func (s *Service) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	workers := s.cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}
	for range workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w := NewWorker(s.cfg, s.deps, s.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-s.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				s.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels in-flight jobs and waits for the workers to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	close(s.queue)
	s.wg.Wait()
}

// Submit queues a new job for processing.
func (s *Service) Submit(job *Job) error {
	s.jobs.Put(job)
	select {
	case s.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", s.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (s *Service) GetJob(id string) *Job {
	return s.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (s *Service) QueueDepth() int {
	return len(s.queue)
}
