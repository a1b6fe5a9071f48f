package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/queue"
)

// StatusServer exposes pipeline health and per-job progress over HTTP. It is
// an internal surface for the main application and for probes, not a public
// API.
type StatusServer struct {
	queue *queue.Client
	rdb   *redis.Client
	db    *gorm.DB
	srv   *http.Server
}

// NewStatusServer builds the status listener on addr. db may be nil when no
// database is in play.
func NewStatusServer(addr string, q *queue.Client, rdb *redis.Client, db *gorm.DB) *StatusServer {
	s := &StatusServer{queue: q, rdb: rdb, db: db}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", s.handleJobStatus).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *StatusServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", logger.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["redis"] = err.Error()
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["db"] = err.Error()
		} else if err := sqlDB.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["db"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}

type jobStatusResponse struct {
	ID       string          `json:"id"`
	Queue    string          `json:"queue,omitempty"`
	State    string          `json:"state"`
	Progress int             `json:"progress"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

func (s *StatusServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := s.queue.GetJob(r.Context(), id)
	if errors.Is(err, queue.ErrJobNotFound) {
		// Expired or never-existed jobs report unknown rather than 404 so
		// pollers need no special casing.
		writeJSON(w, http.StatusOK, jobStatusResponse{ID: id, State: string(queue.StateUnknown)})
		return
	}
	if err != nil {
		logger.Error("failed to load job status",
			logger.String("jobId", id), logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}

	state, err := s.queue.JobState(r.Context(), id)
	if err != nil {
		state = job.State
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		ID:       job.ID,
		Queue:    job.Queue,
		State:    string(state),
		Progress: job.Progress,
		Error:    job.Error,
		Result:   job.Result,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", logger.ErrorField(err))
	}
}
