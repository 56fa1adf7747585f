// Package api exposes the REST control plane over the store, producers,
// and queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shevd/shev/pkg/log"
	"github.com/shevd/shev/pkg/metrics"
	"github.com/shevd/shev/pkg/producer"
	"github.com/shevd/shev/pkg/queue"
	"github.com/shevd/shev/pkg/store"
	"github.com/shevd/shev/pkg/types"
)

// Server is the HTTP control plane
type Server struct {
	store     *store.JobStore
	timers    *producer.TimerManager
	schedules *producer.ScheduleManager
	queue     *queue.Queue

	httpServer *http.Server
}

// New creates a server over the dispatcher components
func New(s *store.JobStore, timers *producer.TimerManager, schedules *producer.ScheduleManager, q *queue.Queue) *Server {
	return &Server{
		store:     s,
		timers:    timers,
		schedules: schedules,
		queue:     q,
	}
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// POST /jobs is accepted as a read alias for clients that probe with POST
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("POST /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancelJob)

	mux.HandleFunc("GET /handlers", s.handleListHandlers)
	mux.HandleFunc("POST /handlers", s.handleCreateHandler)
	mux.HandleFunc("GET /handlers/{event_type}", s.handleGetHandler)
	mux.HandleFunc("PUT /handlers/{event_type}", s.handleUpdateHandler)
	mux.HandleFunc("DELETE /handlers/{event_type}", s.handleDeleteHandler)

	mux.HandleFunc("GET /timers", s.handleListTimers)
	mux.HandleFunc("POST /timers", s.handleCreateTimer)
	mux.HandleFunc("GET /timers/{event_type}", s.handleGetTimer)
	mux.HandleFunc("PUT /timers/{event_type}", s.handleUpdateTimer)
	mux.HandleFunc("DELETE /timers/{event_type}", s.handleDeleteTimer)

	mux.HandleFunc("GET /schedules", s.handleListSchedules)
	mux.HandleFunc("POST /schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /schedules/{event_type}", s.handleGetSchedule)
	mux.HandleFunc("PUT /schedules/{event_type}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /schedules/{event_type}", s.handleDeleteSchedule)

	mux.HandleFunc("POST /events", s.handlePostEvent)

	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("PUT /config", s.handleUpdateConfig)

	mux.HandleFunc("POST /reload", s.handleReload)

	return s.instrument(mux)
}

// Start serves HTTP on addr until Stop is called
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// instrument wraps the mux with request metrics and logging
func (s *Server) instrument(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errStatus maps the sentinel errors onto HTTP status codes
func errStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrConflict):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, errStatus(err), err.Error())
}

type statusResponse struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	CancelledJobs int `json:"cancelled_jobs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Catalog().CountJobsByStatus(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := statusResponse{
		PendingJobs:   counts[types.JobStatusPending],
		RunningJobs:   counts[types.JobStatusRunning],
		CompletedJobs: counts[types.JobStatusCompleted],
		FailedJobs:    counts[types.JobStatusFailed],
		CancelledJobs: counts[types.JobStatusCancelled],
	}
	for _, n := range counts {
		resp.TotalJobs += n
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Healthy  bool            `json:"healthy"`
	Warnings []types.Warning `json:"warnings"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	warnings := s.store.Warnings()
	writeJSON(w, http.StatusOK, healthResponse{
		Healthy:  len(warnings) == 0,
		Warnings: warnings,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var status *types.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		// an unknown status filter returns the unfiltered list
		if parsed, err := types.ParseJobStatus(raw); err == nil {
			status = &parsed
		}
	}
	jobs, err := s.store.Jobs(r.Context(), status, 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job id: %v", err))
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job id: %v", err))
		return
	}
	job, err := s.store.CancelJob(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListHandlers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Handlers())
}

func (s *Server) handleGetHandler(w http.ResponseWriter, r *http.Request) {
	h, ok := s.store.GetHandler(r.PathValue("event_type"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Handler '%s' not found", r.PathValue("event_type")))
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type createHandlerRequest struct {
	EventType string            `json:"event_type"`
	Shell     string            `json:"shell"`
	Command   string            `json:"command"`
	Timeout   *int              `json:"timeout,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

func (s *Server) handleCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req createHandlerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	shell, err := types.ParseShell(req.Shell)
	if err != nil {
		writeErr(w, err)
		return
	}
	h, err := s.store.CreateHandler(r.Context(), req.EventType, shell, req.Command, req.Timeout, req.Env)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type updateHandlerRequest struct {
	Shell   *string           `json:"shell,omitempty"`
	Command *string           `json:"command,omitempty"`
	Timeout *int              `json:"timeout,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func (s *Server) handleUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req updateHandlerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	upd := store.HandlerUpdate{Command: req.Command, Timeout: req.Timeout, Env: req.Env}
	if req.Shell != nil {
		shell, err := types.ParseShell(*req.Shell)
		if err != nil {
			writeErr(w, err)
			return
		}
		upd.Shell = &shell
	}
	h, err := s.store.UpdateHandler(r.Context(), r.PathValue("event_type"), upd)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleDeleteHandler(w http.ResponseWriter, r *http.Request) {
	eventType := r.PathValue("event_type")
	removed, err := s.store.DeleteHandler(r.Context(), eventType)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Handler '%s' not found", eventType))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleListTimers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Timers())
}

func (s *Server) handleGetTimer(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.GetTimer(r.PathValue("event_type"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Timer '%s' not found", r.PathValue("event_type")))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type createTimerRequest struct {
	EventType    string `json:"event_type"`
	Context      string `json:"context"`
	IntervalSecs int    `json:"interval_secs"`
}

func (s *Server) handleCreateTimer(w http.ResponseWriter, r *http.Request) {
	var req createTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	t, err := s.store.CreateTimer(r.Context(), req.EventType, req.Context, req.IntervalSecs)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.timers.Register(t)
	writeJSON(w, http.StatusOK, t)
}

type updateTimerRequest struct {
	Context      *string `json:"context,omitempty"`
	IntervalSecs *int    `json:"interval_secs,omitempty"`
}

func (s *Server) handleUpdateTimer(w http.ResponseWriter, r *http.Request) {
	var req updateTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	t, err := s.store.UpdateTimer(r.Context(), r.PathValue("event_type"),
		store.TimerUpdate{Context: req.Context, IntervalSecs: req.IntervalSecs})
	if err != nil {
		writeErr(w, err)
		return
	}
	s.timers.Register(t)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTimer(w http.ResponseWriter, r *http.Request) {
	eventType := r.PathValue("event_type")
	removed, err := s.store.DeleteTimer(r.Context(), eventType)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Timer '%s' not found", eventType))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Schedules())
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.store.GetSchedule(r.PathValue("event_type"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Schedule '%s' not found", r.PathValue("event_type")))
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

type createScheduleRequest struct {
	EventType     string `json:"event_type"`
	Context       string `json:"context"`
	ScheduledTime string `json:"scheduled_time"`
	Periodic      bool   `json:"periodic"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid scheduled_time: %v", err))
		return
	}
	sc, err := s.store.CreateSchedule(r.Context(), req.EventType, req.Context, at, req.Periodic)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.schedules.Register(sc)
	writeJSON(w, http.StatusOK, sc)
}

type updateScheduleRequest struct {
	Context       *string `json:"context,omitempty"`
	ScheduledTime *string `json:"scheduled_time,omitempty"`
	Periodic      *bool   `json:"periodic,omitempty"`
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req updateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	upd := store.ScheduleUpdate{Context: req.Context, Periodic: req.Periodic}
	if req.ScheduledTime != nil {
		at, err := time.Parse(time.RFC3339, *req.ScheduledTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid scheduled_time: %v", err))
			return
		}
		upd.ScheduledTime = &at
	}
	sc, err := s.store.UpdateSchedule(r.Context(), r.PathValue("event_type"), upd)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.schedules.Register(sc)
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	eventType := r.PathValue("event_type")
	removed, err := s.store.DeleteSchedule(r.Context(), eventType)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Schedule '%s' not found", eventType))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type eventRequest struct {
	EventType string `json:"event_type"`
	Context   string `json:"context"`
}

type eventResponse struct {
	Event   *types.Event `json:"event"`
	Message string       `json:"message"`
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	event := types.NewEvent(req.EventType, req.Context)
	if err := s.queue.Send(event); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue event")
		return
	}
	metrics.EventsProducedTotal.WithLabelValues("http").Inc()

	msg := "Event queued"
	if s.timers.Has(req.EventType) {
		msg = "Event queued (a timer is registered for this event type; its interval is not reset)"
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: event, Message: msg})
}

type configResponse struct {
	Port      string `json:"port"`
	QueueSize string `json:"queue_size"`
}

func (s *Server) readConfig(ctx context.Context) (configResponse, error) {
	cfg, err := s.store.Catalog().GetAllConfig(ctx)
	if err != nil {
		return configResponse{}, err
	}
	resp := configResponse{Port: cfg["port"], QueueSize: cfg["queue_size"]}
	if resp.Port == "" {
		resp.Port = "3000"
	}
	if resp.QueueSize == "" {
		resp.QueueSize = "100"
	}
	return resp, nil
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	resp, err := s.readConfig(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateConfigRequest struct {
	Port      *string `json:"port,omitempty"`
	QueueSize *string `json:"queue_size,omitempty"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if req.Port != nil {
		n, err := strconv.Atoi(*req.Port)
		if err != nil || n <= 0 || n > 65535 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid port: %s", *req.Port))
			return
		}
		if err := s.store.Catalog().SetConfig(r.Context(), "port", *req.Port); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.QueueSize != nil {
		n, err := strconv.Atoi(*req.QueueSize)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid queue_size: %s", *req.QueueSize))
			return
		}
		if err := s.store.Catalog().SetConfig(r.Context(), "queue_size", *req.QueueSize); err != nil {
			writeErr(w, err)
			return
		}
	}

	resp, err := s.readConfig(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type reloadResponse struct {
	Success         bool `json:"success"`
	HandlersLoaded  int  `json:"handlers_loaded"`
	TimersLoaded    int  `json:"timers_loaded"`
	SchedulesLoaded int  `json:"schedules_loaded"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	handlers, timers, schedules, err := s.store.LoadAll(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, t := range s.store.Timers() {
		s.timers.Register(t)
	}
	for _, sc := range s.store.Schedules() {
		s.schedules.Register(sc)
	}
	writeJSON(w, http.StatusOK, reloadResponse{
		Success:         true,
		HandlersLoaded:  handlers,
		TimersLoaded:    timers,
		SchedulesLoaded: schedules,
	})
}
