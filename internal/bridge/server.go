// Package bridge exposes the translation engine over HTTP. Submissions
// return at once with a job ID; replies are collected per job and polled.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/valpere/batchtran/internal"
	"github.com/valpere/batchtran/internal/orchestrator"
	"github.com/valpere/batchtran/internal/payload"
	"github.com/valpere/batchtran/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Engine submits jobs. *orchestrator.Engine satisfies it.
type Engine interface {
	BatchTranslate(ctx context.Context, taskID string, params *internal.BatchParams, replier orchestrator.Replier) (*orchestrator.Run, error)
	Translate(ctx context.Context, taskID string, reqs map[string]internal.KeyedRequest, replier orchestrator.Replier) (*orchestrator.Run, error)
}

// History reads finished jobs. *store.Store satisfies it.
type History interface {
	GetJob(ctx context.Context, id string) (*store.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]store.JobRecord, error)
	ListItems(ctx context.Context, jobID string) ([]internal.ItemOutcome, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Retention is how long a finished job stays pollable.
	Retention       time.Duration
	BodyLimit       string
}

type Server struct {
	engine  Engine
	history History
	logger  zerolog.Logger
	opts    Options
	jobs    *jobTable
	jobCtx  context.Context
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
	Total  int    `json:"total"`
}

type jobStatusResponse struct {
	JobID    string            `json:"job_id"`
	TaskID   string            `json:"task_id"`
	Progress internal.Progress `json:"progress"`
	Done     bool              `json:"done"`
	Replies  []internal.Reply  `json:"replies"`
	Next     int               `json:"next"`
}

type jobHistoryResponse struct {
	Job   *store.JobRecord       `json:"job"`
	Items []internal.ItemOutcome `json:"items"`
}

// NewServer builds a server. history may be nil when job history is disabled.
func NewServer(engine Engine, history History, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = 10 * time.Minute
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = "8M"
	}
	opts.Host = host

	return &Server{
		engine:  engine,
		history: history,
		logger:  logger,
		opts:    opts,
		jobs:    newJobTable(opts.Retention),
		jobCtx:  context.Background(),
	}
}

// Handler builds the echo instance with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(s.opts.BodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Debug()
			msg := "http request"
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
				msg = "http request failed"
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/batch-translate", s.handleBatchTranslate)
	api.POST("/translate", s.handleTranslate)
	api.GET("/jobs", s.handleListJobs)
	api.GET("/jobs/:id", s.handleJob)
	api.DELETE("/jobs/:id", s.handleCancelJob)

	return e
}

// Start serves until ctx is done. Jobs submitted over HTTP are canceled on
// shutdown; items already sent to the provider still complete.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.engine == nil {
		return fmt.Errorf("server is not initialized")
	}
	s.jobCtx = ctx

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.jobs.cancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("batchtran server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("batchtran server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "batchtran",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleBatchTranslate(c echo.Context) error {
	raw, format, err := readPayload(c)
	if err != nil {
		return err
	}
	params, err := payload.DecodeBatch(raw, format)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Invalid parameters", map[string]any{"error": err.Error()})
	}

	log := newReplyLog(taskIDFrom(c))
	run, err := s.engine.BatchTranslate(s.jobCtx, log.taskID, params, log)
	return s.accepted(c, run, log, err)
}

func (s *Server) handleTranslate(c echo.Context) error {
	raw, format, err := readPayload(c)
	if err != nil {
		return err
	}
	reqs, err := payload.DecodeKeyed(raw, format)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Invalid parameters", map[string]any{"error": err.Error()})
	}

	log := newReplyLog(taskIDFrom(c))
	run, err := s.engine.Translate(s.jobCtx, log.taskID, reqs, log)
	return s.accepted(c, run, log, err)
}

func (s *Server) accepted(c echo.Context, run *orchestrator.Run, log *replyLog, err error) error {
	if errors.Is(err, orchestrator.ErrInvalidParameters) {
		replies, _ := log.since(0)
		return fail(c, http.StatusBadRequest, "Invalid parameters", map[string]any{
			"task_id": log.taskID,
			"replies": replies,
		})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", log.taskID).Msg("submit job failed")
		return internalError(c, "Failed to submit job")
	}

	s.jobs.add(run, log)
	return successWithStatus(c, http.StatusAccepted, submitResponse{
		JobID:  run.ID,
		TaskID: run.TaskID,
		Total:  run.Progress().Total,
	})
}

func (s *Server) handleJob(c echo.Context) error {
	id := c.Param("id")

	if job, ok := s.jobs.get(id); ok {
		since, err := parseNonNegative(c.QueryParam("since"), 0)
		if err != nil {
			return fail(c, http.StatusBadRequest, "since must be a non-negative integer", nil)
		}
		replies, next := job.log.since(since)
		progress := job.run.Progress()
		return success(c, jobStatusResponse{
			JobID:    job.run.ID,
			TaskID:   job.run.TaskID,
			Progress: progress,
			Done:     isDone(job.run),
			Replies:  replies,
			Next:     next,
		})
	}

	if s.history == nil {
		return failNotFound(c, "Job not found")
	}
	ctx := c.Request().Context()
	record, err := s.history.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return failNotFound(c, "Job not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("load job failed")
		return internalError(c, "Failed to load job")
	}
	items, err := s.history.ListItems(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("load job items failed")
		return internalError(c, "Failed to load job")
	}
	return success(c, jobHistoryResponse{Job: record, Items: items})
}

func (s *Server) handleCancelJob(c echo.Context) error {
	job, ok := s.jobs.get(c.Param("id"))
	if !ok {
		return failNotFound(c, "Job not found")
	}
	job.run.Cancel()
	return success(c, map[string]any{
		"job_id":   job.run.ID,
		"progress": job.run.Progress(),
	})
}

func (s *Server) handleListJobs(c echo.Context) error {
	if s.history == nil {
		return fail(c, http.StatusNotImplemented, "Job history is disabled", nil)
	}
	limit, err := parseNonNegative(c.QueryParam("limit"), defaultListLimit)
	if err != nil || limit == 0 {
		return fail(c, http.StatusBadRequest, "limit must be a positive integer", nil)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := s.history.ListJobs(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list jobs failed")
		return internalError(c, "Failed to list jobs")
	}
	return success(c, map[string]any{"items": jobs})
}

func readPayload(c echo.Context) ([]byte, payload.Format, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "Failed to read request body")
	}
	format := payload.FormatJSON
	if strings.Contains(c.Request().Header.Get(echo.HeaderContentType), "yaml") {
		format = payload.FormatYAML
	}
	return raw, format, nil
}

// taskIDFrom takes the caller's task ID from the task_id query parameter,
// generating one when absent.
func taskIDFrom(c echo.Context) string {
	if id := strings.TrimSpace(c.QueryParam("task_id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func parseNonNegative(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid value %q", raw)
	}
	return n, nil
}

func isDone(run *orchestrator.Run) bool {
	select {
	case <-run.Done():
		return true
	default:
		return false
	}
}
