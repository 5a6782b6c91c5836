package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-agent/pkg/findings"
	"github.com/mikeboe/research-agent/pkg/metrics"
	"github.com/mikeboe/research-agent/pkg/research"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// DB is the part of pgxpool.Pool the service uses.
type DB interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service runs research jobs in background workers and persists them.
type Service struct {
	DB       DB
	Cfg      research.Config
	LLM      llms.Model
	Searcher research.Searcher
	// FastLLM, when set, summarizes search results.
	FastLLM llms.Model
	// Index, when set, receives every finished job's summaries.
	Index  *findings.Index
	Logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(db DB, cfg research.Config, llm llms.Model, searcher research.Searcher, index *findings.Index) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		DB:       db,
		Cfg:      cfg,
		LLM:      llm,
		Searcher: searcher,
		Index:    index,
		Logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

type Job struct {
	ID              uuid.UUID       `json:"id"`
	Topic           string          `json:"topic"`
	Status          string          `json:"status"`
	Report          *string         `json:"report,omitempty"`
	ConfidenceScore *int            `json:"confidence_score,omitempty"`
	Iterations      *int            `json:"iterations,omitempty"`
	Sources         json.RawMessage `json:"sources,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Config          json.RawMessage `json:"config"`
}

// CreateJobRequest starts a job; the optional fields override the server's
// research settings for this job only.
type CreateJobRequest struct {
	Topic               string `json:"topic"`
	MaxIterations       *int   `json:"max_iterations,omitempty"`
	ConfidenceThreshold *int   `json:"confidence_threshold,omitempty"`
	MaxQueries          *int   `json:"max_queries,omitempty"`
}

// jobConfig applies the request overrides to the base settings.
func (req CreateJobRequest) jobConfig(base research.Config) (research.Config, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return research.Config{}, fmt.Errorf("%w: topic cannot be empty", ErrInvalidRequest)
	}
	cfg := base
	if req.MaxIterations != nil {
		cfg.MaxIterations = *req.MaxIterations
	}
	if req.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if req.MaxQueries != nil {
		cfg.MaxQueries = *req.MaxQueries
	}
	if err := cfg.Validate(); err != nil {
		return research.Config{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return cfg, nil
}

const jobColumns = `id, topic, status, report, confidence_score, iterations, sources, error, created_at, updated_at, config`

func scanJob(row pgx.Row, job *Job) error {
	return row.Scan(&job.ID, &job.Topic, &job.Status, &job.Report, &job.ConfidenceScore, &job.Iterations,
		&job.Sources, &job.Error, &job.CreatedAt, &job.UpdatedAt, &job.Config)
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	cfg, err := req.jobConfig(s.Cfg)
	if err != nil {
		return nil, err
	}
	topic := strings.TrimSpace(req.Topic)
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job config: %w", err)
	}

	query := `
		INSERT INTO research_jobs (id, topic, status, config)
		VALUES ($1, $2, 'pending', $3)
		RETURNING ` + jobColumns

	job := &Job{}
	if err := scanJob(s.DB.QueryRow(ctx, query, uuid.New(), topic, configJSON), job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	metrics.JobsStarted.Inc()
	s.wg.Add(1)
	go s.runWorker(job.ID, topic, cfg)

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE id = $1`
	job := &Job{}
	if err := scanJob(s.DB.QueryRow(ctx, query, id), job); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs ORDER BY created_at DESC LIMIT 50`
	rows, err := s.DB.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := scanJob(rows, &job); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Shutdown cancels running jobs and waits for them to store their reports.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runWorker(jobID uuid.UUID, topic string, cfg research.Config) {
	defer s.wg.Done()

	// Persistence outlives cancellation so a cancelled job still stores its report.
	store := context.WithoutCancel(s.ctx)
	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID, s.Logger.Handler()))

	s.markRunning(store, jobID, dbLogger)

	engine := research.NewEngine(cfg, s.LLM, s.Searcher)
	engine.FastLLM = s.FastLLM
	engine.Logger = dbLogger

	var (
		mu   sync.Mutex
		last research.State
	)
	engine.OnStateUpdate = func(state research.State) {
		mu.Lock()
		last = state
		mu.Unlock()

		stateJSON, err := json.Marshal(state)
		if err != nil {
			dbLogger.Error("Failed to marshal state", "error", err)
			return
		}
		if _, err := s.DB.Exec(store,
			"UPDATE research_jobs SET state = $2, updated_at = NOW() WHERE id = $1",
			jobID, stateJSON); err != nil {
			dbLogger.Error("Failed to save state to DB", "error", err)
		}
	}

	res, err := engine.Run(s.ctx, topic)
	if err != nil {
		var reqErr *research.RequestError
		if errors.As(err, &reqErr) {
			s.saveResult(store, jobID, reqErr.Partial, dbLogger)
		}
		s.failJob(store, jobID, fmt.Sprintf("Research failed: %v", err), dbLogger)
		return
	}

	s.saveResult(store, jobID, res, dbLogger)
	if _, err := s.DB.Exec(store,
		"UPDATE research_jobs SET status = 'completed', updated_at = NOW() WHERE id = $1", jobID); err != nil {
		dbLogger.Error("Failed to mark job completed", "error", err)
	}
	metrics.JobsCompleted.WithLabelValues("completed").Inc()

	if s.Index != nil {
		mu.Lock()
		summaries := last.Summaries
		mu.Unlock()
		if _, err := s.Index.IndexSummaries(store, jobID.String(), summaries); err != nil {
			dbLogger.Error("Failed to index findings", "error", err)
		}
	}
}

func (s *Service) saveResult(ctx context.Context, jobID uuid.UUID, res research.Result, logger *slog.Logger) {
	sourcesJSON, err := json.Marshal(res.Sources)
	if err != nil {
		logger.Error("Failed to marshal sources", "error", err)
		return
	}
	var report *string
	if res.Report != "" {
		report = &res.Report
	}
	_, err = s.DB.Exec(ctx, `
		UPDATE research_jobs
		SET report = $2, confidence_score = $3, iterations = $4, sources = $5, updated_at = NOW()
		WHERE id = $1`,
		jobID, report, res.ConfidenceScore, res.Iterations, sourcesJSON)
	if err != nil {
		logger.Error("Failed to save final report to DB", "error", err)
	}
}

func (s *Service) markRunning(ctx context.Context, jobID uuid.UUID, logger *slog.Logger) {
	if _, err := s.DB.Exec(ctx,
		"UPDATE research_jobs SET status = 'running', updated_at = NOW() WHERE id = $1", jobID); err != nil {
		logger.Error("Failed to mark job running", "error", err)
	}
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, reason string, logger *slog.Logger) {
	logger.Error(reason)
	metrics.JobsCompleted.WithLabelValues("failed").Inc()
	if _, err := s.DB.Exec(ctx,
		"UPDATE research_jobs SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1", jobID, reason); err != nil {
		logger.Error("Failed to mark job failed", "error", err)
	}
}
