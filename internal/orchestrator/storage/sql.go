package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id           TEXT PRIMARY KEY,
		status           TEXT NOT NULL,
		progress         TEXT NOT NULL DEFAULT '',
		created_at       BIGINT NOT NULL,
		updated_at       BIGINT NOT NULL,
		started_at       BIGINT,
		finished_at      BIGINT,
		worker_id        TEXT NOT NULL DEFAULT '',
		metadata         TEXT,
		roi              TEXT,
		result           TEXT,
		error_message    TEXT NOT NULL DEFAULT '',
		cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
		alignment_degraded BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at DESC, job_id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
}

const jobColumns = `job_id, status, progress, created_at, updated_at, started_at, finished_at,
	worker_id, metadata, roi, result, error_message, cancel_requested, alignment_degraded`

type jobRow struct {
	JobID           string         `db:"job_id"`
	Status          string         `db:"status"`
	Progress        string         `db:"progress"`
	CreatedAt       int64          `db:"created_at"`
	UpdatedAt       int64          `db:"updated_at"`
	StartedAt       sql.NullInt64  `db:"started_at"`
	FinishedAt      sql.NullInt64  `db:"finished_at"`
	WorkerID        string         `db:"worker_id"`
	Metadata        sql.NullString `db:"metadata"`
	ROI             sql.NullString `db:"roi"`
	Result          sql.NullString `db:"result"`
	ErrorMessage    string         `db:"error_message"`
	CancelRequested bool           `db:"cancel_requested"`
	AlignDegraded   bool           `db:"alignment_degraded"`
}

// SQLStore persists jobs in Postgres or SQLite through sqlx. Timestamps are
// stored as unix nanoseconds so both drivers order them identically.
type SQLStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLStore creates a new SQLStore instance
func NewSQLStore(db *sqlx.DB, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, logger: logger, now: time.Now}
}

// Migrate creates the jobs table when it is missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate jobs table: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// explain turns a guarded update that touched nothing into the right error.
func (s *SQLStore) explain(ctx context.Context, jobID string, otherwise error) error {
	if _, err := s.Get(ctx, jobID); err != nil {
		return err
	}
	return otherwise
}

func (s *SQLStore) Create(ctx context.Context, job *domain.Job) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (:job_id, :status, :progress, :created_at, :updated_at, :started_at, :finished_at,
			:worker_id, :metadata, :roi, :result, :error_message, :cancel_requested, :alignment_degraded)
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if _, getErr := s.Get(ctx, job.ID); getErr == nil {
			return domain.ErrJobExists
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = ?`
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return fromRow(&row)
}

func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	if filter.Cursor != nil {
		ts := filter.Cursor.CreatedAt.UnixNano()
		query += " AND (created_at < ? OR (created_at = ? AND job_id < ?))"
		args = append(args, ts, ts, filter.Cursor.JobID)
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	if filter.PageSize > 0 {
		// Fetch one extra to determine if there are more results
		query += " LIMIT ?"
		args = append(args, filter.PageSize+1)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Claim uses the status guard as an optimistic lock: of two workers racing
// for the same id, exactly one sees a row affected.
func (s *SQLStore) Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	now := s.now().UnixNano()
	n, err := s.exec(ctx, `
		UPDATE jobs
		SET status = ?, progress = ?, worker_id = ?, started_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		string(domain.StatusProcessing), domain.ProgressLoading, workerID, now, now,
		jobID, string(domain.StatusQueued),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if n == 0 {
		s.logger.Warn("Failed to claim job - already claimed or not found",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
		)
		return nil, s.explain(ctx, jobID, domain.ErrJobAlreadyClaimed)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)
	return s.Get(ctx, jobID)
}

func (s *SQLStore) UpdateProgress(ctx context.Context, jobID, progress string) error {
	n, err := s.exec(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		progress, s.now().UnixNano(), jobID, string(domain.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if n == 0 {
		return s.explain(ctx, jobID, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *SQLStore) MarkAlignmentDegraded(ctx context.Context, jobID string) error {
	n, err := s.exec(ctx, `
		UPDATE jobs SET alignment_degraded = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		true, s.now().UnixNano(), jobID, string(domain.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to flag degraded alignment: %w", err)
	}
	if n == 0 {
		return s.explain(ctx, jobID, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *SQLStore) Complete(ctx context.Context, jobID string, result *domain.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	now := s.now().UnixNano()
	n, err := s.exec(ctx, `
		UPDATE jobs
		SET status = ?, progress = ?, result = ?, finished_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		string(domain.StatusCompleted), domain.ProgressDone, string(resultJSON), now, now,
		jobID, string(domain.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n == 0 {
		return s.explain(ctx, jobID, domain.ErrInvalidTransition)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(domain.StatusCompleted)),
	)
	return nil
}

func (s *SQLStore) Fail(ctx context.Context, jobID, message string) error {
	n, err := s.fail(ctx, jobID, message, domain.StatusQueued, domain.StatusProcessing)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.explain(ctx, jobID, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *SQLStore) fail(ctx context.Context, jobID, message string, from ...domain.Status) (int64, error) {
	if message == "" {
		message = "unknown error"
	}
	progress := domain.ProgressFailed
	if message == domain.ErrJobCanceled.Error() {
		progress = domain.ProgressCanceled
	}

	query := `
		UPDATE jobs
		SET status = ?, progress = ?, error_message = ?, finished_at = ?, updated_at = ?
		WHERE job_id = ? AND status IN (?)`
	now := s.now().UnixNano()
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}
	query, args, err := sqlx.In(query,
		string(domain.StatusFailed), progress, message, now, now, jobID, statuses)
	if err != nil {
		return 0, fmt.Errorf("failed to build fail query: %w", err)
	}

	n, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to fail job: %w", err)
	}
	if n > 0 {
		s.logger.Info("Job status updated",
			slog.String("job_id", jobID),
			slog.String("status", string(domain.StatusFailed)),
		)
	}
	return n, nil
}

func (s *SQLStore) RequestCancel(ctx context.Context, jobID string) (*domain.Job, error) {
	n, err := s.fail(ctx, jobID, domain.ErrJobCanceled.Error(), domain.StatusQueued)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		n, err = s.exec(ctx, `
			UPDATE jobs SET cancel_requested = ?, updated_at = ?
			WHERE job_id = ? AND status = ?`,
			true, s.now().UnixNano(), jobID, string(domain.StatusProcessing),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to request cancel: %w", err)
		}
	}
	if n == 0 {
		return nil, s.explain(ctx, jobID, domain.ErrInvalidTransition)
	}
	return s.Get(ctx, jobID)
}

func (s *SQLStore) Delete(ctx context.Context, jobID string) error {
	n, err := s.exec(ctx, `DELETE FROM jobs WHERE job_id = ? AND status IN (?, ?)`,
		jobID, string(domain.StatusCompleted), string(domain.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n == 0 {
		return s.explain(ctx, jobID, domain.ErrJobNotTerminal)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toRow(job *domain.Job) (*jobRow, error) {
	row := &jobRow{
		JobID:           job.ID,
		Status:          string(job.Status),
		Progress:        job.Progress,
		CreatedAt:       job.CreatedAt.UnixNano(),
		UpdatedAt:       job.UpdatedAt.UnixNano(),
		WorkerID:        job.WorkerID,
		ErrorMessage:    job.Error,
		CancelRequested: job.CancelRequested,
		AlignDegraded:   job.AlignmentDegraded,
	}
	if job.StartedAt != nil {
		row.StartedAt = sql.NullInt64{Int64: job.StartedAt.UnixNano(), Valid: true}
	}
	if job.FinishedAt != nil {
		row.FinishedAt = sql.NullInt64{Int64: job.FinishedAt.UnixNano(), Valid: true}
	}

	var err error
	if row.Metadata, err = jsonColumn(job.Metadata, len(job.Metadata) > 0); err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if row.ROI, err = jsonColumn(job.ROI, job.ROI != nil); err != nil {
		return nil, fmt.Errorf("failed to marshal roi: %w", err)
	}
	if row.Result, err = jsonColumn(job.Result, job.Result != nil); err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return row, nil
}

func jsonColumn(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func fromRow(row *jobRow) (*domain.Job, error) {
	job := &domain.Job{
		ID:              row.JobID,
		Status:          domain.Status(row.Status),
		Progress:        row.Progress,
		CreatedAt:       time.Unix(0, row.CreatedAt).UTC(),
		UpdatedAt:       time.Unix(0, row.UpdatedAt).UTC(),
		WorkerID:        row.WorkerID,
		Error:           row.ErrorMessage,
		CancelRequested: row.CancelRequested,

		AlignmentDegraded: row.AlignDegraded,
	}
	if row.StartedAt.Valid {
		t := time.Unix(0, row.StartedAt.Int64).UTC()
		job.StartedAt = &t
	}
	if row.FinishedAt.Valid {
		t := time.Unix(0, row.FinishedAt.Int64).UTC()
		job.FinishedAt = &t
	}
	if row.Metadata.Valid {
		if err := json.Unmarshal([]byte(row.Metadata.String), &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of job %s: %w", row.JobID, err)
		}
	}
	if row.ROI.Valid {
		job.ROI = &domain.BBox{}
		if err := json.Unmarshal([]byte(row.ROI.String), job.ROI); err != nil {
			return nil, fmt.Errorf("failed to decode roi of job %s: %w", row.JobID, err)
		}
	}
	if row.Result.Valid {
		job.Result = &domain.Result{}
		if err := json.Unmarshal([]byte(row.Result.String), job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of job %s: %w", row.JobID, err)
		}
	}
	return job, nil
}
