package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

// ErrSettingNotFound is returned by GetSetting for unknown keys.
var ErrSettingNotFound = errors.New("setting not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id               VARCHAR PRIMARY KEY,
		type             VARCHAR NOT NULL,
		input            VARCHAR,
		owner_id         VARCHAR,
		max_iterations   INTEGER DEFAULT 0,
		status           VARCHAR NOT NULL,
		progress         INTEGER DEFAULT 0,
		progress_message VARCHAR,
		output           VARCHAR,
		error            VARCHAR,
		created_at       TIMESTAMP NOT NULL,
		updated_at       TIMESTAMP NOT NULL,
		completed_at     TIMESTAMP
	)`,
	`CREATE SEQUENCE IF NOT EXISTS job_event_seq`,
	`CREATE TABLE IF NOT EXISTS job_events (
		id         VARCHAR PRIMARY KEY,
		seq        BIGINT DEFAULT nextval('job_event_seq'),
		job_id     VARCHAR NOT NULL,
		type       VARCHAR NOT NULL,
		message    VARCHAR,
		data       VARCHAR,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events (job_id)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key        VARCHAR PRIMARY KEY,
		value      VARCHAR NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// Repository is the DuckDB-backed job store and settings repository.
type Repository struct {
	db *sql.DB

	// DuckDB rejects concurrent writers to the same row. Status writes for
	// a job are serialized on a stripe picked by its id.
	locks [lockStripes]sync.Mutex
	now   func() time.Time
}

var _ ports.JobStore = (*Repository)(nil)

// NewRepository opens (or creates) the database at path and migrates the
// schema. An empty path opens an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return &Repository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

const jobColumns = `id, type, input, owner_id, max_iterations, status, progress,
	progress_message, output, error, created_at, updated_at, completed_at`

func (r *Repository) CreateJob(ctx context.Context, job domain.Job) error {
	var input *string
	if job.Input != nil {
		raw, err := json.Marshal(job.Input)
		if err != nil {
			return fmt.Errorf("marshal job input: %w", err)
		}
		s := string(raw)
		input = &s
	}
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	if job.Type == "" {
		job.Type = domain.JobTypeGeneral
	}
	now := r.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(job.ID),
		string(job.Type),
		input,
		job.OwnerID,
		job.MaxIterations,
		string(job.Status),
		job.Progress,
		job.ProgressMessage,
		nullableJSON(job.Output),
		job.Error,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, string(id))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns the newest jobs first.
func (r *Repository) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// UpdateJobStatus applies the write inside a transaction after checking the
// transition against the stored status.
func (r *Repository) UpdateJobStatus(ctx context.Context, id domain.JobID, update domain.StatusUpdate) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, string(id)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read status of %s: %w", id, err)
	}

	from := domain.JobStatus(current)
	if !from.CanTransitionTo(update.Status) {
		return &domain.TransitionError{From: from, To: update.Status}
	}

	now := r.now()
	var completedAt *time.Time
	if update.Status.IsTerminal() {
		completedAt = &now
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET
			status           = ?,
			progress         = ?,
			progress_message = ?,
			output           = COALESCE(?, output),
			error            = COALESCE(?, error),
			updated_at       = ?,
			completed_at     = COALESCE(?, completed_at)
		WHERE id = ?`,
		string(update.Status),
		update.Progress,
		update.Message,
		nullableJSON(update.Output),
		update.Error,
		now,
		completedAt,
		string(id),
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return tx.Commit()
}

func (r *Repository) LogJobEvent(ctx context.Context, event domain.JobEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_events (id, job_id, type, message, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		string(event.JobID),
		string(event.Type),
		event.Message,
		nullableJSON(event.Data),
		event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event for job %s: %w", event.JobID, err)
	}
	return nil
}

// ListJobEvents returns events in the order they were logged.
func (r *Repository) ListJobEvents(ctx context.Context, id domain.JobID) ([]domain.JobEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, type, message, data, created_at
		FROM job_events WHERE job_id = ?
		ORDER BY seq ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []domain.JobEvent{}
	for rows.Next() {
		var e domain.JobEvent
		var jobID, eventType string
		var message, data sql.NullString
		if err := rows.Scan(&e.ID, &jobID, &eventType, &message, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.JobID = domain.JobID(jobID)
		e.Type = domain.EventType(eventType)
		e.Message = message.String
		if data.Valid && data.String != "" {
			e.Data = json.RawMessage(data.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (r *Repository) SaveSetting(ctx context.Context, key string, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, r.now())
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

const lockStripes = 64

func (r *Repository) lockFor(id domain.JobID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.locks[h.Sum32()%lockStripes]
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job                                domain.Job
		id, jobType, status                string
		input, owner, message, output, msg sql.NullString
		completedAt                        sql.NullTime
	)
	err := row.Scan(
		&id, &jobType, &input, &owner, &job.MaxIterations, &status, &job.Progress,
		&message, &output, &msg, &job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}

	job.ID = domain.JobID(id)
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.OwnerID = owner.String
	job.ProgressMessage = message.String
	if output.Valid && output.String != "" {
		job.Output = json.RawMessage(output.String)
	}
	if msg.Valid {
		e := msg.String
		job.Error = &e
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if input.Valid && input.String != "" && input.String != "null" {
		in, err := domain.DecodeTaskInput(job.Type, json.RawMessage(input.String))
		if err != nil {
			return domain.Job{}, fmt.Errorf("decode input of job %s: %w", id, err)
		}
		job.Input = in
	}
	return job, nil
}

func nullableJSON(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
