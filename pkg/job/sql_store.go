package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// SQL dialects understood by SQLStore
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// SQLStore persists jobs in the search_jobs table. Queries are written to run
// unchanged on PostgreSQL and SQLite; only the DDL differs.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates a store over db using dialect
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	if dialect == "" {
		dialect = DialectPostgres
	}
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the jobs table and its indexes when missing
func (s *SQLStore) Migrate(ctx context.Context) error {
	idColumn := "id BIGSERIAL PRIMARY KEY"
	if s.dialect == DialectSQLite {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS search_jobs (
			` + idColumn + `,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			root_job_id BIGINT NOT NULL DEFAULT 0,
			is_unique BOOLEAN NOT NULL DEFAULT FALSE,
			interrupted BOOLEAN NOT NULL DEFAULT FALSE,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP NULL,
			stopped_at TIMESTAMP NULL
		)`,
		`CREATE INDEX IF NOT EXISTS search_jobs_root_idx ON search_jobs (root_job_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS search_jobs_active_unique_idx ON search_jobs (name)
			WHERE is_unique AND status IN ('new', 'running')`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate search_jobs: %w", err)
		}
	}
	return nil
}

const jobColumns = `id, name, owner_id, status, root_job_id, is_unique, interrupted, reason, created_at, started_at, stopped_at`

func (s *SQLStore) Create(ctx context.Context, j *Job) error {
	query := `
		INSERT INTO search_jobs (name, owner_id, status, root_job_id, is_unique, interrupted, reason, created_at, started_at, stopped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		j.Name, j.OwnerID, string(j.Status), j.RootJobID, j.Unique, j.Interrupted, j.Reason,
		j.CreatedAt.UTC(), nullTime(j.StartedAt), nullTime(j.StoppedAt),
	).Scan(&j.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, j.Name)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM search_jobs WHERE id = $1`

	j, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return j, nil
}

func (s *SQLStore) Update(ctx context.Context, j *Job) error {
	query := `
		UPDATE search_jobs
		SET status = $1, interrupted = $2, reason = $3, started_at = $4, stopped_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(ctx, query,
		string(j.Status), j.Interrupted, j.Reason, nullTime(j.StartedAt), nullTime(j.StoppedAt), j.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %d: %w", j.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job %d: %w", j.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", ErrJobNotFound, j.ID)
	}
	return nil
}

func (s *SQLStore) Children(ctx context.Context, rootID int64) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM search_jobs WHERE root_job_id = $1 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of job %d: %w", rootID, err)
	}
	defer rows.Close()

	var children []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child job: %w", err)
		}
		children = append(children, j)
	}
	return children, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                    Job
		status               string
		startedAt, stoppedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &j.Name, &j.OwnerID, &status, &j.RootJobID, &j.Unique, &j.Interrupted,
		&j.Reason, &j.CreatedAt, &startedAt, &stoppedAt)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.CreatedAt = j.CreatedAt.UTC()
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		j.StartedAt = &t
	}
	if stoppedAt.Valid {
		t := stoppedAt.Time.UTC()
		j.StoppedAt = &t
	}
	return &j, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
