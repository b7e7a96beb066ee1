package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tomeflow/tomeflow/internal/config"
	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)
var _ core.AuditSink = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for books

func (c *DatabaseClient) CreateBook(ctx context.Context, book *models.Book) error {
	if book == nil {
		return errors.New("nil book")
	}
	const q = `
		INSERT INTO books
			(id, principal_id, title, locator, content_type, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		book.ID, book.PrincipalID, book.Title, book.Locator, book.ContentType, book.Status)
	return err
}

func (c *DatabaseClient) GetBookByID(ctx context.Context, id string) (*models.Book, error) {
	const q = `
		SELECT id, principal_id, title, locator, content_type, status, failure_reason,
		       text_length, content_vector IS NOT NULL, created_at, updated_at
		FROM books
		WHERE id = $1
	`
	var b models.Book
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.PrincipalID, &b.Title, &b.Locator, &b.ContentType, &b.Status,
		&b.FailureReason, &b.TextLength, &b.HasVector, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *DatabaseClient) GetBooksByIDs(ctx context.Context, ids []string) ([]models.Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
		SELECT id, principal_id, title, locator, content_type, status, failure_reason,
		       text_length, content_vector IS NOT NULL, created_at, updated_at
		FROM books
		WHERE id = ANY($1)
	`
	rows, err := c.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBooks(rows)
}

func (c *DatabaseClient) ListBooksByPrincipal(ctx context.Context, principalID string) ([]models.Book, error) {
	const q = `
		SELECT id, principal_id, title, locator, content_type, status, failure_reason,
		       text_length, content_vector IS NOT NULL, created_at, updated_at
		FROM books
		WHERE principal_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBooks(rows)
}

func (c *DatabaseClient) ListRecentProcessed(ctx context.Context, limit int) ([]models.Book, error) {
	const q = `
		SELECT id, principal_id, title, locator, content_type, status, failure_reason,
		       text_length, content_vector IS NOT NULL, created_at, updated_at
		FROM books
		WHERE status = 'processed'
		ORDER BY updated_at DESC
		LIMIT $1
	`
	rows, err := c.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBooks(rows)
}

func scanBooks(rows *sql.Rows) ([]models.Book, error) {
	var out []models.Book
	for rows.Next() {
		var b models.Book
		if err := rows.Scan(
			&b.ID, &b.PrincipalID, &b.Title, &b.Locator, &b.ContentType, &b.Status,
			&b.FailureReason, &b.TextLength, &b.HasVector, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetBookStatus performs a compare-and-set status transition. The guard on the
// prior status keeps two workers from racing to overwrite one book's state.
func (c *DatabaseClient) SetBookStatus(ctx context.Context, id, from, to, reason string) (bool, error) {
	const q = `
		UPDATE books
		SET status = $3, failure_reason = $4, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	res, err := c.db.ExecContext(ctx, q, id, from, to, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishBook writes vector, text length and terminal status in one statement,
// guarded on `processing` so a reader never sees extracted-but-not-embedded
// as processed.
func (c *DatabaseClient) FinishBook(ctx context.Context, id string, vector []float32, textLength int) error {
	const q = `
		UPDATE books
		SET content_vector = $2, text_length = $3, status = 'processed',
		    failure_reason = '', updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	vec := pgvector.NewVector(vector)
	res, err := c.db.ExecContext(ctx, q, id, vec, textLength)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("book %s not in processing state", id)
	}
	return nil
}

// Implementing the db interface for jobs

func (c *DatabaseClient) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	const q = `
		INSERT INTO jobs
			(id, book_id, locator, principal_id, content_type, format, attempts,
			 max_attempts, state, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		job.ID, job.BookID, job.Locator, job.PrincipalID, job.ContentType,
		int(job.Format), job.Attempts, job.MaxAttempts, job.State)
	return err
}

func (c *DatabaseClient) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	const q = `
		SELECT id, book_id, locator, principal_id, content_type, format, attempts,
		       max_attempts, state, last_error, enqueued_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	var (
		j      models.Job
		format int
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&j.ID, &j.BookID, &j.Locator, &j.PrincipalID, &j.ContentType, &format,
		&j.Attempts, &j.MaxAttempts, &j.State, &j.LastError, &j.EnqueuedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.Format = models.Format(format)
	return &j, nil
}

func (c *DatabaseClient) UpdateJobAttempt(ctx context.Context, id string, attempts int, state, lastErr string) error {
	const q = `
		UPDATE jobs
		SET attempts = $2, state = $3, last_error = $4, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, attempts, state, lastErr)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

// RecordAudit appends one audit event. Callers treat this as fire-and-forget.
func (c *DatabaseClient) RecordAudit(ctx context.Context, principalID, action, resourceType, resourceID string, metadata map[string]any) error {
	var meta []byte
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = b
	}
	const q = `
		INSERT INTO audit_log (principal_id, action, resource_type, resource_id, metadata)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`
	_, err := c.db.ExecContext(ctx, q, principalID, action, resourceType, resourceID, meta)
	return err
}
