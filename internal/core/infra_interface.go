package core

import (
	"context"

	"github.com/tomeflow/tomeflow/internal/models"
)

// DbClient defines all persistence operations the ingestion pipeline needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateBook(ctx context.Context, book *models.Book) error
	GetBookByID(ctx context.Context, id string) (*models.Book, error)
	GetBooksByIDs(ctx context.Context, ids []string) ([]models.Book, error)
	ListBooksByPrincipal(ctx context.Context, principalID string) ([]models.Book, error)
	ListRecentProcessed(ctx context.Context, limit int) ([]models.Book, error)

	// SetBookStatus is a conditional write: the update applies only when the
	// current status equals `from`. Returns false when the guard did not match.
	SetBookStatus(ctx context.Context, id, from, to, reason string) (bool, error)

	// FinishBook writes the content vector, text length and `processed` status
	// in a single statement so a reader never observes a half-finished book.
	FinishBook(ctx context.Context, id string, vector []float32, textLength int) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	UpdateJobAttempt(ctx context.Context, id string, attempts int, state, lastErr string) error

	Close() error
}

// EmbeddingProvider is the embedding collaborator. Failures are treated as
// retryable transient errors by the queue.
type EmbeddingProvider interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Validation is the outcome of a pre-admission locator check.
type Validation struct {
	Valid         bool
	ContentType   string
	ContentLength int64
	Err           error
}

// Payload is a fully fetched document body.
type Payload struct {
	Bytes       []byte
	ContentType string
	FileName    string
}

// Transport fetches documents referenced by a locator (URL or object key).
type Transport interface {
	// Validate performs a cheap existence/metadata check without a body fetch.
	Validate(ctx context.Context, locator string) Validation
	// Download fetches the full body with a bounded timeout.
	Download(ctx context.Context, locator string) (*Payload, error)
}

// TextExtractor turns raw bytes plus a resolved format into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, format models.Format, payload *Payload) (string, error)
	Close() error
}

// AuditSink records terminal ingestion outcomes. Implementations are
// fire-and-forget from the pipeline's perspective: a failed audit write must
// never fail the job it describes.
type AuditSink interface {
	RecordAudit(ctx context.Context, principalID, action, resourceType, resourceID string, metadata map[string]any) error
}

// BookCache is the TTL cache with popularity tracking over book snapshots.
type BookCache interface {
	Put(id string, snap *models.BookSnapshot) error
	Get(id string) (*models.BookSnapshot, bool, error)
	Invalidate(id string) error
	Clear() error
	Popular(ctx context.Context, limit int) ([]models.PopularBook, error)
	Warmup(ctx context.Context, limit int) (int, error)
	Stats() (*models.CacheStats, error)
	Close() error
}
