package services

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/core/extractor"
	"github.com/tomeflow/tomeflow/internal/core/queue"
	"github.com/tomeflow/tomeflow/internal/models"
)

// attemptTimeout bounds one full attempt: download, extraction, embedding
// and the terminal write.
const attemptTimeout = 5 * time.Minute

// IngestService owns the per-document lifecycle:
// registered -> processing -> processed | error. Every transition is a
// conditional write keyed on the expected prior state, so two workers can
// never race a book backward.
type IngestService struct {
	db        core.DbClient
	transport core.Transport
	extractor core.TextExtractor
	embedder  core.EmbeddingProvider
	cache     core.BookCache
	audit     core.AuditSink
}

var _ queue.Lifecycle = (*IngestService)(nil)

func NewIngestService(
	db core.DbClient,
	transport core.Transport,
	ext core.TextExtractor,
	embedder core.EmbeddingProvider,
	cache core.BookCache,
	audit core.AuditSink,
) *IngestService {
	return &IngestService{
		db:        db,
		transport: transport,
		extractor: ext,
		embedder:  embedder,
		cache:     cache,
		audit:     audit,
	}
}

// Register creates the book record in its initial state plus the job that
// will carry it through the pipeline. The content format is resolved here,
// once, and travels with the job.
func (s *IngestService) Register(ctx context.Context, locator, principalID, contentType string) (*models.Job, error) {
	book := &models.Book{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Title:       locatorFileName(locator),
		Locator:     locator,
		ContentType: contentType,
		Status:      models.BookRegistered,
	}
	if err := s.db.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		BookID:      book.ID,
		Locator:     locator,
		PrincipalID: principalID,
		ContentType: contentType,
		Format:      extractor.ResolveFormat(contentType),
		State:       models.JobWaiting,
	}
	if err := s.db.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// ProcessAttempt runs one ingestion attempt. The book reaches `processed`
// only after extraction AND embedding both succeed; FinishBook writes the
// vector and the status in one statement.
func (s *IngestService) ProcessAttempt(ctx context.Context, job *models.Job) error {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	if err := s.claim(attemptCtx, job); err != nil {
		return err
	}

	payload, err := s.transport.Download(attemptCtx, job.Locator)
	if err != nil {
		return err
	}

	text, err := s.extractor.Extract(attemptCtx, job.Format, payload)
	if err != nil {
		return err
	}

	vector, err := s.embedder.EmbedText(attemptCtx, text)
	if err != nil {
		return err
	}

	if err := s.db.FinishBook(attemptCtx, job.BookID, vector, len(text)); err != nil {
		return fmt.Errorf("finish book %s: %w", job.BookID, err)
	}

	// Cache population is best-effort; a cache failure never fails the job.
	snap := &models.BookSnapshot{
		BookID:      job.BookID,
		Title:       locatorFileName(job.Locator),
		Locator:     job.Locator,
		ContentType: payload.ContentType,
		Size:        len(payload.Bytes),
		TextLength:  len(text),
	}
	if err := s.cache.Put(job.BookID, snap); err != nil {
		log.Printf("ingest: cache put for book %s failed: %v", job.BookID, err)
	}

	return nil
}

// claim moves the book into `processing` on the first attempt. Retries find
// it already there; a terminal state means a stale job and aborts without
// retry, since terminal states are only re-enterable via a brand-new job.
func (s *IngestService) claim(ctx context.Context, job *models.Job) error {
	book, err := s.db.GetBookByID(ctx, job.BookID)
	if err != nil {
		return fmt.Errorf("load book %s: %w", job.BookID, err)
	}
	if book == nil {
		return core.Faultf(core.FailValidation, "book not found: %s", job.BookID)
	}

	switch book.Status {
	case models.BookRegistered:
		ok, err := s.db.SetBookStatus(ctx, job.BookID, models.BookRegistered, models.BookProcessing, "")
		if err != nil {
			return fmt.Errorf("claim book %s: %w", job.BookID, err)
		}
		if !ok {
			return core.Faultf(core.FailValidation, "book %s claimed by another worker", job.BookID)
		}
		return nil
	case models.BookProcessing:
		// Retry of an attempt that already claimed the book.
		return nil
	default:
		return core.Faultf(core.FailValidation, "book %s is terminal (%s)", job.BookID, book.Status)
	}
}

// Completed is the terminal-success continuation.
func (s *IngestService) Completed(ctx context.Context, job *models.Job) {
	s.recordAudit(ctx, job.PrincipalID, "BATCH_PROCESS_COMPLETED", job.BookID, map[string]any{
		"locator":  job.Locator,
		"attempts": job.Attempts,
	})
}

// Failed is the terminal-failure continuation: the book lands in `error`
// with a human-readable reason, and the failure is audited.
func (s *IngestService) Failed(ctx context.Context, job *models.Job, cause error) {
	reason := "ingestion failed"
	if cause != nil {
		reason = cause.Error()
	}

	moved, err := s.db.SetBookStatus(ctx, job.BookID, models.BookProcessing, models.BookError, reason)
	if err != nil {
		log.Printf("ingest: error transition for book %s: %v", job.BookID, err)
	} else if !moved {
		// The job may have died before ever claiming the book.
		if moved, err = s.db.SetBookStatus(ctx, job.BookID, models.BookRegistered, models.BookError, reason); err != nil {
			log.Printf("ingest: error transition for book %s: %v", job.BookID, err)
		} else if !moved {
			log.Printf("ingest: book %s already terminal, keeping its state", job.BookID)
		}
	}

	s.recordAudit(ctx, job.PrincipalID, "BATCH_PROCESS_FAILED", job.BookID, map[string]any{
		"locator":  job.Locator,
		"attempts": job.Attempts,
		"error":    reason,
	})
}

// recordAudit is fire-and-forget: an audit failure is logged, never raised.
func (s *IngestService) recordAudit(ctx context.Context, principalID, action, bookID string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordAudit(ctx, principalID, action, "book", bookID, metadata); err != nil {
		log.Printf("ingest: audit %s for book %s failed: %v", action, bookID, err)
	}
}

func locatorFileName(locator string) string {
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(locator)
}
