package models

import (
	"time"
)

// Book statuses. A book never moves backward within one attempt lineage;
// `processed` and `error` are terminal until a brand-new job re-registers it.
const (
	BookRegistered = "registered"
	BookProcessing = "processing"
	BookProcessed  = "processed"
	BookError      = "error"
)

// Job states mirror the queue's view of one ingestion attempt lineage.
const (
	JobWaiting   = "waiting"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Format is the closed set of content formats the extractor understands.
// It is resolved once from the declared content type at job admission and
// carried on the job, so retries never re-derive it from a string compare.
type Format int

const (
	FormatUnsupported Format = iota
	FormatPDF
	FormatEPUB
	FormatImage
)

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatEPUB:
		return "epub"
	case FormatImage:
		return "image"
	default:
		return "unsupported"
	}
}

// Book represents one ingested (or in-flight) document.
type Book struct {
	ID            string    `db:"id" json:"id"`
	PrincipalID   string    `db:"principal_id" json:"principal_id"`
	Title         string    `db:"title" json:"title"`
	Locator       string    `db:"locator" json:"locator"` // URL or object-storage key
	ContentType   string    `db:"content_type" json:"content_type"`
	Status        string    `db:"status" json:"status"` // registered | processing | processed | error
	FailureReason string    `db:"failure_reason" json:"failure_reason,omitempty"`
	TextLength    int       `db:"text_length" json:"text_length"`
	HasVector     bool      `db:"has_vector" json:"has_vector"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Job is one queued attempt lineage to ingest a single locator.
type Job struct {
	ID          string    `db:"id" json:"id"`
	BookID      string    `db:"book_id" json:"book_id"`
	Locator     string    `db:"locator" json:"locator"`
	PrincipalID string    `db:"principal_id" json:"principal_id"`
	ContentType string    `db:"content_type" json:"content_type"`
	Format      Format    `db:"format" json:"format"`
	Attempts    int       `db:"attempts" json:"attempts"`
	MaxAttempts int       `db:"max_attempts" json:"max_attempts"`
	State       string    `db:"state" json:"state"` // waiting | active | completed | failed
	LastError   string    `db:"last_error" json:"last_error,omitempty"`
	EnqueuedAt  time.Time `db:"enqueued_at" json:"enqueued_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// SubmissionResult is the per-locator outcome of a batch submission.
type SubmissionResult struct {
	Locator     string `json:"locator"`
	Status      string `json:"status"` // "queued" | "invalid"
	JobID       string `json:"job_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchResult aggregates a multi-locator submission. Items are evaluated
// independently; one invalid locator never aborts the rest.
type BatchResult struct {
	TotalURLs    int                `json:"totalUrls"`
	AddedToQueue int                `json:"addedToQueue"`
	Results      []SubmissionResult `json:"results"`
}

// QueueStatus is a point-in-time snapshot of queue counters.
type QueueStatus struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// BookSnapshot is the payload cached per book id.
type BookSnapshot struct {
	BookID      string    `json:"book_id"`
	Title       string    `json:"title"`
	Locator     string    `json:"locator"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	TextLength  int       `json:"text_length"`
	CachedAt    time.Time `json:"cached_at"`
}

// PopularBook pairs a hit count with the canonical book record.
type PopularBook struct {
	BookID string `json:"book_id"`
	Hits   uint64 `json:"hits"`
	Book   *Book  `json:"details,omitempty"`
}

// CacheStats summarizes the popularity counters.
type CacheStats struct {
	TotalBooks int           `json:"total_books"`
	TotalHits  uint64        `json:"total_hits"`
	Popular    []PopularBook `json:"popular_books"`
}
