package queue

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/models"
)

// Lifecycle is the per-document state machine the queue drives. The ingest
// service implements it; admission registers the book, ProcessAttempt runs
// one extraction+embedding attempt, and the terminal hooks run as ordinary
// sequential continuations on the worker goroutine.
type Lifecycle interface {
	Register(ctx context.Context, locator, principalID, contentType string) (*models.Job, error)
	ProcessAttempt(ctx context.Context, job *models.Job) error
	Completed(ctx context.Context, job *models.Job)
	Failed(ctx context.Context, job *models.Job, err error)
}

// TerminalResult is delivered exactly once per admitted job.
type TerminalResult struct {
	JobID    string
	BookID   string
	State    string // completed | failed
	Attempts int
	Err      error
}

// JobHandle lets a submitter wait for the job's terminal outcome.
type JobHandle struct {
	JobID  string
	BookID string
	Done   <-chan TerminalResult
}

type task struct {
	job  *models.Job
	done chan TerminalResult
}

// Options tunes the queue.
type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (o *Options) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Minute
	}
}

var errQueueFull = errors.New("ingestion queue is full")

// IngestionQueue admits, schedules and retries ingestion jobs with bounded
// worker concurrency. Admission validates locators up front so queue
// resources are never committed to dead ones.
type IngestionQueue struct {
	opts      Options
	transport core.Transport
	lifecycle Lifecycle
	db        core.DbClient
	audit     core.AuditSink
	pool      *ants.Pool
	tasks     chan *task

	mu       sync.Mutex
	inflight map[string]string // locator -> job id, non-terminal jobs only

	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func New(opts Options, transport core.Transport, lifecycle Lifecycle, db core.DbClient, audit core.AuditSink) (*IngestionQueue, error) {
	opts.withDefaults()

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, err
	}

	return &IngestionQueue{
		opts:      opts,
		transport: transport,
		lifecycle: lifecycle,
		db:        db,
		audit:     audit,
		pool:      pool,
		tasks:     make(chan *task, opts.QueueSize),
		inflight:  make(map[string]string),
	}, nil
}

// Start runs the dispatcher until ctx is cancelled. Each task is handed to
// the worker pool; Submit stays fast because admission never waits on a
// worker slot.
func (q *IngestionQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Println("queue: dispatcher shutting down")
				return
			case t := <-q.tasks:
				if err := q.pool.Submit(func() { q.run(ctx, t) }); err != nil {
					log.Printf("queue: pool submit failed for job %s: %v", t.job.ID, err)
					// finish undoes the waiting->active transfer run would
					// have made, so make it here.
					q.waiting.Add(-1)
					q.active.Add(1)
					q.finish(ctx, t, err)
				}
			}
		}
	}()
}

// Stop releases the worker pool. Pending tasks are abandoned; jobs already
// running finish their current attempt.
func (q *IngestionQueue) Stop() {
	q.pool.Release()
}

// Enqueue validates and admits a single locator. The returned handle is nil
// when the locator was rejected; the SubmissionResult always describes the
// outcome.
func (q *IngestionQueue) Enqueue(ctx context.Context, locator, principalID string) (*JobHandle, models.SubmissionResult) {
	q.mu.Lock()
	if jobID, dup := q.inflight[locator]; dup {
		q.mu.Unlock()
		return nil, models.SubmissionResult{
			Locator: locator,
			Status:  "invalid",
			Error:   "locator already queued (job " + jobID + ")",
		}
	}
	q.mu.Unlock()

	v := q.transport.Validate(ctx, locator)
	if !v.Valid {
		msg := "locator validation failed"
		if v.Err != nil {
			msg = v.Err.Error()
		}
		return nil, models.SubmissionResult{Locator: locator, Status: "invalid", Error: msg}
	}

	job, err := q.lifecycle.Register(ctx, locator, principalID, v.ContentType)
	if err != nil {
		return nil, models.SubmissionResult{Locator: locator, Status: "invalid", Error: err.Error()}
	}
	job.MaxAttempts = q.opts.MaxAttempts

	t := &task{job: job, done: make(chan TerminalResult, 1)}

	q.mu.Lock()
	if jobID, dup := q.inflight[locator]; dup {
		// Lost a race with a concurrent submission of the same locator.
		q.mu.Unlock()
		q.lifecycle.Failed(ctx, job, core.Faultf(core.FailValidation, "duplicate submission"))
		return nil, models.SubmissionResult{
			Locator: locator,
			Status:  "invalid",
			Error:   "locator already queued (job " + jobID + ")",
		}
	}
	q.inflight[locator] = job.ID
	q.mu.Unlock()

	select {
	case q.tasks <- t:
	default:
		q.mu.Lock()
		delete(q.inflight, locator)
		q.mu.Unlock()
		q.lifecycle.Failed(ctx, job, core.NewFault(core.FailResource, errQueueFull))
		return nil, models.SubmissionResult{Locator: locator, Status: "invalid", Error: errQueueFull.Error()}
	}
	q.waiting.Add(1)

	handle := &JobHandle{JobID: job.ID, BookID: job.BookID, Done: t.done}
	return handle, models.SubmissionResult{
		Locator:     locator,
		Status:      "queued",
		JobID:       job.ID,
		ContentType: v.ContentType,
	}
}

// Submit evaluates each locator independently; an invalid one never aborts
// the rest of the batch.
func (q *IngestionQueue) Submit(ctx context.Context, locators []string, principalID string) *models.BatchResult {
	batch := &models.BatchResult{TotalURLs: len(locators)}

	for _, locator := range locators {
		_, res := q.Enqueue(ctx, locator, principalID)
		if res.Status == "queued" {
			batch.AddedToQueue++
		}
		batch.Results = append(batch.Results, res)
	}

	if q.audit != nil {
		if err := q.audit.RecordAudit(ctx, principalID, "URLS_ADDED_TO_QUEUE", "batch", "", map[string]any{
			"totalUrls":    batch.TotalURLs,
			"addedToQueue": batch.AddedToQueue,
		}); err != nil {
			log.Printf("queue: audit write failed: %v", err)
		}
	}
	return batch
}

// run drives one job to a terminal state: up to MaxAttempts attempts with
// exponential backoff for retryable failures, immediate termination for
// non-retryable ones.
func (q *IngestionQueue) run(ctx context.Context, t *task) {
	q.waiting.Add(-1)
	q.active.Add(1)

	job := t.job
	var lastErr error

	for attempt := 1; attempt <= job.MaxAttempts; attempt++ {
		job.Attempts = attempt
		if err := q.db.UpdateJobAttempt(ctx, job.ID, attempt, models.JobActive, lastErrString(lastErr)); err != nil {
			log.Printf("queue: persist attempt %d for job %s: %v", attempt, job.ID, err)
		}

		lastErr = q.lifecycle.ProcessAttempt(ctx, job)
		if lastErr == nil {
			break
		}
		log.Printf("queue: job %s attempt %d/%d failed (%s): %v",
			job.ID, attempt, job.MaxAttempts, core.ClassOf(lastErr), lastErr)

		if !core.Retryable(lastErr) || attempt == job.MaxAttempts {
			break
		}
		if !q.sleep(ctx, backoffDelay(q.opts.BackoffBase, attempt, q.opts.BackoffMax)) {
			lastErr = ctx.Err()
			break
		}
	}

	q.finish(ctx, t, lastErr)
}

// finish records the terminal state, runs the lifecycle continuation and
// delivers the terminal result.
func (q *IngestionQueue) finish(ctx context.Context, t *task, runErr error) {
	job := t.job
	q.active.Add(-1)

	q.mu.Lock()
	delete(q.inflight, job.Locator)
	q.mu.Unlock()

	state := models.JobCompleted
	if runErr != nil {
		state = models.JobFailed
	}
	job.State = state
	job.LastError = lastErrString(runErr)

	if err := q.db.UpdateJobAttempt(ctx, job.ID, job.Attempts, state, job.LastError); err != nil {
		log.Printf("queue: persist terminal state for job %s: %v", job.ID, err)
	}

	if runErr == nil {
		q.completed.Add(1)
		q.lifecycle.Completed(ctx, job)
	} else {
		q.failed.Add(1)
		q.lifecycle.Failed(ctx, job, runErr)
	}

	t.done <- TerminalResult{
		JobID:    job.ID,
		BookID:   job.BookID,
		State:    state,
		Attempts: job.Attempts,
		Err:      runErr,
	}
}

// sleep waits for d, returning false if ctx is cancelled first.
func (q *IngestionQueue) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Status is a point-in-time snapshot. It is not transactionally consistent
// with individual job mutations, but completed+failed never decreases within
// a run.
func (q *IngestionQueue) Status() models.QueueStatus {
	s := models.QueueStatus{
		Waiting:   q.waiting.Load(),
		Active:    q.active.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed
	return s
}

// Clear drops all waiting jobs and resets the terminal counters. Active jobs
// run to their terminal state.
func (q *IngestionQueue) Clear(ctx context.Context) int {
	dropped := 0
	for {
		select {
		case t := <-q.tasks:
			q.waiting.Add(-1)
			q.mu.Lock()
			delete(q.inflight, t.job.Locator)
			q.mu.Unlock()

			clearErr := core.Faultf(core.FailValidation, "job cleared before processing")
			t.job.State = models.JobFailed
			t.job.LastError = clearErr.Error()
			if err := q.db.UpdateJobAttempt(ctx, t.job.ID, t.job.Attempts, models.JobFailed, t.job.LastError); err != nil {
				log.Printf("queue: persist cleared job %s: %v", t.job.ID, err)
			}
			q.lifecycle.Failed(ctx, t.job, clearErr)
			t.done <- TerminalResult{JobID: t.job.ID, BookID: t.job.BookID, State: models.JobFailed, Err: clearErr}
			dropped++
		default:
			q.completed.Store(0)
			q.failed.Store(0)
			return dropped
		}
	}
}

// backoffDelay computes base * 2^(attempt-1), capped at max.
func backoffDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func lastErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
