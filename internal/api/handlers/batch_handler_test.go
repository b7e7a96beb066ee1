package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/core/queue"
	"github.com/tomeflow/tomeflow/internal/models"
)

type okTransport struct {
	core.Transport
}

func (okTransport) Validate(context.Context, string) core.Validation {
	return core.Validation{Valid: true, ContentType: "application/pdf"}
}

type noopLifecycle struct{}

func (noopLifecycle) Register(_ context.Context, locator, principalID, contentType string) (*models.Job, error) {
	return &models.Job{
		ID:          uuid.NewString(),
		BookID:      uuid.NewString(),
		Locator:     locator,
		PrincipalID: principalID,
		ContentType: contentType,
		State:       models.JobWaiting,
	}, nil
}

func (noopLifecycle) ProcessAttempt(context.Context, *models.Job) error { return nil }
func (noopLifecycle) Completed(context.Context, *models.Job)            {}
func (noopLifecycle) Failed(context.Context, *models.Job, error)        {}

type noopDB struct {
	core.DbClient
	jobs map[string]*models.Job
}

func (n *noopDB) UpdateJobAttempt(context.Context, string, int, string, string) error { return nil }

func (n *noopDB) GetJobByID(_ context.Context, id string) (*models.Job, error) {
	return n.jobs[id], nil
}

func newHandlerQueue(t *testing.T, db core.DbClient) *queue.IngestionQueue {
	t.Helper()
	q, err := queue.New(queue.Options{Workers: 2, BackoffBase: time.Millisecond},
		okTransport{}, noopLifecycle{}, db, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		cancel()
		q.Stop()
	})
	return q
}

func batchRouter(h *BatchHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/books/batch", h.SubmitBatch)
	r.Get("/queue/status", h.QueueStatus)
	r.Post("/queue/clear", h.ClearQueue)
	r.Get("/jobs/{id}", h.GetJob)
	return r
}

func TestSubmitBatchAccepted(t *testing.T) {
	db := &noopDB{}
	h := NewBatchHandler(newHandlerQueue(t, db), db)
	router := batchRouter(h)

	body := `{"locators":["https://x/a.pdf","https://x/b.pdf"]}`
	req := httptest.NewRequest(http.MethodPost, "/books/batch", strings.NewReader(body))
	req.Header.Set("X-Principal-ID", "p1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var batch models.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 2, batch.TotalURLs)
	assert.Equal(t, 2, batch.AddedToQueue)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, "queued", batch.Results[0].Status)
	assert.NotEmpty(t, batch.Results[0].JobID)
}

func TestSubmitBatchRejectsEmptyBody(t *testing.T) {
	db := &noopDB{}
	router := batchRouter(NewBatchHandler(newHandlerQueue(t, db), db))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/books/batch", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/books/batch", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueStatusEndpoint(t *testing.T) {
	db := &noopDB{}
	router := batchRouter(NewBatchHandler(newHandlerQueue(t, db), db))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status models.QueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, status.Waiting+status.Active+status.Completed+status.Failed, status.Total)
}

func TestClearQueueEndpoint(t *testing.T) {
	db := &noopDB{}
	router := batchRouter(NewBatchHandler(newHandlerQueue(t, db), db))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queue/clear", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "dropped")
}

func TestGetJobEndpoint(t *testing.T) {
	db := &noopDB{jobs: map[string]*models.Job{
		"j1": {ID: "j1", BookID: "b1", State: models.JobCompleted},
	}}
	router := batchRouter(NewBatchHandler(newHandlerQueue(t, db), db))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/j1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobCompleted, job.State)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
