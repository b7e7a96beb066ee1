package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/core/queue"
)

type BatchHandler struct {
	queue *queue.IngestionQueue
	db    core.DbClient
}

func NewBatchHandler(q *queue.IngestionQueue, db core.DbClient) *BatchHandler {
	return &BatchHandler{queue: q, db: db}
}

type submitBatchRequest struct {
	Locators []string `json:"locators"`
}

// SubmitBatch admits a list of locators. Each locator is validated and
// admitted independently; the response reports the per-item outcomes.
func (h *BatchHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Locators) == 0 {
		http.Error(w, "locators are required", http.StatusBadRequest)
		return
	}

	principalID := r.Header.Get("X-Principal-ID")
	if principalID == "" {
		principalID = "anonymous"
	}

	batch := h.queue.Submit(r.Context(), req.Locators, principalID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(batch)
}

// QueueStatus returns a point-in-time snapshot of the queue counters.
func (h *BatchHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.queue.Status())
}

// ClearQueue drops all waiting jobs and resets the terminal counters.
func (h *BatchHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	dropped := h.queue.Clear(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"dropped": dropped})
}

// GetJob returns the persisted details of one job for inspection.
func (h *BatchHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.db.GetJobByID(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}
