package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/models"
)

type BookHandler struct {
	db    core.DbClient
	cache core.BookCache
}

func NewBookHandler(db core.DbClient, cache core.BookCache) *BookHandler {
	return &BookHandler{db: db, cache: cache}
}

// GetBook serves a book through the cached access layer: a cache hit counts
// toward popularity; a miss falls back to the durable store and re-populates
// the cache.
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	snap, hit, err := h.cache.Get(bookID)
	if err != nil {
		log.Printf("handlers: cache get for book %s failed: %v", bookID, err)
	}

	book, err := h.db.GetBookByID(r.Context(), bookID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if book == nil {
		http.Error(w, "book not found", http.StatusNotFound)
		return
	}

	if !hit {
		snap = &models.BookSnapshot{
			BookID:      book.ID,
			Title:       book.Title,
			Locator:     book.Locator,
			ContentType: book.ContentType,
			TextLength:  book.TextLength,
		}
		if err := h.cache.Put(bookID, snap); err != nil {
			log.Printf("handlers: cache put for book %s failed: %v", bookID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"book":     book,
		"cached":   hit,
		"snapshot": snap,
	})
}

func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	principalID := r.Header.Get("X-Principal-ID")
	if principalID == "" {
		principalID = "anonymous"
	}

	books, err := h.db.ListBooksByPrincipal(r.Context(), principalID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(books)
}

// Popular returns the hit-count ranking joined with canonical records.
func (h *BookHandler) Popular(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)

	popular, err := h.cache.Popular(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(popular)
}

func (h *BookHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// Warmup re-populates the cache for the currently popular books.
func (h *BookHandler) Warmup(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 5)

	warmed, err := h.cache.Warmup(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"warmed": warmed})
}

// ClearCache drops every snapshot and popularity counter.
func (h *BookHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Clear(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	if err := h.cache.Invalidate(bookID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
