package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/models"
)

type stubDB struct {
	core.DbClient
	books       map[string]*models.Book
	byPrincipal map[string][]models.Book
}

func (s *stubDB) GetBookByID(_ context.Context, id string) (*models.Book, error) {
	return s.books[id], nil
}

func (s *stubDB) ListBooksByPrincipal(_ context.Context, principalID string) ([]models.Book, error) {
	return s.byPrincipal[principalID], nil
}

type stubCache struct {
	core.BookCache
	snaps       map[string]*models.BookSnapshot
	puts        []string
	invalidated []string
	popular     []models.PopularBook
	warmed      int
	cleared     bool
}

func (s *stubCache) Get(id string) (*models.BookSnapshot, bool, error) {
	snap, ok := s.snaps[id]
	return snap, ok, nil
}

func (s *stubCache) Put(id string, snap *models.BookSnapshot) error {
	s.puts = append(s.puts, id)
	return nil
}

func (s *stubCache) Invalidate(id string) error {
	s.invalidated = append(s.invalidated, id)
	return nil
}

func (s *stubCache) Popular(context.Context, int) ([]models.PopularBook, error) {
	return s.popular, nil
}

func (s *stubCache) Warmup(context.Context, int) (int, error) {
	return s.warmed, nil
}

func (s *stubCache) Stats() (*models.CacheStats, error) {
	return &models.CacheStats{TotalBooks: len(s.snaps)}, nil
}

func (s *stubCache) Clear() error {
	s.cleared = true
	s.snaps = map[string]*models.BookSnapshot{}
	return nil
}

func bookRouter(h *BookHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/books/{id}", h.GetBook)
	r.Get("/books", h.ListBooks)
	r.Get("/books/popular", h.Popular)
	r.Post("/cache/warmup", h.Warmup)
	r.Post("/cache/clear", h.ClearCache)
	r.Delete("/cache/{id}", h.Invalidate)
	return r
}

func TestGetBookCacheMissRepopulates(t *testing.T) {
	db := &stubDB{books: map[string]*models.Book{
		"b1": {ID: "b1", Title: "T1", Status: models.BookProcessed},
	}}
	cache := &stubCache{snaps: map[string]*models.BookSnapshot{}}
	router := bookRouter(NewBookHandler(db, cache))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/b1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Book   *models.Book `json:"book"`
		Cached bool         `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "T1", body.Book.Title)
	assert.False(t, body.Cached)
	assert.Equal(t, []string{"b1"}, cache.puts, "a miss re-populates the cache")
}

func TestGetBookCacheHit(t *testing.T) {
	db := &stubDB{books: map[string]*models.Book{"b1": {ID: "b1", Title: "T1"}}}
	cache := &stubCache{snaps: map[string]*models.BookSnapshot{
		"b1": {BookID: "b1", Title: "T1"},
	}}
	router := bookRouter(NewBookHandler(db, cache))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/b1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Cached bool `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Cached)
	assert.Empty(t, cache.puts)
}

func TestGetBookNotFound(t *testing.T) {
	router := bookRouter(NewBookHandler(&stubDB{books: map[string]*models.Book{}}, &stubCache{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBooksScopedToPrincipal(t *testing.T) {
	db := &stubDB{byPrincipal: map[string][]models.Book{
		"p1": {{ID: "b1"}, {ID: "b2"}},
	}}
	router := bookRouter(NewBookHandler(db, &stubCache{}))

	req := httptest.NewRequest(http.MethodGet, "/books", nil)
	req.Header.Set("X-Principal-ID", "p1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var books []models.Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &books))
	assert.Len(t, books, 2)
}

func TestPopularEndpoint(t *testing.T) {
	cache := &stubCache{popular: []models.PopularBook{
		{BookID: "b2", Hits: 7},
		{BookID: "b1", Hits: 3},
	}}
	router := bookRouter(NewBookHandler(&stubDB{}, cache))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/popular", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var popular []models.PopularBook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &popular))
	require.Len(t, popular, 2)
	assert.Equal(t, "b2", popular[0].BookID)
}

func TestWarmupEndpoint(t *testing.T) {
	cache := &stubCache{warmed: 3}
	router := bookRouter(NewBookHandler(&stubDB{}, cache))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cache/warmup?limit=3", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"warmed":3}`, rec.Body.String())
}

func TestClearCacheEndpoint(t *testing.T) {
	cache := &stubCache{snaps: map[string]*models.BookSnapshot{"b1": {BookID: "b1"}}}
	router := bookRouter(NewBookHandler(&stubDB{}, cache))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cache/clear", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, cache.cleared)
	assert.Empty(t, cache.snaps)
}

func TestInvalidateEndpoint(t *testing.T) {
	cache := &stubCache{}
	router := bookRouter(NewBookHandler(&stubDB{}, cache))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cache/b1", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"b1"}, cache.invalidated)
}

func TestQueryIntDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=abc", nil)
	assert.Equal(t, 10, queryInt(req, "limit", 10))
	req = httptest.NewRequest(http.MethodGet, "/x?limit=-2", nil)
	assert.Equal(t, 10, queryInt(req, "limit", 10))
	req = httptest.NewRequest(http.MethodGet, "/x?limit=7", nil)
	assert.Equal(t, 7, queryInt(req, "limit", 10))
}
