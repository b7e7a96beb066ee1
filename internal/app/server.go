// internal/app/server.go
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tomeflow/tomeflow/internal/api/handlers"
	"github.com/tomeflow/tomeflow/internal/config"
	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/core/queue"
)

type Server struct {
	httpServer *http.Server
}

func NewServer(cfg *config.Config, q *queue.IngestionQueue, db core.DbClient, bookCache core.BookCache) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Principal-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	batchHandler := handlers.NewBatchHandler(q, db)
	bookHandler := handlers.NewBookHandler(db, bookCache)

	r.Route("/api", func(r chi.Router) {
		r.Route("/books", func(r chi.Router) {
			r.Post("/batch", batchHandler.SubmitBatch)
			r.Get("/", bookHandler.ListBooks)
			r.Get("/popular", bookHandler.Popular)
			r.Get("/{id}", bookHandler.GetBook)
		})
		r.Route("/queue", func(r chi.Router) {
			r.Get("/status", batchHandler.QueueStatus)
			r.Post("/clear", batchHandler.ClearQueue)
		})
		r.Get("/jobs/{id}", batchHandler.GetJob)
		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", bookHandler.CacheStats)
			r.Post("/warmup", bookHandler.Warmup)
			r.Post("/clear", bookHandler.ClearCache)
			r.Delete("/{id}", bookHandler.Invalidate)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  time.Minute,
		},
	}
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
