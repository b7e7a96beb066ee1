// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tomeflow/tomeflow/internal/config"
	"github.com/tomeflow/tomeflow/internal/core/cache"
	db "github.com/tomeflow/tomeflow/internal/core/database"
	"github.com/tomeflow/tomeflow/internal/core/extractor"
	"github.com/tomeflow/tomeflow/internal/core/llm"
	"github.com/tomeflow/tomeflow/internal/core/queue"
	"github.com/tomeflow/tomeflow/internal/core/transport"
	"github.com/tomeflow/tomeflow/internal/services"
)

type App struct {
	DBClient  *db.DatabaseClient
	Cache     *cache.Store
	Extractor *extractor.ContentExtractor
	Embedder  *llm.GeminiEmbedder
	Queue     *queue.IngestionQueue
	Server    *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	httpTransport := transport.NewHTTPTransport(cfg.FetchTimeout)
	objectTransport, err := transport.NewObjectTransport(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the object transport, %w", err)
	}
	locators := transport.NewLocatorTransport(httpTransport, objectTransport)
	log.Println("Transports initialized and ready.")

	cacheStore, err := cache.Open(cfg.CacheDir, cfg.CacheTTL, dbClient, locators)
	if err != nil {
		return nil, fmt.Errorf("couldn't open the cache store, %w", err)
	}

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	ocr := extractor.NewOCREngine(cfg.OCRLanguage)
	contentExtractor := extractor.NewContentExtractor(ocr)

	ingestService := services.NewIngestService(dbClient, locators, contentExtractor, embedder, cacheStore, dbClient)

	ingestQueue, err := queue.New(queue.Options{
		Workers:     cfg.WorkerCount,
		QueueSize:   cfg.QueueSize,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}, locators, ingestService, dbClient, dbClient)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the queue, %w", err)
	}
	ingestQueue.Start(ctx)

	server := NewServer(cfg, ingestQueue, dbClient, cacheStore)

	return &App{
		DBClient:  dbClient,
		Cache:     cacheStore,
		Extractor: contentExtractor,
		Embedder:  embedder,
		Queue:     ingestQueue,
		Server:    server,
	}, nil
}

func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Stop()
	}
	if a.Extractor != nil {
		if err := a.Extractor.Close(); err != nil {
			log.Printf("extractor close: %v", err)
		}
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
