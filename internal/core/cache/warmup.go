package cache

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/tomeflow/tomeflow/internal/models"
)

// Popular ranks book ids by hit counter descending and joins the top `limit`
// with their canonical records from the durable store.
func (s *Store) Popular(ctx context.Context, limit int) ([]models.PopularBook, error) {
	ranked, err := s.ranking()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	ids := make([]string, len(ranked))
	for i := range ranked {
		ids[i] = ranked[i].BookID
	}
	books, err := s.books.GetBooksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Book, len(books))
	for i := range books {
		byID[books[i].ID] = &books[i]
	}
	for i := range ranked {
		ranked[i].Book = byID[ranked[i].BookID]
	}
	return ranked, nil
}

// Warmup pre-populates the cache for the top-`limit` popular books by
// re-deriving each snapshot from the durable store plus a fresh content
// fetch. When no hits have accumulated yet (cold start), it seeds from the
// most recently processed books instead. Returns the number of books warmed.
func (s *Store) Warmup(ctx context.Context, limit int) (int, error) {
	popular, err := s.Popular(ctx, limit)
	if err != nil {
		return 0, err
	}

	var targets []*models.Book
	for _, p := range popular {
		if p.Book != nil {
			targets = append(targets, p.Book)
		}
	}
	if len(targets) == 0 {
		recent, err := s.books.ListRecentProcessed(ctx, limit)
		if err != nil {
			return 0, err
		}
		for i := range recent {
			targets = append(targets, &recent[i])
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	warmed := 0
	done := make(chan string, len(targets))
	for _, book := range targets {
		book := book
		g.Go(func() error {
			payload, err := s.transport.Download(gctx, book.Locator)
			if err != nil {
				// Warm-up is a cold-start mitigation, not a correctness
				// requirement; a fetch failure only skips the book.
				log.Printf("cache: warmup fetch %s failed: %v", book.ID, err)
				return nil
			}
			snap := &models.BookSnapshot{
				BookID:      book.ID,
				Title:       book.Title,
				Locator:     book.Locator,
				ContentType: payload.ContentType,
				Size:        len(payload.Bytes),
				TextLength:  book.TextLength,
			}
			if err := s.Put(book.ID, snap); err != nil {
				return err
			}
			done <- book.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return warmed, err
	}
	close(done)
	for range done {
		warmed++
	}
	return warmed, nil
}
