package cache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/tomeflow/tomeflow/internal/core"
	"github.com/tomeflow/tomeflow/internal/models"
)

// Key prefixes. Snapshots carry a TTL; hit counters do not, so popularity
// survives entry expiry.
const (
	snapshotPrefix = "book:"
	hitsPrefix     = "hits:"
)

// Store is a badger-backed TTL cache over book snapshots with a persistent
// per-book hit counter used for popularity ranking and warm-up.
type Store struct {
	db         *badger.DB
	defaultTTL time.Duration
	books      core.DbClient
	transport  core.Transport
}

var _ core.BookCache = (*Store)(nil)

// badgerLoggerAdapter routes badger's internal logging through the stdlib
// logger the rest of the service uses.
type badgerLoggerAdapter struct{}

var _ badger.Logger = badgerLoggerAdapter{}

func (badgerLoggerAdapter) Errorf(msg string, items ...any)   { log.Printf("badger: "+msg, items...) }
func (badgerLoggerAdapter) Warningf(msg string, items ...any) { log.Printf("badger: "+msg, items...) }
func (badgerLoggerAdapter) Infof(string, ...any)              {}
func (badgerLoggerAdapter) Debugf(string, ...any)             {}

// Open opens (or creates) the cache at dir. An empty dir opens an in-memory
// store, which tests rely on. books and transport back the popularity join
// and warm-up re-derivation.
func Open(dir string, defaultTTL time.Duration, books core.DbClient, transport core.Transport) (*Store, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = badgerLoggerAdapter{}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Store{db: db, defaultTTL: defaultTTL, books: books, transport: transport}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func snapshotKey(id string) []byte { return []byte(snapshotPrefix + id) }
func hitsKey(id string) []byte     { return []byte(hitsPrefix + id) }

// update runs fn in a read-write transaction, retrying on ErrConflict.
// Concurrent gets race on one hit counter under badger's SSI; the conflict is
// transient and must never surface to the caller.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
}

// Put stores a snapshot under the default TTL, overwriting any previous entry
// for the same id. It never touches the hit counter beyond seeding a zero for
// ids the ranking has not seen yet.
func (s *Store) Put(id string, snap *models.BookSnapshot) error {
	return s.PutTTL(id, snap, s.defaultTTL)
}

// PutTTL is Put with an explicit TTL.
func (s *Store) PutTTL(id string, snap *models.BookSnapshot, ttl time.Duration) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if snap.CachedAt.IsZero() {
		snap.CachedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(snapshotKey(id), raw).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		// Seed the counter so the id shows up in rankings before its first hit.
		if _, err := txn.Get(hitsKey(id)); err == badger.ErrKeyNotFound {
			return txn.Set(hitsKey(id), encodeUint64(0))
		} else if err != nil {
			return err
		}
		return nil
	})
}

// Get returns the cached snapshot for id. A hit increments the persistent
// counter; an expired or absent entry is a plain miss and counts nothing.
func (s *Store) Get(id string) (*models.BookSnapshot, bool, error) {
	var snap models.BookSnapshot
	found := false

	err := s.update(func(txn *badger.Txn) error {
		found = false
		item, err := txn.Get(snapshotKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		}); err != nil {
			return err
		}
		found = true

		hits, err := readUint64(txn, hitsKey(id))
		if err != nil {
			return err
		}
		return txn.Set(hitsKey(id), encodeUint64(hits+1))
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return &snap, true, nil
}

// Invalidate evicts the snapshot immediately, independent of its TTL. The hit
// counter is left alone.
func (s *Store) Invalidate(id string) error {
	return s.update(func(txn *badger.Txn) error {
		err := txn.Delete(snapshotKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Hits reports the persistent counter for id.
func (s *Store) Hits(id string) (uint64, error) {
	var hits uint64
	err := s.db.View(func(txn *badger.Txn) error {
		n, err := readUint64(txn, hitsKey(id))
		hits = n
		return err
	})
	return hits, err
}

// Clear drops every snapshot and counter.
func (s *Store) Clear() error {
	return s.db.DropAll()
}

// ranking returns all (id, hits) pairs ordered by hits descending.
func (s *Store) ranking() ([]models.PopularBook, error) {
	var out []models.PopularBook
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(hitsPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			var hits uint64
			if err := item.Value(func(val []byte) error {
				hits = decodeUint64(val)
				return nil
			}); err != nil {
				return err
			}
			out = append(out, models.PopularBook{BookID: id, Hits: hits})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Hits > out[j].Hits })
	return out, nil
}

// Stats summarizes the popularity counters.
func (s *Store) Stats() (*models.CacheStats, error) {
	ranked, err := s.ranking()
	if err != nil {
		return nil, err
	}
	stats := &models.CacheStats{TotalBooks: len(ranked)}
	for _, r := range ranked {
		stats.TotalHits += r.Hits
	}
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	stats.Popular = ranked
	return stats, nil
}

func encodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		n = decodeUint64(val)
		return nil
	})
	return n, err
}
