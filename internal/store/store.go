package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/pitlinehq/pitline/internal/storage/pebble"
)

var (
	// ErrNotFound reports an absent document.
	ErrNotFound = errors.New("store: document not found")
	// ErrConflict reports a version mismatch on a conditional write.
	ErrConflict = errors.New("store: version conflict")
	// ErrUnavailable reports a storage I/O failure.
	ErrUnavailable = errors.New("store: unavailable")
)

// Doc is a versioned document as read from the store.
type Doc struct {
	Data        []byte
	Version     uint64
	UpdatedAtMs int64
}

// Exists reports whether the document was present (Version > 0).
func (d Doc) Exists() bool { return d.Version > 0 }

// Put is one conditional write inside a batch.
type Put struct {
	Key             []byte
	ExpectedVersion uint64
	Data            []byte
}

// KV pairs a key with the document stored under it.
type KV struct {
	Key []byte
	Doc Doc
}

// envelope is the on-disk representation of a document.
type envelope struct {
	Version     uint64          `json:"version"`
	UpdatedAtMs int64           `json:"updatedAtMs"`
	Data        json.RawMessage `json:"data"`
}

// Store adapts the Pebble wrapper into a versioned document store.
type Store struct {
	db *pebblestore.DB

	// mu serializes check-and-set validation with batch commit.
	mu    sync.Mutex
	nowMs func() int64
}

// Open returns a Store over the given database.
func Open(db *pebblestore.DB) *Store {
	return &Store{db: db, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

// SetClock overrides the update-timestamp source. Test use only.
func (s *Store) SetClock(nowMs func() int64) { s.nowMs = nowMs }

// Read returns the document stored under key, or ErrNotFound.
func (s *Store) Read(key []byte) (Doc, error) {
	raw, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebblestore.ErrKeyNotFound) {
			return Doc{}, ErrNotFound
		}
		return Doc{}, fmt.Errorf("%w: read %q: %v", ErrUnavailable, key, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Doc{}, fmt.Errorf("%w: decode %q: %v", ErrUnavailable, key, err)
	}
	return Doc{Data: env.Data, Version: env.Version, UpdatedAtMs: env.UpdatedAtMs}, nil
}

// ConditionalWrite writes data under key if the stored version matches
// expectedVersion. ExpectedVersion 0 requires the document to be absent.
// Returns the committed document with its new version.
func (s *Store) ConditionalWrite(ctx context.Context, key []byte, expectedVersion uint64, data []byte) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(key, expectedVersion); err != nil {
		return Doc{}, err
	}
	doc := Doc{Data: data, Version: expectedVersion + 1, UpdatedAtMs: s.nowMs()}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, s.encode(doc), nil); err != nil {
		return Doc{}, fmt.Errorf("%w: write %q: %v", ErrUnavailable, key, err)
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return Doc{}, fmt.Errorf("%w: commit %q: %v", ErrUnavailable, key, err)
	}
	return doc, nil
}

// BatchWrite applies every put or none. A single version mismatch aborts
// the batch with ErrConflict before anything is written.
func (s *Store) BatchWrite(ctx context.Context, puts []Put) error {
	if len(puts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range puts {
		if err := s.checkVersion(p.Key, p.ExpectedVersion); err != nil {
			return err
		}
	}
	now := s.nowMs()
	b := s.db.NewBatch()
	defer b.Close()
	for _, p := range puts {
		doc := Doc{Data: p.Data, Version: p.ExpectedVersion + 1, UpdatedAtMs: now}
		if err := b.Set(p.Key, s.encode(doc), nil); err != nil {
			return fmt.Errorf("%w: batch write %q: %v", ErrUnavailable, p.Key, err)
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("%w: batch commit: %v", ErrUnavailable, err)
	}
	return nil
}

// Scan returns up to limit documents under prefix in key order.
// limit <= 0 means no bound.
func (s *Store) Scan(prefix []byte, limit int) ([]KV, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan %q: %v", ErrUnavailable, prefix, err)
	}
	defer iter.Close()

	var out []KV
	for ok := iter.First(); ok; ok = iter.Next() {
		var env envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			continue
		}
		key := append([]byte(nil), iter.Key()...)
		out = append(out, KV{Key: key, Doc: Doc{Data: env.Data, Version: env.Version, UpdatedAtMs: env.UpdatedAtMs}})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ScanReverse returns up to limit documents under prefix in descending
// key order. limit <= 0 means no bound.
func (s *Store) ScanReverse(prefix []byte, limit int) ([]KV, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan %q: %v", ErrUnavailable, prefix, err)
	}
	defer iter.Close()

	var out []KV
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var env envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			continue
		}
		key := append([]byte(nil), iter.Key()...)
		out = append(out, KV{Key: key, Doc: Doc{Data: env.Data, Version: env.Version, UpdatedAtMs: env.UpdatedAtMs}})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// BatchDelete removes keys unconditionally in one batch. Intended for
// retention trims of append-only data, not for versioned documents.
func (s *Store) BatchDelete(ctx context.Context, keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete(k, nil); err != nil {
			return fmt.Errorf("%w: batch delete %q: %v", ErrUnavailable, k, err)
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("%w: batch delete commit: %v", ErrUnavailable, err)
	}
	return nil
}

// checkVersion validates the CAS precondition under s.mu.
func (s *Store) checkVersion(key []byte, expected uint64) error {
	raw, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebblestore.ErrKeyNotFound) {
			if expected != 0 {
				return fmt.Errorf("%w: %q expected v%d, document absent", ErrConflict, key, expected)
			}
			return nil
		}
		return fmt.Errorf("%w: precheck %q: %v", ErrUnavailable, key, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode %q: %v", ErrUnavailable, key, err)
	}
	if env.Version != expected {
		return fmt.Errorf("%w: %q expected v%d, stored v%d", ErrConflict, key, expected, env.Version)
	}
	return nil
}

func (s *Store) encode(doc Doc) []byte {
	b, _ := json.Marshal(envelope{Version: doc.Version, UpdatedAtMs: doc.UpdatedAtMs, Data: doc.Data})
	return b
}

// prefixUpperBound returns the exclusive upper bound for a prefix scan:
// the prefix with its last non-0xFF byte incremented. Returns nil (no
// bound) when every byte is 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
