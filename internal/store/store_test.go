package store

import (
	"context"
	"errors"
	"testing"

	pebblestore "github.com/pitlinehq/pitline/internal/storage/pebble"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return Open(db)
}

func TestConditionalWriteCreateAndBump(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc, err := s.ConditionalWrite(ctx, []byte("k"), 0, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("want v1, got v%d", doc.Version)
	}

	doc, err = s.ConditionalWrite(ctx, []byte("k"), 1, []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if doc.Version != 2 {
		t.Fatalf("want v2, got v%d", doc.Version)
	}

	got, err := s.Read([]byte("k"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Version != 2 || string(got.Data) != `{"a":2}` {
		t.Fatalf("read mismatch: v%d %s", got.Version, got.Data)
	}
}

func TestConditionalWriteConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.ConditionalWrite(ctx, []byte("k"), 0, []byte(`1`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	// create-only against an existing doc
	if _, err := s.ConditionalWrite(ctx, []byte("k"), 0, []byte(`2`)); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict on create-only, got %v", err)
	}
	// stale version
	if _, err := s.ConditionalWrite(ctx, []byte("k"), 7, []byte(`2`)); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict on stale version, got %v", err)
	}
	// absent doc with non-zero expectation
	if _, err := s.ConditionalWrite(ctx, []byte("missing"), 3, []byte(`2`)); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict on absent doc, got %v", err)
	}
}

func TestReadNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Read([]byte("nope")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestBatchWriteAllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.ConditionalWrite(ctx, []byte("a"), 0, []byte(`"a1"`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// second put carries a stale version; nothing may land
	err := s.BatchWrite(ctx, []Put{
		{Key: []byte("a"), ExpectedVersion: 1, Data: []byte(`"a2"`)},
		{Key: []byte("b"), ExpectedVersion: 9, Data: []byte(`"b1"`)},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	doc, err := s.Read([]byte("a"))
	if err != nil || doc.Version != 1 || string(doc.Data) != `"a1"` {
		t.Fatalf("partial batch applied: v%d %s err=%v", doc.Version, doc.Data, err)
	}
	if _, err := s.Read([]byte("b")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("phantom write: %v", err)
	}

	// valid batch commits both
	err = s.BatchWrite(ctx, []Put{
		{Key: []byte("a"), ExpectedVersion: 1, Data: []byte(`"a2"`)},
		{Key: []byte("b"), ExpectedVersion: 0, Data: []byte(`"b1"`)},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if doc, _ := s.Read([]byte("a")); doc.Version != 2 {
		t.Fatalf("a not updated: v%d", doc.Version)
	}
	if doc, _ := s.Read([]byte("b")); doc.Version != 1 {
		t.Fatalf("b not created: v%d", doc.Version)
	}
}

func TestScanOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, k := range []string{"p/3", "p/1", "p/2", "q/1"} {
		if _, err := s.ConditionalWrite(ctx, []byte(k), 0, []byte(`0`)); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
	kvs, err := s.Scan([]byte("p/"), 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(kvs) != 3 {
		t.Fatalf("want 3 docs, got %d", len(kvs))
	}
	for i, want := range []string{"p/1", "p/2", "p/3"} {
		if string(kvs[i].Key) != want {
			t.Fatalf("order: got %s at %d", kvs[i].Key, i)
		}
	}
	kvs, _ = s.Scan([]byte("p/"), 2)
	if len(kvs) != 2 {
		t.Fatalf("limit ignored: %d", len(kvs))
	}
}

func TestScanReverse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, k := range []string{"p/1", "p/2", "p/3", "q/1"} {
		if _, err := s.ConditionalWrite(ctx, []byte(k), 0, []byte(`0`)); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
	kvs, err := s.ScanReverse([]byte("p/"), 2)
	if err != nil {
		t.Fatalf("scan reverse: %v", err)
	}
	if len(kvs) != 2 {
		t.Fatalf("want 2 docs, got %d", len(kvs))
	}
	for i, want := range []string{"p/3", "p/2"} {
		if string(kvs[i].Key) != want {
			t.Fatalf("order: got %s at %d", kvs[i].Key, i)
		}
	}
}

func TestScanCoversHighBytesUnderPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	keys := [][]byte{
		[]byte("p/a"),
		append([]byte("p/"), 0xFF),
		append([]byte("p/"), 0xFF, 0x01),
	}
	for _, k := range keys {
		if _, err := s.ConditionalWrite(ctx, k, 0, []byte(`0`)); err != nil {
			t.Fatalf("seed %q: %v", k, err)
		}
	}
	// the next sibling of "p/" must stay out of range
	if _, err := s.ConditionalWrite(ctx, []byte("p0"), 0, []byte(`0`)); err != nil {
		t.Fatalf("seed sibling: %v", err)
	}
	kvs, err := s.Scan([]byte("p/"), 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(kvs) != len(keys) {
		t.Fatalf("want %d docs under prefix, got %d", len(keys), len(kvs))
	}
}

func TestPrefixUpperBound(t *testing.T) {
	cases := []struct {
		prefix, want []byte
	}{
		{[]byte("p/"), []byte("p0")},
		{[]byte{'p', 0xFF}, []byte("q")},
		{[]byte{0xFF, 0xFF}, nil},
	}
	for _, tc := range cases {
		got := prefixUpperBound(tc.prefix)
		if string(got) != string(tc.want) {
			t.Fatalf("prefixUpperBound(%q) = %q, want %q", tc.prefix, got, tc.want)
		}
	}
}
