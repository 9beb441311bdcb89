package txn

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pitlinehq/pitline/internal/store"
	pebblestore "github.com/pitlinehq/pitline/internal/storage/pebble"
)

func newTestExecutor(t *testing.T, attempts int) (*Executor, *store.Store) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st := store.Open(db)
	e := New(st, Policy{Type: BackoffNone, MaxAttempts: attempts}, nil)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e, st
}

func TestExecuteAppliesIntent(t *testing.T) {
	e, st := newTestExecutor(t, 3)
	ctx := context.Background()

	doc, err := e.Execute(ctx, "inc", []byte("counter"), func(cur store.Doc) ([]byte, error) {
		n := 0
		if cur.Exists() {
			_ = json.Unmarshal(cur.Data, &n)
		}
		return json.Marshal(n + 1)
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if doc.Version != 1 || string(doc.Data) != "1" {
		t.Fatalf("unexpected doc: v%d %s", doc.Version, doc.Data)
	}

	got, _ := st.Read([]byte("counter"))
	if string(got.Data) != "1" {
		t.Fatalf("store mismatch: %s", got.Data)
	}
}

func TestExecuteRecomputesOnConflict(t *testing.T) {
	e, st := newTestExecutor(t, 5)
	ctx := context.Background()

	if _, err := st.ConditionalWrite(ctx, []byte("counter"), 0, []byte("10")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Simulate a concurrent writer landing between the executor's read and
	// its write on the first attempt only.
	interfered := false
	doc, err := e.Execute(ctx, "inc", []byte("counter"), func(cur store.Doc) ([]byte, error) {
		if !interfered {
			interfered = true
			if _, err := st.ConditionalWrite(ctx, []byte("counter"), cur.Version, []byte("99")); err != nil {
				t.Fatalf("interfere: %v", err)
			}
		}
		var n int
		_ = json.Unmarshal(cur.Data, &n)
		return json.Marshal(n + 1)
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// The final value must be computed from the interfering write, not the
	// stale first read (last-writer-recomputes).
	if string(doc.Data) != "100" {
		t.Fatalf("lost update: got %s", doc.Data)
	}
}

func TestExecuteExhaustsToPreconditionFailed(t *testing.T) {
	e, st := newTestExecutor(t, 3)
	ctx := context.Background()

	if _, err := st.ConditionalWrite(ctx, []byte("k"), 0, []byte("0")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	conflicts := 0
	_, err := e.Execute(ctx, "op", []byte("k"), func(cur store.Doc) ([]byte, error) {
		// Always collide with a fresh write.
		conflicts++
		if _, err := st.ConditionalWrite(ctx, []byte("k"), cur.Version, []byte("x")); err != nil {
			t.Fatalf("interfere: %v", err)
		}
		return []byte("y"), nil
	})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("want ErrPreconditionFailed, got %v", err)
	}
	if conflicts != 3 {
		t.Fatalf("want 3 attempts, got %d", conflicts)
	}
}

func TestExecuteIntentErrorNotRetried(t *testing.T) {
	e, _ := newTestExecutor(t, 5)
	boom := errors.New("invalid transition")
	calls := 0
	_, err := e.Execute(context.Background(), "op", []byte("k"), func(store.Doc) ([]byte, error) {
		calls++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want intent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("business error must not be retried: %d calls", calls)
	}
}

func TestExecuteBatchRetriesWithFreshVersions(t *testing.T) {
	e, st := newTestExecutor(t, 4)
	ctx := context.Background()

	if _, err := st.ConditionalWrite(ctx, []byte("a"), 0, []byte("1")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	builds := 0
	err := e.ExecuteBatch(ctx, "renumber", func(ctx context.Context) ([]store.Put, error) {
		builds++
		cur, err := st.Read([]byte("a"))
		if err != nil {
			return nil, err
		}
		if builds == 1 {
			// collide once
			if _, err := st.ConditionalWrite(ctx, []byte("a"), cur.Version, []byte("9")); err != nil {
				return nil, err
			}
		}
		return []store.Put{{Key: []byte("a"), ExpectedVersion: cur.Version, Data: []byte("2")}}, nil
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if builds != 2 {
		t.Fatalf("want rebuild after conflict, got %d builds", builds)
	}
	doc, _ := st.Read([]byte("a"))
	if string(doc.Data) != "2" {
		t.Fatalf("final value: %s", doc.Data)
	}
}

func TestConcurrentIncrementsNeverLost(t *testing.T) {
	e, st := newTestExecutor(t, 50)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := e.Execute(ctx, "inc", []byte("n"), func(cur store.Doc) ([]byte, error) {
					n := 0
					if cur.Exists() {
						_ = json.Unmarshal(cur.Data, &n)
					}
					return json.Marshal(n + 1)
				})
				if err != nil {
					t.Errorf("execute: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	doc, err := st.Read([]byte("n"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var n int
	_ = json.Unmarshal(doc.Data, &n)
	if n != workers*perWorker {
		t.Fatalf("lost updates: want %d, got %d", workers*perWorker, n)
	}
}

func TestPolicyDelayCurves(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	none := Policy{Type: BackoffNone, Base: 10 * time.Millisecond}
	if d := none.Delay(3, rng); d != 0 {
		t.Fatalf("none: %v", d)
	}

	fixed := Policy{Type: BackoffFixed, Base: 10 * time.Millisecond}
	if d := fixed.Delay(4, rng); d != 10*time.Millisecond {
		t.Fatalf("fixed: %v", d)
	}

	exp := Policy{Type: BackoffExp, Base: 10 * time.Millisecond, Cap: 60 * time.Millisecond, Factor: 2}
	if d := exp.Delay(2, rng); d != 20*time.Millisecond {
		t.Fatalf("exp attempt2: %v", d)
	}
	if d := exp.Delay(10, rng); d != 60*time.Millisecond {
		t.Fatalf("exp cap: %v", d)
	}

	jit := Policy{Type: BackoffExpJitter, Base: 10 * time.Millisecond, Cap: 80 * time.Millisecond, Factor: 2}
	for i := 1; i < 6; i++ {
		if d := jit.Delay(i, rng); d < 0 || d > 80*time.Millisecond {
			t.Fatalf("jitter out of bounds at %d: %v", i, d)
		}
	}
}
