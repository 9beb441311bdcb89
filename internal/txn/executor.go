package txn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/pitlinehq/pitline/internal/store"
	logpkg "github.com/pitlinehq/pitline/pkg/log"
)

// ErrPreconditionFailed reports an optimistic transaction whose retries
// were exhausted by concurrent writers. The intent was never applied.
var ErrPreconditionFailed = errors.New("txn: precondition failed after retries")

// Observer receives retry observations. Optional.
type Observer interface {
	TxnConflict(op string)
}

type noopObserver struct{}

func (noopObserver) TxnConflict(string) {}

// Intent computes the next document payload from the current one.
// current.Exists() is false when the document is absent.
type Intent func(current store.Doc) ([]byte, error)

// Executor runs optimistic transactions against the versioned store.
type Executor struct {
	store    *store.Store
	policy   Policy
	logger   logpkg.Logger
	observer Observer
	rng      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error
}

// New returns an Executor with the given policy.
func New(st *store.Store, policy Policy, logger logpkg.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if logger == nil {
		logger = logpkg.NewLogger().WithComponent("txn")
	}
	return &Executor{
		store:    st,
		policy:   policy,
		logger:   logger,
		observer: noopObserver{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepCtx,
	}
}

// SetObserver attaches a retry observer.
func (e *Executor) SetObserver(obs Observer) {
	if obs != nil {
		e.observer = obs
	}
}

// Execute applies intent to the document under key with bounded conflict
// retries. The committed document is returned on success.
func (e *Executor) Execute(ctx context.Context, op string, key []byte, intent Intent) (store.Doc, error) {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return store.Doc{}, err
		}
		current, err := e.store.Read(key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.Doc{}, err
		}
		next, err := intent(current)
		if err != nil {
			return store.Doc{}, err
		}
		doc, err := e.store.ConditionalWrite(ctx, key, current.Version, next)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return store.Doc{}, err
		}
		lastErr = err
		e.observer.TxnConflict(op)
		if attempt < e.policy.MaxAttempts {
			if err := e.sleep(ctx, e.policy.Delay(attempt, e.rng)); err != nil {
				return store.Doc{}, err
			}
		}
	}
	e.logger.Warn("optimistic transaction exhausted",
		logpkg.Str("op", op),
		logpkg.Str("key", string(key)),
		logpkg.Int("attempts", e.policy.MaxAttempts),
	)
	return store.Doc{}, fmt.Errorf("%w: op=%s key=%s: %v", ErrPreconditionFailed, op, key, lastErr)
}

// ExecuteBatch applies an all-or-nothing conditional batch with the same
// retry loop. build runs before every attempt so the puts always carry
// freshly read versions.
func (e *Executor) ExecuteBatch(ctx context.Context, op string, build func(ctx context.Context) ([]store.Put, error)) error {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		puts, err := build(ctx)
		if err != nil {
			return err
		}
		err = e.store.BatchWrite(ctx, puts)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		lastErr = err
		e.observer.TxnConflict(op)
		if attempt < e.policy.MaxAttempts {
			if err := e.sleep(ctx, e.policy.Delay(attempt, e.rng)); err != nil {
				return err
			}
		}
	}
	e.logger.Warn("optimistic batch exhausted",
		logpkg.Str("op", op),
		logpkg.Int("attempts", e.policy.MaxAttempts),
	)
	return fmt.Errorf("%w: op=%s: %v", ErrPreconditionFailed, op, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
