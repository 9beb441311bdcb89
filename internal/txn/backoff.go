package txn

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// BackoffType selects the delay curve between conflict retries.
type BackoffType int

const (
	// BackoffNone retries immediately.
	BackoffNone BackoffType = iota
	// BackoffFixed sleeps Base between attempts.
	BackoffFixed
	// BackoffExp doubles (by Factor) from Base up to Cap.
	BackoffExp
	// BackoffExpJitter is exponential with uniform jitter in [0, delay).
	BackoffExpJitter
)

// ParseBackoffType maps a policy name to a BackoffType.
func ParseBackoffType(s string) (BackoffType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return BackoffNone, nil
	case "fixed":
		return BackoffFixed, nil
	case "exp":
		return BackoffExp, nil
	case "", "exp-jitter":
		return BackoffExpJitter, nil
	}
	return BackoffNone, fmt.Errorf("txn: unknown backoff type %q", s)
}

// Policy bounds the retry loop.
type Policy struct {
	Type        BackoffType
	Base        time.Duration
	Cap         time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultPolicy matches a live queue's tolerance: a handful of quick
// attempts, capped well under a second.
func DefaultPolicy() Policy {
	return Policy{
		Type:        BackoffExpJitter,
		Base:        25 * time.Millisecond,
		Cap:         500 * time.Millisecond,
		Factor:      2.0,
		MaxAttempts: 5,
	}
}

// Delay returns the sleep before the given retry. attempt is 1-based and
// counts completed attempts.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if p.Type == BackoffNone || p.Base <= 0 {
		return 0
	}
	d := p.Base
	if p.Type == BackoffExp || p.Type == BackoffExpJitter {
		factor := p.Factor
		if factor <= 1 {
			factor = 2.0
		}
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * factor)
			if p.Cap > 0 && d >= p.Cap {
				d = p.Cap
				break
			}
		}
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	if p.Type == BackoffExpJitter && d > 0 && rng != nil {
		d = time.Duration(rng.Int63n(int64(d))) + d/2
		if p.Cap > 0 && d > p.Cap {
			d = p.Cap
		}
	}
	return d
}
