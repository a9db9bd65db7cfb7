package platforms

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// governor paces requests to one platform: a token-bucket limiter enforces
// the per-minute ceiling and a randomized inter-request delay keeps the
// traffic pattern irregular.
type governor struct {
	limiter  *rate.Limiter
	minDelay time.Duration
	maxDelay time.Duration

	mu   sync.Mutex
	rand *rand.Rand
	last time.Time
}

func newGovernor(perMinute int, minDelay, maxDelay time.Duration) *governor {
	if perMinute <= 0 {
		perMinute = 20
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &governor{
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		minDelay: minDelay,
		maxDelay: maxDelay,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until both the rate limit and the randomized spacing allow
// the next request, or the context is cancelled.
func (g *governor) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	spacing := g.minDelay
	if g.maxDelay > g.minDelay {
		spacing += time.Duration(g.rand.Int63n(int64(g.maxDelay - g.minDelay)))
	}
	wait := time.Until(g.last.Add(spacing))
	g.last = time.Now().Add(wait)
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
