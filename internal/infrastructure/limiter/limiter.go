package limiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter caps simultaneous outstanding provider calls and smooths call
// admission with a token-bucket rate limit. Slot waiters are served in
// arrival order.
type Limiter struct {
	slots chan struct{}
	rate  *rate.Limiter
}

// New builds a limiter allowing maxConcurrent in-flight calls and rps
// admissions per second. rps <= 0 disables rate limiting.
func New(maxConcurrent int, rps float64) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	var rl *rate.Limiter
	if rps > 0 {
		rl = rate.NewLimiter(rate.Limit(rps), maxConcurrent)
	}
	return &Limiter{
		slots: make(chan struct{}, maxConcurrent),
		rate:  rl,
	}
}

// Do runs fn once a slot and a rate token are available, releasing the slot
// when fn returns.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("limiter: callback is nil")
	}

	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.slots }()

	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			return err
		}
	}
	return fn(ctx)
}
