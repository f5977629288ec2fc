// internal/pace/pace.go
package pace

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Pacer spaces browser navigations out: a token-bucket rate limit keeps the
// average request rate down, and a randomized extra delay avoids the
// metronome-regular timing that trips anti-automation defenses.
type Pacer struct {
	limiter   *rate.Limiter
	jitterMin time.Duration
	jitterMax time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Pacer allowing requestsPerSecond sustained navigations with
// the given burst, plus a uniform random delay in [jitterMin, jitterMax]
// before each one.
func New(requestsPerSecond float64, burst int, jitterMin, jitterMax time.Duration) *Pacer {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 0.5
	}
	if burst <= 0 {
		burst = 1
	}
	if jitterMax < jitterMin {
		jitterMax = jitterMin
	}
	return &Pacer{
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		jitterMin: jitterMin,
		jitterMax: jitterMax,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until the next navigation may proceed.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	delay := p.jitter()
	if delay <= 0 {
		return nil
	}
	log.Debug().Dur("delay", delay).Msg("Pacing navigation")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (p *Pacer) jitter() time.Duration {
	if p.jitterMax <= 0 {
		return p.jitterMin
	}
	span := p.jitterMax - p.jitterMin
	if span <= 0 {
		return p.jitterMin
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jitterMin + time.Duration(p.rng.Int63n(int64(span)+1))
}
