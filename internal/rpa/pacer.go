package rpa

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// domainPacer spaces out attempt starts per domain key. Each domain gets
// its own limiter with burst 1, so the first start passes immediately
// and every subsequent start waits out the interval from the previous
// one. Limiters persist across batches: pacing is a property of the
// resource, not of one Run call.
type domainPacer struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

func newDomainPacer(interval time.Duration) *domainPacer {
	return &domainPacer{interval: interval, limiters: map[string]*rate.Limiter{}}
}

func (p *domainPacer) wait(ctx context.Context, domain string) error {
	if p.interval <= 0 || domain == "" {
		return ctx.Err()
	}
	p.mu.Lock()
	lim := p.limiters[domain]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[domain] = lim
	}
	p.mu.Unlock()

	return lim.Wait(ctx)
}
