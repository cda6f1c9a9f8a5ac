package dashboard

import (
	"context"
	"sync"
	"time"
)

// Poller refreshes the summary on a fixed interval and serves the latest
// successful result so dashboard requests never fan out on the hot path.
type Poller struct {
	agg      *Aggregator
	interval time.Duration

	mu      sync.RWMutex
	latest  Summary
	lastErr error
	ready   bool
}

func NewPoller(agg *Aggregator, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{agg: agg, interval: interval}
}

// Run refreshes immediately, then on every tick until the context ends.
func (p *Poller) Run(ctx context.Context) {
	p.refresh(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	summary, err := p.agg.Summarize(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err == nil {
		p.latest = summary
		p.ready = true
	}
}

// Latest returns the last successful summary. ok is false until the first
// refresh succeeds.
func (p *Poller) Latest() (Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.ready
}

// Err reports the most recent refresh error, nil after a clean refresh.
func (p *Poller) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
