// Package gate provides the pacing primitive that spaces calls to the
// messaging API. The platform throttles (and eventually bans) accounts that
// burst requests, so every outbound API call acquires the gate first.
package gate

import (
	"context"
	"time"

	"github.com/warden/antispam/internal/metrics"
)

// DefaultInterval is the minimum spacing between consecutive API calls.
const DefaultInterval = 1500 * time.Millisecond

// Gate grants access to the messaging API no more often than once per
// configured interval. Grants are serialized through a single-slot token
// channel; blocked callers are woken in arrival order.
type Gate struct {
	interval time.Duration
	slot     chan struct{} // single token; the holder owns last
	last     time.Time
	now      func() time.Time
}

// New creates a Gate with the given minimum interval between grants.
// Non-positive intervals fall back to DefaultInterval.
func New(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	g := &Gate{
		interval: interval,
		slot:     make(chan struct{}, 1),
		now:      time.Now,
	}
	g.slot <- struct{}{}
	return g
}

// Acquire blocks until at least the configured interval has elapsed since
// the previous grant, then returns. If ctx is cancelled while waiting,
// Acquire returns ctx.Err() without advancing the grant timestamp.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.slot:
	}
	defer func() { g.slot <- struct{}{} }()

	if wait := g.interval - g.now().Sub(g.last); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		metrics.GateWaitSeconds.Observe(wait.Seconds())
	}
	g.last = g.now()
	return nil
}

// Interval returns the configured minimum spacing.
func (g *Gate) Interval() time.Duration {
	return g.interval
}
