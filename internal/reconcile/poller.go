// Package reconcile replaces locally derived view state with freshly fetched
// authoritative state: on a fixed interval, on demand (manual refresh,
// regained focus), and when the sync channel reports a change.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veddev/chessmate-live/internal/obslog"
)

// Fetcher performs one full-state refresh.
type Fetcher func(ctx context.Context) error

// Poller runs the fetcher on a fixed interval plus on-demand triggers. At
// most one fetch is in flight; a trigger arriving while one is outstanding
// is dropped, not queued.
type Poller struct {
	interval time.Duration
	fetch    Fetcher

	mu       sync.Mutex
	inFlight bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller builds a stopped poller.
func NewPoller(interval time.Duration, fetch Fetcher) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		interval: interval,
		fetch:    fetch,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the interval loop. The poller is owned by the session's
// lifetime: Stop must pair with Start so reconnect/remount cycles do not
// leak duplicate timers.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				p.run(ctx, "interval")
			}
		}
	}()
}

// Trigger requests an immediate refresh. Returns false when a fetch was
// already in flight and the trigger was dropped.
func (p *Poller) Trigger(ctx context.Context, reason string) bool {
	return p.run(ctx, reason)
}

// Stop cancels the interval loop and waits for it to exit.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, reason string) bool {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		obslog.L().Debug("reconcile_dropped", zap.String("reason", reason))
		return false
	}
	p.inFlight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	if err := p.fetch(ctx); err != nil {
		obslog.L().Warn("reconcile_error", zap.String("reason", reason), zap.Error(err))
		return true
	}
	obslog.L().Debug("reconcile_run", zap.String("reason", reason))
	return true
}
