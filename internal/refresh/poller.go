// Package refresh runs reconciliation passes in the background.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"parking-allocator/internal/logging"
	"parking-allocator/internal/parking"
)

type Reconciler interface {
	Reconcile(ctx context.Context) parking.ReconcileReport
	ReconcileRequests() <-chan struct{}
}

// Poller reconciles once at start, then every interval and whenever the
// engine asks for a pass.
type Poller struct {
	target   Reconciler
	interval time.Duration
	onPass   func(parking.ReconcileReport)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewPoller(target Reconciler, interval time.Duration) *Poller {
	return &Poller{
		target:   target,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnPass registers a callback run after every pass. It must be set before
// Run.
func (p *Poller) OnPass(fn func(parking.ReconcileReport)) {
	p.onPass = fn
}

// Run blocks until ctx is done or Stop is called.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pass(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.pass(ctx, "interval")
		case <-p.target.ReconcileRequests():
			p.pass(ctx, "requested")
		}
	}
}

func (p *Poller) pass(ctx context.Context, trigger string) {
	report := p.target.Reconcile(ctx)
	if len(report.Repaired) > 0 || len(report.Orphans) > 0 || report.PendingSync > 0 {
		logging.Warn(ctx, "reconcile pass found drift",
			slog.String("trigger", trigger),
			slog.Int("checked", report.Checked),
			slog.Int("repaired", len(report.Repaired)),
			slog.Int("orphans", len(report.Orphans)),
			slog.Int("resynced", report.Resynced),
			slog.Int("pending_sync", report.PendingSync))
	} else {
		logging.Debug(ctx, "reconcile pass clean",
			slog.String("trigger", trigger),
			slog.Int("checked", report.Checked))
	}
	if p.onPass != nil {
		p.onPass(report)
	}
}

// Stop ends Run. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed once Run has returned.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}
