package events

import (
	"context"
	"log/slog"
	"time"

	"trade_go/internal/engine"
	"trade_go/internal/infra"
)

// InFlightQueue exposes the offer currently holding the pipeline.
type InFlightQueue interface {
	InFlight() (id string, stage engine.Stage, since time.Time, ok bool)
	MarkComplete(offerID string) bool
}

// Watchdog force-completes an offer whose terminal state never arrived.
type Watchdog struct {
	queue   InFlightQueue
	timeout time.Duration
	now     func() time.Time
	poller  *infra.Poller
	logger  *slog.Logger
}

// NewWatchdog checks the queue every interval. A zero timeout disables it.
func NewWatchdog(queue InFlightQueue, timeout, interval time.Duration) *Watchdog {
	w := &Watchdog{
		queue:   queue,
		timeout: timeout,
		now:     time.Now,
		logger:  slog.Default().With("module", "watchdog"),
	}
	w.poller = infra.NewPoller("watchdog", interval, false, w.Check)
	return w
}

// Start begins checking in the background. It does nothing when disabled.
func (w *Watchdog) Start(ctx context.Context) {
	if w.timeout <= 0 {
		return
	}
	w.poller.Start(ctx)
}

// Stop halts the checks.
func (w *Watchdog) Stop() {
	w.poller.Stop()
}

// Check releases the in-flight offer if it has awaited confirmation longer than the timeout.
func (w *Watchdog) Check(ctx context.Context) error {
	id, stage, since, ok := w.queue.InFlight()
	if !ok || stage != engine.StageAwaitingConfirmation {
		return nil
	}
	waited := w.now().Sub(since)
	if waited < w.timeout {
		return nil
	}
	if w.queue.MarkComplete(id) {
		w.logger.Warn("Offer force-completed after confirmation timeout",
			slog.String("offer_id", id),
			slog.Duration("waited", waited))
	}
	return nil
}
