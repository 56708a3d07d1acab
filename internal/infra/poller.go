package infra

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller runs a task on a fixed interval until stopped.
type Poller struct {
	name      string
	interval  time.Duration
	task      func(ctx context.Context) error
	immediate bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPoller creates a poller. When immediate is set the task also runs once on Start.
func NewPoller(name string, interval time.Duration, immediate bool, task func(ctx context.Context) error) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		name:      name,
		interval:  interval,
		task:      task,
		immediate: immediate,
	}
}

// Start begins polling in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Poller panic recovered", slog.String("poller", p.name), slog.Any("panic", r))
			}
		}()

		if p.immediate {
			p.run(ctx)
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Poller stopped", slog.String("poller", p.name))
				return
			case <-ticker.C:
				p.run(ctx)
			}
		}
	}()
}

func (p *Poller) run(ctx context.Context) {
	if err := p.task(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("Poll task failed", slog.String("poller", p.name), slog.Any("error", err))
	}
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}
