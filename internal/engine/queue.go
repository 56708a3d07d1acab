package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
	"trade_go/internal/inventory"
)

// Stage is the lifecycle of an offer inside the queue.
type Stage int

const (
	StageUnknown Stage = iota
	StageQueued
	StageInEvaluation
	StageAwaitingConfirmation
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageQueued:
		return "queued"
	case StageInEvaluation:
		return "in_evaluation"
	case StageAwaitingConfirmation:
		return "awaiting_confirmation"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Handler decides and acts on one offer.
type Handler interface {
	Handle(ctx context.Context, offer domain.TradeOffer) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, offer domain.TradeOffer) error

func (f HandlerFunc) Handle(ctx context.Context, offer domain.TradeOffer) error {
	return f(ctx, offer)
}

// Acquirer is the subset of the shared in-use set the queue needs.
type Acquirer interface {
	Acquire(owner string, ids ...string) []string
	Release(owner string)
}

// OfferQueue admits offers once each and processes them strictly one at a
// time. An offer stays in flight from evaluation until MarkComplete is called
// for it, or until its handler fails.
type OfferQueue struct {
	mu       sync.Mutex
	stages   map[string]Stage // every offer ever admitted
	pending  []domain.TradeOffer
	inFlight string
	since    time.Time

	wake        chan struct{}
	handler     Handler
	reserver    Acquirer
	completions *Completions
	metrics     *infra.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewOfferQueue creates the intake queue. metrics may be nil.
func NewOfferQueue(handler Handler, reserver Acquirer, metrics *infra.Metrics) *OfferQueue {
	return &OfferQueue{
		stages:      make(map[string]Stage),
		wake:        make(chan struct{}, 1),
		handler:     handler,
		reserver:    reserver,
		completions: NewCompletions(),
		metrics:     metrics,
		logger:      slog.Default().With(slog.String("module", "queue")),
		now:         time.Now,
	}
}

// Enqueue admits offer unless its id was seen before. It reports whether the
// offer was admitted.
func (q *OfferQueue) Enqueue(offer domain.TradeOffer) bool {
	id := offer.Key()

	q.mu.Lock()
	if _, seen := q.stages[id]; seen {
		q.mu.Unlock()
		q.metrics.RecordDuplicate()
		q.logger.Debug("Duplicate offer ignored", slog.String("offer_id", id))
		return false
	}
	q.stages[id] = StageQueued
	q.pending = append(q.pending, offer)
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.RecordEnqueued()
	q.metrics.SetQueueDepth(depth)
	q.logger.Info("Offer queued",
		slog.String("offer_id", id),
		slog.String("partner", offer.Partner),
		slog.Int("depth", depth))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// MarkComplete signals that offer id reached a terminal state. It is a no-op
// unless the offer is the one currently awaiting confirmation.
func (q *OfferQueue) MarkComplete(id string) bool {
	if q.completions.Resolve(id) {
		q.logger.Info("Offer completed", slog.String("offer_id", id))
		return true
	}
	q.logger.Debug("Completion without pending wait", slog.String("offer_id", id))
	return false
}

// Stage reports where offer id currently is.
func (q *OfferQueue) Stage(id string) Stage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stages[id]
}

// InFlight returns the offer under evaluation or awaiting confirmation.
func (q *OfferQueue) InFlight() (id string, stage Stage, since time.Time, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight == "" {
		return "", StageUnknown, time.Time{}, false
	}
	return q.inFlight, q.stages[q.inFlight], q.since, true
}

// Len returns the number of offers waiting behind the in-flight one.
func (q *OfferQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run processes offers until ctx is cancelled. This MUST be run in a single goroutine.
func (q *OfferQueue) Run(ctx context.Context) {
	q.logger.Info("Offer queue started")
	for {
		for {
			offer, ok := q.pop()
			if !ok {
				break
			}
			q.process(ctx, offer)
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			q.logger.Info("Offer queue stopping...")
			return
		case <-q.wake:
		}
	}
}

func (q *OfferQueue) pop() (domain.TradeOffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return domain.TradeOffer{}, false
	}
	offer := q.pending[0]
	q.pending[0] = domain.TradeOffer{}
	q.pending = q.pending[1:]
	q.metrics.SetQueueDepth(len(q.pending))
	return offer, true
}

func (q *OfferQueue) setStage(id string, s Stage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stages[id] = s
	switch s {
	case StageInEvaluation:
		q.inFlight = id
		q.since = q.now()
	case StageAwaitingConfirmation:
		q.since = q.now()
	case StageDone:
		if q.inFlight == id {
			q.inFlight = ""
			q.since = time.Time{}
		}
	}
}

func (q *OfferQueue) process(ctx context.Context, offer domain.TradeOffer) {
	id := offer.Key()
	log := q.logger.With(slog.String("offer_id", id), slog.String("partner", offer.Partner))

	owner := inventory.OfferOwner(id)
	ids := offer.InstanceIDs()
	if taken := q.reserver.Acquire(owner, ids...); len(taken) != len(ids) {
		log.Warn("Some offer items are reserved elsewhere",
			slog.Int("items", len(ids)),
			slog.Int("reserved", len(taken)))
	}
	defer q.reserver.Release(owner)

	// Registered before the handler runs: the terminal state may arrive
	// while the accept call is still returning.
	pending := q.completions.Register(id)
	defer pending.Close()
	defer q.setStage(id, StageDone)

	q.setStage(id, StageInEvaluation)
	if err := q.invoke(ctx, offer); err != nil {
		q.metrics.RecordError()
		log.Error("Offer processing failed", slog.Any("error", err))
		return
	}

	q.setStage(id, StageAwaitingConfirmation)
	if err := pending.Wait(ctx); err != nil {
		log.Warn("Stopped waiting for offer completion", slog.Any("error", err))
	}
}

func (q *OfferQueue) invoke(ctx context.Context, offer domain.TradeOffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Offer handler panic recovered",
				slog.String("offer_id", offer.Key()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.handler.Handle(ctx, offer)
}
