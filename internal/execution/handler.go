package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
	"trade_go/internal/strategy"
)

// Classifier splits raw items into currencies and goods.
type Classifier interface {
	Classify(ctx context.Context, raw []domain.RawItem) domain.Side
}

// GoodsPricer attaches list prices to goods.
type GoodsPricer interface {
	PriceGoods(ctx context.Context, goods []domain.PricedGood) []domain.PricedGood
}

// Handler resolves an offer, asks the evaluator for a decision and acts on it.
// It is the queue's handler and runs for one offer at a time.
type Handler struct {
	classifier Classifier
	pricer     GoodsPricer
	evaluator  strategy.Evaluator
	actor      domain.OfferActor
	books      *Bookkeeper
	metrics    *infra.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates the offer handler. metrics may be nil.
func NewHandler(
	classifier Classifier,
	pricer GoodsPricer,
	evaluator strategy.Evaluator,
	actor domain.OfferActor,
	books *Bookkeeper,
	metrics *infra.Metrics,
) *Handler {
	return &Handler{
		classifier: classifier,
		pricer:     pricer,
		evaluator:  evaluator,
		actor:      actor,
		books:      books,
		metrics:    metrics,
		logger:     slog.Default().With(slog.String("module", "execution")),
		now:        time.Now,
	}
}

// Resolve classifies and prices both sides of offer.
func (h *Handler) Resolve(ctx context.Context, offer domain.TradeOffer) strategy.Evaluation {
	give := h.classifier.Classify(ctx, offer.ItemsToGive)
	give.Goods = h.pricer.PriceGoods(ctx, give.Goods)
	receive := h.classifier.Classify(ctx, offer.ItemsToReceive)
	receive.Goods = h.pricer.PriceGoods(ctx, receive.Goods)
	return strategy.Evaluation{Offer: offer, Give: give, Receive: receive}
}

// Handle decides offer and sends exactly one accept or decline for it.
// An accept is never repeated: once sent, only bookkeeping follows.
func (h *Handler) Handle(ctx context.Context, offer domain.TradeOffer) error {
	id := offer.Key()
	log := h.logger.With(
		slog.String("eval_id", uuid.NewString()),
		slog.String("offer_id", id),
		slog.String("partner", offer.Partner))
	start := h.now()

	decision, err := h.evaluator.Evaluate(ctx, h.Resolve(ctx, offer))
	if err != nil {
		return fmt.Errorf("evaluate offer %s: %w", id, err)
	}
	if decision.Violation != nil {
		log.Warn("Malformed offer", slog.Any("error", decision.Violation))
	}

	if decision.Accepted() {
		// Staged before the call: the terminal state can arrive before it returns.
		h.books.Stage(id, decision.Staged)
		if err := h.actor.AcceptOffer(ctx, id); err != nil {
			if !acceptMayHaveApplied(err) {
				h.books.Discard(id)
				return fmt.Errorf("accept offer %s: %w", id, err)
			}
			// Staged goods stay until the terminal state settles the offer.
			log.Warn("Accept outcome unknown, awaiting terminal state", slog.Any("error", err))
		}
	} else if err := h.actor.DeclineOffer(ctx, id); err != nil {
		return fmt.Errorf("decline offer %s: %w", id, err)
	}

	elapsed := h.now().Sub(start)
	h.metrics.RecordDecision(decision.Accepted(), string(decision.Reason), elapsed)
	log.Info("Offer decided",
		slog.String("action", decision.Action.String()),
		slog.String("reason", string(decision.Reason)),
		slog.String("kind", string(decision.Kind)),
		slog.Int64("give_scrap", int64(decision.GiveValue)),
		slog.Int64("receive_scrap", int64(decision.ReceiveValue)),
		slog.Duration("elapsed", elapsed))
	return nil
}

// acceptMayHaveApplied reports whether a failed accept call could still have
// reached the platform. Only a definite rejection by the bot service rules it out.
func acceptMayHaveApplied(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ext *domain.ExternalServiceError
	if errors.As(err, &ext) {
		return ext.IsRetriable()
	}
	return true
}
