package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
)

// Event names, appended to the configured subject prefix.
const (
	TradeReceived        = "trades.received"
	ConfirmationNeeded   = "trades.confirmation_needed"
	TradeChanged         = "trades.changed"
	TradeExchangeDetails = "trades.exchange_details"
)

// Queue is the intake side of the offer pipeline.
type Queue interface {
	Enqueue(offer domain.TradeOffer) bool
	MarkComplete(offerID string) bool
}

// Confirmer completes the second-factor confirmation of an offer.
type Confirmer interface {
	ConfirmOffer(ctx context.Context, offerID string) error
}

// Settler runs post-trade bookkeeping.
type Settler interface {
	Settle(ctx context.Context, offer domain.TradeOffer)
	OnExchange(ctx context.Context, details domain.ExchangeDetails)
}

type envelope struct {
	Data struct {
		Offer   *domain.TradeOffer      `json:"offer"`
		Details *domain.ExchangeDetails `json:"details"`
	} `json:"data"`
}

// Router dispatches lifecycle events to the pipeline.
type Router struct {
	prefix    string
	queue     Queue
	confirmer Confirmer
	settler   Settler
	metrics   *infra.Metrics
	logger    *slog.Logger
}

// NewRouter creates a router for subjects under prefix. metrics may be nil.
func NewRouter(prefix string, queue Queue, confirmer Confirmer, settler Settler, metrics *infra.Metrics) *Router {
	return &Router{
		prefix:    prefix,
		queue:     queue,
		confirmer: confirmer,
		settler:   settler,
		metrics:   metrics,
		logger:    slog.Default().With("module", "events"),
	}
}

// Subjects lists the subjects the router handles.
func (r *Router) Subjects() []string {
	return []string{
		r.subject(TradeReceived),
		r.subject(ConfirmationNeeded),
		r.subject(TradeChanged),
		r.subject(TradeExchangeDetails),
	}
}

func (r *Router) subject(event string) string {
	return r.prefix + "." + event
}

// Handle processes one message. Malformed or unknown messages are returned
// as errors for the caller to log; they are never redelivered.
func (r *Router) Handle(ctx context.Context, subject string, data []byte) error {
	event := strings.TrimPrefix(subject, r.prefix+".")

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode %s: %w", subject, err)
	}

	switch event {
	case TradeReceived:
		offer, err := requireOffer(env)
		if err != nil {
			return err
		}
		r.queue.Enqueue(offer)

	case ConfirmationNeeded:
		offer, err := requireOffer(env)
		if err != nil {
			return err
		}
		if err := r.confirmer.ConfirmOffer(ctx, offer.Key()); err != nil {
			return fmt.Errorf("confirm offer %s: %w", offer.Key(), err)
		}
		r.logger.Info("Offer confirmed", slog.String("offer_id", offer.Key()))

	case TradeChanged:
		offer, err := requireOffer(env)
		if err != nil {
			return err
		}
		if !offer.State.IsTerminal() {
			r.logger.Debug("Offer changed",
				slog.String("offer_id", offer.Key()),
				slog.String("state", offer.State.String()))
			return nil
		}
		// Bookkeeping first so the next offer sees settled inventory.
		r.settler.Settle(ctx, offer)
		r.queue.MarkComplete(offer.Key())

	case TradeExchangeDetails:
		if env.Data.Details == nil {
			return fmt.Errorf("%s: missing details", subject)
		}
		if env.Data.Details.Status != domain.ExchangeStatusComplete {
			return nil
		}
		r.settler.OnExchange(ctx, *env.Data.Details)

	default:
		return fmt.Errorf("unrecognised subject %s", subject)
	}
	return nil
}

func requireOffer(env envelope) (domain.TradeOffer, error) {
	if env.Data.Offer == nil || env.Data.Offer.Key() == "" {
		return domain.TradeOffer{}, fmt.Errorf("message without offer id")
	}
	return *env.Data.Offer, nil
}
