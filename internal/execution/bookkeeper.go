package execution

import (
	"context"
	"log/slog"
	"sync"

	"trade_go/internal/domain"
)

// History is the purchase history as the bookkeeper uses it.
type History interface {
	Record(ctx context.Context, goods []domain.PricedGood) error
	Forget(ctx context.Context, instanceIDs []string) error
	Rekey(ctx context.Context, moves map[string]string) error
	Reprice(ctx context.Context, goods []domain.PricedGood, rate domain.Scrap) ([]domain.PricedGood, error)
}

// TradeObserver is told about settled exchanges.
type TradeObserver interface {
	OnInstanceTraded(ctx context.Context, givenIDs []string) error
	Recompute(ctx context.Context) error
}

// ListingBatcher publishes and withdraws listings in batches.
type ListingBatcher interface {
	PublishMany(ctx context.Context, specs []domain.ListingSpec) error
	WithdrawMany(ctx context.Context, specs []domain.ListingSpec) error
}

// Bookkeeper holds goods bought by accepted offers until the offer settles,
// then records them and keeps listings in step with the inventory.
// Failures are logged and never turn into another accept.
type Bookkeeper struct {
	history    History
	observer   TradeObserver
	listings   ListingBatcher
	classifier Classifier
	pricer     GoodsPricer
	prices     domain.PriceSource
	logger     *slog.Logger

	mu     sync.Mutex
	staged map[string][]domain.PricedGood
}

// NewBookkeeper creates the settlement bookkeeper.
func NewBookkeeper(
	history History,
	observer TradeObserver,
	listings ListingBatcher,
	classifier Classifier,
	pricer GoodsPricer,
	prices domain.PriceSource,
) *Bookkeeper {
	return &Bookkeeper{
		history:    history,
		observer:   observer,
		listings:   listings,
		classifier: classifier,
		pricer:     pricer,
		prices:     prices,
		logger:     slog.Default().With(slog.String("module", "bookkeeping")),
		staged:     make(map[string][]domain.PricedGood),
	}
}

// Stage remembers goods to record if offer id settles as accepted.
func (b *Bookkeeper) Stage(id string, goods []domain.PricedGood) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staged[id] = goods
}

// Discard forgets staged goods of offer id.
func (b *Bookkeeper) Discard(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.staged, id)
}

// Pending reports how many offers have staged goods.
func (b *Bookkeeper) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}

func (b *Bookkeeper) take(id string) ([]domain.PricedGood, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	goods, ok := b.staged[id]
	delete(b.staged, id)
	return goods, ok
}

// Settle runs once offer reached a terminal state. Only an accepted offer
// changes the purchase history and the rebalancing controller.
func (b *Bookkeeper) Settle(ctx context.Context, offer domain.TradeOffer) {
	id := offer.Key()
	staged, ok := b.take(id)
	if offer.State != domain.OfferStateAccepted {
		if ok {
			b.logger.Info("Offer ended without settling", slog.String("offer_id", id), slog.String("state", offer.State.String()))
		}
		return
	}

	log := b.logger.With(slog.String("offer_id", id))
	if err := b.history.Record(ctx, staged); err != nil {
		log.Error("Failed to record purchases", slog.Any("error", err))
	}
	given := offer.GivenInstanceIDs()
	if err := b.history.Forget(ctx, given); err != nil {
		log.Error("Failed to forget sold instances", slog.Any("error", err))
	}
	if err := b.observer.OnInstanceTraded(ctx, given); err != nil {
		log.Warn("Rebalancing after trade failed", slog.Any("error", err))
	}
	log.Info("Offer settled", slog.Int("recorded", len(staged)), slog.Int("given", len(given)))
}

// OnExchange handles the details of a completed exchange: purchase records
// follow reassigned instance ids, listings are refreshed and the rebalancing
// state recomputed.
func (b *Bookkeeper) OnExchange(ctx context.Context, details domain.ExchangeDetails) {
	moves := make(map[string]string)
	for _, it := range details.ReceivedItems {
		if it.NewAssetID != "" && it.NewAssetID != it.AssetID {
			moves[it.AssetID] = it.NewAssetID
		}
	}
	if err := b.history.Rekey(ctx, moves); err != nil {
		b.logger.Error("Failed to rekey purchases", slog.Any("error", err))
	}

	b.RefreshListings(ctx, details)

	if err := b.observer.Recompute(ctx); err != nil {
		b.logger.Warn("Rebalancing after exchange failed", slog.Any("error", err))
	}
}

// RefreshListings lists received goods for sale and puts goods given away
// back on the buy list. Keys are left to the rebalancing controller.
func (b *Bookkeeper) RefreshListings(ctx context.Context, details domain.ExchangeDetails) {
	received := b.pricer.PriceGoods(ctx, b.classifier.Classify(ctx, details.ReceivedItems).Goods)
	sent := b.pricer.PriceGoods(ctx, b.classifier.Classify(ctx, details.SentItems).Goods)
	if len(received) == 0 && len(sent) == 0 {
		return
	}

	for _, g := range append(append([]domain.PricedGood(nil), received...), sent...) {
		if !g.Priced {
			b.logger.Warn("Exchange holds unpriced goods, listings left unchanged", slog.String("sku", g.SKU))
			return
		}
	}

	rate, err := b.prices.GetExchangeRate(ctx)
	if err != nil {
		b.logger.Warn("No exchange rate, listings left unchanged", slog.Any("error", err))
		return
	}
	received, err = b.history.Reprice(ctx, received, rate.Sell)
	if err != nil {
		b.logger.Warn("Reprice failed, listings left unchanged", slog.Any("error", err))
		return
	}

	var publish, withdraw []domain.ListingSpec
	for _, g := range received {
		publish = append(publish, sellListing(g))
		withdraw = append(withdraw, domain.ListingSpec{Intent: domain.IntentBuy, SKU: g.SKU})
	}
	seen := make(map[string]bool)
	for _, g := range sent {
		if !seen[g.SKU] {
			seen[g.SKU] = true
			publish = append(publish, buyListing(g))
		}
		withdraw = append(withdraw, domain.ListingSpec{Intent: domain.IntentSell, SKU: g.SKU, InstanceID: g.InstanceID})
	}

	if err := b.listings.WithdrawMany(ctx, withdraw); err != nil {
		b.logger.Warn("Failed to withdraw listings", slog.Any("error", err))
	}
	if err := b.listings.PublishMany(ctx, publish); err != nil {
		b.logger.Warn("Failed to publish listings", slog.Any("error", err))
		return
	}
	b.logger.Info("Listings refreshed", slog.Int("published", len(publish)), slog.Int("withdrawn", len(withdraw)))
}

func sellListing(g domain.PricedGood) domain.ListingSpec {
	return domain.ListingSpec{
		Intent:     domain.IntentSell,
		SKU:        g.SKU,
		InstanceID: g.InstanceID,
		Quantity:   1,
		Price:      g.Sell,
		Details:    "Selling " + g.Name + " for " + g.Sell.String(),
	}
}

func buyListing(g domain.PricedGood) domain.ListingSpec {
	return domain.ListingSpec{
		Intent:   domain.IntentBuy,
		SKU:      g.SKU,
		Quantity: 1,
		Price:    g.Buy,
		Details:  "Buying " + g.Name + " for " + g.Buy.String(),
	}
}
