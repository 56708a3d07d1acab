package autokeys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
	"trade_go/internal/inventory"
)

// Config bounds the holdings the controller steers towards. Metal bounds are in scrap.
type Config struct {
	Enabled bool
	MinKeys int
	MaxKeys int
	MinRef  domain.Scrap
	MaxRef  domain.Scrap
}

// Decide computes the mode and target quantity for the given holdings.
// Buying needs metal above MaxRef, selling needs metal below MinRef, so the
// two cannot hold at once.
func Decide(cfg Config, h domain.Holdings, rate domain.ExchangeRate) (domain.Mode, int) {
	if !cfg.Enabled || !rate.Valid() {
		return domain.ModeIdle, 0
	}

	if h.Keys < cfg.MaxKeys && h.Metal > cfg.MaxRef {
		qty := int((h.Metal - cfg.MaxRef) / rate.Buy)
		qty = min(qty, cfg.MaxKeys-h.Keys)
		if qty > 0 {
			return domain.ModeBuying, qty
		}
	}

	if h.Keys > cfg.MinKeys && h.Metal < cfg.MinRef {
		deficit := cfg.MinRef - h.Metal
		qty := int((deficit + rate.Sell - 1) / rate.Sell)
		qty = min(qty, h.Keys-cfg.MinKeys)
		if qty > 0 {
			return domain.ModeSelling, qty
		}
	}

	return domain.ModeIdle, 0
}

// Controller keeps the currency rebalancing state and the listings backing it.
// Recompute and OnInstanceTraded exclude each other; State never blocks.
type Controller struct {
	cfg       Config
	inventory domain.InventorySource
	prices    domain.PriceSource
	reserver  domain.Reserver
	listings  domain.ListingPublisher
	metrics   *infra.Metrics
	logger    *slog.Logger

	guard chan struct{}
	state atomic.Pointer[domain.ControllerState]

	buyListed bool // guarded by guard
}

// NewController creates an idle controller. metrics may be nil.
func NewController(
	cfg Config,
	inv domain.InventorySource,
	prices domain.PriceSource,
	reserver domain.Reserver,
	listings domain.ListingPublisher,
	metrics *infra.Metrics,
) *Controller {
	c := &Controller{
		cfg:       cfg,
		inventory: inv,
		prices:    prices,
		reserver:  reserver,
		listings:  listings,
		metrics:   metrics,
		logger:    slog.Default().With(slog.String("module", "autokeys")),
		guard:     make(chan struct{}, 1),
	}
	c.state.Store(&domain.ControllerState{})
	return c
}

// State returns a consistent snapshot.
func (c *Controller) State() domain.ControllerState {
	return *c.state.Load()
}

func (c *Controller) lock(ctx context.Context) error {
	select {
	case c.guard <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) unlock() {
	<-c.guard
}

// Recompute re-reads holdings and the exchange rate and moves to the matching mode.
func (c *Controller) Recompute(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	return c.recomputeLocked(ctx, nil)
}

// OnInstanceTraded reacts to a settled exchange. When the reserved key was
// given away, its listing is withdrawn, the reservation is dropped and the
// state recomputed. Otherwise nothing happens.
func (c *Controller) OnInstanceTraded(ctx context.Context, givenIDs []string) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	cur := c.State()
	if cur.ReservedInstanceID == "" {
		return nil
	}
	traded := make(map[string]bool, len(givenIDs))
	for _, id := range givenIDs {
		traded[id] = true
	}
	if !traded[cur.ReservedInstanceID] {
		return nil
	}

	c.logger.Info("Reserved key traded away", slog.String("instance_id", cur.ReservedInstanceID))
	c.dropReservation(ctx, cur.ReservedInstanceID)
	c.publish(domain.ControllerState{Mode: cur.Mode, TargetQuantity: cur.TargetQuantity})

	return c.recomputeLocked(ctx, traded)
}

func (c *Controller) recomputeLocked(ctx context.Context, exclude map[string]bool) error {
	if !c.cfg.Enabled {
		c.enterIdle(ctx)
		return nil
	}

	holdings, err := c.inventory.Holdings(ctx)
	if err != nil {
		return fmt.Errorf("autokeys holdings: %w", err)
	}
	rate, err := c.prices.GetExchangeRate(ctx)
	if err != nil {
		return fmt.Errorf("autokeys exchange rate: %w", err)
	}
	if !rate.Valid() {
		return fmt.Errorf("autokeys exchange rate %+v: %w", rate, domain.ErrInvalidRate)
	}

	mode, qty := Decide(c.cfg, holdings, rate)
	c.logger.Debug("Recomputed",
		slog.Int("keys", holdings.Keys),
		slog.String("metal", holdings.Metal.Metal().String()),
		slog.String("mode", mode.String()),
		slog.Int("target", qty))

	switch mode {
	case domain.ModeBuying:
		c.enterBuying(ctx, qty, rate)
	case domain.ModeSelling:
		c.enterSelling(ctx, qty, rate, exclude)
	default:
		c.enterIdle(ctx)
	}
	return nil
}

func (c *Controller) enterBuying(ctx context.Context, qty int, rate domain.ExchangeRate) {
	cur := c.State()
	if cur.ReservedInstanceID != "" {
		c.dropReservation(ctx, cur.ReservedInstanceID)
	}

	if err := c.listings.Publish(ctx, domain.KeyBuyListing(qty, rate)); err != nil {
		c.logger.Error("Failed to publish key buy listing", slog.Int("qty", qty), slog.Any("error", err))
	} else {
		c.buyListed = true
	}

	c.publish(domain.ControllerState{Mode: domain.ModeBuying, TargetQuantity: qty})
}

func (c *Controller) enterSelling(ctx context.Context, qty int, rate domain.ExchangeRate, exclude map[string]bool) {
	c.withdrawBuy(ctx)

	reserved := c.State().ReservedInstanceID
	if reserved == "" {
		id, err := c.reserveKey(ctx, exclude)
		if err != nil {
			c.logger.Error("Failed to publish key sell listing", slog.Int("qty", qty), slog.Any("error", err))
		}
		reserved = id
	}

	if reserved != "" {
		if err := c.listings.Publish(ctx, domain.KeySellListing(reserved, qty, rate)); err != nil {
			c.logger.Error("Failed to publish key sell listing",
				slog.String("instance_id", reserved),
				slog.Int("qty", qty),
				slog.Any("error", err))
		}
	}

	c.publish(domain.ControllerState{Mode: domain.ModeSelling, TargetQuantity: qty, ReservedInstanceID: reserved})
}

func (c *Controller) enterIdle(ctx context.Context) {
	cur := c.State()
	c.withdrawBuy(ctx)
	if cur.ReservedInstanceID != "" {
		c.dropReservation(ctx, cur.ReservedInstanceID)
	}
	c.publish(domain.ControllerState{})
}

// reserveKey picks the oldest key nobody else holds.
func (c *Controller) reserveKey(ctx context.Context, exclude map[string]bool) (string, error) {
	ids, err := c.inventory.ListAvailable(ctx, domain.KeySKU)
	if err != nil {
		return "", fmt.Errorf("list keys: %w", err)
	}
	for _, id := range ids {
		if exclude[id] {
			continue
		}
		err := c.reserver.Reserve(inventory.OwnerAutokeys, id)
		var ce *domain.ConcurrencyError
		if errors.As(err, &ce) {
			continue
		}
		if err != nil {
			return "", err
		}
		c.logger.Info("Reserved key for sale", slog.String("instance_id", id))
		return id, nil
	}
	return "", domain.ErrNoAvailableInstance
}

func (c *Controller) withdrawBuy(ctx context.Context) {
	if !c.buyListed {
		return
	}
	spec := domain.ListingSpec{Intent: domain.IntentBuy, SKU: domain.KeySKU}
	if err := c.listings.Withdraw(ctx, spec); err != nil {
		c.logger.Error("Failed to withdraw key buy listing", slog.Any("error", err))
		return
	}
	c.buyListed = false
}

func (c *Controller) dropReservation(ctx context.Context, id string) {
	spec := domain.ListingSpec{Intent: domain.IntentSell, SKU: domain.KeySKU, InstanceID: id}
	if err := c.listings.Withdraw(ctx, spec); err != nil {
		c.logger.Error("Failed to withdraw key sell listing", slog.String("instance_id", id), slog.Any("error", err))
	}
	c.reserver.Release(inventory.OwnerAutokeys)
}

func (c *Controller) publish(s domain.ControllerState) {
	prev := c.state.Swap(&s)
	c.metrics.SetControllerState(s)
	if prev.Mode != s.Mode || prev.TargetQuantity != s.TargetQuantity {
		c.logger.Info("Autokeys state changed",
			slog.String("mode", s.Mode.String()),
			slog.Int("target", s.TargetQuantity),
			slog.String("reserved", s.ReservedInstanceID))
	}
}
