package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"trade_go/internal/domain"
)

// PriceStore is the persistence the price service reads and writes.
type PriceStore interface {
	UpsertPrice(ctx context.Context, entry *domain.PriceEntry) error
	GetPrice(ctx context.Context, sku string) (*domain.PriceEntry, error)
	FindPriceByName(ctx context.Context, name string) (*domain.PriceEntry, error)
}

// PriceService serves the price list and the key exchange rate, and applies
// updates pushed by the price feed.
type PriceService struct {
	store   PriceStore
	updates chan domain.ItemPrice
	logger  *slog.Logger

	mu         sync.RWMutex
	onKeyPrice func(ctx context.Context)
}

// NewPriceService creates a new PriceService instance
func NewPriceService(store PriceStore) *PriceService {
	return &PriceService{
		store:   store,
		updates: make(chan domain.ItemPrice, 1000), // Buffered for pricelist bursts
		logger:  slog.Default().With(slog.String("module", "prices")),
	}
}

// OnKeyPrice registers fn to run after every key price update.
func (s *PriceService) OnKeyPrice(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onKeyPrice = fn
}

// GetItemPrice returns the price list entry for sku.
func (s *PriceService) GetItemPrice(ctx context.Context, sku string) (domain.ItemPrice, error) {
	if sku == "" {
		return domain.ItemPrice{}, domain.ErrPriceNotFound
	}
	entry, err := s.store.GetPrice(ctx, sku)
	if err != nil {
		return domain.ItemPrice{}, err
	}
	return entry.ItemPrice(), nil
}

// GetExchangeRate reads the key entry fresh on every call. The key is priced in metal only.
func (s *PriceService) GetExchangeRate(ctx context.Context) (domain.ExchangeRate, error) {
	entry, err := s.store.GetPrice(ctx, domain.KeySKU)
	if err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("key price: %w", err)
	}
	rate := domain.ExchangeRate{
		Buy:  domain.MetalToScrap(entry.BuyMetal),
		Sell: domain.MetalToScrap(entry.SellMetal),
	}
	if !rate.Valid() {
		return domain.ExchangeRate{}, fmt.Errorf("key price %s/%s: %w", entry.BuyMetal, entry.SellMetal, domain.ErrInvalidRate)
	}
	return rate, nil
}

// PriceGoods attaches list prices to goods. Goods without a price stay unpriced.
func (s *PriceService) PriceGoods(ctx context.Context, goods []domain.PricedGood) []domain.PricedGood {
	out := make([]domain.PricedGood, len(goods))
	for i, g := range goods {
		p, err := s.GetItemPrice(ctx, g.SKU)
		if err != nil {
			s.logger.Debug("Unpriced good",
				slog.String("sku", g.SKU),
				slog.String("name", g.Name),
				slog.Any("error", err))
			out[i] = domain.PricedGood{Good: g.Good}
			continue
		}
		out[i] = domain.PricedGood{Good: g.Good, Buy: p.Buy, Sell: p.Sell, Priced: true}
	}
	return out
}

// ResolveSKU finds the SKU of a display name in the price list.
func (s *PriceService) ResolveSKU(ctx context.Context, name string) (string, error) {
	entry, err := s.store.FindPriceByName(ctx, name)
	if err != nil {
		return "", err
	}
	return entry.SKU, nil
}

// Updates returns the channel the price feed pushes into.
func (s *PriceService) Updates() chan<- domain.ItemPrice {
	return s.updates
}

// StartProcessor applies queued updates in a background goroutine until ctx ends.
func (s *PriceService) StartProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-s.updates:
				if err := s.Apply(ctx, p); err != nil {
					s.logger.Warn("Price update failed", slog.String("sku", p.SKU), slog.Any("error", err))
				}
			}
		}
	}()
}

// Apply stores one price update. A key price update triggers the registered callback.
func (s *PriceService) Apply(ctx context.Context, p domain.ItemPrice) error {
	if p.SKU == "" {
		return fmt.Errorf("price update without sku: %w", domain.ErrUpdateFailed)
	}
	entry := domain.NewPriceEntry(p)
	if err := s.store.UpsertPrice(ctx, &entry); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpdateFailed, err)
	}

	if p.SKU != domain.KeySKU {
		return nil
	}
	s.logger.Info("Key price updated",
		slog.String("buy", p.Buy.String()),
		slog.String("sell", p.Sell.String()))

	s.mu.RLock()
	fn := s.onKeyPrice
	s.mu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
	return nil
}
