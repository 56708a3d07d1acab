package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"trade_go/internal/domain"
)

// ItemSource returns the agent's current inventory.
type ItemSource interface {
	Inventory(ctx context.Context) ([]domain.RawItem, error)
}

// SKUResolver maps a display name to a catalog identifier.
type SKUResolver interface {
	ResolveSKU(ctx context.Context, name string) (string, error)
}

// Manager answers inventory questions for the decision engine and the
// rebalancing controller. Reservations are shared with every other subsystem.
type Manager struct {
	items        ItemSource
	skus         SKUResolver
	reservations *Reservations
	maxStock     int
	logger       *slog.Logger
}

// NewManager creates an inventory manager. maxStock <= 0 means one of each item.
func NewManager(items ItemSource, skus SKUResolver, reservations *Reservations, maxStock int) *Manager {
	if maxStock <= 0 {
		maxStock = 1
	}
	return &Manager{
		items:        items,
		skus:         skus,
		reservations: reservations,
		maxStock:     maxStock,
		logger:       slog.Default().With(slog.String("module", "inventory")),
	}
}

// Reservations returns the shared in-use set.
func (m *Manager) Reservations() *Reservations {
	return m.reservations
}

// Snapshot fetches the raw inventory.
func (m *Manager) Snapshot(ctx context.Context) ([]domain.RawItem, error) {
	items, err := m.items.Inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory snapshot: %w", err)
	}
	return items, nil
}

// Classify splits raw items into currencies and goods. Goods come back unpriced;
// a good whose SKU cannot be resolved keeps an empty SKU.
func (m *Manager) Classify(ctx context.Context, raw []domain.RawItem) domain.Side {
	var side domain.Side
	for _, item := range raw {
		if domain.IsCurrency(item.MarketHashName) {
			side.Currencies.Add(item.MarketHashName, item.InstanceID())
			continue
		}
		sku := item.SKU
		if sku == "" && m.skus != nil {
			resolved, err := m.skus.ResolveSKU(ctx, item.MarketHashName)
			if err != nil {
				m.logger.Debug("SKU not resolved",
					slog.String("name", item.MarketHashName),
					slog.Any("error", err))
			}
			sku = resolved
		}
		side.Goods = append(side.Goods, domain.PricedGood{
			Good: domain.Good{InstanceID: item.InstanceID(), SKU: sku, Name: item.MarketHashName},
		})
	}
	return side
}

// Holdings counts keys and metal currently held, reserved or not.
func (m *Manager) Holdings(ctx context.Context) (domain.Holdings, error) {
	items, err := m.Snapshot(ctx)
	if err != nil {
		return domain.Holdings{}, err
	}
	var g domain.CurrencyGrouping
	for _, item := range items {
		if domain.IsCurrency(item.MarketHashName) {
			g.Add(item.MarketHashName, item.InstanceID())
		}
	}
	return domain.Holdings{Keys: g.Count(domain.KeyName), Metal: g.MetalScrap()}, nil
}

// ListAvailable returns unreserved instances of sku, oldest first.
func (m *Manager) ListAvailable(ctx context.Context, sku string) ([]string, error) {
	items, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, item := range items {
		if !matchesSKU(item, sku) {
			continue
		}
		id := item.InstanceID()
		if m.reservations.InUse(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.SliceStable(ids, func(i, j int) bool { return olderThan(ids[i], ids[j]) })
	return ids, nil
}

// CheckStock reports whether receiving goods would push any item past the
// stock limit.
func (m *Manager) CheckStock(ctx context.Context, goods []domain.PricedGood) (bool, error) {
	if len(goods) == 0 {
		return false, nil
	}
	items, err := m.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	held := make(map[string]int, len(items))
	for _, item := range items {
		held[item.MarketHashName]++
	}
	for _, g := range goods {
		held[g.Name]++
		if held[g.Name] > m.maxStock {
			m.logger.Info("Overstocked",
				slog.String("name", g.Name),
				slog.Int("count", held[g.Name]),
				slog.Int("max", m.maxStock))
			return true, nil
		}
	}
	return false, nil
}

func matchesSKU(item domain.RawItem, sku string) bool {
	if item.SKU != "" {
		return item.SKU == sku
	}
	return sku == domain.KeySKU && item.MarketHashName == domain.KeyName
}

// Asset ids grow monotonically, so a smaller id was acquired earlier.
func olderThan(a, b string) bool {
	ai, errA := strconv.ParseUint(a, 10, 64)
	bi, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return ai < bi
}
