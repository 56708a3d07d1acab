package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"trade_go/internal/domain"
)

// RecordStore is the persistence of purchase records.
type RecordStore interface {
	SaveRecords(ctx context.Context, records []domain.PurchaseRecord) error
	GetRecords(ctx context.Context, instanceIDs []string) (map[string]domain.PurchaseRecord, error)
	DeleteRecords(ctx context.Context, instanceIDs []string) error
	RekeyRecords(ctx context.Context, moves map[string]string) error
	PruneRecords(ctx context.Context, cutoff time.Time) (int64, error)
}

var oneScrap = decimal.RequireFromString("0.11")

// PurchaseHistory keeps what was paid for held goods so they are never
// listed below their purchase price.
type PurchaseHistory struct {
	store  RecordStore
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewPurchaseHistory creates the history. Records older than maxAge are ignored and pruned.
func NewPurchaseHistory(store RecordStore, maxAge time.Duration) *PurchaseHistory {
	return &PurchaseHistory{
		store:  store,
		maxAge: maxAge,
		now:    time.Now,
		logger: slog.Default().With(slog.String("module", "history")),
	}
}

// Record stores the buy price of settled goods.
func (h *PurchaseHistory) Record(ctx context.Context, goods []domain.PricedGood) error {
	if len(goods) == 0 {
		return nil
	}
	now := h.now()
	records := make([]domain.PurchaseRecord, 0, len(goods))
	for _, g := range goods {
		records = append(records, domain.PurchaseRecord{
			InstanceID:  g.InstanceID,
			SKU:         g.SKU,
			Name:        g.Name,
			PriceKeys:   g.Buy.Keys,
			PriceMetal:  g.Buy.Metal,
			PurchasedAt: now,
		})
	}
	if err := h.store.SaveRecords(ctx, records); err != nil {
		return fmt.Errorf("record purchases: %w", err)
	}
	return nil
}

// Forget drops records of instances that left the inventory.
func (h *PurchaseHistory) Forget(ctx context.Context, instanceIDs []string) error {
	if err := h.store.DeleteRecords(ctx, instanceIDs); err != nil {
		return fmt.Errorf("forget purchases: %w", err)
	}
	return nil
}

// Rekey follows instances whose ids changed during an exchange.
func (h *PurchaseHistory) Rekey(ctx context.Context, moves map[string]string) error {
	if err := h.store.RekeyRecords(ctx, moves); err != nil {
		return fmt.Errorf("rekey purchases: %w", err)
	}
	return nil
}

// Reprice raises the sell price of any good whose list sell value is below
// what was paid for it to the purchase price plus one scrap.
func (h *PurchaseHistory) Reprice(ctx context.Context, goods []domain.PricedGood, rate domain.Scrap) ([]domain.PricedGood, error) {
	ids := make([]string, 0, len(goods))
	for _, g := range goods {
		ids = append(ids, g.InstanceID)
	}
	records, err := h.store.GetRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load purchases: %w", err)
	}

	cutoff := h.now().Add(-h.maxAge)
	out := make([]domain.PricedGood, len(goods))
	for i, g := range goods {
		out[i] = g
		rec, ok := records[g.InstanceID]
		if !ok || rec.PurchasedAt.Before(cutoff) {
			continue
		}
		paid := rec.Price()
		if g.Sell.Value(rate) >= paid.Value(rate) {
			continue
		}
		out[i].Sell = domain.Currencies{Keys: paid.Keys, Metal: paid.Metal.Add(oneScrap)}
		h.logger.Info("Repriced below purchase price",
			slog.String("instance_id", g.InstanceID),
			slog.String("sku", g.SKU),
			slog.String("list_sell", g.Sell.String()),
			slog.String("paid", paid.String()),
			slog.String("new_sell", out[i].Sell.String()))
	}
	return out, nil
}

// Prune deletes records older than the maximum age.
func (h *PurchaseHistory) Prune(ctx context.Context) error {
	n, err := h.store.PruneRecords(ctx, h.now().Add(-h.maxAge))
	if err != nil {
		return fmt.Errorf("prune purchases: %w", err)
	}
	if n > 0 {
		h.logger.Info("Pruned purchase history", slog.Int64("removed", n))
	}
	return nil
}
