package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceEntry is the persisted price list row for one SKU.
type PriceEntry struct {
	SKU       string          `gorm:"primaryKey" json:"sku"`
	Name      string          `gorm:"index" json:"name"`
	BuyKeys   int64           `json:"buy_keys"`
	BuyMetal  decimal.Decimal `gorm:"type:text" json:"buy_metal"`
	SellKeys  int64           `json:"sell_keys"`
	SellMetal decimal.Decimal `gorm:"type:text" json:"sell_metal"`
	Time      int64           `json:"time"` // Feed timestamp (unix seconds)
	UpdatedAt time.Time       `json:"updated_at"`
}

// ItemPrice converts the row into its domain form.
func (p PriceEntry) ItemPrice() ItemPrice {
	return ItemPrice{
		SKU:  p.SKU,
		Name: p.Name,
		Buy:  Currencies{Keys: p.BuyKeys, Metal: p.BuyMetal},
		Sell: Currencies{Keys: p.SellKeys, Metal: p.SellMetal},
		Time: p.Time,
	}
}

// NewPriceEntry builds a row from a price list entry.
func NewPriceEntry(p ItemPrice) PriceEntry {
	return PriceEntry{
		SKU:       p.SKU,
		Name:      p.Name,
		BuyKeys:   p.Buy.Keys,
		BuyMetal:  p.Buy.Metal,
		SellKeys:  p.Sell.Keys,
		SellMetal: p.Sell.Metal,
		Time:      p.Time,
	}
}

// PurchaseRecord remembers what was paid for an acquired instance.
type PurchaseRecord struct {
	ID          uint            `gorm:"primaryKey" json:"-"`
	InstanceID  string          `gorm:"uniqueIndex" json:"instance_id"`
	SKU         string          `gorm:"index" json:"sku"`
	Name        string          `json:"name"`
	PriceKeys   int64           `json:"price_keys"`
	PriceMetal  decimal.Decimal `gorm:"type:text" json:"price_metal"`
	PurchasedAt time.Time       `gorm:"index" json:"purchased_at"`
}

// Price returns the recorded acquisition price.
func (r PurchaseRecord) Price() Currencies {
	return Currencies{Keys: r.PriceKeys, Metal: r.PriceMetal}
}
