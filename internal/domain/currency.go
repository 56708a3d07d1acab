package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency item names as they appear in inventories and offers.
const (
	KeyName       = "Mann Co. Supply Crate Key"
	RefinedName   = "Refined Metal"
	ReclaimedName = "Reclaimed Metal"
	ScrapName     = "Scrap Metal"

	// KeySKU is the catalog identifier of the exchange-currency item.
	KeySKU = "5021;6"
)

// Fixed denomination ratios of the base currency.
// 1 refined = 3 reclaimed = 9 scrap.
const (
	ScrapPerReclaimed = 3
	ScrapPerRefined   = 9
)

var (
	scrapPerRefined = decimal.NewFromInt(ScrapPerRefined)
	metalPerScrap   = decimal.RequireFromString("0.11")
)

// Scrap is an amount of base currency in its smallest unit.
type Scrap int64

// Metal renders the amount in refined notation (1 scrap = 0.11 ref).
func (s Scrap) Metal() decimal.Decimal {
	return ScrapToMetal(s)
}

// IsCurrency reports whether name is the exchange-currency item or a metal denomination.
func IsCurrency(name string) bool {
	switch name {
	case KeyName, RefinedName, ReclaimedName, ScrapName:
		return true
	}
	return false
}

// MetalToScrap converts refined notation (e.g. 1.33) into scrap, rounding to the nearest unit.
func MetalToScrap(metal decimal.Decimal) Scrap {
	return Scrap(metal.Mul(scrapPerRefined).Round(0).IntPart())
}

// ScrapToMetal converts scrap into refined notation with two decimals.
func ScrapToMetal(s Scrap) decimal.Decimal {
	whole := int64(s) / ScrapPerRefined
	rem := int64(s) % ScrapPerRefined
	return decimal.NewFromInt(whole).Add(metalPerScrap.Mul(decimal.NewFromInt(rem)))
}

// Currencies is a two-unit price: whole exchange-currency items plus refined metal.
type Currencies struct {
	Keys  int64           `json:"keys"`
	Metal decimal.Decimal `json:"metal"`
}

// Value converts the price into scrap using keyRate as the scrap value of one key.
func (c Currencies) Value(keyRate Scrap) Scrap {
	return Scrap(c.Keys)*keyRate + MetalToScrap(c.Metal)
}

// IsZero reports whether the price carries no value at all.
func (c Currencies) IsZero() bool {
	return c.Keys == 0 && c.Metal.IsZero()
}

func (c Currencies) String() string {
	switch {
	case c.Keys == 0:
		return fmt.Sprintf("%s ref", c.Metal.StringFixed(2))
	case c.Metal.IsZero():
		return fmt.Sprintf("%d keys", c.Keys)
	default:
		return fmt.Sprintf("%d keys, %s ref", c.Keys, c.Metal.StringFixed(2))
	}
}

// ExchangeRate is the buy/sell price of one exchange-currency item in scrap.
// Buy is what we pay to acquire one, Sell is what we ask to dispose of one.
type ExchangeRate struct {
	Buy  Scrap `json:"buy"`
	Sell Scrap `json:"sell"`
}

// Valid reports whether both sides of the rate are usable as divisors.
func (r ExchangeRate) Valid() bool {
	return r.Buy > 0 && r.Sell > 0
}
