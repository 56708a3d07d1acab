package domain

import "fmt"

// Intent is the direction of a public advertisement.
type Intent int

const (
	IntentBuy  Intent = 0
	IntentSell Intent = 1
)

func (i Intent) String() string {
	if i == IntentSell {
		return "sell"
	}
	return "buy"
}

// ListingSpec identifies (and, when publishing, describes) one advertisement.
// Sell listings are scoped to an instance, buy listings to a SKU.
type ListingSpec struct {
	Intent     Intent
	SKU        string
	InstanceID string
	Quantity   int
	Price      Currencies
	Details    string
}

// KeyBuyListing advertises acquisition of qty keys at the rate's buy price.
func KeyBuyListing(qty int, rate ExchangeRate) ListingSpec {
	price := Currencies{Metal: rate.Buy.Metal()}
	return ListingSpec{
		Intent:   IntentBuy,
		SKU:      KeySKU,
		Quantity: qty,
		Price:    price,
		Details:  fmt.Sprintf("Buying %d keys for %s each", qty, price),
	}
}

// KeySellListing advertises disposal of keys, backed by one reserved instance.
func KeySellListing(instanceID string, qty int, rate ExchangeRate) ListingSpec {
	price := Currencies{Metal: rate.Sell.Metal()}
	return ListingSpec{
		Intent:     IntentSell,
		SKU:        KeySKU,
		InstanceID: instanceID,
		Quantity:   qty,
		Price:      price,
		Details:    fmt.Sprintf("Selling %d keys for %s each", qty, price),
	}
}
