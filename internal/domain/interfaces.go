package domain

import (
	"context"
)

// PriceSource resolves price list entries and the current exchange rate.
type PriceSource interface {
	GetItemPrice(ctx context.Context, sku string) (ItemPrice, error)
	GetExchangeRate(ctx context.Context) (ExchangeRate, error)
}

// Reserver tracks instances that are committed to an in-flight purpose.
type Reserver interface {
	Reserve(owner string, ids ...string) error
	Release(owner string)
	InUse(id string) bool
}

// InventorySource answers questions about the agent's holdings.
type InventorySource interface {
	Holdings(ctx context.Context) (Holdings, error)
	ListAvailable(ctx context.Context, sku string) ([]string, error)
	CheckStock(ctx context.Context, goods []PricedGood) (overstocked bool, err error)
}

// BanSource checks a partner against reputation services.
type BanSource interface {
	IsBanned(ctx context.Context, partner string) (BanResult, error)
}

// EscrowSource reports whether exchanging with a partner would be held in escrow.
type EscrowSource interface {
	HasEscrow(ctx context.Context, offer TradeOffer) (bool, error)
}

// ListingPublisher publishes and withdraws public advertisements.
type ListingPublisher interface {
	Publish(ctx context.Context, spec ListingSpec) error
	Withdraw(ctx context.Context, spec ListingSpec) error
}

// PurchaseHistory remembers acquisition prices to guard against selling at a loss.
type PurchaseHistory interface {
	Record(ctx context.Context, goods []PricedGood) error
	Forget(ctx context.Context, instanceIDs []string) error
	Reprice(ctx context.Context, goods []PricedGood, rate Scrap) ([]PricedGood, error)
}

// OfferActor performs the platform-side actions on an offer.
type OfferActor interface {
	AcceptOffer(ctx context.Context, offerID string) error
	DeclineOffer(ctx context.Context, offerID string) error
}

// ControllerStateReader exposes the rebalancing controller's state snapshot.
type ControllerStateReader interface {
	State() ControllerState
}
