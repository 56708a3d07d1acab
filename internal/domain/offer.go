package domain

// OfferState is the platform's lifecycle state of a trade offer.
type OfferState int

const (
	OfferStateInvalid                  OfferState = 1
	OfferStateActive                   OfferState = 2
	OfferStateAccepted                 OfferState = 3
	OfferStateCountered                OfferState = 4
	OfferStateExpired                  OfferState = 5
	OfferStateCanceled                 OfferState = 6
	OfferStateDeclined                 OfferState = 7
	OfferStateInvalidItems             OfferState = 8
	OfferStateCreatedNeedsConfirmation OfferState = 9
	OfferStateCanceledBySecondFactor   OfferState = 10
	OfferStateInEscrow                 OfferState = 11
)

// IsTerminal reports whether no further transition can happen for the offer.
func (s OfferState) IsTerminal() bool {
	switch s {
	case OfferStateInvalid, OfferStateAccepted, OfferStateExpired, OfferStateCanceled,
		OfferStateDeclined, OfferStateInvalidItems, OfferStateCanceledBySecondFactor:
		return true
	}
	return false
}

func (s OfferState) String() string {
	switch s {
	case OfferStateInvalid:
		return "invalid"
	case OfferStateActive:
		return "active"
	case OfferStateAccepted:
		return "accepted"
	case OfferStateCountered:
		return "countered"
	case OfferStateExpired:
		return "expired"
	case OfferStateCanceled:
		return "canceled"
	case OfferStateDeclined:
		return "declined"
	case OfferStateInvalidItems:
		return "invalid_items"
	case OfferStateCreatedNeedsConfirmation:
		return "needs_confirmation"
	case OfferStateCanceledBySecondFactor:
		return "canceled_by_second_factor"
	case OfferStateInEscrow:
		return "in_escrow"
	default:
		return "unknown"
	}
}

// RawItem is an item instance as delivered by the bot service.
type RawItem struct {
	AssetID        string `json:"assetid"`
	NewAssetID     string `json:"new_assetid,omitempty"`
	MarketHashName string `json:"market_hash_name"`
	SKU            string `json:"sku,omitempty"`
}

// InstanceID prefers the post-trade asset id when the platform reassigned one.
func (r RawItem) InstanceID() string {
	if r.NewAssetID != "" {
		return r.NewAssetID
	}
	return r.AssetID
}

// TradeOffer is a proposed exchange. The transport owns it; the core only reads it.
type TradeOffer struct {
	ID             string     `json:"id"`
	TradeID        string     `json:"tradeID,omitempty"`
	Partner        string     `json:"partner"`
	Token          string     `json:"token,omitempty"`
	ItemsToGive    []RawItem  `json:"itemsToGive"`
	ItemsToReceive []RawItem  `json:"itemsToReceive"`
	EscrowEndsAt   *int64     `json:"escrowEndsAt"`
	State          OfferState `json:"state"`
}

// Key is the identifier stable across the offer lifecycle.
func (o TradeOffer) Key() string {
	if o.ID != "" {
		return o.ID
	}
	return o.TradeID
}

// InstanceIDs lists every instance referenced on either side.
func (o TradeOffer) InstanceIDs() []string {
	ids := make([]string, 0, len(o.ItemsToGive)+len(o.ItemsToReceive))
	for _, it := range o.ItemsToGive {
		ids = append(ids, it.InstanceID())
	}
	for _, it := range o.ItemsToReceive {
		ids = append(ids, it.InstanceID())
	}
	return ids
}

// GivenInstanceIDs lists the instances the agent gives away.
func (o TradeOffer) GivenInstanceIDs() []string {
	ids := make([]string, 0, len(o.ItemsToGive))
	for _, it := range o.ItemsToGive {
		ids = append(ids, it.InstanceID())
	}
	return ids
}

// HasEscrowHold reports whether the offer itself declares a settlement hold.
func (o TradeOffer) HasEscrowHold() bool {
	return o.EscrowEndsAt != nil && *o.EscrowEndsAt > 0
}

// ExchangeDetails describes a completed exchange as reported by the bot service.
type ExchangeDetails struct {
	Status        int       `json:"status"`
	TradeInitTime int64     `json:"tradeInitTime"`
	ReceivedItems []RawItem `json:"receivedItems"`
	SentItems     []RawItem `json:"sentItems"`
}

// ExchangeStatusComplete is the details status of a fully settled exchange.
const ExchangeStatusComplete = 3

// BanResult is the outcome of a reputation lookup.
type BanResult struct {
	Banned  bool
	Reasons map[string]string
}
