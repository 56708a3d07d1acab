package strategy

import (
	"context"

	"trade_go/internal/domain"
)

// ActionType defines the outcome of an evaluation
type ActionType int

const (
	ActionDecline ActionType = iota
	ActionAccept
)

// String returns the string representation of ActionType
func (a ActionType) String() string {
	switch a {
	case ActionAccept:
		return "ACCEPT"
	default:
		return "DECLINE"
	}
}

// Reason explains a decision. Declines are rule outcomes, not errors.
type Reason string

const (
	ReasonAccepted          Reason = "accepted"
	ReasonBanned            Reason = "banned"
	ReasonEscrow            Reason = "escrow"
	ReasonDegenerate        Reason = "degenerate"
	ReasonCurrencyBothSides Reason = "currency_both_sides"
	ReasonCurrencyWithGoods Reason = "currency_with_goods"
	ReasonUnpriced          Reason = "unpriced"
	ReasonAutokeysMode      Reason = "autokeys_mode"
	ReasonAutokeysQuantity  Reason = "autokeys_quantity"
	ReasonInsufficientValue Reason = "insufficient_value"
	ReasonRepriceFailed     Reason = "reprice_failed"
	ReasonOverstocked       Reason = "overstocked"
	ReasonStockCheckFailed  Reason = "stock_check_failed"
)

// TradeKind classifies an offer once its shape is known to be acceptable.
type TradeKind string

const (
	KindUnknown  TradeKind = ""
	KindCurrency TradeKind = "currency"
	KindGoods    TradeKind = "goods"
)

// Evaluation is one offer resolved into classified, priced sides.
type Evaluation struct {
	Offer   domain.TradeOffer
	Give    domain.Side
	Receive domain.Side
}

// Decision is the result of evaluating an offer.
type Decision struct {
	Action       ActionType
	Reason       Reason
	Kind         TradeKind
	GiveValue    domain.Scrap
	ReceiveValue domain.Scrap
	Rate         domain.ExchangeRate

	// Staged holds received goods to record once the exchange settles.
	Staged []domain.PricedGood

	// Violation carries a *domain.ValidationError for malformed offers.
	Violation error
}

// Accepted reports whether the offer should be accepted.
func (d Decision) Accepted() bool {
	return d.Action == ActionAccept
}

// Evaluator decides offers. It is called by the offer handler, one offer at a time.
type Evaluator interface {
	Evaluate(ctx context.Context, ev Evaluation) (Decision, error)
}
