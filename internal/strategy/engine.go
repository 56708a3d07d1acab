package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"trade_go/internal/domain"
)

// StockChecker reports whether receiving goods would overstock the inventory.
type StockChecker interface {
	CheckStock(ctx context.Context, goods []domain.PricedGood) (bool, error)
}

// Engine applies the acceptance rules to one offer. The first rule that
// matches decides; cheaper checks come first.
type Engine struct {
	bans       domain.BanSource
	escrow     domain.EscrowSource
	prices     domain.PriceSource
	controller domain.ControllerStateReader
	history    domain.PurchaseHistory
	stock      StockChecker
	logger     *slog.Logger
}

// NewEngine creates the decision engine.
func NewEngine(
	bans domain.BanSource,
	escrow domain.EscrowSource,
	prices domain.PriceSource,
	controller domain.ControllerStateReader,
	history domain.PurchaseHistory,
	stock StockChecker,
) *Engine {
	return &Engine{
		bans:       bans,
		escrow:     escrow,
		prices:     prices,
		controller: controller,
		history:    history,
		stock:      stock,
		logger:     slog.Default().With(slog.String("module", "strategy")),
	}
}

// Evaluate decides ev. Only failures of the ban and escrow lookups are
// returned as errors; every other outcome is a Decision.
func (e *Engine) Evaluate(ctx context.Context, ev Evaluation) (Decision, error) {
	offer := ev.Offer
	give, receive := &ev.Give, &ev.Receive

	ban, err := e.bans.IsBanned(ctx, offer.Partner)
	if err != nil {
		return Decision{}, fmt.Errorf("ban check %s: %w", offer.Partner, err)
	}
	if ban.Banned {
		return decline(ReasonBanned), nil
	}

	if offer.HasEscrowHold() {
		return decline(ReasonEscrow), nil
	}
	held, err := e.escrow.HasEscrow(ctx, offer)
	if err != nil {
		return Decision{}, fmt.Errorf("escrow check %s: %w", offer.Key(), err)
	}
	if held {
		return decline(ReasonEscrow), nil
	}

	noGoods := !give.HasGoods() && !receive.HasGoods()
	if noGoods && !give.HasKeys() && !receive.HasKeys() {
		d := decline(ReasonDegenerate)
		d.Violation = &domain.ValidationError{Reason: "offer holds neither goods nor keys"}
		return d, nil
	}
	if give.HasKeys() && receive.HasKeys() {
		return decline(ReasonCurrencyBothSides), nil
	}
	if (give.HasKeys() && give.HasGoods()) || (receive.HasKeys() && receive.HasGoods()) {
		return decline(ReasonCurrencyWithGoods), nil
	}

	if !give.AllPriced() || !receive.AllPriced() {
		return decline(ReasonUnpriced), nil
	}

	rate, err := e.prices.GetExchangeRate(ctx)
	if err != nil || !rate.Valid() {
		e.logger.Warn("Exchange rate unavailable",
			slog.String("offer_id", offer.Key()),
			slog.Any("error", err))
		return decline(ReasonUnpriced), nil
	}

	if noGoods {
		return e.evaluateCurrency(give, receive, rate), nil
	}
	return e.evaluateGoods(ctx, offer, give, receive, rate), nil
}

// evaluateCurrency handles keys for metal in either direction.
func (e *Engine) evaluateCurrency(give, receive *domain.Side, rate domain.ExchangeRate) Decision {
	state := e.controller.State()
	d := Decision{Kind: KindCurrency, Rate: rate}

	if receive.HasKeys() {
		qty := receive.Currencies.Count(domain.KeyName)
		d.GiveValue = give.Currencies.Value(rate.Buy)
		d.ReceiveValue = receive.Currencies.Value(rate.Buy)
		switch {
		case state.Mode != domain.ModeBuying:
			d.Reason = ReasonAutokeysMode
		case !state.PermitsBuying(qty):
			d.Reason = ReasonAutokeysQuantity
		case d.ReceiveValue < d.GiveValue:
			d.Reason = ReasonInsufficientValue
		default:
			d.Action, d.Reason = ActionAccept, ReasonAccepted
		}
		return d
	}

	qty := give.Currencies.Count(domain.KeyName)
	d.GiveValue = give.Currencies.Value(rate.Sell)
	d.ReceiveValue = receive.Currencies.Value(rate.Sell)
	switch {
	case state.Mode != domain.ModeSelling:
		d.Reason = ReasonAutokeysMode
	case !state.PermitsSelling(qty):
		d.Reason = ReasonAutokeysQuantity
	case d.ReceiveValue < d.GiveValue:
		d.Reason = ReasonInsufficientValue
	default:
		d.Action, d.Reason = ActionAccept, ReasonAccepted
	}
	return d
}

// evaluateGoods values goods at list price, given goods after repricing
// against purchase history.
func (e *Engine) evaluateGoods(ctx context.Context, offer domain.TradeOffer, give, receive *domain.Side, rate domain.ExchangeRate) Decision {
	d := Decision{Kind: KindGoods, Rate: rate}

	// Keys we part with are worth their disposal price, keys we take their acquisition price.
	keyRate := rate.Buy
	if give.HasKeys() {
		keyRate = rate.Sell
	}

	given := give.Goods
	if len(given) > 0 {
		repriced, err := e.history.Reprice(ctx, given, keyRate)
		if err != nil {
			e.logger.Warn("Reprice failed",
				slog.String("offer_id", offer.Key()),
				slog.Any("error", err))
			d.Reason = ReasonRepriceFailed
			return d
		}
		given = repriced
	}

	d.GiveValue = give.Currencies.Value(keyRate)
	for _, g := range given {
		d.GiveValue += g.Sell.Value(keyRate)
	}
	d.ReceiveValue = receive.Currencies.Value(keyRate)
	for _, g := range receive.Goods {
		d.ReceiveValue += g.Buy.Value(keyRate)
	}

	if d.ReceiveValue < d.GiveValue {
		d.Reason = ReasonInsufficientValue
		return d
	}

	if receive.HasGoods() {
		over, err := e.stock.CheckStock(ctx, receive.Goods)
		if err != nil {
			e.logger.Warn("Stock check failed",
				slog.String("offer_id", offer.Key()),
				slog.Any("error", err))
			d.Reason = ReasonStockCheckFailed
			return d
		}
		if over {
			d.Reason = ReasonOverstocked
			return d
		}
		d.Staged = receive.Goods
	}

	d.Action, d.Reason = ActionAccept, ReasonAccepted
	return d
}

func decline(reason Reason) Decision {
	return Decision{Action: ActionDecline, Reason: reason}
}
