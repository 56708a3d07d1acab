package execution

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_go/internal/domain"
	"trade_go/internal/strategy"
)

// Test doubles

type nameClassifier struct{}

func (nameClassifier) Classify(ctx context.Context, raw []domain.RawItem) domain.Side {
	var side domain.Side
	for _, it := range raw {
		if domain.IsCurrency(it.MarketHashName) {
			side.Currencies.Add(it.MarketHashName, it.InstanceID())
			continue
		}
		side.Goods = append(side.Goods, domain.PricedGood{
			Good: domain.Good{InstanceID: it.InstanceID(), SKU: it.SKU, Name: it.MarketHashName},
		})
	}
	return side
}

type mapPricer map[string]domain.ItemPrice

func (m mapPricer) PriceGoods(ctx context.Context, goods []domain.PricedGood) []domain.PricedGood {
	out := make([]domain.PricedGood, len(goods))
	for i, g := range goods {
		out[i] = domain.PricedGood{Good: g.Good}
		if p, ok := m[g.SKU]; ok {
			out[i].Buy, out[i].Sell, out[i].Priced = p.Buy, p.Sell, true
		}
	}
	return out
}

func (m mapPricer) GetItemPrice(ctx context.Context, sku string) (domain.ItemPrice, error) {
	if p, ok := m[sku]; ok {
		return p, nil
	}
	return domain.ItemPrice{}, domain.ErrPriceNotFound
}

func (m mapPricer) GetExchangeRate(ctx context.Context) (domain.ExchangeRate, error) {
	return domain.ExchangeRate{Buy: 450, Sell: 459}, nil
}

type scriptedEvaluator struct {
	decision strategy.Decision
	err      error
	seen     strategy.Evaluation
}

func (s *scriptedEvaluator) Evaluate(ctx context.Context, ev strategy.Evaluation) (strategy.Decision, error) {
	s.seen = ev
	return s.decision, s.err
}

type recordingActor struct {
	accepted  []string
	declined  []string
	acceptErr error
	onAccept  func()
}

func (a *recordingActor) AcceptOffer(ctx context.Context, id string) error {
	a.accepted = append(a.accepted, id)
	if a.onAccept != nil {
		a.onAccept()
	}
	return a.acceptErr
}

func (a *recordingActor) DeclineOffer(ctx context.Context, id string) error {
	a.declined = append(a.declined, id)
	return nil
}

type fakeHistory struct {
	mu       sync.Mutex
	recorded []domain.PricedGood
	forgot   []string
	moves    map[string]string
	err      error
}

func (h *fakeHistory) Record(ctx context.Context, goods []domain.PricedGood) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, goods...)
	return h.err
}

func (h *fakeHistory) Forget(ctx context.Context, ids []string) error {
	h.forgot = append(h.forgot, ids...)
	return h.err
}

func (h *fakeHistory) Rekey(ctx context.Context, moves map[string]string) error {
	h.moves = moves
	return h.err
}

func (h *fakeHistory) Reprice(ctx context.Context, goods []domain.PricedGood, rate domain.Scrap) ([]domain.PricedGood, error) {
	return goods, h.err
}

type fakeObserver struct {
	traded     [][]string
	recomputes int
}

func (o *fakeObserver) OnInstanceTraded(ctx context.Context, ids []string) error {
	o.traded = append(o.traded, ids)
	return nil
}

func (o *fakeObserver) Recompute(ctx context.Context) error {
	o.recomputes++
	return nil
}

type fakeBatcher struct {
	published []domain.ListingSpec
	withdrawn []domain.ListingSpec
}

func (f *fakeBatcher) PublishMany(ctx context.Context, specs []domain.ListingSpec) error {
	f.published = append(f.published, specs...)
	return nil
}

func (f *fakeBatcher) WithdrawMany(ctx context.Context, specs []domain.ListingSpec) error {
	f.withdrawn = append(f.withdrawn, specs...)
	return nil
}

func ref(s string) domain.Currencies {
	return domain.Currencies{Metal: decimal.RequireFromString(s)}
}

var prices = mapPricer{
	"378;6": {SKU: "378;6", Name: "Team Captain", Buy: ref("30"), Sell: ref("32")},
	"200;6": {SKU: "200;6", Name: "Scattergun", Buy: ref("0.11"), Sell: ref("0.22")},
}

type fixture struct {
	handler   *Handler
	books     *Bookkeeper
	evaluator *scriptedEvaluator
	actor     *recordingActor
	history   *fakeHistory
	observer  *fakeObserver
	listings  *fakeBatcher
}

func newFixture() *fixture {
	f := &fixture{
		evaluator: &scriptedEvaluator{},
		actor:     &recordingActor{},
		history:   &fakeHistory{},
		observer:  &fakeObserver{},
		listings:  &fakeBatcher{},
	}
	f.books = NewBookkeeper(f.history, f.observer, f.listings, nameClassifier{}, prices, prices)
	f.handler = NewHandler(nameClassifier{}, prices, f.evaluator, f.actor, f.books, nil)
	return f
}

func hatOffer(id string) domain.TradeOffer {
	return domain.TradeOffer{
		ID:             id,
		Partner:        "765",
		ItemsToGive:    []domain.RawItem{{AssetID: "m1", MarketHashName: domain.RefinedName}},
		ItemsToReceive: []domain.RawItem{{AssetID: "h1", MarketHashName: "Team Captain", SKU: "378;6"}},
	}
}

func TestHandler_ResolvesBothSides(t *testing.T) {
	f := newFixture()
	f.evaluator.decision = strategy.Decision{Action: strategy.ActionDecline, Reason: strategy.ReasonInsufficientValue}

	require.NoError(t, f.handler.Handle(context.Background(), hatOffer("1")))

	seen := f.evaluator.seen
	assert.Equal(t, 1, seen.Give.Currencies.Count(domain.RefinedName))
	require.Len(t, seen.Receive.Goods, 1)
	assert.True(t, seen.Receive.Goods[0].Priced)
	assert.Equal(t, []string{"1"}, f.actor.declined)
	assert.Empty(t, f.actor.accepted)
}

func TestHandler_AcceptStagesBeforeCall(t *testing.T) {
	f := newFixture()
	staged := []domain.PricedGood{{Good: domain.Good{InstanceID: "h1", SKU: "378;6"}, Buy: ref("30"), Priced: true}}
	f.evaluator.decision = strategy.Decision{Action: strategy.ActionAccept, Reason: strategy.ReasonAccepted, Staged: staged}

	// The terminal state arrives while the accept call is in progress.
	f.actor.onAccept = func() {
		offer := hatOffer("1")
		offer.State = domain.OfferStateAccepted
		f.books.Settle(context.Background(), offer)
	}

	require.NoError(t, f.handler.Handle(context.Background(), hatOffer("1")))
	assert.Equal(t, []string{"1"}, f.actor.accepted)
	assert.Equal(t, staged, f.history.recorded)
	assert.Equal(t, []string{"m1"}, f.history.forgot)
	assert.Equal(t, 0, f.books.Pending())
}

func TestHandler_Errors(t *testing.T) {
	t.Run("evaluation error propagates without acting", func(t *testing.T) {
		f := newFixture()
		f.evaluator.err = errors.New("ban lookup failed")

		err := f.handler.Handle(context.Background(), hatOffer("1"))
		require.Error(t, err)
		assert.Empty(t, f.actor.accepted)
		assert.Empty(t, f.actor.declined)
	})

	t.Run("rejected accept discards staged goods", func(t *testing.T) {
		f := newFixture()
		f.evaluator.decision = strategy.Decision{Action: strategy.ActionAccept, Staged: []domain.PricedGood{{}}}
		f.actor.acceptErr = domain.NewFatalExternalServiceError("bot", "POST /offers/1/accept", domain.ErrOfferNotFound)

		require.Error(t, f.handler.Handle(context.Background(), hatOffer("1")))
		assert.Len(t, f.actor.accepted, 1, "accept is sent once")
		assert.Equal(t, 0, f.books.Pending())
	})
}

func TestHandler_AcceptOutcomeUnknown(t *testing.T) {
	failures := map[string]error{
		"deadline":      context.DeadlineExceeded,
		"server error":  domain.NewExternalServiceError("bot", "POST /offers/1/accept", errors.New("status=502")),
		"unknown error": errors.New("connection reset"),
	}

	for name, acceptErr := range failures {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			staged := []domain.PricedGood{{Good: domain.Good{InstanceID: "h1", SKU: "378;6"}, Buy: ref("30"), Priced: true}}
			f.evaluator.decision = strategy.Decision{Action: strategy.ActionAccept, Reason: strategy.ReasonAccepted, Staged: staged}
			f.actor.acceptErr = acceptErr

			// The queue keeps waiting for the terminal state.
			require.NoError(t, f.handler.Handle(context.Background(), hatOffer("1")))
			assert.Len(t, f.actor.accepted, 1, "accept is sent once")
			assert.Equal(t, 1, f.books.Pending())

			// The platform applied the accept after all.
			offer := hatOffer("1")
			offer.State = domain.OfferStateAccepted
			f.books.Settle(context.Background(), offer)

			assert.Equal(t, staged, f.history.recorded)
			assert.Equal(t, []string{"m1"}, f.history.forgot)
			assert.Equal(t, 0, f.books.Pending())
		})
	}

	t.Run("declined later drops staged goods", func(t *testing.T) {
		f := newFixture()
		f.evaluator.decision = strategy.Decision{Action: strategy.ActionAccept, Staged: []domain.PricedGood{{}}}
		f.actor.acceptErr = context.DeadlineExceeded

		require.NoError(t, f.handler.Handle(context.Background(), hatOffer("1")))

		offer := hatOffer("1")
		offer.State = domain.OfferStateExpired
		f.books.Settle(context.Background(), offer)

		assert.Empty(t, f.history.recorded)
		assert.Equal(t, 0, f.books.Pending())
	})
}

func TestBookkeeper_Settle(t *testing.T) {
	t.Run("declined offer discards staged goods", func(t *testing.T) {
		f := newFixture()
		f.books.Stage("1", []domain.PricedGood{{Good: domain.Good{InstanceID: "h1"}}})

		offer := hatOffer("1")
		offer.State = domain.OfferStateDeclined
		f.books.Settle(context.Background(), offer)

		assert.Empty(t, f.history.recorded)
		assert.Empty(t, f.observer.traded)
		assert.Equal(t, 0, f.books.Pending())
	})

	t.Run("accepted offer notifies the controller", func(t *testing.T) {
		f := newFixture()
		offer := hatOffer("1")
		offer.State = domain.OfferStateAccepted
		f.books.Settle(context.Background(), offer)

		assert.Equal(t, [][]string{{"m1"}}, f.observer.traded)
	})

	t.Run("history failure does not stop settlement", func(t *testing.T) {
		f := newFixture()
		f.history.err = errors.New("db locked")
		offer := hatOffer("1")
		offer.State = domain.OfferStateAccepted
		f.books.Settle(context.Background(), offer)

		assert.Len(t, f.observer.traded, 1)
	})
}

func TestBookkeeper_OnExchange(t *testing.T) {
	f := newFixture()
	details := domain.ExchangeDetails{
		Status: domain.ExchangeStatusComplete,
		ReceivedItems: []domain.RawItem{
			{AssetID: "h1", NewAssetID: "h9", MarketHashName: "Team Captain", SKU: "378;6"},
			{AssetID: "k1", NewAssetID: "k9", MarketHashName: domain.KeyName},
		},
		SentItems: []domain.RawItem{
			{AssetID: "s1", MarketHashName: "Scattergun", SKU: "200;6"},
			{AssetID: "s2", MarketHashName: "Scattergun", SKU: "200;6"},
		},
	}

	f.books.OnExchange(context.Background(), details)

	assert.Equal(t, map[string]string{"h1": "h9", "k1": "k9"}, f.history.moves)
	assert.Equal(t, 1, f.observer.recomputes)

	// One sell listing for the hat under its new id, one buy listing for the scattergun.
	require.Len(t, f.listings.published, 2)
	assert.Equal(t, domain.IntentSell, f.listings.published[0].Intent)
	assert.Equal(t, "h9", f.listings.published[0].InstanceID)
	assert.Equal(t, domain.IntentBuy, f.listings.published[1].Intent)
	assert.Equal(t, "200;6", f.listings.published[1].SKU)

	// Buy listing of the hat and both scattergun sell listings are withdrawn.
	assert.Len(t, f.listings.withdrawn, 3)
}

func TestBookkeeper_RefreshSkipsUnpriced(t *testing.T) {
	f := newFixture()
	f.books.RefreshListings(context.Background(), domain.ExchangeDetails{
		ReceivedItems: []domain.RawItem{{AssetID: "x", MarketHashName: "Mystery", SKU: "1;6"}},
	})
	assert.Empty(t, f.listings.published)
	assert.Empty(t, f.listings.withdrawn)
}
