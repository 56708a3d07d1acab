package autokeys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"trade_go/internal/domain"
	"trade_go/internal/inventory"
)

const ref = domain.ScrapPerRefined

var rate = domain.ExchangeRate{Buy: 50, Sell: 55}

// bag is a mutable inventory used through a real inventory.Manager.
type bag struct {
	mu      sync.Mutex
	items   []domain.RawItem
	active  atomic.Int32
	overlap atomic.Bool
}

func (b *bag) Inventory(ctx context.Context) ([]domain.RawItem, error) {
	if b.active.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.active.Add(-1)
	time.Sleep(time.Millisecond)

	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.RawItem(nil), b.items...), nil
}

func (b *bag) set(keyIDs []string, refined int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
	for _, id := range keyIDs {
		b.items = append(b.items, domain.RawItem{AssetID: id, MarketHashName: domain.KeyName})
	}
	for i := 0; i < refined; i++ {
		b.items = append(b.items, domain.RawItem{AssetID: fmt.Sprintf("m%d", i), MarketHashName: domain.RefinedName})
	}
}

type staticPrices struct{ rate domain.ExchangeRate }

func (p staticPrices) GetItemPrice(ctx context.Context, sku string) (domain.ItemPrice, error) {
	return domain.ItemPrice{}, domain.ErrPriceNotFound
}

func (p staticPrices) GetExchangeRate(ctx context.Context) (domain.ExchangeRate, error) {
	return p.rate, nil
}

type recordingListings struct {
	mu        sync.Mutex
	published []domain.ListingSpec
	withdrawn []domain.ListingSpec
	failNext  error
}

func (l *recordingListings) Publish(ctx context.Context, spec domain.ListingSpec) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNext; err != nil {
		l.failNext = nil
		return err
	}
	l.published = append(l.published, spec)
	return nil
}

func (l *recordingListings) Withdraw(ctx context.Context, spec domain.ListingSpec) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withdrawn = append(l.withdrawn, spec)
	return nil
}

func (l *recordingListings) last() domain.ListingSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.published[len(l.published)-1]
}

type harness struct {
	bag      *bag
	res      *inventory.Reservations
	listings *recordingListings
	ctrl     *Controller
}

func newHarness(cfg Config) *harness {
	h := &harness{bag: &bag{}, res: inventory.NewReservations(), listings: &recordingListings{}}
	mgr := inventory.NewManager(h.bag, nil, h.res, 1)
	h.ctrl = NewController(cfg, mgr, staticPrices{rate: rate}, h.res, h.listings, nil)
	return h
}

var defaultCfg = Config{
	Enabled: true,
	MinKeys: 2,
	MaxKeys: 5,
	MinRef:  10 * ref,
	MaxRef:  20 * ref,
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		holdings domain.Holdings
		mode     domain.Mode
		qty      int
	}{
		{"excess metal buys keys", domain.Holdings{Keys: 2, Metal: 40 * ref}, domain.ModeBuying, 3},
		{"buy capped by ceiling", domain.Holdings{Keys: 4, Metal: 100 * ref}, domain.ModeBuying, 1},
		{"excess below one key", domain.Holdings{Keys: 2, Metal: 20*ref + 49}, domain.ModeIdle, 0},
		{"at key ceiling", domain.Holdings{Keys: 5, Metal: 100 * ref}, domain.ModeIdle, 0},
		{"metal deficit sells keys", domain.Holdings{Keys: 5, Metal: 10}, domain.ModeSelling, 2},
		{"sell capped by floor", domain.Holdings{Keys: 3, Metal: 0}, domain.ModeSelling, 1},
		{"at key floor", domain.Holdings{Keys: 2, Metal: 0}, domain.ModeIdle, 0},
		{"balanced", domain.Holdings{Keys: 3, Metal: 15 * ref}, domain.ModeIdle, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, qty := Decide(defaultCfg, tt.holdings, rate)
			assert.Equal(t, tt.mode, mode)
			assert.Equal(t, tt.qty, qty)
		})
	}

	t.Run("disabled", func(t *testing.T) {
		cfg := defaultCfg
		cfg.Enabled = false
		mode, qty := Decide(cfg, domain.Holdings{Keys: 2, Metal: 40 * ref}, rate)
		assert.Equal(t, domain.ModeIdle, mode)
		assert.Zero(t, qty)
	})
}

func TestDecide_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		minKeys := rapid.IntRange(0, 10).Draw(t, "min_keys")
		minRef := domain.Scrap(rapid.Int64Range(0, 500).Draw(t, "min_ref"))
		cfg := Config{
			Enabled: true,
			MinKeys: minKeys,
			MaxKeys: minKeys + rapid.IntRange(0, 10).Draw(t, "key_span"),
			MinRef:  minRef,
			MaxRef:  minRef + domain.Scrap(rapid.Int64Range(0, 500).Draw(t, "ref_span")),
		}
		h := domain.Holdings{
			Keys:  rapid.IntRange(0, 30).Draw(t, "keys"),
			Metal: domain.Scrap(rapid.Int64Range(0, 2000).Draw(t, "metal")),
		}
		r := domain.ExchangeRate{
			Buy:  domain.Scrap(rapid.Int64Range(1, 100).Draw(t, "buy")),
			Sell: domain.Scrap(rapid.Int64Range(1, 100).Draw(t, "sell")),
		}

		mode, qty := Decide(cfg, h, r)
		switch mode {
		case domain.ModeIdle:
			if qty != 0 {
				t.Fatalf("idle with target %d", qty)
			}
		case domain.ModeBuying:
			if qty <= 0 || h.Keys+qty > cfg.MaxKeys {
				t.Fatalf("buying %d with %d keys, max %d", qty, h.Keys, cfg.MaxKeys)
			}
		case domain.ModeSelling:
			if qty <= 0 || h.Keys-qty < cfg.MinKeys {
				t.Fatalf("selling %d with %d keys, min %d", qty, h.Keys, cfg.MinKeys)
			}
		}
	})
}

func TestController_SellingReservesOnce(t *testing.T) {
	h := newHarness(defaultCfg)
	ctx := context.Background()
	h.bag.set([]string{"300", "100", "200", "400", "500"}, 1)
	require.NoError(t, h.res.Reserve(inventory.OfferOwner("busy"), "100"))

	require.NoError(t, h.ctrl.Recompute(ctx))

	state := h.ctrl.State()
	assert.Equal(t, domain.ModeSelling, state.Mode)
	// deficit 90-9 = 81 scrap at 55 per key.
	assert.Equal(t, 2, state.TargetQuantity)
	assert.Equal(t, "200", state.ReservedInstanceID, "oldest unreserved key")

	holder, ok := h.res.Holder("200")
	assert.True(t, ok)
	assert.Equal(t, inventory.OwnerAutokeys, holder)

	listing := h.listings.last()
	assert.Equal(t, domain.IntentSell, listing.Intent)
	assert.Equal(t, "200", listing.InstanceID)

	require.NoError(t, h.ctrl.Recompute(ctx))
	assert.Equal(t, "200", h.ctrl.State().ReservedInstanceID, "second recompute must keep the reservation")
	assert.Equal(t, 2, h.res.Len(), "busy offer plus one controller key")
}

func TestController_BuyingReleasesReservation(t *testing.T) {
	h := newHarness(defaultCfg)
	ctx := context.Background()

	h.bag.set([]string{"1", "2", "3", "4"}, 0)
	require.NoError(t, h.ctrl.Recompute(ctx))
	require.Equal(t, domain.ModeSelling, h.ctrl.State().Mode)
	reserved := h.ctrl.State().ReservedInstanceID
	require.NotEmpty(t, reserved)

	// 2 keys (ceiling 5), 40 ref (ceiling 20).
	h.bag.set([]string{"1", "2"}, 40)
	require.NoError(t, h.ctrl.Recompute(ctx))

	state := h.ctrl.State()
	assert.Equal(t, domain.ModeBuying, state.Mode)
	assert.Equal(t, 3, state.TargetQuantity)
	assert.Empty(t, state.ReservedInstanceID)
	assert.False(t, h.res.InUse(reserved))

	require.NotEmpty(t, h.listings.withdrawn)
	w := h.listings.withdrawn[len(h.listings.withdrawn)-1]
	assert.Equal(t, domain.IntentSell, w.Intent)
	assert.Equal(t, reserved, w.InstanceID)

	buy := h.listings.last()
	assert.Equal(t, domain.IntentBuy, buy.Intent)
	assert.Equal(t, domain.KeySKU, buy.SKU)
	assert.Equal(t, 3, buy.Quantity)
}

func TestController_IdleWithdrawsEverything(t *testing.T) {
	h := newHarness(defaultCfg)
	ctx := context.Background()

	h.bag.set([]string{"1", "2"}, 40)
	require.NoError(t, h.ctrl.Recompute(ctx))
	require.Equal(t, domain.ModeBuying, h.ctrl.State().Mode)

	h.bag.set([]string{"1", "2", "3"}, 15)
	require.NoError(t, h.ctrl.Recompute(ctx))

	assert.Equal(t, domain.ControllerState{}, h.ctrl.State())
	require.Len(t, h.listings.withdrawn, 1)
	assert.Equal(t, domain.IntentBuy, h.listings.withdrawn[0].Intent)
}

func TestController_NoKeyAvailable(t *testing.T) {
	h := newHarness(defaultCfg)
	h.bag.set([]string{"1", "2", "3"}, 0)
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, h.res.Reserve(inventory.OwnerCrafting, id))
	}

	require.NoError(t, h.ctrl.Recompute(context.Background()))

	state := h.ctrl.State()
	assert.Equal(t, domain.ModeSelling, state.Mode, "mode stays as computed")
	assert.Empty(t, state.ReservedInstanceID)
	assert.Empty(t, h.listings.published)
}

func TestController_OnInstanceTraded(t *testing.T) {
	ctx := context.Background()

	t.Run("unrelated instances are a no-op", func(t *testing.T) {
		h := newHarness(defaultCfg)
		h.bag.set([]string{"1", "2", "3", "4"}, 0)
		require.NoError(t, h.ctrl.Recompute(ctx))
		before := h.ctrl.State()
		published := len(h.listings.published)

		require.NoError(t, h.ctrl.OnInstanceTraded(ctx, []string{"2", "x"}))

		assert.Equal(t, before, h.ctrl.State())
		assert.Len(t, h.listings.published, published)
		assert.Empty(t, h.listings.withdrawn)
	})

	t.Run("reserved key given away", func(t *testing.T) {
		h := newHarness(defaultCfg)
		h.bag.set([]string{"1", "2", "3", "4"}, 0)
		require.NoError(t, h.ctrl.Recompute(ctx))
		old := h.ctrl.State().ReservedInstanceID
		require.Equal(t, "1", old)

		// The inventory snapshot may still list the traded key.
		require.NoError(t, h.ctrl.OnInstanceTraded(ctx, []string{old}))

		state := h.ctrl.State()
		assert.NotEqual(t, old, state.ReservedInstanceID)
		assert.Equal(t, "2", state.ReservedInstanceID)
		assert.False(t, h.res.InUse(old))
		require.Len(t, h.listings.withdrawn, 1)
		assert.Equal(t, old, h.listings.withdrawn[0].InstanceID)
	})

	t.Run("nothing reserved", func(t *testing.T) {
		h := newHarness(defaultCfg)
		require.NoError(t, h.ctrl.OnInstanceTraded(ctx, []string{"1"}))
		assert.Equal(t, domain.ControllerState{}, h.ctrl.State())
	})
}

func TestController_PublishFailureIsLogged(t *testing.T) {
	h := newHarness(defaultCfg)
	h.listings.failNext = errors.New("listing service down")
	h.bag.set([]string{"1", "2"}, 40)

	require.NoError(t, h.ctrl.Recompute(context.Background()))
	assert.Equal(t, domain.ModeBuying, h.ctrl.State().Mode)

	// A failed buy listing is not withdrawn later.
	h.bag.set([]string{"1", "2", "3"}, 15)
	require.NoError(t, h.ctrl.Recompute(context.Background()))
	assert.Empty(t, h.listings.withdrawn)
}

func TestController_Disabled(t *testing.T) {
	cfg := defaultCfg
	cfg.Enabled = false
	h := newHarness(cfg)
	h.bag.set([]string{"1", "2"}, 40)

	require.NoError(t, h.ctrl.Recompute(context.Background()))
	assert.Equal(t, domain.ModeIdle, h.ctrl.State().Mode)
}

func TestController_MutualExclusion(t *testing.T) {
	h := newHarness(defaultCfg)
	h.bag.set([]string{"1", "2", "3", "4"}, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.ctrl.Recompute(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = h.ctrl.OnInstanceTraded(ctx, []string{"1"})
		}()
	}
	wg.Wait()

	assert.False(t, h.bag.overlap.Load(), "controller operations interleaved")
	assert.Equal(t, 1, h.res.Len(), "exactly one key reserved")
}

func TestController_LockHonoursContext(t *testing.T) {
	h := newHarness(defaultCfg)
	require.NoError(t, h.ctrl.lock(context.Background()))
	defer h.ctrl.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.ctrl.Recompute(ctx), context.DeadlineExceeded)
}
