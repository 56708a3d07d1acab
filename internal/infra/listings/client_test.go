package listings

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
)

type recorded struct {
	method string
	path   string
	body   []listing
}

func newTestClient(t *testing.T, status int) (*Client, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body []listing
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Errorf("bad request body: %v", err)
			}
		}
		mu.Lock()
		reqs = append(reqs, recorded{r.Method, r.URL.Path, body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	cfg := &infra.Config{}
	cfg.Listings.APIURL = srv.URL
	return NewClient(cfg), func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func TestClient_KeyListings(t *testing.T) {
	c, reqs := newTestClient(t, http.StatusOK)
	ctx := context.Background()
	rate := domain.ExchangeRate{Buy: 450, Sell: 459}

	require.NoError(t, c.Publish(ctx, domain.KeyBuyListing(3, rate)))
	require.NoError(t, c.Publish(ctx, domain.KeySellListing("777", 2, rate)))
	require.NoError(t, c.Withdraw(ctx, domain.KeySellListing("777", 0, rate)))
	require.NoError(t, c.WithdrawAll(ctx))

	got := reqs()
	require.Len(t, got, 4)

	buy := got[0]
	assert.Equal(t, http.MethodPost, buy.method)
	require.Len(t, buy.body, 1)
	assert.Equal(t, 0, buy.body[0].Intent)
	assert.Equal(t, domain.KeySKU, buy.body[0].SKU)
	assert.Empty(t, buy.body[0].ID)
	require.NotNil(t, buy.body[0].Currencies)
	assert.Equal(t, "50", buy.body[0].Currencies.Metal.String())

	sell := got[1]
	assert.Equal(t, 1, sell.body[0].Intent)
	assert.Equal(t, "777", sell.body[0].ID)
	assert.Empty(t, sell.body[0].SKU)
	assert.Equal(t, "51", sell.body[0].Currencies.Metal.String())

	withdraw := got[2]
	assert.Equal(t, http.MethodDelete, withdraw.method)
	assert.Nil(t, withdraw.body[0].Currencies, "withdrawals carry no price")

	assert.Equal(t, "/listings/all", got[3].path)
}

func TestClient_EmptyBatchIsNoop(t *testing.T) {
	c, reqs := newTestClient(t, http.StatusOK)
	require.NoError(t, c.PublishMany(context.Background(), nil))
	require.NoError(t, c.WithdrawMany(context.Background(), nil))
	assert.Empty(t, reqs())
}

func TestClient_Errors(t *testing.T) {
	t.Run("server error is retriable", func(t *testing.T) {
		c, _ := newTestClient(t, http.StatusBadGateway)
		err := c.WithdrawAll(context.Background())
		require.Error(t, err)
		assert.True(t, domain.IsRetriable(err))
	})

	t.Run("client error is fatal", func(t *testing.T) {
		c, _ := newTestClient(t, http.StatusBadRequest)
		err := c.Publish(context.Background(), domain.KeyBuyListing(1, domain.ExchangeRate{Buy: 9, Sell: 9}))
		require.Error(t, err)
		assert.False(t, domain.IsRetriable(err))
	})
}
