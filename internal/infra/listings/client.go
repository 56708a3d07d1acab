package listings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
)

const service = "listings"

// listing is the wire form understood by the listing manager.
// Sell listings carry the instance id, buy listings the SKU.
type listing struct {
	Intent     int         `json:"intent"`
	ID         string      `json:"id,omitempty"`
	SKU        string      `json:"sku,omitempty"`
	Currencies *currencies `json:"currencies,omitempty"`
	Details    string      `json:"details,omitempty"`
}

type currencies struct {
	Keys  int64           `json:"keys"`
	Metal decimal.Decimal `json:"metal"`
}

func toWire(spec domain.ListingSpec, withPrice bool) listing {
	l := listing{Intent: int(spec.Intent)}
	if spec.Intent == domain.IntentSell {
		l.ID = spec.InstanceID
	} else {
		l.SKU = spec.SKU
	}
	if withPrice {
		l.Currencies = &currencies{Keys: spec.Price.Keys, Metal: spec.Price.Metal}
		l.Details = spec.Details
	}
	return l
}

// Client publishes and withdraws advertisements through the listing manager.
// Calls are serialized so batches never interleave.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	mu sync.Mutex
}

// NewClient creates a listing manager client from the listings section of cfg.
func NewClient(cfg *infra.Config) *Client {
	return &Client{
		baseURL:    cfg.Listings.APIURL,
		token:      cfg.Listings.Token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("module", "listings"),
	}
}

// Publish creates or updates one listing.
func (c *Client) Publish(ctx context.Context, spec domain.ListingSpec) error {
	return c.PublishMany(ctx, []domain.ListingSpec{spec})
}

// Withdraw removes one listing.
func (c *Client) Withdraw(ctx context.Context, spec domain.ListingSpec) error {
	return c.WithdrawMany(ctx, []domain.ListingSpec{spec})
}

// PublishMany creates or updates listings in one batch.
func (c *Client) PublishMany(ctx context.Context, specs []domain.ListingSpec) error {
	if len(specs) == 0 {
		return nil
	}
	body := make([]listing, 0, len(specs))
	for _, s := range specs {
		body = append(body, toWire(s, true))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(ctx, http.MethodPost, "/listings", body); err != nil {
		return err
	}
	c.logger.Debug("Listings published", slog.Int("count", len(specs)))
	return nil
}

// WithdrawMany removes listings in one batch.
func (c *Client) WithdrawMany(ctx context.Context, specs []domain.ListingSpec) error {
	if len(specs) == 0 {
		return nil
	}
	body := make([]listing, 0, len(specs))
	for _, s := range specs {
		body = append(body, toWire(s, false))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(ctx, http.MethodDelete, "/listings", body); err != nil {
		return err
	}
	c.logger.Debug("Listings withdrawn", slog.Int("count", len(specs)))
	return nil
}

// WithdrawAll removes every listing of the agent.
func (c *Client) WithdrawAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(ctx, http.MethodDelete, "/listings/all", nil); err != nil {
		return err
	}
	c.logger.Info("All listings withdrawn")
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return domain.NewFatalExternalServiceError(service, op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return domain.NewFatalExternalServiceError(service, op, err)
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewExternalServiceError(service, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("status=%d body=%s", resp.StatusCode, string(data))
		if resp.StatusCode >= 500 {
			return domain.NewExternalServiceError(service, op, err)
		}
		return domain.NewFatalExternalServiceError(service, op, err)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
