package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
)

const service = "bot"

// Client talks to the bot service that owns the platform session: it serves
// the inventory, acts on offers and answers escrow questions.
type Client struct {
	baseURL    string
	steamID    string
	token      string
	httpClient *http.Client
	retry      infra.RetryPolicy
	logger     *slog.Logger
}

// NewClient creates a bot service client from the bot section of cfg.
func NewClient(cfg *infra.Config) *Client {
	return &Client{
		baseURL: cfg.Bot.APIURL,
		steamID: cfg.Bot.SteamID,
		token:   cfg.Bot.Token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		retry:  infra.DefaultRetry,
		logger: slog.Default().With("module", "bot_client"),
	}
}

type inventoryResponse struct {
	Items []domain.RawItem `json:"items"`
}

// Inventory returns every item instance the agent holds.
func (c *Client) Inventory(ctx context.Context) ([]domain.RawItem, error) {
	var out inventoryResponse
	path := "/inventory/" + url.PathEscape(c.steamID)
	err := infra.Retry(ctx, c.retry, "bot inventory", func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, path, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

// AcceptOffer accepts the offer. Acceptance is not retried: a timed out
// request may already have been applied.
func (c *Client) AcceptOffer(ctx context.Context, offerID string) error {
	if err := c.do(ctx, http.MethodPost, "/offers/"+url.PathEscape(offerID)+"/accept", nil, nil); err != nil {
		return err
	}
	c.logger.Info("Offer accepted", "offer_id", offerID)
	return nil
}

// DeclineOffer declines the offer.
func (c *Client) DeclineOffer(ctx context.Context, offerID string) error {
	err := infra.Retry(ctx, c.retry, "bot decline", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/offers/"+url.PathEscape(offerID)+"/decline", nil, nil)
	})
	if err != nil {
		return err
	}
	c.logger.Info("Offer declined", "offer_id", offerID)
	return nil
}

// ConfirmOffer completes the second-factor confirmation of an accepted offer.
func (c *Client) ConfirmOffer(ctx context.Context, offerID string) error {
	return infra.Retry(ctx, c.retry, "bot confirm", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/offers/"+url.PathEscape(offerID)+"/confirm", nil, nil)
	})
}

type escrowResponse struct {
	EscrowDays int `json:"escrow_days"`
}

// EscrowDays returns how many days an exchange with partner would be held.
func (c *Client) EscrowDays(ctx context.Context, partner, token string) (int, error) {
	q := url.Values{}
	q.Set("partner", partner)
	if token != "" {
		q.Set("token", token)
	}

	var out escrowResponse
	err := infra.Retry(ctx, c.retry, "bot escrow", func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/escrow?"+q.Encode(), nil, &out)
	})
	if err != nil {
		return 0, err
	}
	return out.EscrowDays, nil
}

// HasEscrow reports whether exchanging with the offer's partner would be held.
func (c *Client) HasEscrow(ctx context.Context, offer domain.TradeOffer) (bool, error) {
	days, err := c.EscrowDays(ctx, offer.Partner, offer.Token)
	if err != nil {
		return false, err
	}
	return days > 0, nil
}

// do sends one request and decodes a JSON body into out when out is non-nil.
// Network failures and 5xx answers are retriable, other failures are not.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
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
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.NewExternalServiceError(service, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewExternalServiceError(service, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewFatalExternalServiceError(service, op, domain.ErrOfferNotFound)
	case resp.StatusCode >= 500:
		return domain.NewExternalServiceError(service, op, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(data)))
	case resp.StatusCode >= 300:
		return domain.NewFatalExternalServiceError(service, op, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(data)))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.NewFatalExternalServiceError(service, op, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}
