package bans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
)

// Site names, also used as keys of the per-site URL override map.
const (
	SiteBackpack    = "backpack"
	SiteSteamRep    = "steamrep"
	SiteAutobot     = "autobot"
	SiteMarketplace = "marketplace"
)

var defaultURLs = map[string]string{
	SiteBackpack:    "https://api.backpack.tf",
	SiteSteamRep:    "https://steamrep.com",
	SiteAutobot:     "https://rep.autobot.tf",
	SiteMarketplace: "https://marketplace.tf",
}

var errAllChecksFailed = errors.New("no reputation site answered")

type siteResult struct {
	site    string
	banned  bool
	content string
	err     error
}

type siteCheck func(ctx context.Context, partner string) siteResult

// Checker asks every enabled reputation site about a partner in parallel.
type Checker struct {
	bptfKey    string
	mptfKey    string
	userID     string
	urls       map[string]string
	sites      []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewChecker builds a checker from the bans section of cfg.
func NewChecker(cfg *infra.Config) *Checker {
	timeout := time.Duration(cfg.Bans.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	urls := make(map[string]string, len(defaultURLs))
	for site, u := range defaultURLs {
		urls[site] = u
	}
	for site, u := range cfg.Bans.URLs {
		if u != "" {
			urls[site] = strings.TrimRight(u, "/")
		}
	}

	var sites []string
	if cfg.Bans.Sites.Backpack {
		sites = append(sites, SiteBackpack)
	}
	if cfg.Bans.Sites.SteamRep {
		sites = append(sites, SiteSteamRep)
	}
	if cfg.Bans.Sites.Autobot {
		sites = append(sites, SiteAutobot)
	}
	if cfg.Bans.Sites.Marketplace {
		sites = append(sites, SiteMarketplace)
	}

	return &Checker{
		bptfKey:    cfg.Bans.BackpackAPIKey,
		mptfKey:    cfg.Bans.MarketplaceAPIKey,
		userID:     cfg.Bot.SteamID,
		urls:       urls,
		sites:      sites,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("module", "bans"),
	}
}

// IsBanned reports the partner as banned if any site that answered says so.
// When no site answers the lookup fails with a non-retriable error.
func (c *Checker) IsBanned(ctx context.Context, partner string) (domain.BanResult, error) {
	var (
		wg      conc.WaitGroup
		mu      sync.Mutex
		results []siteResult
	)
	for _, site := range c.sites {
		check := c.check(site)
		wg.Go(func() {
			r := check(ctx, partner)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		})
	}
	wg.Wait()

	res := domain.BanResult{Reasons: make(map[string]string)}
	answered := 0
	for _, r := range results {
		if r.err != nil {
			c.logger.Warn("Reputation check failed",
				slog.String("site", r.site),
				slog.String("partner", partner),
				slog.Any("error", r.err))
			continue
		}
		answered++
		if r.banned {
			res.Banned = true
			res.Reasons[r.site] = r.content
		}
	}

	if answered == 0 {
		return domain.BanResult{}, domain.NewFatalExternalServiceError("bans", "check "+partner, errAllChecksFailed)
	}
	if res.Banned {
		c.logger.Info("Partner is banned", slog.String("partner", partner), slog.Any("reasons", res.Reasons))
	}
	return res, nil
}

func (c *Checker) check(site string) siteCheck {
	switch site {
	case SiteBackpack:
		return c.checkBackpack
	case SiteSteamRep:
		return c.checkSteamRep
	case SiteAutobot:
		return c.checkAutobot
	default:
		return c.checkMarketplace
	}
}

type backpackResponse struct {
	Users map[string]struct {
		Bans map[string]struct {
			Reason string `json:"reason"`
		} `json:"bans"`
	} `json:"users"`
}

func (c *Checker) checkBackpack(ctx context.Context, partner string) siteResult {
	q := url.Values{}
	q.Set("key", c.bptfKey)
	q.Set("steamids", partner)

	var data backpackResponse
	if err := c.getJSON(ctx, SiteBackpack, http.MethodGet, c.urls[SiteBackpack]+"/api/users/info/v1?"+q.Encode(), &data); err != nil {
		return siteResult{site: SiteBackpack, err: err}
	}
	user, ok := data.Users[partner]
	if !ok {
		return siteResult{site: SiteBackpack, err: fmt.Errorf("user %s missing from response", partner)}
	}
	for _, name := range []string{"all", "all features"} {
		if ban, ok := user.Bans[name]; ok {
			return siteResult{site: SiteBackpack, banned: true, content: ban.Reason}
		}
	}
	return siteResult{site: SiteBackpack}
}

type steamRepResponse struct {
	SteamRep struct {
		Reputation *struct {
			Full    string `json:"full"`
			Summary string `json:"summary"`
		} `json:"reputation"`
	} `json:"steamrep"`
}

func (c *Checker) checkSteamRep(ctx context.Context, partner string) siteResult {
	var data steamRepResponse
	u := c.urls[SiteSteamRep] + "/api/beta4/reputation/" + url.PathEscape(partner) + "?json=1"
	if err := c.getJSON(ctx, SiteSteamRep, http.MethodGet, u, &data); err != nil {
		return siteResult{site: SiteSteamRep, err: err}
	}
	rep := data.SteamRep.Reputation
	if rep == nil {
		return siteResult{site: SiteSteamRep}
	}
	banned := strings.Contains(strings.ToLower(rep.Summary), "scammer")
	return siteResult{site: SiteSteamRep, banned: banned, content: rep.Full}
}

type autobotResponse struct {
	IsBanned bool                       `json:"isBanned"`
	Contents map[string]json.RawMessage `json:"contents"`
}

func (c *Checker) checkAutobot(ctx context.Context, partner string) siteResult {
	var data autobotResponse
	if err := c.getJSON(ctx, SiteAutobot, http.MethodGet, c.urls[SiteAutobot]+"/json/"+url.PathEscape(partner), &data); err != nil {
		return siteResult{site: SiteAutobot, err: err}
	}

	var reasons []string
	for site, raw := range data.Contents {
		var sub struct {
			IsBanned bool   `json:"isBanned"`
			Content  string `json:"content"`
		}
		// Sites the aggregator failed to reach are reported as the string "Error".
		if err := json.Unmarshal(raw, &sub); err != nil || !sub.IsBanned {
			continue
		}
		reasons = append(reasons, site+": "+sub.Content)
	}
	return siteResult{site: SiteAutobot, banned: data.IsBanned, content: strings.Join(reasons, "; ")}
}

type marketplaceResponse struct {
	Success bool `json:"success"`
	Results []struct {
		SteamID string `json:"steamid"`
		Banned  bool   `json:"banned"`
		Ban     *struct {
			Type string `json:"type"`
		} `json:"ban"`
	} `json:"results"`
}

func (c *Checker) checkMarketplace(ctx context.Context, partner string) siteResult {
	if c.mptfKey == "" {
		return siteResult{site: SiteMarketplace, err: errors.New("api key is not set")}
	}
	q := url.Values{}
	q.Set("key", c.mptfKey)
	q.Set("steamid", partner)

	var data marketplaceResponse
	if err := c.getJSON(ctx, SiteMarketplace, http.MethodPost, c.urls[SiteMarketplace]+"/api/Bans/GetUserBan/v2?"+q.Encode(), &data); err != nil {
		return siteResult{site: SiteMarketplace, err: err}
	}
	for _, r := range data.Results {
		if r.SteamID != partner {
			continue
		}
		content := ""
		if r.Ban != nil {
			content = r.Ban.Type
		}
		return siteResult{site: SiteMarketplace, banned: r.Banned, content: content}
	}
	return siteResult{site: SiteMarketplace, err: fmt.Errorf("user %s missing from response", partner)}
}

func (c *Checker) getJSON(ctx context.Context, site, method, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	if site == SiteBackpack && c.userID != "" {
		req.Header.Set("Cookie", "user-id="+c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
