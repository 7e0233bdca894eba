package dmarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/infra"

	"github.com/go-resty/resty/v2"
)

const (
	historyLimit     = 20
	listPageLimit    = 100
	closedLimit      = 100
	maxClosedPages   = 20
	maxRateLimitWait = 60 * time.Second
)

var _ domain.Marketplace = (*Client)(nil)

// Client is the DMarket REST API client (boundary layer).
// Prices cross this boundary as dollars and leave it as domain.Cents.
type Client struct {
	http   *resty.Client
	signer *Signer
	now    func() time.Time
	logger *slog.Logger
}

// NewClient creates a DMarket API client. Without a secret key the client
// is unsigned, which only the public market endpoints accept.
func NewClient(cfg *infra.Config) (*Client, error) {
	var signer *Signer
	if cfg.API.SecretKey != "" {
		var err error
		signer, err = NewSigner(cfg.API.PublicKey, cfg.API.SecretKey)
		if err != nil {
			return nil, &domain.ConfigError{Field: "api.secret_key", Err: err}
		}
	}
	return newClient(cfg.API.URL, signer, time.Duration(cfg.API.TimeoutSec)*time.Second), nil
}

func newClient(baseURL string, signer *Signer, timeout time.Duration) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", infra.DefaultUserAgent)

	return &Client{
		http:   httpClient,
		signer: signer,
		now:    time.Now,
		logger: slog.Default().With(slog.String("module", "dmarket_client")),
	}
}

// FetchSalesHistory returns the last sales of a title, newest first.
func (c *Client) FetchSalesHistory(ctx context.Context, game, title string) ([]domain.SalePoint, error) {
	q := url.Values{}
	q.Set("gameId", game)
	q.Set("title", title)
	q.Set("limit", strconv.Itoa(historyLimit))

	var resp lastSalesResponse
	if err := c.doRequest(ctx, "last-sales", http.MethodGet, "/trade-aggregator/v1/last-sales", q, nil, &resp); err != nil {
		return nil, err
	}

	sales := make([]domain.SalePoint, 0, len(resp.Sales))
	for _, s := range resp.Sales {
		at, err := parseUnix(s.Date)
		if err != nil {
			c.logger.Debug("Skipping sale with bad date", slog.String("title", title), slog.String("date", s.Date))
			continue
		}
		sales = append(sales, domain.SalePoint{Price: domain.CentsFromDollars(s.Price), Time: at})
	}
	return sales, nil
}

// FetchOrderBook returns the best buy order and best sell offer of a title.
func (c *Client) FetchOrderBook(ctx context.Context, game, title string) (domain.OrderBookEntry, error) {
	q := url.Values{}
	q.Set("gameId", game)
	q.Set("Titles", title)
	q.Set("Limit", "1")

	var resp aggregatedPricesResponse
	if err := c.doRequest(ctx, "aggregated-prices", http.MethodGet, "/price-aggregator/v1/aggregated-prices", q, nil, &resp); err != nil {
		return domain.OrderBookEntry{}, err
	}

	for _, t := range resp.AggregatedTitles {
		if t.MarketHashName != title {
			continue
		}
		return domain.OrderBookEntry{
			Title:          title,
			TopOrderPrice:  domain.CentsFromDollars(t.Orders.BestPrice),
			BestOfferPrice: domain.CentsFromDollars(t.Offers.BestPrice),
			SellOfferCount: t.Offers.Count,
			FetchedAt:      c.now(),
		}, nil
	}
	return domain.OrderBookEntry{}, fmt.Errorf("%w: no aggregated price for %q", domain.ErrDataUnavailable, title)
}

// SubmitOrder creates a target (buy) or an offer for an owned asset (sell).
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	h := domain.OrderHandle{Game: req.Game, Side: req.Side, AssetID: req.AssetID, Price: req.Price}

	var resp batchResponse
	switch req.Side {
	case domain.SideBuy:
		body := createTargetsRequest{
			GameID:  req.Game,
			Targets: []targetCreate{{Amount: 1, Price: usd(req.Price), Title: req.Title}},
		}
		if err := c.doOrderRequest(ctx, "create-target", http.MethodPost, "/marketplace-api/v1/user-targets/create", body, &resp); err != nil {
			return h, err
		}
	case domain.SideSell:
		body := createOffersRequest{Offers: []offerCreate{{AssetID: req.AssetID, Price: usd(req.Price)}}}
		if err := c.doOrderRequest(ctx, "create-offer", http.MethodPost, "/marketplace-api/v1/user-offers/create", body, &resp); err != nil {
			return h, err
		}
	default:
		return h, fmt.Errorf("%w: unknown side %q", domain.ErrOrderRejected, req.Side)
	}

	if len(resp.Result) == 0 {
		return h, fmt.Errorf("%w: empty result", domain.ErrOrderRejected)
	}
	r := resp.Result[0]
	if !r.Successful {
		return h, fmt.Errorf("%w: %s", domain.ErrOrderRejected, r.Error.describe())
	}

	h.ID = r.TargetID
	if req.Side == domain.SideSell {
		h.ID = r.OfferID
	}
	c.logger.Info("Order Placed Successfully",
		slog.String("id", h.ID),
		slog.String("side", string(req.Side)),
		slog.String("title", req.Title),
		slog.String("price", req.Price.String()),
	)
	return h, nil
}

// CancelOrder deletes a target or an offer.
// It returns domain.ErrOrderNotFound when the order is already gone.
func (c *Client) CancelOrder(ctx context.Context, h domain.OrderHandle) error {
	switch h.Side {
	case domain.SideBuy:
		body := deleteTargetsRequest{Targets: []targetRef{{TargetID: h.ID}}}
		var resp batchResponse
		if err := c.doOrderRequest(ctx, "delete-target", http.MethodPost, "/marketplace-api/v1/user-targets/delete", body, &resp); err != nil {
			return err
		}
		if len(resp.Result) > 0 && !resp.Result[0].Successful {
			return cancelFailure(resp.Result[0].Error.describe())
		}
		return nil

	case domain.SideSell:
		body := deleteOffersRequest{
			Force: true,
			Objects: []offerDelete{{
				ItemID:  h.AssetID,
				OfferID: h.ID,
				Price:   centsPrice{Amount: strconv.FormatInt(int64(h.Price), 10), Currency: "USD"},
			}},
		}
		var resp deleteOffersResponse
		if err := c.doOrderRequest(ctx, "delete-offer", http.MethodDelete, "/exchange/v1/offers", body, &resp); err != nil {
			return err
		}
		if len(resp.Fail) > 0 {
			return cancelFailure(resp.Fail[0].ErrorCode)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown side %q", domain.ErrOrderRejected, h.Side)
}

// GetBalance returns the USD balance.
func (c *Client) GetBalance(ctx context.Context) (domain.Cents, error) {
	var resp balanceResponse
	if err := c.doRequest(ctx, "balance", http.MethodGet, "/account/v1/balance", nil, nil, &resp); err != nil {
		return 0, err
	}
	cents, err := strconv.ParseInt(resp.USD, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad balance %q", domain.ErrDataUnavailable, resp.USD)
	}
	return domain.Cents(cents), nil
}

// ListItems pages through the market and returns up to limit distinct titles
// whose price lies in [from, to].
func (c *Client) ListItems(ctx context.Context, game string, from, to domain.Cents, limit int) ([]string, error) {
	seen := make(map[string]struct{})
	titles := make([]string, 0, limit)
	cursor := ""

	for len(titles) < limit {
		q := url.Values{}
		q.Set("gameId", game)
		q.Set("currency", "USD")
		q.Set("orderBy", "updated")
		q.Set("limit", strconv.Itoa(listPageLimit))
		q.Set("priceFrom", strconv.FormatInt(int64(from), 10))
		q.Set("priceTo", strconv.FormatInt(int64(to), 10))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp marketItemsResponse
		if err := c.doRequest(ctx, "market-items", http.MethodGet, "/exchange/v1/market/items", q, nil, &resp); err != nil {
			if len(titles) > 0 {
				// keep what the earlier pages returned
				c.logger.Warn("Market listing truncated", slog.Int("titles", len(titles)), slog.Any("error", err))
				return titles, nil
			}
			return nil, err
		}

		for _, o := range resp.Objects {
			if _, ok := seen[o.Title]; ok || o.Title == "" {
				continue
			}
			seen[o.Title] = struct{}{}
			titles = append(titles, o.Title)
			if len(titles) == limit {
				break
			}
		}
		if resp.Cursor == "" || len(resp.Objects) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return titles, nil
}

// PollFills returns closed targets (buys) and closed offers (sells) of game
// that closed at or after since. ClosedAt has one-second resolution, so fills
// at exactly since are repeated and callers must tolerate duplicates.
func (c *Client) PollFills(ctx context.Context, game string, since time.Time) ([]domain.Fill, error) {
	var fills []domain.Fill
	sources := []struct {
		op   string
		path string
		side domain.Side
	}{
		{"closed-targets", "/marketplace-api/v1/user-targets/closed", domain.SideBuy},
		{"closed-offers", "/marketplace-api/v1/user-offers/closed", domain.SideSell},
	}
	for _, src := range sources {
		got, err := c.pollClosed(ctx, src.op, src.path, src.side, game, since)
		if err != nil {
			return nil, err
		}
		fills = append(fills, got...)
	}
	return fills, nil
}

// pollClosed pages newest-first until a trade older than since shows up.
func (c *Client) pollClosed(ctx context.Context, op, path string, side domain.Side, game string, since time.Time) ([]domain.Fill, error) {
	var fills []domain.Fill
	cursor := ""
	for page := 0; ; page++ {
		if page == maxClosedPages {
			c.logger.Warn("Closed trade paging stopped early",
				slog.String("op", op),
				slog.Int("pages", page),
				slog.Time("since", since),
			)
			return fills, nil
		}

		q := url.Values{}
		q.Set("Limit", strconv.Itoa(closedLimit))
		q.Set("OrderDir", "desc")
		if cursor != "" {
			q.Set("Cursor", cursor)
		}
		var resp closedTradesResponse
		if err := c.doRequest(ctx, op, http.MethodGet, path, q, nil, &resp); err != nil {
			return nil, err
		}

		reachedSince := false
		for _, t := range resp.Trades {
			at, err := parseUnix(t.ClosedAt)
			if err != nil {
				continue
			}
			if at.Before(since) {
				reachedSince = true
				continue
			}
			if t.GameID != "" && t.GameID != game {
				continue
			}
			fills = append(fills, t.toFill(game, side, at))
		}
		if reachedSince || resp.Cursor == "" || len(resp.Trades) < closedLimit {
			return fills, nil
		}
		cursor = resp.Cursor
	}
}

func (t closedTrade) toFill(game string, side domain.Side, at time.Time) domain.Fill {
	price := domain.CentsFromDollars(t.Price.Amount)
	id := t.TargetID
	if side == domain.SideSell {
		id = t.OfferID
	}
	return domain.Fill{
		Handle:  domain.OrderHandle{ID: id, Game: game, Side: side, AssetID: t.AssetID, Price: price},
		Title:   t.Title,
		Game:    game,
		Side:    side,
		AssetID: t.AssetID,
		Price:   price,
		At:      at,
	}
}

// doOrderRequest maps client errors of the order endpoints to domain errors.
func (c *Client) doOrderRequest(ctx context.Context, op, method, path string, body, out any) error {
	err := c.doRequest(ctx, op, method, path, nil, body, out)
	var se *statusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
		if se.Code == http.StatusNotFound {
			return fmt.Errorf("%w: %v", domain.ErrOrderNotFound, err)
		}
		if se.Code != http.StatusUnauthorized && se.Code != http.StatusForbidden {
			return fmt.Errorf("%w: %v", domain.ErrOrderRejected, err)
		}
	}
	return err
}

// doRequest handles signing, serialization and status mapping.
// 429 and 5xx answers become retriable network errors.
func (c *Client) doRequest(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var bodyStr string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyStr = string(b)
	}

	pathWithQuery := path
	if len(query) > 0 {
		pathWithQuery = path + "?" + query.Encode()
	}

	req := c.http.R().SetContext(ctx)
	if c.signer != nil {
		req.SetHeaders(c.signer.GenerateHeaders(method, pathWithQuery, bodyStr))
	} else {
		req.SetHeader("Content-Type", "application/json")
	}
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(bodyStr)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewNetworkError(op, err)
	}

	c.waitRateLimit(ctx, resp.Header())

	code := resp.StatusCode()
	if code < 200 || code >= 300 {
		se := &statusError{Code: code, Body: truncate(string(resp.Body()), 256)}
		if code == http.StatusTooManyRequests || code >= 500 {
			return domain.NewNetworkError(op, se)
		}
		return domain.NewFatalNetworkError(op, se)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", op, err)
	}
	return nil
}

// waitRateLimit sleeps until the window resets when the quota is nearly spent.
func (c *Client) waitRateLimit(ctx context.Context, h http.Header) {
	remaining := h.Get("RateLimit-Remaining")
	if remaining != "0" && remaining != "1" {
		return
	}
	reset, err := strconv.Atoi(h.Get("RateLimit-Reset"))
	if err != nil || reset <= 0 {
		return
	}
	wait := time.Duration(reset) * time.Second
	if wait > maxRateLimitWait {
		wait = maxRateLimitWait
	}
	c.logger.Debug("Rate limit reached, waiting", slog.Duration("wait", wait))
	_ = infra.SleepContext(ctx, wait)
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (e *apiError) describe() string {
	if e == nil {
		return "unknown error"
	}
	return e.Code + " " + e.Message
}

func cancelFailure(code string) error {
	if strings.Contains(strings.ToLower(code), "notfound") || strings.Contains(strings.ToLower(code), "not found") {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, code)
	}
	return domain.NewFatalNetworkError("cancel", errors.New(code))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
