package marketdata

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
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/yourorg/coinwatch/internal/domain"
)

const (
	DefaultBaseURL      = "https://api.coingecko.com/api/v3"
	DefaultFearGreedURL = "https://api.alternative.me/fng/"

	// pageSize bounds how many ids go into a single simple/price call.
	pageSize = 100

	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// Client wraps the market-data provider. It is the engine's only network
// dependency on the price side: batched fetches with bounded retries, and a
// rate limiter so a burst of cache misses cannot hammer the provider.
type Client struct {
	baseURL      string
	fearGreedURL string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		fearGreedURL: DefaultFearGreedURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Every(2*time.Second), 5),
		logger:       logger,
	}
}

// FetchPrices resolves current prices for the given assets in the target
// currency. It returns the successful subset plus the ids the provider
// could not resolve; a missing id is never reported as price zero. A page
// that fails leaves its assets in the failed set without discarding pages
// already fetched. A provider throttle stops further paging and surfaces
// as domain.ErrRateLimited alongside whatever was fetched so far — the
// retry-or-wait decision is the scheduler's job.
func (c *Client) FetchPrices(ctx context.Context, assets []domain.AssetID, currency string) (map[domain.AssetID]domain.PriceSnapshot, []domain.AssetID, error) {
	if len(assets) == 0 {
		return map[domain.AssetID]domain.PriceSnapshot{}, nil, nil
	}
	if currency == "" {
		currency = "usd"
	}

	out := make(map[domain.AssetID]domain.PriceSnapshot, len(assets))
	var pageErr error
	for start := 0; start < len(assets); start += pageSize {
		end := start + pageSize
		if end > len(assets) {
			end = len(assets)
		}
		err := c.fetchPage(ctx, assets[start:end], currency, out)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrRateLimited) {
			// Remaining pages would hit the same throttle.
			pageErr = err
			break
		}
		c.logger.Error("price page fetch failed",
			"assets", end-start, "err", err)
		pageErr = err
	}
	if len(out) == 0 && pageErr != nil {
		return nil, nil, pageErr
	}

	var failed []domain.AssetID
	for _, a := range assets {
		if _, ok := out[a]; !ok {
			failed = append(failed, a)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	if !errors.Is(pageErr, domain.ErrRateLimited) {
		pageErr = nil
	}
	return out, failed, pageErr
}

func (c *Client) fetchPage(ctx context.Context, assets []domain.AssetID, currency string, out map[domain.AssetID]domain.PriceSnapshot) error {
	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = string(a)
	}
	values := url.Values{}
	values.Set("ids", strings.Join(ids, ","))
	values.Set("vs_currencies", currency)
	endpoint := c.baseURL + "/simple/price?" + values.Encode()

	body, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return err
	}

	// Prices decode through json.Number so they reach decimal.Decimal
	// without a float64 round trip.
	var payload map[string]map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("decode price response: %w", err)
	}

	fetchedAt := time.Now().UTC()
	for _, a := range assets {
		quotes, ok := payload[string(a)]
		if !ok {
			continue
		}
		raw, ok := quotes[currency]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw.String())
		if err != nil || price.IsNegative() {
			c.logger.Warn("discarding unusable price", "asset", a, "raw", raw.String())
			continue
		}
		out[a] = domain.PriceSnapshot{
			Asset:     a,
			Price:     price,
			Currency:  currency,
			FetchedAt: fetchedAt,
		}
	}
	return nil
}

// getWithRetry performs a GET with bounded retries and exponential backoff
// on transient failures. HTTP 429 short-circuits straight to
// domain.ErrRateLimited without burning retries against a throttling
// provider.
func (c *Client) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := c.get(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, domain.ErrRateLimited) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("provider request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, domain.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return io.ReadAll(resp.Body)
}
