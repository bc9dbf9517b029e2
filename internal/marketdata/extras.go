package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/coinwatch/internal/domain"
)

// Read-only provider passthroughs consumed by the bot front-end. None of
// these feed the alert or valuation paths.

type MarketAsset struct {
	ID            domain.AssetID  `json:"id"`
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketCap     decimal.Decimal `json:"market_cap"`
	Change24hPct  decimal.Decimal `json:"price_change_percentage_24h"`
	MarketCapRank int             `json:"market_cap_rank"`
}

func (c *Client) TopAssets(ctx context.Context, currency string, limit int) ([]MarketAsset, error) {
	if currency == "" {
		currency = "usd"
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	values := url.Values{}
	values.Set("vs_currency", currency)
	values.Set("order", "market_cap_desc")
	values.Set("per_page", strconv.Itoa(limit))
	values.Set("page", "1")
	values.Set("sparkline", "false")

	body, err := c.getWithRetry(ctx, c.baseURL+"/coins/markets?"+values.Encode())
	if err != nil {
		return nil, err
	}
	var assets []MarketAsset
	if err := json.Unmarshal(body, &assets); err != nil {
		return nil, fmt.Errorf("decode markets response: %w", err)
	}
	return assets, nil
}

type GlobalStats struct {
	ActiveCryptocurrencies int                        `json:"active_cryptocurrencies"`
	Markets                int                        `json:"markets"`
	TotalMarketCap         map[string]decimal.Decimal `json:"total_market_cap"`
	TotalVolume            map[string]decimal.Decimal `json:"total_volume"`
	MarketCapChange24hPct  decimal.Decimal            `json:"market_cap_change_percentage_24h_usd"`
	BTCDominancePct        decimal.Decimal            `json:"btc_dominance"`
}

func (c *Client) Global(ctx context.Context) (*GlobalStats, error) {
	body, err := c.getWithRetry(ctx, c.baseURL+"/global")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data struct {
			GlobalStats
			MarketCapPct map[string]decimal.Decimal `json:"market_cap_percentage"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode global response: %w", err)
	}
	stats := payload.Data.GlobalStats
	stats.BTCDominancePct = payload.Data.MarketCapPct["btc"]
	return &stats, nil
}

type FearGreed struct {
	Value          int    `json:"value"`
	Classification string `json:"classification"`
	Timestamp      int64  `json:"timestamp"`
}

func (c *Client) FearGreed(ctx context.Context) (*FearGreed, error) {
	body, err := c.getWithRetry(ctx, c.fearGreedURL)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data []struct {
			Value          string `json:"value"`
			Classification string `json:"value_classification"`
			Timestamp      string `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode fear greed response: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("fear greed response empty")
	}
	value, err := strconv.Atoi(payload.Data[0].Value)
	if err != nil {
		return nil, fmt.Errorf("fear greed value %q: %w", payload.Data[0].Value, err)
	}
	ts, _ := strconv.ParseInt(payload.Data[0].Timestamp, 10, 64)
	return &FearGreed{
		Value:          value,
		Classification: payload.Data[0].Classification,
		Timestamp:      ts,
	}, nil
}

type Conversion struct {
	From      domain.AssetID  `json:"from"`
	To        domain.AssetID  `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Result    decimal.Decimal `json:"result"`
	FromPrice decimal.Decimal `json:"from_price"`
	ToPrice   decimal.Decimal `json:"to_price"`
}

// Convert prices one asset in units of another via their quotes in the
// given currency.
func (c *Client) Convert(ctx context.Context, from, to domain.AssetID, amount decimal.Decimal, currency string) (*Conversion, error) {
	snaps, failed, err := c.FetchPrices(ctx, []domain.AssetID{from, to}, currency)
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, failed)
	}
	fromPrice := snaps[from].Price
	toPrice := snaps[to].Price
	if toPrice.IsZero() {
		return nil, fmt.Errorf("%w: %s quotes at zero", domain.ErrPriceUnavailable, to)
	}
	return &Conversion{
		From:      from,
		To:        to,
		Amount:    amount,
		Result:    amount.Mul(fromPrice).DivRound(toPrice, 8),
		FromPrice: fromPrice,
		ToPrice:   toPrice,
	}, nil
}

type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// History returns the provider's price series for one asset over the last
// N days. Granularity is the provider's choice per range; points pass
// through unresampled.
func (c *Client) History(ctx context.Context, asset domain.AssetID, currency string, days int) ([]PricePoint, error) {
	if asset == "" {
		return nil, fmt.Errorf("asset is required")
	}
	if currency == "" {
		currency = "usd"
	}
	if days <= 0 || days > 365 {
		days = 7
	}
	values := url.Values{}
	values.Set("vs_currency", currency)
	values.Set("days", strconv.Itoa(days))
	endpoint := c.baseURL + "/coins/" + url.PathEscape(string(asset)) + "/market_chart?" + values.Encode()

	body, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Prices [][]json.Number `json:"prices"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode market chart response: %w", err)
	}

	points := make([]PricePoint, 0, len(payload.Prices))
	for _, pair := range payload.Prices {
		if len(pair) < 2 {
			continue
		}
		ms, err := pair[0].Int64()
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(pair[1].String())
		if err != nil || price.IsNegative() {
			continue
		}
		points = append(points, PricePoint{
			Timestamp: time.UnixMilli(ms).UTC(),
			Price:     price,
		})
	}
	return points, nil
}

type SearchResult struct {
	ID            domain.AssetID `json:"id"`
	Symbol        string         `json:"symbol"`
	Name          string         `json:"name"`
	MarketCapRank int            `json:"market_cap_rank"`
}

// Search asks the provider to resolve free-form user input to coin ids.
// The local alias table is the fast path for common tickers; this is the
// long tail.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	values := url.Values{}
	values.Set("query", query)

	body, err := c.getWithRetry(ctx, c.baseURL+"/search?"+values.Encode())
	if err != nil {
		return nil, err
	}
	var payload struct {
		Coins []SearchResult `json:"coins"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return payload.Coins, nil
}
