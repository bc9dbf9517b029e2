package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/coinwatch/internal/auth"
	"github.com/yourorg/coinwatch/internal/domain"
	"github.com/yourorg/coinwatch/internal/favorites"
	"github.com/yourorg/coinwatch/internal/marketdata"
)

type fakeAlerts struct {
	created   []domain.AlertRule
	cancelErr error
}

func (f *fakeAlerts) CreateAlert(_ context.Context, userID int64, asset domain.AssetID, direction domain.AlertDirection, target decimal.Decimal) (*domain.AlertRule, error) {
	if !direction.Valid() {
		return nil, errors.New("invalid direction")
	}
	rule := domain.AlertRule{
		ID:          uuid.New(),
		UserID:      userID,
		Asset:       asset,
		Direction:   direction,
		TargetPrice: target,
		State:       domain.AlertActive,
		CreatedAt:   time.Now(),
	}
	f.created = append(f.created, rule)
	return &rule, nil
}

func (f *fakeAlerts) CancelAlert(context.Context, int64, uuid.UUID) error {
	return f.cancelErr
}

func (f *fakeAlerts) GetAlert(_ context.Context, userID int64, id uuid.UUID) (*domain.AlertRule, error) {
	for _, r := range f.created {
		if r.ID == id && r.UserID == userID {
			cp := r
			return &cp, nil
		}
	}
	return nil, domain.ErrAlertNotFound
}

func (f *fakeAlerts) ListAlerts(_ context.Context, userID int64) ([]domain.AlertRule, error) {
	var out []domain.AlertRule
	for _, r := range f.created {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeLedger struct {
	deposits map[string]decimal.Decimal
	debitErr error
	balance  decimal.Decimal
	refunded []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{deposits: make(map[string]decimal.Decimal)}
}

func (f *fakeLedger) Deposit(_ context.Context, entryID string, _ int64, amount decimal.Decimal) error {
	if _, ok := f.deposits[entryID]; ok {
		return nil // replay, already applied
	}
	f.deposits[entryID] = amount
	f.balance = f.balance.Add(amount)
	return nil
}

func (f *fakeLedger) Refund(_ context.Context, entryID string, _ int64, _ decimal.Decimal) error {
	f.refunded = append(f.refunded, entryID)
	return nil
}

func (f *fakeLedger) Debit(context.Context, string, int64, decimal.Decimal) error {
	return f.debitErr
}

func (f *fakeLedger) Balance(context.Context, int64) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeLedger) Entries(context.Context, int64) ([]domain.LedgerEntry, error) {
	return nil, nil
}

func (f *fakeLedger) ReconcileBalance(context.Context, int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	for _, amt := range f.deposits {
		sum = sum.Add(amt)
	}
	f.balance = sum
	return sum, nil
}

type fakePortfolio struct {
	reduceErr error
	holdings  []domain.Holding
}

func (f *fakePortfolio) AddHolding(_ context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error) {
	h := domain.Holding{UserID: userID, Asset: asset, Quantity: qty, UpdatedAt: time.Now()}
	f.holdings = append(f.holdings, h)
	return &h, nil
}

func (f *fakePortfolio) ReduceHolding(_ context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error) {
	if f.reduceErr != nil {
		return nil, f.reduceErr
	}
	return &domain.Holding{UserID: userID, Asset: asset, Quantity: qty}, nil
}

func (f *fakePortfolio) ListHoldings(context.Context, int64) ([]domain.Holding, error) {
	return f.holdings, nil
}

func (f *fakePortfolio) Valuation(_ context.Context, userID int64) (*domain.PortfolioValuation, error) {
	return &domain.PortfolioValuation{
		UserID:   userID,
		Currency: "usd",
		Total:    decimal.RequireFromString("1234.56"),
		AsOf:     time.Now(),
	}, nil
}

type fakeMarket struct{}

func (fakeMarket) TopAssets(context.Context, string, int) ([]marketdata.MarketAsset, error) {
	return []marketdata.MarketAsset{{ID: "bitcoin", Symbol: "btc"}}, nil
}

func (fakeMarket) Global(context.Context) (*marketdata.GlobalStats, error) {
	return &marketdata.GlobalStats{ActiveCryptocurrencies: 10000}, nil
}

func (fakeMarket) FearGreed(context.Context) (*marketdata.FearGreed, error) {
	return &marketdata.FearGreed{Value: 42, Classification: "Fear"}, nil
}

func (fakeMarket) Convert(_ context.Context, from, to domain.AssetID, amount decimal.Decimal, _ string) (*marketdata.Conversion, error) {
	if from == "notacoin" || to == "notacoin" {
		return nil, domain.ErrPriceUnavailable
	}
	return &marketdata.Conversion{From: from, To: to, Amount: amount, Result: amount.Mul(decimal.NewFromInt(20))}, nil
}

func (fakeMarket) History(_ context.Context, asset domain.AssetID, _ string, days int) ([]marketdata.PricePoint, error) {
	if asset == "notacoin" {
		return nil, domain.ErrPriceUnavailable
	}
	points := make([]marketdata.PricePoint, days)
	for i := range points {
		points[i] = marketdata.PricePoint{
			Timestamp: time.Now().Add(-time.Duration(days-i) * 24 * time.Hour),
			Price:     decimal.NewFromInt(int64(60000 + i)),
		}
	}
	return points, nil
}

func (fakeMarket) Search(_ context.Context, query string) ([]marketdata.SearchResult, error) {
	if query == "zzz" {
		return nil, nil
	}
	return []marketdata.SearchResult{{ID: "pepe", Symbol: "pepe", Name: "Pepe", MarketCapRank: 30}}, nil
}

type fakeFavorites struct {
	byUser map[int64][]domain.AssetID
}

func newFakeFavorites() *fakeFavorites {
	return &fakeFavorites{byUser: make(map[int64][]domain.AssetID)}
}

func (f *fakeFavorites) AddFavorite(_ context.Context, userID int64, asset domain.AssetID) error {
	for _, a := range f.byUser[userID] {
		if a == asset {
			return nil
		}
	}
	f.byUser[userID] = append(f.byUser[userID], asset)
	return nil
}

func (f *fakeFavorites) RemoveFavorite(_ context.Context, userID int64, asset domain.AssetID) error {
	list := f.byUser[userID]
	for i, a := range list {
		if a == asset {
			f.byUser[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return domain.ErrFavoriteNotFound
}

func (f *fakeFavorites) Quotes(_ context.Context, userID int64) ([]favorites.Quote, error) {
	var out []favorites.Quote
	for _, a := range f.byUser[userID] {
		out = append(out, favorites.Quote{Asset: a})
	}
	return out, nil
}

const (
	testSecret  = "test-secret"
	testWebhook = "hook-secret"
	testUserID  = int64(4242)
)

type testEnv struct {
	server    *httptest.Server
	token     string
	alerts    *fakeAlerts
	ledger    *fakeLedger
	portfolio *fakePortfolio
	favorites *fakeFavorites
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerts := &fakeAlerts{}
	ledger := newFakeLedger()
	portfolio := &fakePortfolio{}
	favs := newFakeFavorites()

	h := NewHandlers(alerts, ledger, portfolio, fakeMarket{}, favs, "usd", logger)
	jwtSvc := auth.NewJWTService(testSecret)
	hub := NewHub(nil, logger)
	router := NewRouter(h, hub, jwtSvc, testWebhook)

	token, err := jwtSvc.Sign(testUserID)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, token: token, alerts: alerts, ledger: ledger, portfolio: portfolio, favorites: favs}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authed bool) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateAlertResolvesSymbol(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/alerts", map[string]any{
		"asset":        "BTC",
		"direction":    "above",
		"target_price": "70000",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var rule domain.AlertRule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rule))
	assert.Equal(t, domain.AssetID("bitcoin"), rule.Asset)
	assert.Equal(t, testUserID, rule.UserID)
	assert.Equal(t, domain.AlertActive, rule.State)
}

func TestAlertsRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/alerts", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCancelAlertErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.NewString()

	env.alerts.cancelErr = domain.ErrAlertNotFound
	resp := env.do(t, http.MethodDelete, "/api/alerts/"+id, nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.alerts.cancelErr = domain.ErrAlertNotActive
	resp = env.do(t, http.MethodDelete, "/api/alerts/"+id, nil, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	env.alerts.cancelErr = nil
	resp = env.do(t, http.MethodDelete, "/api/alerts/"+id, nil, true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/alerts/not-a-uuid", nil, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAlertsEmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/alerts", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))
}

func TestReduceHoldingInsufficient(t *testing.T) {
	env := newTestEnv(t)
	env.portfolio.reduceErr = domain.ErrInsufficientHolding

	resp := env.do(t, http.MethodPost, "/api/holdings/reduce", map[string]any{
		"asset":    "bitcoin",
		"quantity": "5",
	}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestDebitInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.debitErr = domain.ErrInsufficientBalance

	resp := env.do(t, http.MethodPost, "/api/ledger/debit", map[string]any{
		"entry_id": "d-1",
		"amount":   "50",
	}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestDepositWebhook(t *testing.T) {
	env := newTestEnv(t)

	event := map[string]any{
		"entry_id": "pay-001",
		"user_id":  testUserID,
		"amount":   "100.00",
	}

	// no token
	resp := env.do(t, http.MethodPost, "/webhooks/payments", event, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	post := func() *http.Response {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(event))
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/webhooks/payments", &buf)
		require.NoError(t, err)
		req.Header.Set("X-Webhook-Token", testWebhook)
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { r.Body.Close() })
		return r
	}

	resp = post()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// replayed event credits once
	resp = post()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.ledger.balance.Equal(decimal.RequireFromString("100.00")),
		"balance = %s", env.ledger.balance)
}

func TestDepositWebhookRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{"amount": "10"}))
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/webhooks/payments", &buf)
	require.NoError(t, err)
	req.Header.Set("X-Webhook-Token", testWebhook)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPortfolioValue(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/portfolio/value", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out domain.PortfolioValuation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, testUserID, out.UserID)
	assert.True(t, out.Total.Equal(decimal.RequireFromString("1234.56")))
}

func TestMarketConvertValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/market/convert?from=btc", nil, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/market/convert?from=btc&to=eth&amount=-1", nil, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/market/convert?from=btc&to=eth&amount=2", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv marketdata.Conversion
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	assert.Equal(t, domain.AssetID("bitcoin"), conv.From)
	assert.Equal(t, domain.AssetID("ethereum"), conv.To)
}

func TestGetAlertByID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/alerts", map[string]any{
		"asset":        "eth",
		"direction":    "below",
		"target_price": "2000",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created domain.AlertRule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = env.do(t, http.MethodGet, "/api/alerts/"+created.ID.String(), nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.AlertRule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, domain.AssetID("ethereum"), got.Asset)

	resp = env.do(t, http.MethodGet, "/api/alerts/"+uuid.NewString(), nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFavoritesLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/favorites", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))

	resp = env.do(t, http.MethodPost, "/api/favorites", map[string]any{"asset": "BTC"}, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/favorites", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quotes []favorites.Quote
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&quotes))
	require.Len(t, quotes, 1)
	assert.Equal(t, domain.AssetID("bitcoin"), quotes[0].Asset)

	resp = env.do(t, http.MethodDelete, "/api/favorites/bitcoin", nil, true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/favorites/bitcoin", nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLedgerReconcile(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.deposits["d-1"] = decimal.RequireFromString("75.50")
	env.ledger.balance = decimal.RequireFromString("999") // drifted

	resp := env.do(t, http.MethodPost, "/api/ledger/reconcile", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		UserID  int64           `json:"user_id"`
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, testUserID, out.UserID)
	assert.True(t, out.Balance.Equal(decimal.RequireFromString("75.50")), "balance = %s", out.Balance)
}

func TestMarketHistory(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/market/history?asset=btc&days=3", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var points []marketdata.PricePoint
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&points))
	assert.Len(t, points, 3)

	resp = env.do(t, http.MethodGet, "/api/market/history?days=3", nil, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarketSearch(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/market/search?q=pepe", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results []marketdata.SearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	assert.Equal(t, domain.AssetID("pepe"), results[0].ID)

	resp = env.do(t, http.MethodGet, "/api/market/search", nil, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
