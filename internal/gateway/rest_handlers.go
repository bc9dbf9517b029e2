package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/coinwatch/internal/auth"
	"github.com/yourorg/coinwatch/internal/domain"
	"github.com/yourorg/coinwatch/internal/favorites"
	"github.com/yourorg/coinwatch/internal/marketdata"
)

type AlertService interface {
	CreateAlert(ctx context.Context, userID int64, asset domain.AssetID, direction domain.AlertDirection, target decimal.Decimal) (*domain.AlertRule, error)
	CancelAlert(ctx context.Context, userID int64, id uuid.UUID) error
	GetAlert(ctx context.Context, userID int64, id uuid.UUID) (*domain.AlertRule, error)
	ListAlerts(ctx context.Context, userID int64) ([]domain.AlertRule, error)
}

type LedgerService interface {
	Deposit(ctx context.Context, entryID string, userID int64, amount decimal.Decimal) error
	Refund(ctx context.Context, entryID string, userID int64, amount decimal.Decimal) error
	Debit(ctx context.Context, entryID string, userID int64, amount decimal.Decimal) error
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Entries(ctx context.Context, userID int64) ([]domain.LedgerEntry, error)
	ReconcileBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

type PortfolioService interface {
	AddHolding(ctx context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error)
	ReduceHolding(ctx context.Context, userID int64, asset domain.AssetID, qty decimal.Decimal) (*domain.Holding, error)
	ListHoldings(ctx context.Context, userID int64) ([]domain.Holding, error)
	Valuation(ctx context.Context, userID int64) (*domain.PortfolioValuation, error)
}

type MarketService interface {
	TopAssets(ctx context.Context, currency string, limit int) ([]marketdata.MarketAsset, error)
	Global(ctx context.Context) (*marketdata.GlobalStats, error)
	FearGreed(ctx context.Context) (*marketdata.FearGreed, error)
	Convert(ctx context.Context, from, to domain.AssetID, amount decimal.Decimal, currency string) (*marketdata.Conversion, error)
	History(ctx context.Context, asset domain.AssetID, currency string, days int) ([]marketdata.PricePoint, error)
	Search(ctx context.Context, query string) ([]marketdata.SearchResult, error)
}

type FavoriteService interface {
	AddFavorite(ctx context.Context, userID int64, asset domain.AssetID) error
	RemoveFavorite(ctx context.Context, userID int64, asset domain.AssetID) error
	Quotes(ctx context.Context, userID int64) ([]favorites.Quote, error)
}

type Handlers struct {
	alerts    AlertService
	ledger    LedgerService
	portfolio PortfolioService
	market    MarketService
	favorites FavoriteService
	currency  string
	logger    *slog.Logger
}

func NewHandlers(alerts AlertService, ledger LedgerService, portfolio PortfolioService, market MarketService, favs FavoriteService, currency string, logger *slog.Logger) *Handlers {
	if currency == "" {
		currency = "usd"
	}
	return &Handlers{
		alerts:    alerts,
		ledger:    ledger,
		portfolio: portfolio,
		market:    market,
		favorites: favs,
		currency:  currency,
		logger:    logger,
	}
}

type createAlertRequest struct {
	Asset     string                `json:"asset"`
	Direction domain.AlertDirection `json:"direction"`
	Target    decimal.Decimal       `json:"target_price"`
}

func (h *Handlers) CreateAlert(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	asset := marketdata.ResolveAsset(req.Asset)
	rule, err := h.alerts.CreateAlert(r.Context(), userID, asset, req.Direction, req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handlers) CancelAlert(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	switch err := h.alerts.CancelAlert(r.Context(), userID, id); {
	case errors.Is(err, domain.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "alert not found")
	case errors.Is(err, domain.ErrAlertNotActive):
		writeError(w, http.StatusConflict, "alert is no longer active")
	case err != nil:
		h.logger.Error("cancel alert failed", "alert", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	rule, err := h.alerts.GetAlert(r.Context(), userID, id)
	switch {
	case errors.Is(err, domain.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "alert not found")
	case err != nil:
		h.logger.Error("get alert failed", "alert", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, rule)
	}
}

func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	alerts, err := h.alerts.ListAlerts(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch alerts")
		return
	}
	if alerts == nil {
		alerts = []domain.AlertRule{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type holdingRequest struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (h *Handlers) AddHolding(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	var req holdingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	holding, err := h.portfolio.AddHolding(r.Context(), userID, marketdata.ResolveAsset(req.Asset), req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

func (h *Handlers) ReduceHolding(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	var req holdingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	holding, err := h.portfolio.ReduceHolding(r.Context(), userID, marketdata.ResolveAsset(req.Asset), req.Quantity)
	switch {
	case errors.Is(err, domain.ErrInsufficientHolding):
		writeError(w, http.StatusUnprocessableEntity, "insufficient holding quantity")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, holding)
	}
}

func (h *Handlers) ListHoldings(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	holdings, err := h.portfolio.ListHoldings(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch holdings")
		return
	}
	if holdings == nil {
		holdings = []domain.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (h *Handlers) PortfolioValue(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	valuation, err := h.portfolio.Valuation(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute valuation")
		return
	}
	writeJSON(w, http.StatusOK, valuation)
}

func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

func (h *Handlers) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	entries, err := h.ledger.Entries(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch ledger")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type debitRequest struct {
	EntryID string          `json:"entry_id"`
	Amount  decimal.Decimal `json:"amount"`
}

func (h *Handlers) Debit(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	var req debitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch err := h.ledger.Debit(r.Context(), req.EntryID, userID, req.Amount); {
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// depositWebhook is the payment gateway's inbound event. It is retried by
// the gateway, so the entry id carries idempotency: a replay answers 200
// without re-crediting.
type depositWebhook struct {
	EntryID string           `json:"entry_id"`
	UserID  int64            `json:"user_id"`
	Amount  decimal.Decimal  `json:"amount"`
	Kind    domain.EntryKind `json:"kind"`
}

func (h *Handlers) DepositWebhook(w http.ResponseWriter, r *http.Request) {
	var event depositWebhook
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if event.EntryID == "" || event.UserID == 0 {
		writeError(w, http.StatusBadRequest, "entry_id and user_id are required")
		return
	}

	var err error
	switch event.Kind {
	case domain.EntryDeposit, "":
		err = h.ledger.Deposit(r.Context(), event.EntryID, event.UserID, event.Amount)
	case domain.EntryRefund:
		err = h.ledger.Refund(r.Context(), event.EntryID, event.UserID, event.Amount)
	default:
		writeError(w, http.StatusBadRequest, "unsupported entry kind")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	balance, err := h.ledger.ReconcileBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("balance reconcile failed", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to rebuild balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

type favoriteRequest struct {
	Asset string `json:"asset"`
}

func (h *Handlers) AddFavorite(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.favorites.AddFavorite(r.Context(), userID, marketdata.ResolveAsset(req.Asset)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	asset := marketdata.ResolveAsset(chi.URLParam(r, "asset"))
	switch err := h.favorites.RemoveFavorite(r.Context(), userID, asset); {
	case errors.Is(err, domain.ErrFavoriteNotFound):
		writeError(w, http.StatusNotFound, "favorite not found")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) ListFavorites(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromCtx(r.Context())
	quotes, err := h.favorites.Quotes(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch favorites")
		return
	}
	if quotes == nil {
		quotes = []favorites.Quote{}
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (h *Handlers) MarketTop(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	assets, err := h.market.TopAssets(r.Context(), h.currency, limit)
	if err != nil {
		h.logger.Error("market top failed", "err", err)
		writeError(w, http.StatusBadGateway, "market data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *Handlers) MarketGlobal(w http.ResponseWriter, r *http.Request) {
	stats, err := h.market.Global(r.Context())
	if err != nil {
		h.logger.Error("market global failed", "err", err)
		writeError(w, http.StatusBadGateway, "market data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) MarketFearGreed(w http.ResponseWriter, r *http.Request) {
	fng, err := h.market.FearGreed(r.Context())
	if err != nil {
		h.logger.Error("fear greed failed", "err", err)
		writeError(w, http.StatusBadGateway, "market data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, fng)
}

func (h *Handlers) MarketHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asset := marketdata.ResolveAsset(q.Get("asset"))
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}
	days, _ := strconv.Atoi(q.Get("days"))
	points, err := h.market.History(r.Context(), asset, h.currency, days)
	if err != nil {
		h.logger.Error("market history failed", "asset", asset, "err", err)
		writeError(w, http.StatusBadGateway, "market data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handlers) MarketSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	results, err := h.market.Search(r.Context(), query)
	if err != nil {
		h.logger.Error("market search failed", "err", err)
		writeError(w, http.StatusBadGateway, "market data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handlers) MarketConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := marketdata.ResolveAsset(q.Get("from"))
	to := marketdata.ResolveAsset(q.Get("to"))
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	amount := decimal.NewFromInt(1)
	if raw := q.Get("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || !parsed.IsPositive() {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		amount = parsed
	}
	conv, err := h.market.Convert(r.Context(), from, to, amount, h.currency)
	switch {
	case errors.Is(err, domain.ErrPriceUnavailable):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.logger.Error("convert failed", "err", err)
		writeError(w, http.StatusBadGateway, "market data unavailable")
	default:
		writeJSON(w, http.StatusOK, conv)
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
