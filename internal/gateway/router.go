package gateway

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/yourorg/coinwatch/internal/auth"
)

func NewRouter(h *Handlers, hub *Hub, jwtSvc *auth.JWTService, webhookSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5174"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	// Payment gateway callback. Authenticated by shared secret, not a user
	// token: the caller acts on behalf of whichever user the event names.
	r.With(webhookAuth(webhookSecret)).Post("/webhooks/payments", h.DepositWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(jwtSvc))

		r.Post("/alerts", h.CreateAlert)
		r.Get("/alerts", h.ListAlerts)
		r.Get("/alerts/{id}", h.GetAlert)
		r.Delete("/alerts/{id}", h.CancelAlert)

		r.Post("/holdings", h.AddHolding)
		r.Post("/holdings/reduce", h.ReduceHolding)
		r.Get("/holdings", h.ListHoldings)
		r.Get("/portfolio/value", h.PortfolioValue)

		r.Post("/favorites", h.AddFavorite)
		r.Get("/favorites", h.ListFavorites)
		r.Delete("/favorites/{asset}", h.RemoveFavorite)

		r.Get("/balance", h.GetBalance)
		r.Get("/ledger", h.GetLedger)
		r.Post("/ledger/debit", h.Debit)
		r.Post("/ledger/reconcile", h.Reconcile)

		r.Get("/market/top", h.MarketTop)
		r.Get("/market/global", h.MarketGlobal)
		r.Get("/market/feargreed", h.MarketFearGreed)
		r.Get("/market/convert", h.MarketConvert)
		r.Get("/market/history", h.MarketHistory)
		r.Get("/market/search", h.MarketSearch)
	})

	r.Get("/ws", ServeWS(hub, h.logger))

	return r
}

func webhookAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Webhook-Token")
			if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid webhook token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
