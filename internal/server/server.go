// Package server provides the HTTP front end for the paper broker:
// quote lookups, account management, order entry and simulation, and
// option expiration processing.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/asset"
	"github.com/philipodonnell/paperbroker/internal/broker"
	"github.com/philipodonnell/paperbroker/internal/engine"
	"github.com/philipodonnell/paperbroker/internal/metrics"
	"github.com/philipodonnell/paperbroker/internal/order"
	"github.com/philipodonnell/paperbroker/internal/quote"
)

const dateLayout = "2006-01-02"

// Service handles broker HTTP operations.
// Pass nil for hub if WebSocket broadcasting is not needed.
type Service struct {
	broker *broker.Broker
	wsHub  *WSHub
}

// NewService creates a new broker HTTP service.
func NewService(b *broker.Broker, hub *WSHub) *Service {
	return &Service{broker: b, wsHub: hub}
}

// Router assembles the full route tree, including health, metrics, and
// the WebSocket endpoint.
func (s *Service) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"paperbroker"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}

		r.Get("/quotes/{symbol}", s.GetQuote)
		r.Get("/quotes/{symbol}/expirations", s.GetExpirationDates)
		r.Get("/quotes/{symbol}/options/{expiration}", s.GetOptionQuotes)

		r.Post("/accounts", s.OpenAccount)
		r.Get("/accounts/{accountID}", s.GetAccount)

		r.Post("/accounts/{accountID}/orders", s.EnterOrder)
		r.Post("/accounts/{accountID}/orders/simulate", s.SimulateOrder)
		r.Post("/accounts/{accountID}/orders/buy_to_open/{symbol}", s.roleOrder(order.BuyToOpen))
		r.Post("/accounts/{accountID}/orders/sell_to_open/{symbol}", s.roleOrder(order.SellToOpen))
		r.Post("/accounts/{accountID}/orders/buy_to_close/{symbol}", s.roleOrder(order.BuyToClose))
		r.Post("/accounts/{accountID}/orders/sell_to_close/{symbol}", s.roleOrder(order.SellToClose))

		r.Post("/accounts/{accountID}/positions/liquidate", s.Liquidate)
		r.Post("/accounts/{accountID}/expire", s.ExpireOptions)
	})

	return r
}

// --- Request/Response types ---

// OrderLegRequest is one leg in an order request body.
type OrderLegRequest struct {
	Asset    string `json:"asset"`
	Quantity int64  `json:"quantity"`
	Role     string `json:"role"` // bto, sto, btc, stc
}

// OrderRequest is the JSON body for order entry and simulation.
type OrderRequest struct {
	Condition string            `json:"condition,omitempty"` // market (default) or limit
	Price     decimal.Decimal   `json:"price,omitempty"`     // aggregate limit price
	Legs      []OrderLegRequest `json:"legs"`
}

// OrderResponse carries the order outcome and the resulting account state.
type OrderResponse struct {
	Account      *account.Account    `json:"account"`
	Order        *order.Order        `json:"order"`
	ChangeInCash decimal.Decimal     `json:"change_in_cash"`
	ChangeMargin decimal.NullDecimal `json:"change_in_maintenance_margin"`
}

// --- Quote handlers ---

// GetQuote handles GET /api/v1/quotes/{symbol}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	a, err := asset.Parse(chi.URLParam(r, "symbol"))
	if err != nil {
		writeTypedError(w, err)
		return
	}

	q, err := s.broker.GetQuote(r.Context(), a)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetExpirationDates handles GET /api/v1/quotes/{symbol}/expirations
func (s *Service) GetExpirationDates(w http.ResponseWriter, r *http.Request) {
	a, err := asset.Parse(chi.URLParam(r, "symbol"))
	if err != nil {
		writeTypedError(w, err)
		return
	}

	dates, err := s.broker.GetExpirationDates(r.Context(), a)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(dateLayout))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"expiration_dates": out})
}

// GetOptionQuotes handles GET /api/v1/quotes/{symbol}/options/{expiration}
// Pass ?only_priceable=false to include quotes with a zero bid or ask.
func (s *Service) GetOptionQuotes(w http.ResponseWriter, r *http.Request) {
	a, err := asset.Parse(chi.URLParam(r, "symbol"))
	if err != nil {
		writeTypedError(w, err)
		return
	}
	expiration, err := time.Parse(dateLayout, chi.URLParam(r, "expiration"))
	if err != nil {
		writeError(w, "expiration must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	quotes, err := s.broker.GetOptionQuotes(r.Context(), a, expiration)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	onlyPriceable := r.URL.Query().Get("only_priceable") != "false"
	out := make([]*quote.Quote, 0, len(quotes))
	for _, q := range quotes {
		if onlyPriceable && !q.IsPriceable() {
			continue
		}
		out = append(out, q)
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Account handlers ---

// OpenAccount handles POST /api/v1/accounts
func (s *Service) OpenAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.broker.OpenAccount(r.Context())
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.broker.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// --- Order handlers ---

// EnterOrder handles POST /api/v1/accounts/{accountID}/orders
func (s *Service) EnterOrder(w http.ResponseWriter, r *http.Request) {
	acct, ord, ok := s.decodeOrder(w, r)
	if !ok {
		return
	}

	impact, err := s.broker.EnterOrder(r.Context(), acct, ord)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	s.broadcastFill(impact.After, ord)
	writeJSON(w, http.StatusOK, orderResponse(impact))
}

// SimulateOrder handles POST /api/v1/accounts/{accountID}/orders/simulate
// The live account is never mutated.
func (s *Service) SimulateOrder(w http.ResponseWriter, r *http.Request) {
	acct, ord, ok := s.decodeOrder(w, r)
	if !ok {
		return
	}

	sim, err := s.broker.SimulateOrder(r.Context(), acct, ord)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OrderResponse{
		Account:      sim,
		Order:        ord,
		ChangeInCash: sim.Cash.Sub(acct.Cash),
	})
}

// roleOrder builds a single-leg market order handler for one role, e.g.
// POST /api/v1/accounts/{accountID}/orders/buy_to_open/{symbol}?quantity=2
// Pass ?simulate=true to preview without committing.
func (s *Service) roleOrder(role order.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := s.broker.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
		if err != nil {
			writeTypedError(w, err)
			return
		}
		a, err := asset.Parse(chi.URLParam(r, "symbol"))
		if err != nil {
			writeTypedError(w, err)
			return
		}

		quantity := int64(1)
		if qs := r.URL.Query().Get("quantity"); qs != "" {
			quantity, err = strconv.ParseInt(qs, 10, 64)
			if err != nil || quantity == 0 {
				writeError(w, "quantity must be a non-zero integer", http.StatusBadRequest)
				return
			}
		}

		ord, err := order.Single(a, quantity, role)
		if err != nil {
			writeTypedError(w, err)
			return
		}

		if r.URL.Query().Get("simulate") == "true" {
			sim, err := s.broker.SimulateOrder(r.Context(), acct, ord)
			if err != nil {
				writeTypedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, OrderResponse{
				Account:      sim,
				Order:        ord,
				ChangeInCash: sim.Cash.Sub(acct.Cash),
			})
			return
		}

		impact, err := s.broker.EnterOrder(r.Context(), acct, ord)
		if err != nil {
			writeTypedError(w, err)
			return
		}
		s.broadcastFill(impact.After, ord)
		writeJSON(w, http.StatusOK, orderResponse(impact))
	}
}

// Liquidate handles POST /api/v1/accounts/{accountID}/positions/liquidate
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	acct, err := s.broker.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeTypedError(w, err)
		return
	}

	if err := s.broker.ClosePositions(r.Context(), acct); err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ExpireOptions handles POST /api/v1/accounts/{accountID}/expire?as_of=YYYY-MM-DD
func (s *Service) ExpireOptions(w http.ResponseWriter, r *http.Request) {
	acct, err := s.broker.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeTypedError(w, err)
		return
	}

	asOf, err := time.Parse(dateLayout, r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	if err := s.broker.ExpireOptions(r.Context(), acct, asOf); err != nil {
		writeTypedError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "options_expired",
			AccountID: acct.AccountID,
			Cash:      acct.Cash.String(),
		})
	}
	writeJSON(w, http.StatusOK, acct)
}

// --- Helpers ---

func (s *Service) decodeOrder(w http.ResponseWriter, r *http.Request) (*account.Account, *order.Order, bool) {
	acct, err := s.broker.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeTypedError(w, err)
		return nil, nil, false
	}

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return nil, nil, false
	}

	var ord *order.Order
	switch req.Condition {
	case "", string(order.Market):
		ord = order.New()
	case string(order.Limit):
		ord = order.NewLimit(req.Price)
	default:
		writeError(w, "condition must be market or limit", http.StatusBadRequest)
		return nil, nil, false
	}

	for _, leg := range req.Legs {
		a, err := asset.Parse(leg.Asset)
		if err != nil {
			writeTypedError(w, err)
			return nil, nil, false
		}
		if err := ord.AddLeg(a, leg.Quantity, order.Role(leg.Role)); err != nil {
			writeTypedError(w, err)
			return nil, nil, false
		}
	}
	if err := ord.Validate(); err != nil {
		writeTypedError(w, err)
		return nil, nil, false
	}
	return acct, ord, true
}

func (s *Service) broadcastFill(acct *account.Account, ord *order.Order) {
	if s.wsHub == nil {
		return
	}
	msg := WSMessage{
		Type:      "order_filled",
		AccountID: acct.AccountID,
		Cash:      acct.Cash.String(),
		Legs:      len(ord.Legs),
		Status:    string(ord.Status),
	}
	if acct.MaintenanceMargin.Valid {
		msg.Margin = acct.MaintenanceMargin.Decimal.String()
	}
	s.wsHub.Broadcast(msg)
}

func orderResponse(impact *broker.OrderImpact) OrderResponse {
	return OrderResponse{
		Account:      impact.After,
		Order:        impact.Order,
		ChangeInCash: impact.ChangeInCash,
		ChangeMargin: impact.ChangeInMaintenanceMargin,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeTypedError maps sentinel errors onto HTTP statuses.
func writeTypedError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, asset.ErrInvalidAsset), errors.Is(err, order.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, account.ErrNotFound), errors.Is(err, quote.ErrNoQuote):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientPosition),
		errors.Is(err, broker.ErrAccountConstraint),
		errors.Is(err, engine.ErrMarginUnrepresentable):
		status = http.StatusConflict
	case errors.Is(err, quote.ErrNotPriceable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	writeError(w, err.Error(), status)
}
