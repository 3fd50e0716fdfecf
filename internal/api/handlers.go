// Package api exposes the session engine over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/accounts"
	"github.com/dopamine/market-sim/internal/admin"
	"github.com/dopamine/market-sim/internal/ledger"
	"github.com/dopamine/market-sim/internal/market"
	"github.com/dopamine/market-sim/internal/model"
	"github.com/dopamine/market-sim/internal/session"
)

// DefaultMoversLimit is the number of instruments GET /movers returns.
const DefaultMoversLimit = 40

// maxShares bounds a trade's share count to what fits in an int64.
var maxShares = decimal.NewFromInt(math.MaxInt64)

// Service holds the HTTP handlers.
type Service struct {
	engine *session.Engine
	issuer *admin.Issuer
}

// NewService creates a Service. A nil issuer disables the admin routes.
func NewService(engine *session.Engine, issuer *admin.Issuer) *Service {
	return &Service{engine: engine, issuer: issuer}
}

// Routes mounts the game API on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/stocks", s.ListStocks)
	r.Get("/stocks/{symbol}", s.GetStock)
	r.Get("/sectors", s.ListSectors)
	r.Get("/movers", s.TopMovers)

	r.Post("/signup", s.Signup)
	r.Get("/user", s.GetUser)
	r.Post("/logout", s.Logout)

	r.Post("/trade", s.ExecuteTrade)
	r.Get("/portfolio", s.GetPortfolio)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/users", s.ListUsers)
		r.Post("/balance", s.AdjustBalance)
	})
}

// SignupRequest is the JSON body for POST /signup.
type SignupRequest struct {
	InviteCode string `json:"invite_code"`
	Username   string `json:"username"`
}

// TradeRequest is the JSON body for POST /trade. Shares is a decimal so
// fractional input can be rejected instead of silently truncated.
type TradeRequest struct {
	Symbol string          `json:"symbol"`
	Side   model.Side      `json:"side"`
	Shares decimal.Decimal `json:"shares"`
}

// BalanceRequest is the JSON body for POST /admin/balance.
type BalanceRequest struct {
	Username string          `json:"username"`
	Delta    decimal.Decimal `json:"delta"`
}

// StockDetail is the GET /stocks/{symbol} response. Held and MaxBuyable are
// only set while a user is logged in.
type StockDetail struct {
	Stock      model.Instrument `json:"stock"`
	Held       *int64           `json:"held,omitempty"`
	MaxBuyable *int64           `json:"maxBuyable,omitempty"`
}

// ListStocks handles GET /stocks.
func (s *Service) ListStocks(w http.ResponseWriter, r *http.Request) {
	q := market.Query{
		Search: r.URL.Query().Get("search"),
		Sector: r.URL.Query().Get("sector"),
		Sort:   market.SortKey(r.URL.Query().Get("sort")),
	}
	if q.Sort == "" {
		q.Sort = market.SortMarketCap
	}
	if !market.ValidSortKey(q.Sort) {
		writeError(w, "sort must be one of symbol, price, change, volume, marketCap", http.StatusBadRequest)
		return
	}
	switch dir := r.URL.Query().Get("dir"); dir {
	case "asc":
		q.Ascending = true
	case "", "desc":
	default:
		writeError(w, "dir must be asc or desc", http.StatusBadRequest)
		return
	}

	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market.Filter(snap.Instruments, q))
}

// GetStock handles GET /stocks/{symbol}.
func (s *Service) GetStock(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	inst, err := s.engine.Instrument(r.Context(), symbol)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := StockDetail{Stock: inst}
	user, ok, err := s.engine.ActiveUser(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if ok {
		held := user.Portfolio.Holdings[symbol]
		maxBuy := ledger.MaxBuyable(user.Portfolio.Cash, inst.CurrentPrice)
		resp.Held = &held
		resp.MaxBuyable = &maxBuy
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSectors handles GET /sectors. The first entry is always "All".
func (s *Service) ListSectors(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, append([]string{market.AllSectors}, market.Sectors(snap.Instruments)...))
}

// TopMovers handles GET /movers.
func (s *Service) TopMovers(w http.ResponseWriter, r *http.Request) {
	limit := DefaultMoversLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market.TopMovers(snap.Instruments, limit))
}

// Signup handles POST /signup.
func (s *Service) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := s.engine.Signup(r.Context(), req.InviteCode, req.Username)
	switch {
	case errors.Is(err, accounts.ErrInvalidInviteCode):
		writeError(w, "Invalid invite code", http.StatusBadRequest)
		return
	case errors.Is(err, accounts.ErrInvalidUsername):
		writeError(w, "Username "+strings.TrimPrefix(err.Error(), accounts.ErrInvalidUsername.Error()+": "), http.StatusBadRequest)
		return
	case err != nil:
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetUser handles GET /user.
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	acct, ok, err := s.engine.ActiveUser(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !ok {
		writeError(w, "no active user", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Logout handles POST /logout.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Logout(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteTrade handles POST /trade. A ledger rejection answers 409 with the
// unmodified account in the body.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if !req.Shares.IsInteger() || !req.Shares.IsPositive() || req.Shares.GreaterThan(maxShares) {
		writeError(w, "InvalidShareCount", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Trade(r.Context(), req.Symbol, req.Side, req.Shares.IntPart())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

// GetPortfolio handles GET /portfolio.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Portfolio(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListUsers handles GET /admin/users.
func (s *Service) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.engine.ListUsers(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// AdjustBalance handles POST /admin/balance.
func (s *Service) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}
	if req.Delta.IsZero() {
		writeError(w, "delta must be non-zero", http.StatusBadRequest)
		return
	}

	res, err := s.engine.AdjustBalance(r.Context(), req.Username, req.Delta)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusNotFound
	}
	writeJSON(w, status, res)
}

func (s *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.issuer == nil {
			writeError(w, "admin access is disabled", http.StatusForbidden)
			return
		}
		token, err := admin.BearerToken(r)
		if err != nil {
			writeError(w, "missing admin token", http.StatusUnauthorized)
			return
		}
		if _, err := s.issuer.Verify(token); err != nil {
			writeError(w, "invalid or expired admin token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		writeError(w, "not logged in", http.StatusUnauthorized)
	case errors.Is(err, session.ErrUnknownSymbol):
		writeError(w, "unknown symbol", http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, "delta must be non-zero", http.StatusBadRequest)
	case errors.Is(err, session.ErrStopped):
		writeError(w, "market is closed", http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
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
