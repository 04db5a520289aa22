// Package server exposes the ledger over HTTP/JSON: the five ledger
// operations, public reads, and owner-gated admin endpoints.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
)

// Server routes HTTP requests to the engine.
type Server struct {
	engine     *core.Engine
	static     *oracle.Static
	health     *observability.HealthChecker
	ownerToken string
	log        zerolog.Logger
}

func New(engine *core.Engine, static *oracle.Static, health *observability.HealthChecker, ownerToken string, log zerolog.Logger) *Server {
	return &Server{
		engine:     engine,
		static:     static,
		health:     health,
		ownerToken: ownerToken,
		log:        log.With().Str("component", "http").Logger(),
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deposit", s.handleDeposit)
		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/borrow", s.handleBorrow)
		r.Post("/repay", s.handleRepay)
		r.Post("/liquidate", s.handleLiquidate)

		r.Get("/assets/{asset}", s.handleAssetState)
		r.Get("/assets/{asset}/price", s.handleAssetPrice)
		r.Get("/users/{user}/positions", s.handlePositions)
		r.Get("/accrued-interest", s.handleAccruedInterest)
		r.Get("/max-borrowable", s.handleMaxBorrowable)
		r.Get("/liquidatable", s.handleLiquidatable)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireOwner)
			r.Post("/assets", s.handleRegisterAsset)
			r.Put("/assets/{asset}/price-source", s.handleSetPriceSource)
			r.Put("/assets/{asset}/price", s.handleSetPrice)
		})
	})

	return r
}

// requireOwner gates admin routes behind the configured owner token. An
// empty configured token rejects everything.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Owner-Token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if s.ownerToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.ownerToken)) != 1 {
			s.writeError(w, ledger.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type depositRequest struct {
	User          string `json:"user"`
	Asset         string `json:"asset"`
	Amount        int64  `json:"amount"`
	AttachedValue int64  `json:"attached_value"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.Deposit(r.Context(), ledger.UserID(req.User), ledger.AssetID(req.Asset), req.Amount, req.AttachedValue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":  req.Asset,
		"user":   req.User,
		"amount": req.Amount,
	})
}

type withdrawRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.Withdraw(r.Context(), ledger.UserID(req.User), ledger.AssetID(req.Asset), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":  req.Asset,
		"user":   req.User,
		"amount": req.Amount,
	})
}

type borrowRequest struct {
	User            string `json:"user"`
	BorrowAsset     string `json:"borrow_asset"`
	CollateralAsset string `json:"collateral_asset"`
	Amount          int64  `json:"amount"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.Borrow(r.Context(), ledger.UserID(req.User),
		ledger.AssetID(req.BorrowAsset), ledger.AssetID(req.CollateralAsset), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"borrow_asset":     req.BorrowAsset,
		"collateral_asset": req.CollateralAsset,
		"user":             req.User,
		"amount":           req.Amount,
	})
}

type repayRequest struct {
	User          string `json:"user"`
	Asset         string `json:"asset"`
	Amount        int64  `json:"amount"`
	AttachedValue int64  `json:"attached_value"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if !s.decode(w, r, &req) {
		return
	}
	applied, refunded, err := s.engine.Repay(r.Context(), ledger.UserID(req.User),
		ledger.AssetID(req.Asset), req.Amount, req.AttachedValue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":    req.Asset,
		"user":     req.User,
		"applied":  applied,
		"refunded": refunded,
	})
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	BorrowAsset     string `json:"borrow_asset"`
	CollateralAsset string `json:"collateral_asset"`
	AttachedValue   int64  `json:"attached_value"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Liquidate(r.Context(), ledger.UserID(req.Liquidator), ledger.UserID(req.Borrower),
		ledger.AssetID(req.BorrowAsset), ledger.AssetID(req.CollateralAsset), req.AttachedValue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"borrower":          req.Borrower,
		"liquidator":        req.Liquidator,
		"repaid_amount":     res.RepaidAmount,
		"seized_collateral": res.SeizedCollateral,
	})
}

func (s *Server) handleAssetState(w http.ResponseWriter, r *http.Request) {
	asset := ledger.AssetID(chi.URLParam(r, "asset"))
	a, err := s.engine.AssetState(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":              a.ID,
		"total_deposits":     a.TotalDeposits,
		"total_borrows":      a.TotalBorrows,
		"reserve_factor_bps": a.ReserveFactorBps,
		"last_accrual_time":  a.LastAccrualTime,
		"price_source":       a.PriceSource,
		"kind":               a.Kind.String(),
	})
}

func (s *Server) handleAssetPrice(w http.ResponseWriter, r *http.Request) {
	asset := ledger.AssetID(chi.URLParam(r, "asset"))
	q, err := s.engine.AssetPrice(r.Context(), asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset": asset,
		"price": q.Price,
		"as_of": q.AsOf,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	user := ledger.UserID(chi.URLParam(r, "user"))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":      user,
		"positions": s.engine.Positions(user),
	})
}

func (s *Server) handleAccruedInterest(w http.ResponseWriter, r *http.Request) {
	user := ledger.UserID(r.URL.Query().Get("user"))
	asset := ledger.AssetID(r.URL.Query().Get("asset"))
	interest, err := s.engine.AccruedInterest(user, asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":     user,
		"asset":    asset,
		"interest": interest,
	})
}

func (s *Server) handleMaxBorrowable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	collateralAsset := ledger.AssetID(q.Get("collateral_asset"))
	borrowAsset := ledger.AssetID(q.Get("borrow_asset"))
	collateralAmount, err := strconv.ParseInt(q.Get("collateral_amount"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid collateral_amount"})
		return
	}
	max, err := s.engine.MaxBorrowable(r.Context(), collateralAsset, borrowAsset, collateralAmount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"collateral_asset":  collateralAsset,
		"borrow_asset":      borrowAsset,
		"collateral_amount": collateralAmount,
		"max_borrowable":    max,
	})
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	borrower := ledger.UserID(q.Get("borrower"))
	borrowAsset := ledger.AssetID(q.Get("borrow_asset"))
	collateralAsset := ledger.AssetID(q.Get("collateral_asset"))
	liquidatable, err := s.engine.IsLiquidatable(r.Context(), borrower, borrowAsset, collateralAsset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"borrower":         borrower,
		"borrow_asset":     borrowAsset,
		"collateral_asset": collateralAsset,
		"liquidatable":     liquidatable,
	})
}

type registerAssetRequest struct {
	Asset            string `json:"asset"`
	PriceSource      string `json:"price_source"`
	Kind             string `json:"kind"`
	ReserveFactorBps int64  `json:"reserve_factor_bps"`
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req registerAssetRequest
	if !s.decode(w, r, &req) {
		return
	}
	var kind ledger.TransferKind
	switch req.Kind {
	case "native":
		kind = ledger.TransferKindNativeValue
	case "token", "":
		kind = ledger.TransferKindExternalToken
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be native or token"})
		return
	}
	err := s.engine.RegisterAsset(ledger.AssetID(req.Asset), req.PriceSource, kind, req.ReserveFactorBps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"asset":        req.Asset,
		"price_source": req.PriceSource,
		"kind":         kind.String(),
	})
}

type setPriceSourceRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleSetPriceSource(w http.ResponseWriter, r *http.Request) {
	asset := ledger.AssetID(chi.URLParam(r, "asset"))
	var req setPriceSourceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SetPriceSource(asset, req.Source); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":  asset,
		"source": req.Source,
	})
}

type setPriceRequest struct {
	Price int64 `json:"price"`
}

// handleSetPrice feeds the static oracle source. Assets bound to other
// sources are unaffected.
func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	if s.static == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "static price source not configured"})
		return
	}
	asset := ledger.AssetID(chi.URLParam(r, "asset"))
	var req setPriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Price <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "price must be positive"})
		return
	}
	s.static.Set(asset, req.Price, time.Now().UTC())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset": asset,
		"price": req.Price,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps ledger sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrSameAsset), errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientCollateral),
		errors.Is(err, ledger.ErrNotLiquidatable),
		errors.Is(err, ledger.ErrNoDebt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrPriceUnavailable), errors.Is(err, ledger.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
