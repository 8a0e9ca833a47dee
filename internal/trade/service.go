// Package trade provides the HTTP handlers and business logic for account
// registration, administrator price management, trade execution, and
// portfolio queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vstock/ledger/internal/keylock"
	"github.com/vstock/ledger/internal/metrics"
	"github.com/vstock/ledger/internal/model"
	"github.com/vstock/ledger/internal/store"
)

// StartingCash is the fixed cash endowment every participant receives at
// registration.
var StartingCash = decimal.NewFromInt(1_000_000)

const (
	defaultHistoryLimit     = 20
	defaultTransactionLimit = 50
	maxQueryLimit           = 200
)

// Service handles ledger operations. Trades and purchases by the same
// account are serialized through a shared per-account lock; different
// accounts proceed in parallel (single-instance — for horizontal scaling,
// replace with database-level optimistic concurrency).
type Service struct {
	store store.Store
	locks *keylock.KeyedMutex
	wsHub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service. The keyed lock is shared with
// every other component that moves account cash. Pass nil for hub if
// WebSocket broadcasting is not needed.
func NewService(st store.Store, locks *keylock.KeyedMutex, hub *WSHub) *Service {
	return &Service{
		store: st,
		locks: locks,
		wsHub: hub,
	}
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for POST /accounts.
type RegisterRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

// CreateInstrumentRequest is the JSON body for POST /instruments.
// Actor must be an administrator account id.
type CreateInstrumentRequest struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Actor  string          `json:"actor"`
}

// SetPriceRequest is the JSON body for PUT /instruments/{id}/price.
type SetPriceRequest struct {
	Price decimal.Decimal `json:"price"`
	Actor string          `json:"actor"`
}

// InstrumentDetail is an instrument with its recent price history.
type InstrumentDetail struct {
	Instrument *model.Instrument         `json:"instrument"`
	History    []model.PriceChangeRecord `json:"history"`
}

// --- Account handlers ---

// Register handles POST /api/v1/accounts.
// Creates a participant account with the fixed starting cash endowment.
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Name == "" {
		writeError(w, "username and name are required", http.StatusBadRequest)
		return
	}

	account := &model.Account{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Name:      req.Name,
		Role:      model.RoleParticipant,
		Cash:      StartingCash,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("account registered",
		"id", account.ID,
		"username", account.Username,
		"cash", account.Cash.String(),
	)

	writeJSON(w, http.StatusCreated, account)
}

// GetAccount handles GET /api/v1/accounts/{accountID}.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "account not found", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// --- Instrument handlers ---

// ListInstruments handles GET /api/v1/instruments.
func (s *Service) ListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.store.ListInstruments(r.Context())
	if err != nil {
		writeError(w, "failed to list instruments", http.StatusInternalServerError)
		return
	}
	if instruments == nil {
		instruments = []model.Instrument{}
	}

	writeJSON(w, http.StatusOK, instruments)
}

// CreateInstrument handles POST /api/v1/instruments (administrator only).
func (s *Service) CreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req CreateInstrumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" || req.Name == "" {
		writeError(w, "symbol and name are required", http.StatusBadRequest)
		return
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.requireAdmin(ctx, req.Actor); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	instrument := &model.Instrument{
		ID:           uuid.New().String(),
		Symbol:       req.Symbol,
		Name:         req.Name,
		CurrentPrice: req.Price,
		UpdatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateInstrument(ctx, instrument); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("instrument created",
		"id", instrument.ID,
		"symbol", instrument.Symbol,
		"price", instrument.CurrentPrice.String(),
	)

	writeJSON(w, http.StatusCreated, instrument)
}

// GetInstrument handles GET /api/v1/instruments/{instrumentID}.
// Returns the instrument with its recent price history.
func (s *Service) GetInstrument(w http.ResponseWriter, r *http.Request) {
	instrumentID := chi.URLParam(r, "instrumentID")
	ctx := r.Context()

	instrument, err := s.store.GetInstrument(ctx, instrumentID)
	if err != nil {
		writeError(w, "instrument not found", statusFor(err))
		return
	}

	limit := queryLimit(r, defaultHistoryLimit)
	history, err := s.store.GetPriceHistory(ctx, instrumentID, limit)
	if err != nil {
		writeError(w, "failed to load price history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []model.PriceChangeRecord{}
	}

	writeJSON(w, http.StatusOK, InstrumentDetail{Instrument: instrument, History: history})
}

// SetPrice handles PUT /api/v1/instruments/{instrumentID}/price
// (administrator only). The current price update and the history append are
// one atomic unit with a shared timestamp.
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	instrumentID := chi.URLParam(r, "instrumentID")

	var req SetPriceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.requireAdmin(ctx, req.Actor); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	rec := &model.PriceChangeRecord{
		ID:           uuid.New().String(),
		InstrumentID: instrumentID,
		Price:        req.Price,
		Actor:        req.Actor,
		At:           time.Now().UTC(),
	}

	if err := s.store.UpdatePrice(ctx, rec); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.PriceUpdates.Inc()

	instrument, err := s.store.GetInstrument(ctx, instrumentID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("price updated",
		"instrument", instrumentID,
		"symbol", instrument.Symbol,
		"price", req.Price.String(),
		"actor", req.Actor,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "price_updated",
			InstrumentID: instrumentID,
			Symbol:       instrument.Symbol,
			Price:        req.Price.String(),
		})
	}

	writeJSON(w, http.StatusOK, instrument)
}

// --- Helpers ---

// requireAdmin resolves the actor account and checks its role. An unknown
// actor is unauthorized, not "not found": the caller is asserting a
// privilege it does not hold.
func (s *Service) requireAdmin(ctx context.Context, actorID string) error {
	if actorID == "" {
		return ErrUnauthorized
	}
	account, err := s.store.GetAccount(ctx, actorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if account.Role != model.RoleAdmin {
		return ErrUnauthorized
	}
	return nil
}

// queryLimit reads ?limit= with a default, clamped to maxQueryLimit.
func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}
