// Package news provides administrator-authored news with premium content
// gating. Purchasing a premium article is the same ledger pattern as a
// trade: a cash debit and an immutable record, applied as one atomic unit.
package news

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vstock/ledger/internal/keylock"
	"github.com/vstock/ledger/internal/metrics"
	"github.com/vstock/ledger/internal/model"
	"github.com/vstock/ledger/internal/store"
)

var (
	// ErrUnauthorized is returned when a non-administrator attempts to
	// create or delete news.
	ErrUnauthorized = errors.New("news: unauthorized")

	// ErrInsufficientFunds is returned when a purchase exceeds the
	// account's cash balance.
	ErrInsufficientFunds = errors.New("news: insufficient funds")

	// ErrAlreadyPurchased is returned on a repeat purchase of the same
	// article.
	ErrAlreadyPurchased = errors.New("news: already purchased")

	// ErrNotPremium is returned when purchasing a free article.
	ErrNotPremium = errors.New("news: article is free")
)

// withheldContent replaces the body of premium news the reader has not
// purchased.
const withheldContent = "This is premium news. Purchase it to read the full content."

// Service handles news operations. It shares the per-account lock with the
// trade engine so a purchase and a trade on the same account cannot race
// on the cash balance.
type Service struct {
	store store.Store
	locks *keylock.KeyedMutex
}

// NewService creates a news service.
func NewService(st store.Store, locks *keylock.KeyedMutex) *Service {
	return &Service{store: st, locks: locks}
}

// --- Request/Response types ---

// CreateRequest is the JSON body for POST /news.
// Actor must be an administrator account id.
type CreateRequest struct {
	Title   string          `json:"title"`
	Content string          `json:"content"`
	Kind    model.NewsKind  `json:"kind"`
	Price   decimal.Decimal `json:"price"`
	Actor   string          `json:"actor"`
}

// PurchaseRequest is the JSON body for POST /news/{newsID}/purchase.
type PurchaseRequest struct {
	AccountID string `json:"account_id"`
}

// Article is a news item with the reader's access state. Content of
// premium news is withheld until purchased.
type Article struct {
	News      *model.News `json:"news"`
	Purchased bool        `json:"purchased"`
}

// --- Handlers ---

// List handles GET /api/v1/news, most recent first.
func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	news, err := s.store.ListNews(r.Context())
	if err != nil {
		writeError(w, "failed to list news", http.StatusInternalServerError)
		return
	}
	if news == nil {
		news = []model.News{}
	}

	writeJSON(w, http.StatusOK, news)
}

// Create handles POST /api/v1/news (administrator only).
func (s *Service) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.Content == "" {
		writeError(w, "title and content are required", http.StatusBadRequest)
		return
	}
	if req.Kind != model.NewsFree && req.Kind != model.NewsPremium {
		writeError(w, "kind must be FREE or PREMIUM", http.StatusBadRequest)
		return
	}
	if req.Kind == model.NewsPremium && req.Price.LessThanOrEqual(decimal.Zero) {
		writeError(w, "premium news requires a positive price", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.requireAdmin(ctx, req.Actor); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	price := req.Price
	if req.Kind == model.NewsFree {
		price = decimal.Zero
	}

	n := &model.News{
		ID:        uuid.New().String(),
		Title:     req.Title,
		Content:   req.Content,
		Kind:      req.Kind,
		Price:     price,
		CreatedBy: req.Actor,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateNews(ctx, n); err != nil {
		writeError(w, "failed to create news", http.StatusInternalServerError)
		return
	}

	slog.Info("news created", "id", n.ID, "kind", n.Kind, "title", n.Title)
	writeJSON(w, http.StatusCreated, n)
}

// Get handles GET /api/v1/news/{newsID}?reader={accountID}.
// Premium content is withheld until the reader has purchased it.
func (s *Service) Get(w http.ResponseWriter, r *http.Request) {
	newsID := chi.URLParam(r, "newsID")
	reader := r.URL.Query().Get("reader")
	ctx := r.Context()

	n, err := s.store.GetNews(ctx, newsID)
	if err != nil {
		writeError(w, "news not found", statusFor(err))
		return
	}

	if n.Kind == model.NewsFree {
		writeJSON(w, http.StatusOK, Article{News: n, Purchased: true})
		return
	}

	purchased := false
	if reader != "" {
		purchased, err = s.store.HasNewsView(ctx, reader, newsID)
		if err != nil {
			writeError(w, "failed to check purchase", http.StatusInternalServerError)
			return
		}
	}

	if !purchased {
		n.Content = withheldContent
	}
	writeJSON(w, http.StatusOK, Article{News: n, Purchased: purchased})
}

// Purchase handles POST /api/v1/news/{newsID}/purchase.
// The cash debit and the view record are one atomic unit.
func (s *Service) Purchase(w http.ResponseWriter, r *http.Request) {
	newsID := chi.URLParam(r, "newsID")

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	n, err := s.purchase(r, req.AccountID, newsID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, Article{News: n, Purchased: true})
}

func (s *Service) purchase(r *http.Request, accountID, newsID string) (*model.News, error) {
	ctx := r.Context()

	// Same lock the trade engine holds: cash movements for one account
	// are serialized across trades and purchases.
	unlock := s.locks.Lock(accountID)
	defer unlock()

	n, err := s.store.GetNews(ctx, newsID)
	if err != nil {
		return nil, err
	}
	if n.Kind != model.NewsPremium {
		return nil, ErrNotPremium
	}

	purchased, err := s.store.HasNewsView(ctx, accountID, newsID)
	if err != nil {
		return nil, err
	}
	if purchased {
		return nil, ErrAlreadyPurchased
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Cash.LessThan(n.Price) {
		return nil, ErrInsufficientFunds
	}

	if err := s.store.ApplyNewsPurchase(ctx, &store.NewsPurchase{
		AccountID: accountID,
		NewsID:    newsID,
		NewCash:   account.Cash.Sub(n.Price),
		At:        time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	metrics.NewsPurchases.Inc()
	slog.Info("news purchased",
		"news", newsID,
		"account", accountID,
		"price", n.Price.String(),
	)
	return n, nil
}

// Delete handles DELETE /api/v1/news/{newsID}?actor={accountID}
// (administrator only).
func (s *Service) Delete(w http.ResponseWriter, r *http.Request) {
	newsID := chi.URLParam(r, "newsID")
	actor := r.URL.Query().Get("actor")
	ctx := r.Context()

	if err := s.requireAdmin(ctx, actor); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.DeleteNews(ctx, newsID); err != nil {
		writeError(w, "news not found", statusFor(err))
		return
	}

	slog.Info("news deleted", "id", newsID, "actor", actor)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// --- Helpers ---

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

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotPremium):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrAlreadyPurchased),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
