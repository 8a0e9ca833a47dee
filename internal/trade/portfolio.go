package trade

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vstock/ledger/internal/model"
)

// ListHoldings handles GET /api/v1/accounts/{accountID}/holdings.
// Only positions with quantity > 0 appear, valued at current prices.
func (s *Service) ListHoldings(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	holdings, err := s.store.ListHoldings(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}

	writeJSON(w, http.StatusOK, holdings)
}

// ListTransactions handles GET /api/v1/accounts/{accountID}/transactions.
// Returns the account's trade log, most recent first.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	limit := queryLimit(r, defaultTransactionLimit)

	records, err := s.store.ListTransactions(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TransactionRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// GetPortfolio handles GET /api/v1/accounts/{accountID}/portfolio.
// Pure read projection: cash plus holdings marked to current prices.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		writeError(w, "account not found", statusFor(err))
		return
	}

	holdings, err := s.store.ListHoldings(ctx, accountID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}

	stockValue := decimal.Zero
	for _, h := range holdings {
		stockValue = stockValue.Add(h.MarketValue)
	}

	writeJSON(w, http.StatusOK, model.PortfolioSummary{
		AccountID:   accountID,
		Cash:        account.Cash,
		StockValue:  stockValue,
		TotalAssets: account.Cash.Add(stockValue),
		Holdings:    holdings,
	})
}

// GetLeaderboard handles GET /api/v1/leaderboard.
// All accounts ordered by total assets descending; ties break by account
// id for a deterministic order.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Leaderboard(r.Context())
	if err != nil {
		writeError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}
