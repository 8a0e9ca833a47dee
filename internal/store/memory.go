package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vstock/ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	instruments  map[string]*model.Instrument
	positions    map[string]*model.Position // key: accountID + "/" + instrumentID
	priceHistory []model.PriceChangeRecord
	transactions []model.TransactionRecord
	news         map[string]*model.News
	newsViews    map[string]bool // key: accountID + "/" + newsID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*model.Account),
		instruments: make(map[string]*model.Instrument),
		positions:   make(map[string]*model.Position),
		news:        make(map[string]*model.News),
		newsViews:   make(map[string]bool),
	}
}

func posKey(accountID, instrumentID string) string {
	return accountID + "/" + instrumentID
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Username == a.Username {
			return fmt.Errorf("username %s: %w", a.Username, ErrConflict)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

// --- Instruments and prices ---

func (s *MemoryStore) CreateInstrument(_ context.Context, in *model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instruments {
		if existing.Symbol == in.Symbol {
			return fmt.Errorf("symbol %s: %w", in.Symbol, ErrConflict)
		}
	}

	cp := *in
	s.instruments[in.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, id string) (*model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.instruments[id]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	cp := *in
	return &cp, nil
}

func (s *MemoryStore) ListInstruments(_ context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instruments := make([]model.Instrument, 0, len(s.instruments))
	for _, in := range s.instruments {
		instruments = append(instruments, *in)
	}
	sort.Slice(instruments, func(i, j int) bool {
		return instruments[i].Symbol < instruments[j].Symbol
	})
	return instruments, nil
}

// UpdatePrice sets the current price and appends the history record under
// a single lock, so no reader observes one without the other.
func (s *MemoryStore) UpdatePrice(_ context.Context, rec *model.PriceChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.instruments[rec.InstrumentID]
	if !ok {
		return fmt.Errorf("instrument %s: %w", rec.InstrumentID, ErrNotFound)
	}

	in.CurrentPrice = rec.Price
	in.UpdatedAt = rec.At
	s.priceHistory = append(s.priceHistory, *rec)
	return nil
}

func (s *MemoryStore) GetPriceHistory(_ context.Context, instrumentID string, limit int) ([]model.PriceChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 0 {
		limit = 0
	}
	records := make([]model.PriceChangeRecord, 0, limit)
	// History is append-ordered; walk backwards for most-recent-first.
	for i := len(s.priceHistory) - 1; i >= 0 && len(records) < limit; i-- {
		if s.priceHistory[i].InstrumentID == instrumentID {
			records = append(records, s.priceHistory[i])
		}
	}
	return records, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, accountID, instrumentID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(accountID, instrumentID)]
	if !ok {
		return nil, nil // absent is a valid state: zero holdings
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, accountID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for _, p := range s.positions {
		if p.AccountID != accountID || p.Quantity <= 0 {
			continue
		}
		in, ok := s.instruments[p.InstrumentID]
		if !ok {
			continue
		}
		holdings = append(holdings, buildHolding(p, in))
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })
	return holdings, nil
}

// --- Trade atomic unit ---

// ApplyTrade applies the ledger append, cash update, and position change
// under a single lock: no reader observes a partially applied trade.
func (s *MemoryStore) ApplyTrade(_ context.Context, m *TradeMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[m.Record.AccountID]
	if !ok {
		return fmt.Errorf("account %s: %w", m.Record.AccountID, ErrNotFound)
	}

	s.transactions = append(s.transactions, *m.Record)
	a.Cash = m.NewCash

	key := posKey(m.Position.AccountID, m.Position.InstrumentID)
	if m.Position.Quantity == 0 {
		delete(s.positions, key)
	} else {
		cp := *m.Position
		s.positions[key] = &cp
	}
	return nil
}

// --- Transaction log ---

func (s *MemoryStore) ListTransactions(_ context.Context, accountID string, limit int) ([]model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 0 {
		limit = 0
	}
	records := make([]model.TransactionRecord, 0, limit)
	for i := len(s.transactions) - 1; i >= 0 && len(records) < limit; i-- {
		if s.transactions[i].AccountID == accountID {
			records = append(records, s.transactions[i])
		}
	}
	return records, nil
}

// --- Leaderboard ---

func (s *MemoryStore) Leaderboard(_ context.Context) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockValue := make(map[string]decimal.Decimal)
	for _, p := range s.positions {
		in, ok := s.instruments[p.InstrumentID]
		if !ok || p.Quantity <= 0 {
			continue
		}
		v := in.CurrentPrice.Mul(decimal.NewFromInt(p.Quantity))
		stockValue[p.AccountID] = stockValue[p.AccountID].Add(v)
	}

	entries := make([]model.LeaderboardEntry, 0, len(s.accounts))
	for _, a := range s.accounts {
		sv := stockValue[a.ID]
		entries = append(entries, model.LeaderboardEntry{
			AccountID:   a.ID,
			Username:    a.Username,
			Name:        a.Name,
			Cash:        a.Cash,
			StockValue:  sv,
			TotalAssets: a.Cash.Add(sv),
		})
	}

	sortLeaderboard(entries)
	return entries, nil
}

// sortLeaderboard orders by total assets descending, account id ascending
// on ties, and assigns ranks from 1. Shared with the cached store.
func sortLeaderboard(entries []model.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].TotalAssets.Equal(entries[j].TotalAssets) {
			return entries[i].TotalAssets.GreaterThan(entries[j].TotalAssets)
		}
		return entries[i].AccountID < entries[j].AccountID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// --- News ---

func (s *MemoryStore) CreateNews(_ context.Context, n *model.News) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	s.news[n.ID] = &cp
	return nil
}

func (s *MemoryStore) GetNews(_ context.Context, id string) (*model.News, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.news[id]
	if !ok {
		return nil, fmt.Errorf("news %s: %w", id, ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) ListNews(_ context.Context) ([]model.News, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	news := make([]model.News, 0, len(s.news))
	for _, n := range s.news {
		news = append(news, *n)
	}
	sort.Slice(news, func(i, j int) bool {
		if !news[i].CreatedAt.Equal(news[j].CreatedAt) {
			return news[i].CreatedAt.After(news[j].CreatedAt)
		}
		return news[i].ID < news[j].ID
	})
	return news, nil
}

func (s *MemoryStore) DeleteNews(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.news[id]; !ok {
		return fmt.Errorf("news %s: %w", id, ErrNotFound)
	}
	delete(s.news, id)
	return nil
}

func (s *MemoryStore) HasNewsView(_ context.Context, accountID, newsID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.newsViews[posKey(accountID, newsID)], nil
}

// ApplyNewsPurchase debits the account and records the view under a single
// lock.
func (s *MemoryStore) ApplyNewsPurchase(_ context.Context, p *NewsPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[p.AccountID]
	if !ok {
		return fmt.Errorf("account %s: %w", p.AccountID, ErrNotFound)
	}
	key := posKey(p.AccountID, p.NewsID)
	if s.newsViews[key] {
		return fmt.Errorf("news view %s: %w", key, ErrConflict)
	}

	a.Cash = p.NewCash
	s.newsViews[key] = true
	return nil
}
