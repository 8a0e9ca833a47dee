package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vstock/ledger/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Instruments, holdings and the leaderboard are read-mostly and
// cached; writes go to the primary store and invalidate the affected keys.
//
// Account rows are never cached: the trade engine validates funds against
// them, and a stale balance would defeat the per-account serialization.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write paths (write to primary, invalidate cache) ---

func (s *CachedStore) CreateInstrument(ctx context.Context, in *model.Instrument) error {
	if err := s.primary.CreateInstrument(ctx, in); err != nil {
		return err
	}
	s.cacheInstrument(ctx, in)
	return nil
}

func (s *CachedStore) UpdatePrice(ctx context.Context, rec *model.PriceChangeRecord) error {
	if err := s.primary.UpdatePrice(ctx, rec); err != nil {
		return err
	}
	// Invalidate; next read re-populates. Holdings and leaderboard are
	// valued at current prices, so they go too.
	s.rdb.Del(ctx, instrumentKey(rec.InstrumentID), leaderboardKey)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, m *TradeMutation) error {
	if err := s.primary.ApplyTrade(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(m.Record.AccountID), leaderboardKey)
	return nil
}

func (s *CachedStore) ApplyNewsPurchase(ctx context.Context, p *NewsPurchase) error {
	if err := s.primary.ApplyNewsPurchase(ctx, p); err != nil {
		return err
	}
	// Cash moved, so totals on the leaderboard changed.
	s.rdb.Del(ctx, leaderboardKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	data, err := s.rdb.Get(ctx, instrumentKey(id)).Bytes()
	if err == nil {
		var in model.Instrument
		if json.Unmarshal(data, &in) == nil {
			return &in, nil
		}
	}

	in, err := s.primary.GetInstrument(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheInstrument(ctx, in)
	return in, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(accountID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldings(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(accountID), data, s.ttl)
	}
	return holdings, nil
}

func (s *CachedStore) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	data, err := s.rdb.Get(ctx, leaderboardKey).Bytes()
	if err == nil {
		var entries []model.LeaderboardEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	entries, err := s.primary.Leaderboard(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, leaderboardKey, data, s.ttl)
	}
	return entries, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	return s.primary.ListInstruments(ctx)
}

func (s *CachedStore) GetPriceHistory(ctx context.Context, instrumentID string, limit int) ([]model.PriceChangeRecord, error) {
	return s.primary.GetPriceHistory(ctx, instrumentID, limit)
}

func (s *CachedStore) GetPosition(ctx context.Context, accountID, instrumentID string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, accountID, instrumentID)
}

func (s *CachedStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]model.TransactionRecord, error) {
	return s.primary.ListTransactions(ctx, accountID, limit)
}

func (s *CachedStore) CreateNews(ctx context.Context, n *model.News) error {
	return s.primary.CreateNews(ctx, n)
}

func (s *CachedStore) GetNews(ctx context.Context, id string) (*model.News, error) {
	return s.primary.GetNews(ctx, id)
}

func (s *CachedStore) ListNews(ctx context.Context) ([]model.News, error) {
	return s.primary.ListNews(ctx)
}

func (s *CachedStore) DeleteNews(ctx context.Context, id string) error {
	return s.primary.DeleteNews(ctx, id)
}

func (s *CachedStore) HasNewsView(ctx context.Context, accountID, newsID string) (bool, error) {
	return s.primary.HasNewsView(ctx, accountID, newsID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheInstrument(ctx context.Context, in *model.Instrument) {
	if data, err := json.Marshal(in); err == nil {
		s.rdb.Set(ctx, instrumentKey(in.ID), data, s.ttl)
	}
}

const leaderboardKey = "leaderboard"

func instrumentKey(id string) string { return fmt.Sprintf("instrument:%s", id) }
func holdingsKey(id string) string   { return fmt.Sprintf("holdings:%s", id) }
