// Package store defines the persistence interface for the trading ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Multi-write ledger operations — executing a trade, updating a price,
// purchasing news — are single Store methods so that every implementation
// applies them atomically: partial application is structurally impossible,
// not merely avoided.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vstock/ledger/internal/costbasis"
	"github.com/vstock/ledger/internal/model"
)

var (
	// ErrNotFound is returned when a referenced account, instrument or
	// news item does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a uniqueness constraint is violated,
	// e.g. registering a taken username or re-recording a news view.
	ErrConflict = errors.New("store: conflict")
)

// TradeMutation is the complete effect of one executed trade. ApplyTrade
// writes all three parts — ledger append, cash update, position change —
// as one atomic unit.
type TradeMutation struct {
	// Record is the immutable transaction log entry to append.
	Record *model.TransactionRecord

	// NewCash is the account's cash balance after the trade.
	NewCash decimal.Decimal

	// Position is the position state after the trade. Quantity == 0 means
	// the position row is removed, not zeroed.
	Position *model.Position
}

// NewsPurchase is the complete effect of buying one premium news item:
// a cash debit plus an immutable view record.
type NewsPurchase struct {
	AccountID string
	NewsID    string
	NewCash   decimal.Decimal
	At        time.Time
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. Returns ErrConflict if the
	// username is taken.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// --- Instruments and prices ---

	// CreateInstrument persists a new instrument. Returns ErrConflict if
	// the symbol is taken.
	CreateInstrument(ctx context.Context, in *model.Instrument) error

	// GetInstrument retrieves an instrument by id.
	GetInstrument(ctx context.Context, id string) (*model.Instrument, error)

	// ListInstruments returns all instruments.
	ListInstruments(ctx context.Context) ([]model.Instrument, error)

	// UpdatePrice sets the instrument's current price and appends the
	// price-change record, both with the record's timestamp, as one
	// atomic unit.
	UpdatePrice(ctx context.Context, rec *model.PriceChangeRecord) error

	// GetPriceHistory returns up to limit price changes, most recent
	// first. An instrument with no recorded changes yields an empty slice.
	GetPriceHistory(ctx context.Context, instrumentID string, limit int) ([]model.PriceChangeRecord, error)

	// --- Positions ---

	// GetPosition retrieves one (account, instrument) position. An absent
	// position is a valid state meaning zero holdings and is reported as
	// (nil, nil), not as an error.
	GetPosition(ctx context.Context, accountID, instrumentID string) (*model.Position, error)

	// ListHoldings returns the account's positions with quantity > 0,
	// joined with current instrument prices and valued.
	ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error)

	// --- Trade atomic unit ---

	// ApplyTrade applies a trade's full effect atomically.
	ApplyTrade(ctx context.Context, m *TradeMutation) error

	// --- Immutable transaction log ---

	// ListTransactions returns up to limit of the account's transaction
	// records, most recent first.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]model.TransactionRecord, error)

	// --- Leaderboard ---

	// Leaderboard returns all accounts ordered by total assets
	// (cash + market value of holdings) descending, ties broken by
	// account id ascending, with ranks assigned from 1.
	Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error)

	// --- News ---

	// CreateNews persists a new news item.
	CreateNews(ctx context.Context, n *model.News) error

	// GetNews retrieves a news item by id.
	GetNews(ctx context.Context, id string) (*model.News, error)

	// ListNews returns all news, most recent first.
	ListNews(ctx context.Context) ([]model.News, error)

	// DeleteNews removes a news item.
	DeleteNews(ctx context.Context, id string) error

	// HasNewsView reports whether the account has purchased the news item.
	HasNewsView(ctx context.Context, accountID, newsID string) (bool, error)

	// ApplyNewsPurchase debits the account and records the view as one
	// atomic unit. Returns ErrConflict if a view already exists.
	ApplyNewsPurchase(ctx context.Context, p *NewsPurchase) error
}

// buildHolding values one position at the instrument's current price.
// Shared by every Store implementation so the zero-average guard lives in
// one place.
func buildHolding(pos *model.Position, in *model.Instrument) model.Holding {
	h := model.Holding{
		InstrumentID: in.ID,
		Symbol:       in.Symbol,
		Name:         in.Name,
		Quantity:     pos.Quantity,
		AverageCost:  pos.AverageCost,
		CurrentPrice: in.CurrentPrice,
		MarketValue:  in.CurrentPrice.Mul(decimal.NewFromInt(pos.Quantity)),
		Profit:       costbasis.UnrealizedProfit(in.CurrentPrice, pos.AverageCost, pos.Quantity),
	}
	if rate, err := costbasis.ProfitRate(in.CurrentPrice, pos.AverageCost); err == nil {
		h.ProfitRate = &rate
	}
	return h
}
