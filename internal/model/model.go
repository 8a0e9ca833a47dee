// Package model defines the core domain types shared across the trading
// ledger. All monetary values use shopspring/decimal — never float64 for
// money. Share quantities are whole shares (int64); fractional shares are
// not supported.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes participants from administrators. Administrators set
// prices and author news; they never trade.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
)

// Direction is the side of a trade.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Account holds a participant's (or administrator's) identity and cash
// balance. Cash is mutated only through trade execution and news purchases.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Name      string          `json:"name" db:"name"`
	Role      Role            `json:"role" db:"role"`
	Cash      decimal.Decimal `json:"cash" db:"cash"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Instrument is a tradable item with a single administrator-set price.
type Instrument struct {
	ID           string          `json:"id" db:"id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Name         string          `json:"name" db:"name"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// PriceChangeRecord is an immutable entry in an instrument's price history.
// Once created, these are never modified or deleted.
type PriceChangeRecord struct {
	ID           string          `json:"id" db:"id"`
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Actor        string          `json:"actor" db:"actor"` // administrator account id
	At           time.Time       `json:"at" db:"at"`
}

// Position is one account's holding of one instrument. AverageCost is the
// quantity-weighted mean purchase price of the currently held shares; it is
// only ever changed by a buy. A position whose quantity reaches zero is
// removed, so a later buy starts a fresh average cost.
type Position struct {
	AccountID    string          `json:"account_id" db:"account_id"`
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	AverageCost  decimal.Decimal `json:"average_cost" db:"average_cost"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// TransactionRecord is an immutable record of one executed trade.
// UnitPrice is the instrument price snapshot at execution time and
// TotalAmount is quantity × unit price. The transaction log is append-only
// and is the system's source of truth for audit.
type TransactionRecord struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"account_id" db:"account_id"`
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Direction    Direction       `json:"direction" db:"direction"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price" db:"unit_price"`
	TotalAmount  decimal.Decimal `json:"total_amount" db:"total_amount"`
	At           time.Time       `json:"at" db:"at"`
}

// NewsKind marks news as freely readable or paywalled.
type NewsKind string

const (
	NewsFree    NewsKind = "FREE"
	NewsPremium NewsKind = "PREMIUM"
)

// News is an administrator-authored article. Premium news withholds its
// content until the reader has purchased it.
type News struct {
	ID        string          `json:"id" db:"id"`
	Title     string          `json:"title" db:"title"`
	Content   string          `json:"content" db:"content"`
	Kind      NewsKind        `json:"kind" db:"kind"`
	Price     decimal.Decimal `json:"price" db:"price"`
	CreatedBy string          `json:"created_by" db:"created_by"` // administrator account id
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Holding is a position joined with its instrument's current price for
// display. ProfitRate is nil when the average cost is not positive, which
// the buy path makes unreachable for well-formed data.
type Holding struct {
	InstrumentID string           `json:"instrument_id"`
	Symbol       string           `json:"symbol"`
	Name         string           `json:"name"`
	Quantity     int64            `json:"quantity"`
	AverageCost  decimal.Decimal  `json:"average_cost"`
	CurrentPrice decimal.Decimal  `json:"current_price"`
	MarketValue  decimal.Decimal  `json:"market_value"`
	Profit       decimal.Decimal  `json:"profit"`
	ProfitRate   *decimal.Decimal `json:"profit_rate,omitempty"`
}

// PortfolioSummary is the read-only valuation of one account:
// total assets = cash + Σ quantity × current price.
type PortfolioSummary struct {
	AccountID   string          `json:"account_id"`
	Cash        decimal.Decimal `json:"cash"`
	StockValue  decimal.Decimal `json:"stock_value"`
	TotalAssets decimal.Decimal `json:"total_assets"`
	Holdings    []Holding       `json:"holdings"`
}

// LeaderboardEntry ranks one account by total assets.
type LeaderboardEntry struct {
	AccountID   string          `json:"account_id"`
	Username    string          `json:"username"`
	Name        string          `json:"name"`
	Cash        decimal.Decimal `json:"cash"`
	StockValue  decimal.Decimal `json:"stock_value"`
	TotalAssets decimal.Decimal `json:"total_assets"`
	Rank        int             `json:"rank"`
}
