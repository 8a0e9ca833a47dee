package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vstock/ledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Expected schema:
//
//	accounts(id, username UNIQUE, name, role, cash NUMERIC, created_at)
//	instruments(id, symbol UNIQUE, name, current_price NUMERIC, updated_at)
//	price_history(id, instrument_id, price NUMERIC, actor, at)
//	positions(account_id, instrument_id, quantity, average_cost NUMERIC,
//	          updated_at, PRIMARY KEY (account_id, instrument_id))
//	transactions(id, account_id, instrument_id, direction, quantity,
//	             unit_price NUMERIC, total_amount NUMERIC, at)
//	news(id, title, content, kind, price NUMERIC, created_by, created_at)
//	news_views(account_id, news_id, at, PRIMARY KEY (account_id, news_id))
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func notFoundOr(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, name, role, cash, created_at)
		 SELECT $1, $2, $3, $4, $5::NUMERIC, $6
		 WHERE NOT EXISTS (SELECT 1 FROM accounts WHERE username = $2)`,
		a.ID, a.Username, a.Name, string(a.Role), a.Cash.String(), a.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("username %s: %w", a.Username, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var role, cash string

	err := s.pool.QueryRow(ctx,
		`SELECT id, username, name, role, cash::TEXT, created_at
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Username, &a.Name, &role, &cash, &a.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "account", id)
	}

	a.Role = model.Role(role)
	a.Cash, _ = decimal.NewFromString(cash)
	return &a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, name, role, cash::TEXT, created_at
		 FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var role, cash string
		if err := rows.Scan(&a.ID, &a.Username, &a.Name, &role, &cash, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = model.Role(role)
		a.Cash, _ = decimal.NewFromString(cash)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- Instruments and prices ---

func (s *PostgresStore) CreateInstrument(ctx context.Context, in *model.Instrument) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO instruments (id, symbol, name, current_price, updated_at)
		 SELECT $1, $2, $3, $4::NUMERIC, $5
		 WHERE NOT EXISTS (SELECT 1 FROM instruments WHERE symbol = $2)`,
		in.ID, in.Symbol, in.Name, in.CurrentPrice.String(), in.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("symbol %s: %w", in.Symbol, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	var in model.Instrument
	var price string

	err := s.pool.QueryRow(ctx,
		`SELECT id, symbol, name, current_price::TEXT, updated_at
		 FROM instruments WHERE id = $1`, id).
		Scan(&in.ID, &in.Symbol, &in.Name, &price, &in.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "instrument", id)
	}

	in.CurrentPrice, _ = decimal.NewFromString(price)
	return &in, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, name, current_price::TEXT, updated_at
		 FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []model.Instrument
	for rows.Next() {
		var in model.Instrument
		var price string
		if err := rows.Scan(&in.ID, &in.Symbol, &in.Name, &price, &in.UpdatedAt); err != nil {
			return nil, err
		}
		in.CurrentPrice, _ = decimal.NewFromString(price)
		instruments = append(instruments, in)
	}
	return instruments, rows.Err()
}

// UpdatePrice sets the current price and appends the history record in one
// transaction.
func (s *PostgresStore) UpdatePrice(ctx context.Context, rec *model.PriceChangeRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE instruments SET current_price = $2::NUMERIC, updated_at = $3 WHERE id = $1`,
		rec.InstrumentID, rec.Price.String(), rec.At,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instrument %s: %w", rec.InstrumentID, ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO price_history (id, instrument_id, price, actor, at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)`,
		rec.ID, rec.InstrumentID, rec.Price.String(), rec.Actor, rec.At,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, instrumentID string, limit int) ([]model.PriceChangeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, instrument_id, price::TEXT, actor, at
		 FROM price_history WHERE instrument_id = $1
		 ORDER BY at DESC, id DESC LIMIT $2`, instrumentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.PriceChangeRecord
	for rows.Next() {
		var r model.PriceChangeRecord
		var price string
		if err := rows.Scan(&r.ID, &r.InstrumentID, &price, &r.Actor, &r.At); err != nil {
			return nil, err
		}
		r.Price, _ = decimal.NewFromString(price)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, accountID, instrumentID string) (*model.Position, error) {
	var p model.Position
	var avg string

	err := s.pool.QueryRow(ctx,
		`SELECT account_id, instrument_id, quantity, average_cost::TEXT, updated_at
		 FROM positions WHERE account_id = $1 AND instrument_id = $2`,
		accountID, instrumentID).
		Scan(&p.AccountID, &p.InstrumentID, &p.Quantity, &avg, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // absent is a valid state: zero holdings
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", accountID, instrumentID, err)
	}

	p.AverageCost, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.account_id, p.instrument_id, p.quantity, p.average_cost::TEXT,
		        i.id, i.symbol, i.name, i.current_price::TEXT
		 FROM positions p
		 JOIN instruments i ON i.id = p.instrument_id
		 WHERE p.account_id = $1 AND p.quantity > 0
		 ORDER BY i.symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var p model.Position
		var in model.Instrument
		var avg, price string
		if err := rows.Scan(&p.AccountID, &p.InstrumentID, &p.Quantity, &avg,
			&in.ID, &in.Symbol, &in.Name, &price); err != nil {
			return nil, err
		}
		p.AverageCost, _ = decimal.NewFromString(avg)
		in.CurrentPrice, _ = decimal.NewFromString(price)
		holdings = append(holdings, buildHolding(&p, &in))
	}
	return holdings, rows.Err()
}

// --- Trade atomic unit ---

// ApplyTrade applies the ledger append, cash update, and position change
// in one transaction. A failure at any step rolls back the whole unit.
func (s *PostgresStore) ApplyTrade(ctx context.Context, m *TradeMutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	r := m.Record
	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, account_id, instrument_id, direction, quantity, unit_price, total_amount, at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		r.ID, r.AccountID, r.InstrumentID, string(r.Direction), r.Quantity,
		r.UnitPrice.String(), r.TotalAmount.String(), r.At,
	)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET cash = $2::NUMERIC WHERE id = $1`,
		r.AccountID, m.NewCash.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", r.AccountID, ErrNotFound)
	}

	p := m.Position
	if p.Quantity == 0 {
		_, err = tx.Exec(ctx,
			`DELETE FROM positions WHERE account_id = $1 AND instrument_id = $2`,
			p.AccountID, p.InstrumentID,
		)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO positions (account_id, instrument_id, quantity, average_cost, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5)
			 ON CONFLICT (account_id, instrument_id)
			 DO UPDATE SET quantity = $3, average_cost = $4::NUMERIC, updated_at = $5`,
			p.AccountID, p.InstrumentID, p.Quantity, p.AverageCost.String(), p.UpdatedAt,
		)
	}
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// --- Transaction log ---

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]model.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, instrument_id, direction, quantity,
		        unit_price::TEXT, total_amount::TEXT, at
		 FROM transactions WHERE account_id = $1
		 ORDER BY at DESC, id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.TransactionRecord
	for rows.Next() {
		var r model.TransactionRecord
		var direction, unitPrice, total string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.InstrumentID, &direction,
			&r.Quantity, &unitPrice, &total, &r.At); err != nil {
			return nil, err
		}
		r.Direction = model.Direction(direction)
		r.UnitPrice, _ = decimal.NewFromString(unitPrice)
		r.TotalAmount, _ = decimal.NewFromString(total)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Leaderboard ---

func (s *PostgresStore) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.username, a.name, a.cash::TEXT,
		        COALESCE(SUM(p.quantity * i.current_price), 0)::TEXT AS stock_value
		 FROM accounts a
		 LEFT JOIN positions p ON p.account_id = a.id AND p.quantity > 0
		 LEFT JOIN instruments i ON i.id = p.instrument_id
		 GROUP BY a.id, a.username, a.name, a.cash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		var cash, stockValue string
		if err := rows.Scan(&e.AccountID, &e.Username, &e.Name, &cash, &stockValue); err != nil {
			return nil, err
		}
		e.Cash, _ = decimal.NewFromString(cash)
		e.StockValue, _ = decimal.NewFromString(stockValue)
		e.TotalAssets = e.Cash.Add(e.StockValue)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortLeaderboard(entries)
	return entries, nil
}

// --- News ---

func (s *PostgresStore) CreateNews(ctx context.Context, n *model.News) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO news (id, title, content, kind, price, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		n.ID, n.Title, n.Content, string(n.Kind), n.Price.String(), n.CreatedBy, n.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetNews(ctx context.Context, id string) (*model.News, error) {
	var n model.News
	var kind, price string

	err := s.pool.QueryRow(ctx,
		`SELECT id, title, content, kind, price::TEXT, created_by, created_at
		 FROM news WHERE id = $1`, id).
		Scan(&n.ID, &n.Title, &n.Content, &kind, &price, &n.CreatedBy, &n.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "news", id)
	}

	n.Kind = model.NewsKind(kind)
	n.Price, _ = decimal.NewFromString(price)
	return &n, nil
}

func (s *PostgresStore) ListNews(ctx context.Context) ([]model.News, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, content, kind, price::TEXT, created_by, created_at
		 FROM news ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var news []model.News
	for rows.Next() {
		var n model.News
		var kind, price string
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &kind, &price, &n.CreatedBy, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = model.NewsKind(kind)
		n.Price, _ = decimal.NewFromString(price)
		news = append(news, n)
	}
	return news, rows.Err()
}

func (s *PostgresStore) DeleteNews(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM news WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("news %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) HasNewsView(ctx context.Context, accountID, newsID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM news_views WHERE account_id = $1 AND news_id = $2)`,
		accountID, newsID).Scan(&exists)
	return exists, err
}

// ApplyNewsPurchase debits the account and records the view in one
// transaction.
func (s *PostgresStore) ApplyNewsPurchase(ctx context.Context, p *NewsPurchase) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET cash = $2::NUMERIC WHERE id = $1`,
		p.AccountID, p.NewCash.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", p.AccountID, ErrNotFound)
	}

	tag, err = tx.Exec(ctx,
		`INSERT INTO news_views (account_id, news_id, at)
		 SELECT $1, $2, $3
		 WHERE NOT EXISTS (SELECT 1 FROM news_views WHERE account_id = $1 AND news_id = $2)`,
		p.AccountID, p.NewsID, p.At,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("news view %s/%s: %w", p.AccountID, p.NewsID, ErrConflict)
	}

	return tx.Commit(ctx)
}
