package trade

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vstock/ledger/internal/costbasis"
	"github.com/vstock/ledger/internal/metrics"
	"github.com/vstock/ledger/internal/model"
	"github.com/vstock/ledger/internal/store"
)

// TradeRequest is the JSON body for POST /api/v1/trade.
type TradeRequest struct {
	AccountID    string          `json:"account_id"`
	InstrumentID string          `json:"instrument_id"`
	Direction    model.Direction `json:"direction"` // "BUY" or "SELL"
	Quantity     int64           `json:"quantity"`
}

// TradeResponse is the JSON body returned from POST /api/v1/trade.
type TradeResponse struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	InstrumentID  string          `json:"instrument_id"`
	Direction     model.Direction `json:"direction"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Cash          decimal.Decimal `json:"cash"` // balance after the trade
	Position      PositionSummary `json:"position"`
}

// PositionSummary is the position snapshot included in trade responses.
// Quantity 0 means the position was closed and removed.
type PositionSummary struct {
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// tradeResult is the committed outcome of one executeTrade call.
type tradeResult struct {
	record   *model.TransactionRecord
	position *model.Position
	cash     decimal.Decimal
}

// ExecuteTrade handles POST /api/v1/trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.executeTrade(r.Context(), req.AccountID, req.InstrumentID, req.Direction, req.Quantity)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, TradeResponse{
		TransactionID: res.record.ID,
		AccountID:     res.record.AccountID,
		InstrumentID:  res.record.InstrumentID,
		Direction:     res.record.Direction,
		Quantity:      res.record.Quantity,
		UnitPrice:     res.record.UnitPrice,
		TotalAmount:   res.record.TotalAmount,
		Cash:          res.cash,
		Position: PositionSummary{
			Quantity:    res.position.Quantity,
			AverageCost: res.position.AverageCost,
		},
	})
}

// executeTrade runs one buy or sell as a single atomic unit: validate
// against snapshots, then apply the ledger append, cash movement and
// position change through one Store call. The per-account lock serializes
// concurrent trades by the same account; the instrument price is read
// exactly once inside the critical section and that snapshot prices the
// whole trade.
//
// Validation failures leave no side effects. A storage fault rolls the
// whole unit back; it is not retried — resubmitting the same intent is a
// brand-new trade.
func (s *Service) executeTrade(ctx context.Context, accountID, instrumentID string, direction model.Direction, quantity int64) (*tradeResult, error) {
	if quantity <= 0 {
		metrics.TradeRejections.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("%w: quantity must be a positive integer", ErrInvalidInput)
	}
	if direction != model.Buy && direction != model.Sell {
		metrics.TradeRejections.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("%w: direction must be BUY or SELL", ErrInvalidInput)
	}
	if accountID == "" || instrumentID == "" {
		metrics.TradeRejections.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("%w: account_id and instrument_id are required", ErrInvalidInput)
	}

	start := time.Now()

	unlock := s.locks.Lock(accountID)
	defer unlock()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Role != model.RoleParticipant {
		metrics.TradeRejections.WithLabelValues("unauthorized").Inc()
		return nil, fmt.Errorf("%w: administrators do not trade", ErrUnauthorized)
	}

	instrument, err := s.store.GetInstrument(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	// Single consistent price snapshot for the whole trade.
	price := instrument.CurrentPrice
	total := price.Mul(decimal.NewFromInt(quantity))
	now := time.Now().UTC()

	position, err := s.store.GetPosition(ctx, accountID, instrumentID)
	if err != nil {
		return nil, err
	}

	var newCash decimal.Decimal
	newPosition := &model.Position{
		AccountID:    accountID,
		InstrumentID: instrumentID,
		UpdatedAt:    now,
	}

	switch direction {
	case model.Buy:
		if account.Cash.LessThan(total) {
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, total, account.Cash)
		}

		heldQty := int64(0)
		heldAvg := decimal.Zero
		if position != nil {
			heldQty = position.Quantity
			heldAvg = position.AverageCost
		}
		avg, err := costbasis.NextAverage(heldAvg, heldQty, price, quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}

		newCash = account.Cash.Sub(total)
		newPosition.Quantity = heldQty + quantity
		newPosition.AverageCost = avg

	case model.Sell:
		if position == nil || position.Quantity < quantity {
			metrics.TradeRejections.WithLabelValues("insufficient_holdings").Inc()
			held := int64(0)
			if position != nil {
				held = position.Quantity
			}
			return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientHoldings, quantity, held)
		}

		newCash = account.Cash.Add(total)
		newPosition.Quantity = position.Quantity - quantity
		// Sells never change the average cost. Quantity 0 removes the
		// position so the next buy starts a fresh average.
		newPosition.AverageCost = position.AverageCost
	}

	record := &model.TransactionRecord{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		InstrumentID: instrumentID,
		Direction:    direction,
		Quantity:     quantity,
		UnitPrice:    price,
		TotalAmount:  total,
		At:           now,
	}

	if err := s.store.ApplyTrade(ctx, &store.TradeMutation{
		Record:   record,
		NewCash:  newCash,
		Position: newPosition,
	}); err != nil {
		return nil, fmt.Errorf("apply trade: %w", err)
	}

	label := string(direction)
	metrics.TradesTotal.WithLabelValues(label).Inc()
	metrics.TradeLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"transaction_id", record.ID,
		"account", accountID,
		"instrument", instrument.Symbol,
		"direction", label,
		"qty", quantity,
		"unit_price", price.String(),
		"total", total.String(),
		"cash", newCash.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "trade_executed",
			InstrumentID: instrumentID,
			Symbol:       instrument.Symbol,
			Price:        price.String(),
			Direction:    label,
			Quantity:     strconv.FormatInt(quantity, 10),
		})
	}

	return &tradeResult{record: record, position: newPosition, cash: newCash}, nil
}
