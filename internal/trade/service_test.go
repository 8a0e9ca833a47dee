package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vstock/ledger/internal/keylock"
	"github.com/vstock/ledger/internal/model"
	"github.com/vstock/ledger/internal/store"
	"github.com/vstock/ledger/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := trade.NewService(ms, keylock.New(), nil)

	r := chi.NewRouter()
	r.Post("/api/v1/accounts", svc.Register)
	r.Get("/api/v1/accounts/{accountID}", svc.GetAccount)
	r.Get("/api/v1/accounts/{accountID}/holdings", svc.ListHoldings)
	r.Get("/api/v1/accounts/{accountID}/transactions", svc.ListTransactions)
	r.Get("/api/v1/accounts/{accountID}/portfolio", svc.GetPortfolio)
	r.Get("/api/v1/instruments", svc.ListInstruments)
	r.Post("/api/v1/instruments", svc.CreateInstrument)
	r.Get("/api/v1/instruments/{instrumentID}", svc.GetInstrument)
	r.Put("/api/v1/instruments/{instrumentID}/price", svc.SetPrice)
	r.Post("/api/v1/trade", svc.ExecuteTrade)
	r.Get("/api/v1/leaderboard", svc.GetLeaderboard)

	return ms, r
}

// seedAccount creates a test account directly in the store.
func seedAccount(t *testing.T, ms *store.MemoryStore, id string, role model.Role, cash float64) {
	t.Helper()
	account := &model.Account{
		ID:        id,
		Username:  id,
		Name:      "Account " + id,
		Role:      role,
		Cash:      d(cash),
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

// seedInstrument creates a test instrument directly in the store.
func seedInstrument(t *testing.T, ms *store.MemoryStore, id, symbol string, price float64) {
	t.Helper()
	instrument := &model.Instrument{
		ID:           id,
		Symbol:       symbol,
		Name:         symbol + " Corp",
		CurrentPrice: d(price),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := ms.CreateInstrument(context.Background(), instrument); err != nil {
		t.Fatalf("failed to seed instrument: %v", err)
	}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doTrade(t *testing.T, router chi.Router, req trade.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, "POST", "/api/v1/trade", req)
}

func setPrice(t *testing.T, router chi.Router, instrumentID string, price float64, actor string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, "PUT", "/api/v1/instruments/"+instrumentID+"/price",
		trade.SetPriceRequest{Price: d(price), Actor: actor})
}

// --- Trade execution tests ---

func TestExecuteTrade_Buy(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	w := doTrade(t, router, trade.TradeRequest{
		AccountID:    "user1",
		InstrumentID: "inst1",
		Direction:    model.Buy,
		Quantity:     10,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.TransactionID == "" {
		t.Error("expected non-empty transaction_id")
	}
	if !resp.Cash.Equal(d(900_000)) {
		t.Errorf("expected cash=900000, got %s", resp.Cash)
	}
	if !resp.TotalAmount.Equal(d(100_000)) {
		t.Errorf("expected total=100000, got %s", resp.TotalAmount)
	}
	if resp.Position.Quantity != 10 {
		t.Errorf("expected quantity=10, got %d", resp.Position.Quantity)
	}
	if !resp.Position.AverageCost.Equal(d(10_000)) {
		t.Errorf("expected average_cost=10000, got %s", resp.Position.AverageCost)
	}

	account, _ := ms.GetAccount(context.Background(), "user1")
	if !account.Cash.Equal(d(900_000)) {
		t.Errorf("store cash should be 900000, got %s", account.Cash)
	}
}

func TestExecuteTrade_BuyAveragesCost(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedAccount(t, ms, "teacher", model.RoleAdmin, 0)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 10,
	})

	if w := setPrice(t, router, "inst1", 12_000, "teacher"); w.Code != http.StatusOK {
		t.Fatalf("price update failed: %d %s", w.Code, w.Body.String())
	}

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 5,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// (10000×10 + 12000×5) / 15
	wantAvg := d(160_000).Div(d(15)).Round(4)
	if resp.Position.Quantity != 15 {
		t.Errorf("expected quantity=15, got %d", resp.Position.Quantity)
	}
	if !resp.Position.AverageCost.Equal(wantAvg) {
		t.Errorf("expected average_cost=%s, got %s", wantAvg, resp.Position.AverageCost)
	}
	if !resp.Cash.Equal(d(840_000)) {
		t.Errorf("expected cash=840000, got %s", resp.Cash)
	}
}

func TestExecuteTrade_SellAllRemovesPosition(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedAccount(t, ms, "teacher", model.RoleAdmin, 0)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 10,
	})
	setPrice(t, router, "inst1", 12_000, "teacher")
	doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 5,
	})

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Sell, Quantity: 15,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Cash.Equal(d(1_020_000)) {
		t.Errorf("expected cash=1020000, got %s", resp.Cash)
	}
	if resp.Position.Quantity != 0 {
		t.Errorf("expected quantity=0 after selling all, got %d", resp.Position.Quantity)
	}

	// The position row is removed, not zeroed.
	pos, err := ms.GetPosition(context.Background(), "user1", "inst1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos != nil {
		t.Errorf("expected position removed, got %+v", pos)
	}
}

func TestExecuteTrade_SellNeverChangesAverageCost(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedAccount(t, ms, "teacher", model.RoleAdmin, 0)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 10,
	})
	setPrice(t, router, "inst1", 12_000, "teacher")

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Sell, Quantity: 4,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	pos, _ := ms.GetPosition(context.Background(), "user1", "inst1")
	if pos == nil {
		t.Fatal("expected remaining position")
	}
	if pos.Quantity != 6 {
		t.Errorf("expected quantity=6, got %d", pos.Quantity)
	}
	if !pos.AverageCost.Equal(d(10_000)) {
		t.Errorf("sell must not change average_cost, got %s", pos.AverageCost)
	}

	account, _ := ms.GetAccount(context.Background(), "user1")
	// 1000000 − 100000 + 4×12000
	if !account.Cash.Equal(d(948_000)) {
		t.Errorf("expected cash=948000, got %s", account.Cash)
	}
}

func TestExecuteTrade_SellWithoutPosition(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Sell, Quantity: 1,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for sell without holdings, got %d: %s", w.Code, w.Body.String())
	}

	// No state change, no transaction appended.
	account, _ := ms.GetAccount(context.Background(), "user1")
	if !account.Cash.Equal(d(1_000_000)) {
		t.Errorf("cash changed on rejected sell: %s", account.Cash)
	}
	records, _ := ms.ListTransactions(context.Background(), "user1", 50)
	if len(records) != 0 {
		t.Errorf("expected 0 transactions, got %d", len(records))
	}
}

func TestExecuteTrade_InsufficientFunds(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 50_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 6,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for insufficient funds, got %d: %s", w.Code, w.Body.String())
	}

	account, _ := ms.GetAccount(context.Background(), "user1")
	if !account.Cash.Equal(d(50_000)) {
		t.Errorf("cash changed on rejected buy: %s", account.Cash)
	}
	pos, _ := ms.GetPosition(context.Background(), "user1", "inst1")
	if pos != nil {
		t.Errorf("position created on rejected buy: %+v", pos)
	}
	records, _ := ms.ListTransactions(context.Background(), "user1", 50)
	if len(records) != 0 {
		t.Errorf("expected 0 transactions, got %d", len(records))
	}
}

func TestExecuteTrade_ExactBalanceSucceeds(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 100_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 10,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("buy at exact balance should succeed: %d %s", w.Code, w.Body.String())
	}

	account, _ := ms.GetAccount(context.Background(), "user1")
	if !account.Cash.IsZero() {
		t.Errorf("expected cash=0, got %s", account.Cash)
	}
}

func TestExecuteTrade_InvalidQuantity(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	for _, qty := range []int64{0, -5} {
		w := doTrade(t, router, trade.TradeRequest{
			AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: qty,
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for quantity=%d, got %d", qty, w.Code)
		}
	}
}

func TestExecuteTrade_InvalidDirection(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: "HOLD", Quantity: 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid direction, got %d", w.Code)
	}
}

func TestExecuteTrade_UnknownInstrument(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "missing", Direction: model.Buy, Quantity: 1,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestExecuteTrade_UnknownAccount(t *testing.T) {
	ms, router := newTestEnv(t)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "nobody", InstrumentID: "inst1", Direction: model.Buy, Quantity: 1,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestExecuteTrade_AdminCannotTrade(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "teacher", model.RoleAdmin, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	w := doTrade(t, router, trade.TradeRequest{
		AccountID: "teacher", InstrumentID: "inst1", Direction: model.Buy, Quantity: 1,
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for admin trade, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteTrade_ResubmissionIsNewTrade(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	req := trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 5,
	}
	doTrade(t, router, req)
	doTrade(t, router, req)

	// Not idempotent: two identical intents are two independent trades.
	records, _ := ms.ListTransactions(context.Background(), "user1", 50)
	if len(records) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(records))
	}
	pos, _ := ms.GetPosition(context.Background(), "user1", "inst1")
	if pos == nil || pos.Quantity != 10 {
		t.Errorf("expected quantity=10 after two buys, got %+v", pos)
	}
	account, _ := ms.GetAccount(context.Background(), "user1")
	if !account.Cash.Equal(d(900_000)) {
		t.Errorf("expected cash=900000, got %s", account.Cash)
	}
}

func TestExecuteTrade_ConcurrentSameAccount(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 100)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := doTrade(t, router, trade.TradeRequest{
				AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 1,
			})
			if w.Code != http.StatusOK {
				t.Errorf("concurrent buy failed: %d %s", w.Code, w.Body.String())
			}
		}()
	}
	wg.Wait()

	// Cash and holdings must agree exactly with the transaction log.
	account, _ := ms.GetAccount(context.Background(), "user1")
	want := d(1_000_000).Sub(d(100 * workers))
	if !account.Cash.Equal(want) {
		t.Errorf("expected cash=%s, got %s", want, account.Cash)
	}
	pos, _ := ms.GetPosition(context.Background(), "user1", "inst1")
	if pos == nil || pos.Quantity != workers {
		t.Errorf("expected quantity=%d, got %+v", workers, pos)
	}
	records, _ := ms.ListTransactions(context.Background(), "user1", 100)
	if len(records) != workers {
		t.Errorf("expected %d transactions, got %d", workers, len(records))
	}
}

// --- Transaction log tests ---

func TestListTransactions_MostRecentFirst(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	quantities := []int64{1, 2, 3}
	for _, q := range quantities {
		doTrade(t, router, trade.TradeRequest{
			AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: q,
		})
	}

	w := doJSON(t, router, "GET", "/api/v1/accounts/user1/transactions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var records []model.TransactionRecord
	json.Unmarshal(w.Body.Bytes(), &records)

	if len(records) != len(quantities) {
		t.Fatalf("expected %d records, got %d", len(quantities), len(records))
	}
	// Most recent first: 3, 2, 1.
	for i, want := range []int64{3, 2, 1} {
		if records[i].Quantity != want {
			t.Errorf("record %d: expected quantity=%d, got %d", i, want, records[i].Quantity)
		}
		if records[i].Direction != model.Buy {
			t.Errorf("record %d: expected BUY, got %s", i, records[i].Direction)
		}
		if !records[i].TotalAmount.Equal(records[i].UnitPrice.Mul(decimal.NewFromInt(records[i].Quantity))) {
			t.Errorf("record %d: total != unit_price × quantity", i)
		}
	}
}

func TestListTransactions_Limit(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 100)

	for i := 0; i < 5; i++ {
		doTrade(t, router, trade.TradeRequest{
			AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 1,
		})
	}

	w := doJSON(t, router, "GET", "/api/v1/accounts/user1/transactions?limit=2", nil)

	var records []model.TransactionRecord
	json.Unmarshal(w.Body.Bytes(), &records)
	if len(records) != 2 {
		t.Errorf("expected 2 records with limit=2, got %d", len(records))
	}
}

// --- Price management tests ---

func TestSetPrice_UpdatesAndRecordsHistory(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "teacher", model.RoleAdmin, 0)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	setPrice(t, router, "inst1", 12_000, "teacher")
	w := setPrice(t, router, "inst1", 11_000, "teacher")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var updated model.Instrument
	json.Unmarshal(w.Body.Bytes(), &updated)
	if !updated.CurrentPrice.Equal(d(11_000)) {
		t.Errorf("expected current_price=11000, got %s", updated.CurrentPrice)
	}

	wd := doJSON(t, router, "GET", "/api/v1/instruments/inst1", nil)
	var detail trade.InstrumentDetail
	json.Unmarshal(wd.Body.Bytes(), &detail)

	if len(detail.History) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(detail.History))
	}
	// Most recent first.
	if !detail.History[0].Price.Equal(d(11_000)) {
		t.Errorf("expected newest history price=11000, got %s", detail.History[0].Price)
	}
	if !detail.History[1].Price.Equal(d(12_000)) {
		t.Errorf("expected older history price=12000, got %s", detail.History[1].Price)
	}
	// The instrument update and its history record share a timestamp.
	if !detail.Instrument.UpdatedAt.Equal(detail.History[0].At) {
		t.Errorf("instrument updated_at %s != history at %s",
			detail.Instrument.UpdatedAt, detail.History[0].At)
	}
}

func TestSetPrice_NonAdmin(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	w := setPrice(t, router, "inst1", 12_000, "user1")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", w.Code)
	}

	in, _ := ms.GetInstrument(context.Background(), "inst1")
	if !in.CurrentPrice.Equal(d(10_000)) {
		t.Errorf("price changed on rejected update: %s", in.CurrentPrice)
	}
	history, _ := ms.GetPriceHistory(context.Background(), "inst1", 20)
	if len(history) != 0 {
		t.Errorf("history appended on rejected update: %d records", len(history))
	}
}

func TestSetPrice_UnknownActor(t *testing.T) {
	ms, router := newTestEnv(t)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	w := setPrice(t, router, "inst1", 12_000, "ghost")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for unknown actor, got %d", w.Code)
	}
}

func TestSetPrice_NonPositive(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "teacher", model.RoleAdmin, 0)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	for _, p := range []float64{0, -500} {
		w := setPrice(t, router, "inst1", p, "teacher")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for price=%v, got %d", p, w.Code)
		}
	}
}

func TestSetPrice_UnknownInstrument(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "teacher", model.RoleAdmin, 0)

	w := setPrice(t, router, "missing", 12_000, "teacher")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Holdings and portfolio tests ---

func TestListHoldings_ValuesAtCurrentPrice(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedAccount(t, ms, "teacher", model.RoleAdmin, 0)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 10,
	})
	setPrice(t, router, "inst1", 12_000, "teacher")

	w := doJSON(t, router, "GET", "/api/v1/accounts/user1/holdings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var holdings []model.Holding
	json.Unmarshal(w.Body.Bytes(), &holdings)

	if len(holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(holdings))
	}
	h := holdings[0]
	if h.Symbol != "ALPE" {
		t.Errorf("expected symbol=ALPE, got %s", h.Symbol)
	}
	if !h.MarketValue.Equal(d(120_000)) {
		t.Errorf("expected market_value=120000, got %s", h.MarketValue)
	}
	if !h.Profit.Equal(d(20_000)) {
		t.Errorf("expected profit=20000, got %s", h.Profit)
	}
	if h.ProfitRate == nil || !h.ProfitRate.Equal(d(20)) {
		t.Errorf("expected profit_rate=20, got %v", h.ProfitRate)
	}
}

func TestListHoldings_ExcludesClosedPositions(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)
	seedInstrument(t, ms, "inst2", "BRMT", 5_000)

	doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 3,
	})
	doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst2", Direction: model.Buy, Quantity: 2,
	})
	doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst2", Direction: model.Sell, Quantity: 2,
	})

	w := doJSON(t, router, "GET", "/api/v1/accounts/user1/holdings", nil)
	var holdings []model.Holding
	json.Unmarshal(w.Body.Bytes(), &holdings)

	if len(holdings) != 1 {
		t.Fatalf("expected 1 holding after closing inst2, got %d", len(holdings))
	}
	if holdings[0].InstrumentID != "inst1" {
		t.Errorf("expected inst1 only, got %s", holdings[0].InstrumentID)
	}
}

func TestGetPortfolio_TotalAssets(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "user1", model.RoleParticipant, 1_000_000)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	doTrade(t, router, trade.TradeRequest{
		AccountID: "user1", InstrumentID: "inst1", Direction: model.Buy, Quantity: 10,
	})

	w := doJSON(t, router, "GET", "/api/v1/accounts/user1/portfolio", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var summary model.PortfolioSummary
	json.Unmarshal(w.Body.Bytes(), &summary)

	if !summary.Cash.Equal(d(900_000)) {
		t.Errorf("expected cash=900000, got %s", summary.Cash)
	}
	if !summary.StockValue.Equal(d(100_000)) {
		t.Errorf("expected stock_value=100000, got %s", summary.StockValue)
	}
	if !summary.TotalAssets.Equal(d(1_000_000)) {
		t.Errorf("expected total_assets=1000000, got %s", summary.TotalAssets)
	}
}

func TestGetPortfolio_UnknownAccount(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/accounts/nobody/portfolio", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Leaderboard tests ---

func TestLeaderboard_OrdersByTotalAssets(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "a-user", model.RoleParticipant, 1_000_000)
	seedAccount(t, ms, "b-user", model.RoleParticipant, 1_000_000)
	seedAccount(t, ms, "teacher", model.RoleAdmin, 0)
	seedInstrument(t, ms, "inst1", "ALPE", 10_000)

	// b-user buys before a price rise; a-user stays in cash.
	doTrade(t, router, trade.TradeRequest{
		AccountID: "b-user", InstrumentID: "inst1", Direction: model.Buy, Quantity: 10,
	})
	setPrice(t, router, "inst1", 12_000, "teacher")

	w := doJSON(t, router, "GET", "/api/v1/leaderboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var entries []model.LeaderboardEntry
	json.Unmarshal(w.Body.Bytes(), &entries)

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// b-user: 900000 + 120000 = 1020000 > a-user: 1000000 > teacher: 0.
	if entries[0].AccountID != "b-user" || !entries[0].TotalAssets.Equal(d(1_020_000)) {
		t.Errorf("expected b-user first with 1020000, got %s/%s",
			entries[0].AccountID, entries[0].TotalAssets)
	}
	if entries[1].AccountID != "a-user" {
		t.Errorf("expected a-user second, got %s", entries[1].AccountID)
	}
	for i, e := range entries {
		if e.Rank != i+1 {
			t.Errorf("entry %d: expected rank=%d, got %d", i, i+1, e.Rank)
		}
	}
}

func TestLeaderboard_TiesBreakByAccountID(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms, "b-user", model.RoleParticipant, 1_000_000)
	seedAccount(t, ms, "a-user", model.RoleParticipant, 1_000_000)

	w := doJSON(t, router, "GET", "/api/v1/leaderboard", nil)
	var entries []model.LeaderboardEntry
	json.Unmarshal(w.Body.Bytes(), &entries)

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].AccountID != "a-user" || entries[1].AccountID != "b-user" {
		t.Errorf("tie should order by account id: got %s, %s",
			entries[0].AccountID, entries[1].AccountID)
	}
}

// --- Registration tests ---

func TestRegister_StartingCash(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/accounts", trade.RegisterRequest{
		Username: "10101", Name: "Student One",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var account model.Account
	json.Unmarshal(w.Body.Bytes(), &account)

	if !account.Cash.Equal(trade.StartingCash) {
		t.Errorf("expected starting cash %s, got %s", trade.StartingCash, account.Cash)
	}
	if account.Role != model.RoleParticipant {
		t.Errorf("expected participant role, got %s", account.Role)
	}
	if account.ID == "" {
		t.Error("expected assigned account id")
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	_, router := newTestEnv(t)

	req := trade.RegisterRequest{Username: "10101", Name: "Student One"}
	doJSON(t, router, "POST", "/api/v1/accounts", req)
	w := doJSON(t, router, "POST", "/api/v1/accounts", req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", w.Code)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/accounts", trade.RegisterRequest{Username: "10101"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %d", w.Code)
	}
}
