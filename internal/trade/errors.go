package trade

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vstock/ledger/internal/store"
)

var (
	// ErrInvalidInput is returned for malformed or out-of-range arguments
	// (quantity <= 0, price <= 0, missing fields).
	ErrInvalidInput = errors.New("trade: invalid input")

	// ErrUnauthorized is returned when a non-administrator attempts a
	// privileged mutation, or an administrator attempts to trade.
	ErrUnauthorized = errors.New("trade: unauthorized")

	// ErrInsufficientFunds is returned when a buy exceeds the account's
	// cash balance.
	ErrInsufficientFunds = errors.New("trade: insufficient funds")

	// ErrInsufficientHoldings is returned when a sell exceeds the owned
	// quantity.
	ErrInsufficientHoldings = errors.New("trade: insufficient holdings")
)

// statusFor maps the error taxonomy onto HTTP status codes. Anything
// unrecognized is a storage failure: the atomic unit already rolled back,
// so it surfaces as 500 with no partial effect.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientHoldings),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes a JSON request body.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
