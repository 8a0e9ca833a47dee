// Package costbasis implements weighted-average cost accounting for share
// positions.
//
// The average cost of a holding is the quantity-weighted mean purchase
// price of the shares currently held:
//
//	newAvg = (avg×held + price×bought) / (held + bought)
//
// Buys fold the fill price into the average; sells never change it. All
// values use shopspring/decimal — never float64 for money — so repeated
// trades do not accumulate floating-point drift.
package costbasis

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNonPositiveQuantity is returned when a quantity argument is <= 0.
	ErrNonPositiveQuantity = errors.New("costbasis: quantity must be positive")

	// ErrNonPositivePrice is returned when a price argument is <= 0.
	ErrNonPositivePrice = errors.New("costbasis: price must be positive")

	// ErrNonPositiveAverageCost is returned by ProfitRate instead of
	// dividing by a zero or negative average cost.
	ErrNonPositiveAverageCost = errors.New("costbasis: average cost must be positive")
)

// CostScale is the number of decimal places the running average cost is
// rounded to after each buy.
const CostScale int32 = 4

// RateScale is the number of decimal places for profit rates (percent).
const RateScale int32 = 2

var hundred = decimal.NewFromInt(100)

// NextAverage returns the average cost after buying buyQty shares at price
// into a holding of heldQty shares carried at avg. A first buy
// (heldQty == 0) starts the average at the fill price.
func NextAverage(avg decimal.Decimal, heldQty int64, price decimal.Decimal, buyQty int64) (decimal.Decimal, error) {
	if buyQty <= 0 || heldQty < 0 {
		return decimal.Zero, ErrNonPositiveQuantity
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrNonPositivePrice
	}
	if heldQty == 0 {
		return price, nil
	}

	held := decimal.NewFromInt(heldQty)
	bought := decimal.NewFromInt(buyQty)
	totalValue := avg.Mul(held).Add(price.Mul(bought))
	return totalValue.Div(held.Add(bought)).Round(CostScale), nil
}

// UnrealizedProfit returns (current − avg) × qty.
func UnrealizedProfit(current, avg decimal.Decimal, qty int64) decimal.Decimal {
	return current.Sub(avg).Mul(decimal.NewFromInt(qty))
}

// ProfitRate returns (current − avg) / avg × 100, rounded to RateScale.
// The average cost of any live position is a past trade price and therefore
// positive; a non-positive avg indicates corrupted data and yields
// ErrNonPositiveAverageCost rather than a division by zero.
func ProfitRate(current, avg decimal.Decimal) (decimal.Decimal, error) {
	if avg.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrNonPositiveAverageCost
	}
	return current.Sub(avg).Div(avg).Mul(hundred).Round(RateScale), nil
}
