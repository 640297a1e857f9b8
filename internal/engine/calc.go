package engine

import (
	"math"
	"time"
)

// CalcEntryPrice returns the quote paid per token.
func CalcEntryPrice(totalCost, totalQty float64) float64 {
	if totalQty == 0 {
		return 0
	}
	return totalCost / totalQty
}

// CalcReducedCost splits cost pro-rata after soldQty of qty has been sold.
// It returns the cost still held and the cost released by the sale.
func CalcReducedCost(cost, qty, soldQty float64) (remaining, released float64) {
	if qty <= 0 || soldQty <= 0 {
		return cost, 0
	}
	if soldQty >= qty {
		return 0, cost
	}
	remaining = cost * (qty - soldQty) / qty
	return remaining, cost - remaining
}

// CalcSellQty returns how much of qty a decision with fraction sells.
func CalcSellQty(qty, fraction float64) float64 {
	if fraction <= 0 || fraction >= 1 {
		return qty
	}
	return qty * fraction
}

// SellBackoff doubles base for every failed attempt after the first and
// caps the result at max.
func SellBackoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if max > 0 && (wait > max || wait <= 0) {
		return max
	}
	return wait
}
