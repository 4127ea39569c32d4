package risk

import (
	"github.com/shopspring/decimal"
)

// SizeResult contains the result of an allocation calculation.
type SizeResult struct {
	Shares       int64           // whole shares to buy
	Notional     decimal.Decimal // Shares * price
	Valid        bool
	RejectReason string
}

// CalculateAllocation sizes a long entry that commits fraction of equity at
// price.
//
//	shares = floor(equity * fraction / price)
//
// Fewer than one share is reported as invalid.
func CalculateAllocation(equity, fraction, price decimal.Decimal) SizeResult {
	var result SizeResult

	switch {
	case !equity.IsPositive():
		result.RejectReason = "equity must be positive"
		return result
	case !fraction.IsPositive():
		result.RejectReason = "allocation fraction must be positive"
		return result
	case fraction.GreaterThan(decimal.NewFromInt(1)):
		result.RejectReason = "allocation fraction exceeds 100% of equity"
		return result
	case !price.IsPositive():
		result.RejectReason = "price must be positive"
		return result
	}

	shares := equity.Mul(fraction).Div(price).Floor().IntPart()
	if shares < 1 {
		result.RejectReason = "allocation smaller than one share"
		return result
	}

	result.Shares = shares
	result.Notional = price.Mul(decimal.NewFromInt(shares))
	result.Valid = true
	return result
}

// MaxShares returns the most shares whose notional fits in
// equity * maxExposurePct.
func MaxShares(equity, maxExposurePct, price decimal.Decimal) int64 {
	if !price.IsPositive() || !equity.IsPositive() {
		return 0
	}
	return equity.Mul(maxExposurePct).Div(price).Floor().IntPart()
}

// AdjustForMaxSize caps calculated at maxAllowed.
func AdjustForMaxSize(calculated, maxAllowed int64) int64 {
	if calculated > maxAllowed {
		return maxAllowed
	}
	return calculated
}
