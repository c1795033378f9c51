package auction

import (
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// MinimumNextBid computes the smallest acceptable bid for an item, in cents.
// With no accepted bid yet the floor is the starting price itself; afterwards
// the floor is the current price plus the increment. Percent increments round
// up to the next cent so the minimum never rounds in the bidder's favor.
//
// Pure. Callers must pass the authoritative current price read inside the same
// transaction that writes the bid, never a value cached earlier in the request.
func MinimumNextBid(currentPrice *int64, startingPrice int64, incType IncrementType, incValue int64) int64 {
	if currentPrice == nil {
		return startingPrice
	}

	base := *currentPrice
	switch incType {
	case IncrementTypePercent:
		factor := oneHundred.Add(decimal.NewFromInt(incValue)).Div(oneHundred)
		return decimal.NewFromInt(base).Mul(factor).Ceil().IntPart()
	default: // fixed
		return base + incValue
	}
}
