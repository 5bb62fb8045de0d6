package engine

import (
	"math"
	"ratiobot/internal/models"
)

// qtyEpsilon absorbs float noise when comparing sizes.
const qtyEpsilon = 1e-9

// InstantRatio prices the trade from our side of the book: we sell into the
// sold instrument's bid and buy from the bought instrument's offer.
func InstantRatio(sellQuote, buyQuote models.Quote) (ratio, sellPrice, buyPrice float64, ok bool) {
	sellPrice = sellQuote.Bid
	buyPrice = buyQuote.Offer
	if sellPrice <= 0 || buyPrice <= 0 {
		return 0, sellPrice, buyPrice, false
	}
	return sellPrice / buyPrice, sellPrice, buyPrice, true
}

// RoundDown truncates value to a multiple of step. A zero step leaves it
// alone.
func RoundDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step+qtyEpsilon) * step
}

// LotSize is the quantity tradable at the quoted prices without walking the
// book on either leg, in whole steps.
func LotSize(sellLiquidity, buyLiquidity, remaining, step float64) float64 {
	lot := RoundDown(math.Min(sellLiquidity, math.Min(buyLiquidity, remaining)), step)
	if lot <= qtyEpsilon {
		return 0
	}
	return lot
}

// Lot is one executed sell/buy pair as seen by the average.
type Lot struct {
	SoldQty   float64
	SellPrice float64
	BuyPrice  float64
}

func (l Lot) Ratio() float64 {
	if l.BuyPrice == 0 {
		return 0
	}
	return l.SellPrice / l.BuyPrice
}

// WeightedAverageRatio weights every lot's ratio by the quantity sold.
func WeightedAverageRatio(lots []Lot) float64 {
	var acc ratioAccumulator
	for _, l := range lots {
		acc.add(l.Ratio(), l.SoldQty)
	}
	return acc.average()
}

// ratioAccumulator keeps the running sums behind the weighted average.
type ratioAccumulator struct {
	weighted float64
	sold     float64
}

func (a *ratioAccumulator) add(ratio, soldQty float64) {
	a.weighted += ratio * soldQty
	a.sold += soldQty
}

func (a ratioAccumulator) average() float64 {
	if a.sold <= 0 {
		return 0
	}
	return a.weighted / a.sold
}

// withLot returns the average as it would be after one more lot.
func (a ratioAccumulator) withLot(ratio, soldQty float64) float64 {
	a.add(ratio, soldQty)
	return a.average()
}

// hasMargin reports whether avg beats target by at least margin (a
// fraction of target) in the direction of the condition.
func hasMargin(cond models.Condition, avg, target, margin float64) bool {
	switch cond {
	case models.ConditionLessOrEqual:
		return avg <= target*(1-margin)
	case models.ConditionGreaterOrEqual:
		return avg >= target*(1+margin)
	}
	return false
}
