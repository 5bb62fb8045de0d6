package engine

import (
	"fmt"
	"ratiobot/internal/models"
)

type lotDecision struct {
	Go     bool
	Reason string
}

type decisionInput struct {
	Condition        models.Condition
	TargetRatio      float64
	CurrentRatio     float64
	LotQty           float64
	Remaining        float64
	LotCount         int
	Average          ratioAccumulator
	Margin           float64
	LargeLotFraction float64
}

// decideLot is the go/no-go gate for one candidate lot.
//
// The first lot needs the instantaneous ratio itself to satisfy the
// condition. Later lots go when the average including the candidate still
// satisfies it, when the running average already has a margin beyond the
// target, or when the candidate is a large share of what is left.
func decideLot(in decisionInput) lotDecision {
	if in.LotQty <= 0 {
		return lotDecision{Reason: "no liquidity at the quoted prices"}
	}

	if in.LotCount == 0 {
		if in.Condition.Satisfied(in.CurrentRatio, in.TargetRatio) {
			return lotDecision{Go: true, Reason: fmt.Sprintf("ratio %.6f %s %.6f", in.CurrentRatio, in.Condition, in.TargetRatio)}
		}
		return lotDecision{Reason: fmt.Sprintf("ratio %.6f does not satisfy %s %.6f", in.CurrentRatio, in.Condition, in.TargetRatio)}
	}

	hypothetical := in.Average.withLot(in.CurrentRatio, in.LotQty)
	if in.Condition.Satisfied(hypothetical, in.TargetRatio) {
		return lotDecision{Go: true, Reason: fmt.Sprintf("average would be %.6f %s %.6f", hypothetical, in.Condition, in.TargetRatio)}
	}

	avg := in.Average.average()
	if hasMargin(in.Condition, avg, in.TargetRatio, in.Margin) {
		return lotDecision{Go: true, Reason: fmt.Sprintf("average %.6f is beyond target by the %.1f%% margin", avg, in.Margin*100)}
	}

	if in.Remaining > 0 && in.LotQty >= in.LargeLotFraction*in.Remaining {
		return lotDecision{Go: true, Reason: fmt.Sprintf("lot %.4f is at least %.0f%% of remaining %.4f", in.LotQty, in.LargeLotFraction*100, in.Remaining)}
	}

	return lotDecision{Reason: fmt.Sprintf("average would be %.6f, not %s %.6f", hypothetical, in.Condition, in.TargetRatio)}
}
