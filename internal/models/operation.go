package models

import (
	"fmt"
	"time"
)

type Condition string
type OperationStatus string
type Step string
type ExecutionStatus string

const (
	ConditionLessOrEqual    Condition = "<="
	ConditionGreaterOrEqual Condition = ">="

	StatusPending            OperationStatus = "pending"
	StatusRunning            OperationStatus = "running"
	StatusCompleted          OperationStatus = "completed"
	StatusFailed             OperationStatus = "failed"
	StatusCancelled          OperationStatus = "cancelled"
	StatusPartiallyCompleted OperationStatus = "partially_completed"

	StepInitializing        Step = "initializing"
	StepGettingQuotes       Step = "getting_quotes"
	StepCalculatingLotSize  Step = "calculating_lot_size"
	StepWaitingBetterPrices Step = "waiting_for_better_prices"
	StepExecutingLot        Step = "executing_lot"
	StepVerifyingFill       Step = "verifying_fill"
	StepCalculatingAverage  Step = "calculating_weighted_average"
	StepVerifyingRatio      Step = "verifying_ratio"
	StepFinalizing          Step = "finalizing"

	ExecutionPending  ExecutionStatus = "pending"
	ExecutionFilled   ExecutionStatus = "filled"
	ExecutionRejected ExecutionStatus = "rejected"
)

func ParseCondition(s string) (Condition, error) {
	switch Condition(s) {
	case ConditionLessOrEqual, ConditionGreaterOrEqual:
		return Condition(s), nil
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// Satisfied applies the condition as "value <cond> target".
func (c Condition) Satisfied(value, target float64) bool {
	switch c {
	case ConditionLessOrEqual:
		return value <= target
	case ConditionGreaterOrEqual:
		return value >= target
	}
	return false
}

// Terminal includes partially_completed, which ends the loop like the
// others.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusPartiallyCompleted:
		return true
	}
	return false
}

func (s OperationStatus) Cancellable() bool {
	return s == StatusPending || s == StatusRunning
}

type RatioOperationRequest struct {
	OperationID      string    `json:"operation_id"`
	InstrumentPair   [2]string `json:"instrument_pair"`
	InstrumentToSell string    `json:"instrument_to_sell"`
	TargetSize       float64   `json:"target_size"`
	TargetRatio      float64   `json:"target_ratio"`
	Condition        Condition `json:"condition"`
	MaxAttempts      int       `json:"max_attempts"`
	// BuyQuantity fixes the buy leg size. Zero buys what was sold.
	BuyQuantity float64 `json:"buy_quantity,omitempty"`
}

// InstrumentToBuy returns the member of the pair that is not sold.
func (r RatioOperationRequest) InstrumentToBuy() string {
	if r.InstrumentPair[0] == r.InstrumentToSell {
		return r.InstrumentPair[1]
	}
	return r.InstrumentPair[0]
}

type OrderExecution struct {
	Instrument    string          `json:"instrument"`
	Side          OrderSide       `json:"side"`
	Quantity      float64         `json:"quantity"`
	Price         float64         `json:"price"`
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	Status        ExecutionStatus `json:"status"`
}

type ProgressMessage struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

func (m ProgressMessage) String() string {
	return m.Time.Format("15:04:05.000") + " " + m.Text
}

// OperationProgress is always handed out as a copy; the engine owns the
// live value.
type OperationProgress struct {
	OperationID          string                `json:"operation_id"`
	Request              RatioOperationRequest `json:"request"`
	Status               OperationStatus       `json:"status"`
	CurrentStep          Step                  `json:"current_step"`
	TargetSize           float64               `json:"target_size"`
	FilledSize           float64               `json:"filled_size"`
	RemainingSize        float64               `json:"remaining_size"`
	LotCount             int                   `json:"lot_count"`
	SellFills            []OrderExecution      `json:"sell_fills"`
	BuyFills             []OrderExecution      `json:"buy_fills"`
	WeightedAverageRatio float64               `json:"weighted_average_ratio"`
	CurrentRatio         float64               `json:"current_ratio"`
	ConditionMet         bool                  `json:"condition_met"`
	AttemptCount         int                   `json:"attempt_count"`
	CancelRequested      bool                  `json:"cancel_requested"`
	Messages             []ProgressMessage     `json:"messages"`
	Error                string                `json:"error,omitempty"`
	StartedAt            time.Time             `json:"started_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
	FinishedAt           *time.Time            `json:"finished_at,omitempty"`
}

func (p OperationProgress) ProgressPercentage() float64 {
	if p.TargetSize <= 0 {
		return 0
	}
	pct := p.FilledSize / p.TargetSize * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Clone deep-copies the slices so the result can be read without locks.
func (p OperationProgress) Clone() OperationProgress {
	out := p
	out.SellFills = append([]OrderExecution(nil), p.SellFills...)
	out.BuyFills = append([]OrderExecution(nil), p.BuyFills...)
	out.Messages = append([]ProgressMessage(nil), p.Messages...)
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// ProgressEvent is the notification payload delivered to listeners.
type ProgressEvent struct {
	OperationID          string          `json:"operation_id"`
	Status               OperationStatus `json:"status"`
	CurrentStep          Step            `json:"current_step"`
	ProgressPercentage   float64         `json:"progress_percentage"`
	TargetSize           float64         `json:"target_size"`
	FilledSize           float64         `json:"filled_size"`
	RemainingSize        float64         `json:"remaining_size"`
	LotCount             int             `json:"lot_count"`
	CurrentRatio         float64         `json:"current_ratio"`
	WeightedAverageRatio float64         `json:"weighted_average_ratio"`
	ConditionMet         bool            `json:"condition_met"`
	CancelRequested      bool            `json:"cancel_requested"`
	Finished             bool            `json:"finished"`
	Messages             []string        `json:"messages"`
	Error                string          `json:"error,omitempty"`
}

func (p OperationProgress) Event() ProgressEvent {
	msgs := make([]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		msgs = append(msgs, m.String())
	}
	return ProgressEvent{
		OperationID:          p.OperationID,
		Status:               p.Status,
		CurrentStep:          p.CurrentStep,
		ProgressPercentage:   p.ProgressPercentage(),
		TargetSize:           p.TargetSize,
		FilledSize:           p.FilledSize,
		RemainingSize:        p.RemainingSize,
		LotCount:             p.LotCount,
		CurrentRatio:         p.CurrentRatio,
		WeightedAverageRatio: p.WeightedAverageRatio,
		ConditionMet:         p.ConditionMet,
		CancelRequested:      p.CancelRequested,
		Finished:             p.FinishedAt != nil,
		Messages:             msgs,
		Error:                p.Error,
	}
}
