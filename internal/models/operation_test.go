package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition_Satisfied(t *testing.T) {
	assert.True(t, ConditionLessOrEqual.Satisfied(0.90, 0.95))
	assert.True(t, ConditionLessOrEqual.Satisfied(0.95, 0.95))
	assert.False(t, ConditionLessOrEqual.Satisfied(0.99, 0.95))

	assert.True(t, ConditionGreaterOrEqual.Satisfied(1.10, 1.05))
	assert.False(t, ConditionGreaterOrEqual.Satisfied(1.00, 1.05))

	assert.False(t, Condition("==").Satisfied(1, 1))
}

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition(">=")
	require.NoError(t, err)
	assert.Equal(t, ConditionGreaterOrEqual, c)

	_, err = ParseCondition("<")
	assert.Error(t, err)
}

func TestInstrumentToBuy(t *testing.T) {
	req := RatioOperationRequest{InstrumentPair: [2]string{"TX26", "TX28"}, InstrumentToSell: "TX26"}
	assert.Equal(t, "TX28", req.InstrumentToBuy())

	req.InstrumentToSell = "TX28"
	assert.Equal(t, "TX26", req.InstrumentToBuy())
}

func TestOperationStatus(t *testing.T) {
	assert.True(t, StatusPending.Cancellable())
	assert.True(t, StatusRunning.Cancellable())
	assert.False(t, StatusCompleted.Cancellable())
	assert.True(t, StatusPartiallyCompleted.Terminal())
	assert.False(t, StatusRunning.Terminal())
}

func TestProgressPercentage(t *testing.T) {
	p := OperationProgress{TargetSize: 200, FilledSize: 50}
	assert.InDelta(t, 25.0, p.ProgressPercentage(), 1e-9)

	p.TargetSize = 0
	assert.Zero(t, p.ProgressPercentage())
}

func TestClone_IsDeep(t *testing.T) {
	now := time.Now()
	p := OperationProgress{
		SellFills:  []OrderExecution{{Instrument: "TX26"}},
		Messages:   []ProgressMessage{{Time: now, Text: "a"}},
		FinishedAt: &now,
	}
	c := p.Clone()
	c.SellFills[0].Instrument = "X"
	c.Messages[0].Text = "b"
	*c.FinishedAt = now.Add(time.Hour)

	assert.Equal(t, "TX26", p.SellFills[0].Instrument)
	assert.Equal(t, "a", p.Messages[0].Text)
	assert.Equal(t, now, *p.FinishedAt)
}

func TestEvent(t *testing.T) {
	p := OperationProgress{
		OperationID: "op",
		Status:      StatusRunning,
		TargetSize:  100,
		FilledSize:  30,
		Messages:    []ProgressMessage{{Time: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), Text: "lot 1"}},
	}
	ev := p.Event()
	assert.Equal(t, "op", ev.OperationID)
	assert.InDelta(t, 30.0, ev.ProgressPercentage, 1e-9)
	require.Len(t, ev.Messages, 1)
	assert.Equal(t, "10:00:00.000 lot 1", ev.Messages[0])
	assert.False(t, ev.Finished)
	assert.False(t, ev.CancelRequested)

	now := time.Now()
	p.CancelRequested = true
	p.FinishedAt = &now
	ev = p.Event()
	assert.True(t, ev.Finished)
	assert.True(t, ev.CancelRequested)
}
