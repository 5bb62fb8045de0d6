package engine

import (
	"ratiobot/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFillPolicy(t *testing.T) {
	p, err := ParseFillPolicy(" Assume_Filled ")
	require.NoError(t, err)
	assert.Equal(t, FillPolicyAssumeFilled, p)

	p, err = ParseFillPolicy("halt")
	require.NoError(t, err)
	assert.Equal(t, FillPolicyHalt, p)

	_, err = ParseFillPolicy("retry")
	assert.Error(t, err)
}

func TestFillTracker_SignalsAndKeepsTerminal(t *testing.T) {
	tr := newFillTracker()
	signal := tr.Track("op-001s")

	_, ok := tr.Latest("op-001s")
	assert.False(t, ok)

	tr.Deliver(models.OrderReport{ClientOrderID: "op-001s", Status: models.OrderStatusFilled, FilledQty: 10})
	select {
	case <-signal:
	default:
		t.Fatal("expected a signal")
	}

	tr.Deliver(models.OrderReport{ClientOrderID: "op-001s", Status: models.OrderStatusNew})
	rep, ok := tr.Latest("op-001s")
	require.True(t, ok)
	assert.Equal(t, models.OrderStatusFilled, rep.Status)

	tr.Forget("op-001s")
	_, ok = tr.Latest("op-001s")
	assert.False(t, ok)
}

func TestFillTracker_ReportBeforeTrack(t *testing.T) {
	tr := newFillTracker()
	tr.Deliver(models.OrderReport{ClientOrderID: "early", Status: models.OrderStatusFilled})
	tr.Deliver(models.OrderReport{Status: models.OrderStatusFilled})

	tr.Track("early")
	rep, ok := tr.Latest("early")
	require.True(t, ok)
	assert.Equal(t, models.OrderStatusFilled, rep.Status)
}

func TestFillTracker_Prune(t *testing.T) {
	tr := newFillTracker()
	tr.Deliver(models.OrderReport{ClientOrderID: "stale", Status: models.OrderStatusNew})
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 0, tr.Prune(time.Hour))
	assert.Equal(t, 1, tr.Prune(time.Millisecond))
	_, ok := tr.Latest("stale")
	assert.False(t, ok)
}

func TestResultFromReport(t *testing.T) {
	req := models.OrderRequest{ClientOrderID: "x", Qty: 100, Price: 90}

	res := resultFromReport(models.OrderReport{Status: models.OrderStatusFilled, FilledQty: 100, Price: 89.5, OrderID: "o1"}, req)
	assert.True(t, res.filled())
	assert.Equal(t, 100.0, res.Qty)
	assert.Equal(t, 89.5, res.Price)
	assert.Equal(t, "o1", res.OrderID)

	// FILLED without a quantity or price falls back to the request.
	res = resultFromReport(models.OrderReport{Status: models.OrderStatusFilled}, req)
	assert.Equal(t, 100.0, res.Qty)
	assert.Equal(t, 90.0, res.Price)

	res = resultFromReport(models.OrderReport{Status: models.OrderStatusCancelled, FilledQty: 40}, req)
	assert.True(t, res.filled())
	assert.Equal(t, 40.0, res.Qty)

	res = resultFromReport(models.OrderReport{Status: models.OrderStatusRejected}, req)
	assert.False(t, res.filled())
	assert.Equal(t, models.ExecutionRejected, res.Status)
}
