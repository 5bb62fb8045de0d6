package paper

import (
	"context"
	"ratiobot/internal/logger"
	"ratiobot/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextReport(t *testing.T, g *Gateway) models.OrderReport {
	t.Helper()
	select {
	case rep := <-g.Reports():
		return rep
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}
	return models.OrderReport{}
}

func TestGateway_FillsAfterDelay(t *testing.T) {
	g := New(20*time.Millisecond, logger.Discard())
	t.Cleanup(g.Close)

	req := models.OrderRequest{Symbol: "AL30", Side: models.OrderSideSell, Qty: 10, Price: 71.5, ClientOrderID: "abc-001s"}
	ack, err := g.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	require.True(t, ack.Accepted())
	assert.NotEmpty(t, ack.OrderID)

	first := nextReport(t, g)
	assert.Equal(t, models.OrderStatusNew, first.Status)
	assert.Equal(t, "abc-001s", first.ClientOrderID)

	filled := nextReport(t, g)
	assert.Equal(t, models.OrderStatusFilled, filled.Status)
	assert.Equal(t, ack.OrderID, filled.OrderID)
	assert.Equal(t, 10.0, filled.FilledQty)
	assert.Equal(t, 71.5, filled.Price)
	assert.False(t, filled.Timestamp.Before(first.Timestamp))

	assert.Eventually(t, func() bool { return g.Open() == 0 }, time.Second, 5*time.Millisecond)
}

func TestGateway_RejectsInvalidOrders(t *testing.T) {
	g := New(0, logger.Discard())
	t.Cleanup(g.Close)

	ack, err := g.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "AL30", Qty: 0, Price: 10})
	require.NoError(t, err)
	assert.False(t, ack.Accepted())
	assert.Contains(t, ack.Message, "invalid")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.SubmitOrder(ctx, models.OrderRequest{Symbol: "AL30", Qty: 1, Price: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGateway_Close(t *testing.T) {
	g := New(time.Hour, logger.Discard())
	assert.True(t, g.Connected())

	_, err := g.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "AL30", Qty: 1, Price: 10, ClientOrderID: "x"})
	require.NoError(t, err)
	nextReport(t, g)

	g.Close()
	assert.False(t, g.Connected())
	assert.Equal(t, 1, g.Open())

	ack, err := g.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "AL30", Qty: 1, Price: 10})
	require.NoError(t, err)
	assert.False(t, ack.Accepted())
}
