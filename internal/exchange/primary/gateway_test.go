package primary

import (
	"context"
	"ratiobot/internal/logger"
	"ratiobot/internal/models"
	"ratiobot/internal/quotes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mdFrame = `{"type":"Md","timestamp":1700000000000,"instrumentId":{"marketId":"ROFX","symbol":"TX26"},
		"marketData":{"BI":[{"price":90.1,"size":500}],"OF":[{"price":90.4,"size":300}],"LA":{"price":90.2,"size":10,"date":1700000000000}}}`
	orFrame = `{"type":"or","timestamp":1700000000500,"orderReport":{"orderId":"1234","clOrdId":"cid-1",
		"wsClOrdId":"op-001s","instrumentId":{"marketId":"ROFX","symbol":"TX26"},"side":"SELL","status":"FILLED",
		"price":90.1,"orderQty":10,"cumQty":10,"leavesQty":0,"avgPx":90.15,"lastPx":90.1,
		"transactTime":"20231114-19:13:20.500-0300","text":"Operada"}}`
	noIDFrame = `{"type":"or","orderReport":{"orderId":"999","status":"NEW"}}`
)

func startGateway(t *testing.T, b *fakeBroker, store *quotes.Store) *Gateway {
	t.Helper()
	g := New(b.config(), store, logger.Discard())
	g.stream.reconnectMin = 10 * time.Millisecond
	g.stream.reconnectMax = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		g.Close()
	})
	require.NoError(t, g.Start(ctx))
	return g
}

func TestGateway_StreamsQuotesAndReports(t *testing.T) {
	b := newFakeBroker(t)
	b.frames = []string{mdFrame, noIDFrame, orFrame}
	store := quotes.NewStore()
	g := startGateway(t, b, store)

	assert.True(t, g.Connected())

	var q models.Quote
	require.Eventually(t, func() bool {
		var ok bool
		q, ok = store.Get("TX26")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 90.1, q.Bid)
	assert.Equal(t, 500.0, q.BidSize)
	assert.Equal(t, 90.4, q.Offer)
	assert.Equal(t, 300.0, q.OfferSize)
	assert.Equal(t, 90.2, q.Last)

	select {
	case rep := <-g.Reports():
		assert.Equal(t, "op-001s", rep.ClientOrderID)
		assert.Equal(t, "1234", rep.OrderID)
		assert.Equal(t, models.OrderStatusFilled, rep.Status)
		assert.Equal(t, models.OrderSideSell, rep.Side)
		assert.Equal(t, 10.0, rep.FilledQty)
		assert.Equal(t, 90.15, rep.Price)
		assert.Equal(t, "Operada", rep.Text)
		assert.Equal(t, int64(1700000000500), rep.Timestamp.UnixMilli())
	case <-time.After(2 * time.Second):
		t.Fatal("no order report")
	}

	subs := b.subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, "smd", subs[0]["type"])
	assert.Len(t, subs[0]["products"], 2)
	assert.Equal(t, "os", subs[1]["type"])
}

func TestGateway_Reconnects(t *testing.T) {
	b := newFakeBroker(t)
	b.dropConn = 1
	g := startGateway(t, b, quotes.NewStore())

	// Subscriptions are sent again on the new connection.
	assert.Eventually(t, func() bool {
		return b.conns.Load() >= 2 && g.Connected() && len(b.subscriptions()) >= 4
	}, 3*time.Second, 5*time.Millisecond)
}

func TestGateway_CloseDisconnects(t *testing.T) {
	b := newFakeBroker(t)
	g := startGateway(t, b, quotes.NewStore())
	require.True(t, g.Connected())

	g.Close()
	assert.False(t, g.Connected())
}

func TestGateway_StartFailsWithBadCredentials(t *testing.T) {
	b := newFakeBroker(t)
	cfg := b.config()
	cfg.Password = "nope"
	g := New(cfg, quotes.NewStore(), logger.Discard())

	assert.Error(t, g.Start(context.Background()))
	assert.False(t, g.Connected())
}
