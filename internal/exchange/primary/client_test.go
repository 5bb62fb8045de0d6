package primary

import (
	"context"
	"ratiobot/internal/logger"
	"ratiobot/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SubmitOrder(t *testing.T) {
	b := newFakeBroker(t)
	c := NewClient(b.config(), logger.Discard())

	ack, err := c.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol:        "TX26",
		Side:          models.OrderSideSell,
		Type:          models.OrderTypeLimit,
		Qty:           100.7,
		Price:         90.5,
		TimeInForce:   "DAY",
		ClientOrderID: "op-001s",
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted())
	assert.Equal(t, "cid-1", ack.OrderID)

	q := b.lastQuery()
	require.NotNil(t, q)
	assert.Equal(t, "ROFX", q.Get("marketId"))
	assert.Equal(t, "TX26", q.Get("symbol"))
	assert.Equal(t, "90.5", q.Get("price"))
	assert.Equal(t, "100", q.Get("orderQty"))
	assert.Equal(t, "LIMIT", q.Get("ordType"))
	assert.Equal(t, "SELL", q.Get("side"))
	assert.Equal(t, "DAY", q.Get("timeInForce"))
	assert.Equal(t, "REM123", q.Get("account"))
	assert.Equal(t, "false", q.Get("cancelPrevious"))
	assert.Equal(t, "false", q.Get("iceberg"))
	assert.Equal(t, "op-001s", q.Get("wsClOrdId"))

	// The token is cached between orders.
	_, err = c.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "TX28", Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Qty: 1, Price: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.logins.Load())
}

func TestClient_SubmitOrderRefused(t *testing.T) {
	b := newFakeBroker(t)
	b.orderRes = `{"status":"ERROR","message":"Saldo insuficiente"}`
	c := NewClient(b.config(), logger.Discard())

	ack, err := c.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "TX26", Side: models.OrderSideSell, Type: models.OrderTypeLimit, Qty: 10, Price: 90})
	require.NoError(t, err)
	assert.False(t, ack.Accepted())
	assert.Equal(t, "Saldo insuficiente", ack.Message)
}

func TestClient_MarketOrderHasNoPrice(t *testing.T) {
	b := newFakeBroker(t)
	c := NewClient(b.config(), logger.Discard())

	_, err := c.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "TX26", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Qty: 10, Price: 90})
	require.NoError(t, err)
	q := b.lastQuery()
	assert.False(t, q.Has("price"))
	assert.Equal(t, "MARKET", q.Get("ordType"))
}

func TestClient_FractionalQtyNeverSent(t *testing.T) {
	b := newFakeBroker(t)
	c := NewClient(b.config(), logger.Discard())

	ack, err := c.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "TX26", Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Qty: 0.4, Price: 90})
	require.NoError(t, err)
	assert.False(t, ack.Accepted())
	assert.Nil(t, b.lastQuery())
}

func TestClient_ExpiredTokenIsRefreshed(t *testing.T) {
	b := newFakeBroker(t)
	c := NewClient(b.config(), logger.Discard())

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	b.expireOnce.Store(true)

	ack, err := c.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "TX26", Side: models.OrderSideSell, Type: models.OrderTypeLimit, Qty: 10, Price: 90})
	require.NoError(t, err)
	assert.True(t, ack.Accepted())
	assert.EqualValues(t, 2, b.logins.Load())
}

func TestClient_BadCredentials(t *testing.T) {
	b := newFakeBroker(t)
	cfg := b.config()
	cfg.Password = "wrong"
	c := NewClient(cfg, logger.Discard())

	_, err := c.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "TX26", Side: models.OrderSideSell, Type: models.OrderTypeLimit, Qty: 10, Price: 90})
	assert.ErrorContains(t, err, "auth rejected")
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0.3", formatPrice(0.1+0.2))
	assert.Equal(t, "71.25", formatPrice(71.25))
	assert.Equal(t, "100", formatQty(100))
	assert.Equal(t, "99", formatQty(99.99))
	assert.Equal(t, "0", formatQty(0.5))
}
