package engine

import (
	"context"
	"ratiobot/internal/logger"
	"ratiobot/internal/models"
	"ratiobot/internal/notifier"
	"ratiobot/internal/quotes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGateway accepts orders unless reject says otherwise and, when
// autoReport is set, answers each accepted order with a FILLED report at the
// order price.
type fakeGateway struct {
	mu       sync.Mutex
	orders   []models.OrderRequest
	accepted []models.OrderRequest

	reject     func(n int, req models.OrderRequest) bool
	onAccept   func(n int, req models.OrderRequest)
	report     func(req models.OrderRequest) (models.OrderReport, bool)
	autoReport bool
	hang       bool

	connected atomic.Bool
	reports   chan models.OrderReport
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{
		autoReport: true,
		reports:    make(chan models.OrderReport, 1024),
	}
	g.connected.Store(true)
	return g
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error) {
	if g.hang {
		<-ctx.Done()
		// Keep ignoring the deadline a little longer, like a stuck broker.
		time.Sleep(50 * time.Millisecond)
		return models.OrderAck{Status: models.AckStatusOK}, nil
	}

	g.mu.Lock()
	n := len(g.orders)
	g.orders = append(g.orders, req)
	rejected := g.reject != nil && g.reject(n, req)
	if !rejected {
		g.accepted = append(g.accepted, req)
	}
	accepted := len(g.accepted)
	g.mu.Unlock()

	if rejected {
		return models.OrderAck{Status: models.AckStatusError, Message: "insufficient funds"}, nil
	}
	if g.onAccept != nil {
		g.onAccept(accepted, req)
	}

	if g.report != nil {
		if rep, ok := g.report(req); ok {
			g.reports <- rep
		}
	} else if g.autoReport {
		g.reports <- models.OrderReport{
			ClientOrderID: req.ClientOrderID,
			OrderID:       "ord-" + req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Status:        models.OrderStatusFilled,
			FilledQty:     req.Qty,
			Price:         req.Price,
			Timestamp:     time.Now(),
		}
	}
	return models.OrderAck{Status: models.AckStatusOK, OrderID: "ord-" + req.ClientOrderID}, nil
}

func (g *fakeGateway) Reports() <-chan models.OrderReport {
	return g.reports
}

func (g *fakeGateway) Connected() bool {
	return g.connected.Load()
}

func (g *fakeGateway) Orders() []models.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.OrderRequest(nil), g.orders...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.WaitBackoff = time.Millisecond
	opts.LotPause = 0
	opts.FillTimeout = 30 * time.Millisecond
	opts.FillPollInterval = 5 * time.Millisecond
	opts.SubmitTimeout = 100 * time.Millisecond
	opts.Retention = time.Minute
	opts.ZeroLiquidityLimit = 5
	return opts
}

type testHarness struct {
	engine  *Engine
	gateway *fakeGateway
	quotes  *quotes.Store
}

func newTestHarness(t *testing.T, opts Options, gw *fakeGateway) *testHarness {
	t.Helper()
	if gw == nil {
		gw = newFakeGateway()
	}
	log := logger.Discard()
	store := quotes.NewStore()
	eng := New(opts, store, gw, notifier.New(log, time.Second), log)

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	t.Cleanup(func() {
		eng.Close()
		cancel()
	})
	return &testHarness{engine: eng, gateway: gw, quotes: store}
}

// setMarket quotes TX26 (sold) and TX28 (bought).
func (h *testHarness) setMarket(sellBid, sellBidSize, buyOffer, buyOfferSize float64) {
	h.quotes.Set("TX26", models.Quote{Bid: sellBid, Offer: sellBid + 1, BidSize: sellBidSize, OfferSize: sellBidSize})
	h.quotes.Set("TX28", models.Quote{Bid: buyOffer - 1, Offer: buyOffer, BidSize: buyOfferSize, OfferSize: buyOfferSize})
}

func (h *testHarness) run(t *testing.T, req models.RatioOperationRequest) models.OperationProgress {
	t.Helper()
	snap, err := h.engine.Start(context.Background(), req)
	require.NoError(t, err)
	return h.wait(t, snap.OperationID)
}

func (h *testHarness) wait(t *testing.T, id string) models.OperationProgress {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := h.engine.Wait(ctx, id)
	require.NoError(t, err, "operation did not finish: %+v", final)
	return final
}

func sellTX26(size, ratio float64, cond models.Condition) models.RatioOperationRequest {
	return models.RatioOperationRequest{
		InstrumentPair:   [2]string{"TX26", "TX28"},
		InstrumentToSell: "TX26",
		TargetSize:       size,
		TargetRatio:      ratio,
		Condition:        cond,
	}
}
