package paper

import (
	"context"
	"fmt"
	"ratiobot/internal/logger"
	"ratiobot/internal/models"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Gateway fills every valid order at its limit price after a fixed delay.
// Nothing leaves the process.
type Gateway struct {
	log       *logger.Logger
	fillDelay time.Duration
	reports   chan models.OrderReport

	mu     sync.Mutex
	orders map[string]models.OrderRequest
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func New(fillDelay time.Duration, log *logger.Logger) *Gateway {
	return &Gateway{
		log:       log,
		fillDelay: fillDelay,
		reports:   make(chan models.OrderReport, 256),
		orders:    make(map[string]models.OrderRequest),
		stopCh:    make(chan struct{}),
	}
}

func (g *Gateway) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderAck{}, err
	}
	if req.Qty <= 0 || req.Price <= 0 {
		return models.OrderAck{
			Status:  models.AckStatusError,
			Message: fmt.Sprintf("invalid qty %.4f or price %.4f", req.Qty, req.Price),
		}, nil
	}
	select {
	case <-g.stopCh:
		return models.OrderAck{Status: models.AckStatusError, Message: "paper gateway closed"}, nil
	default:
	}

	orderID := uuid.NewString()
	g.mu.Lock()
	g.orders[orderID] = req
	g.mu.Unlock()

	g.log.WithOrderID(orderID).WithFields(map[string]interface{}{
		"component":       "paper",
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             req.Qty,
		"price":           req.Price,
	}).Info("Paper order accepted.")

	g.wg.Add(1)
	go g.fill(orderID, req)

	return models.OrderAck{Status: models.AckStatusOK, OrderID: orderID}, nil
}

func (g *Gateway) fill(orderID string, req models.OrderRequest) {
	defer g.wg.Done()

	report := models.OrderReport{
		ClientOrderID: req.ClientOrderID,
		OrderID:       orderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        models.OrderStatusNew,
		Price:         req.Price,
		Timestamp:     time.Now(),
	}
	if !g.emit(report) {
		return
	}

	if g.fillDelay > 0 {
		timer := time.NewTimer(g.fillDelay)
		defer timer.Stop()
		select {
		case <-g.stopCh:
			return
		case <-timer.C:
		}
	}

	report.Status = models.OrderStatusFilled
	report.FilledQty = req.Qty
	report.Timestamp = time.Now()
	if g.emit(report) {
		g.mu.Lock()
		delete(g.orders, orderID)
		g.mu.Unlock()
	}
}

func (g *Gateway) emit(report models.OrderReport) bool {
	select {
	case <-g.stopCh:
		return false
	case g.reports <- report:
		return true
	}
}

func (g *Gateway) Reports() <-chan models.OrderReport {
	return g.reports
}

func (g *Gateway) Connected() bool {
	select {
	case <-g.stopCh:
		return false
	default:
		return true
	}
}

// Open returns the number of orders not filled yet.
func (g *Gateway) Open() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

func (g *Gateway) Close() {
	g.once.Do(func() {
		close(g.stopCh)
		g.logEntry().WithField("open_orders", g.Open()).Info("Paper gateway closed.")
	})
	g.wg.Wait()
}

func (g *Gateway) logEntry() *logrus.Entry {
	return g.log.WithComponent("paper")
}
