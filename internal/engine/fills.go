package engine

import (
	"context"
	"fmt"
	"ratiobot/internal/metrics"
	"ratiobot/internal/models"
	"strings"
	"sync"
	"time"
)

// FillPolicy decides what an order without a confirmation becomes once the
// fill timeout has passed while the gateway is connected.
type FillPolicy string

const (
	// FillPolicyAssumeFilled books the order as filled at its limit price.
	FillPolicyAssumeFilled FillPolicy = "assume_filled"
	// FillPolicyHalt fails the operation and leaves the order pending.
	FillPolicyHalt FillPolicy = "halt"
)

func ParseFillPolicy(s string) (FillPolicy, error) {
	switch FillPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case FillPolicyAssumeFilled:
		return FillPolicyAssumeFilled, nil
	case FillPolicyHalt:
		return FillPolicyHalt, nil
	}
	return "", fmt.Errorf("unknown fill policy %q", s)
}

type trackedOrder struct {
	latest    models.OrderReport
	hasReport bool
	signal    chan struct{}
	touched   time.Time
}

// fillTracker keeps the latest report per client order id. Reports may
// arrive before the order is tracked.
type fillTracker struct {
	mu      sync.Mutex
	entries map[string]*trackedOrder
}

func newFillTracker() *fillTracker {
	return &fillTracker{entries: make(map[string]*trackedOrder)}
}

func (t *fillTracker) entry(id string) *trackedOrder {
	en, ok := t.entries[id]
	if !ok {
		en = &trackedOrder{signal: make(chan struct{}, 1)}
		t.entries[id] = en
	}
	en.touched = time.Now()
	return en
}

// Track registers interest in id and returns the channel that is signalled
// on every new report.
func (t *fillTracker) Track(id string) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entry(id).signal
}

func (t *fillTracker) Deliver(report models.OrderReport) {
	if report.ClientOrderID == "" {
		return
	}
	t.mu.Lock()
	en := t.entry(report.ClientOrderID)
	// A late NEW must not hide an earlier terminal status.
	if !en.hasReport || !en.latest.Status.Terminal() || report.Status.Terminal() {
		en.latest = report
		en.hasReport = true
	}
	t.mu.Unlock()

	select {
	case en.signal <- struct{}{}:
	default:
	}
}

func (t *fillTracker) Latest(id string) (models.OrderReport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	en, ok := t.entries[id]
	if !ok || !en.hasReport {
		return models.OrderReport{}, false
	}
	return en.latest, true
}

func (t *fillTracker) Forget(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Prune drops entries untouched for longer than maxAge, mostly reports for
// orders this process never placed.
func (t *fillTracker) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, en := range t.entries {
		if en.touched.Before(cutoff) {
			delete(t.entries, id)
			n++
		}
	}
	return n
}

type fillResult struct {
	Status  models.ExecutionStatus
	Qty     float64
	Price   float64
	OrderID string
	Assumed bool
}

func (r fillResult) filled() bool {
	return r.Status == models.ExecutionFilled && r.Qty > qtyEpsilon
}

func resultFromReport(rep models.OrderReport, req models.OrderRequest) fillResult {
	res := fillResult{OrderID: rep.OrderID, Price: rep.Price}
	if res.Price <= 0 {
		res.Price = req.Price
	}
	switch rep.Status {
	case models.OrderStatusFilled:
		res.Status = models.ExecutionFilled
		res.Qty = rep.FilledQty
		if res.Qty <= 0 || res.Qty > req.Qty {
			res.Qty = req.Qty
		}
	default:
		// Cancelled or rejected, possibly after a partial fill.
		if rep.FilledQty > qtyEpsilon {
			res.Status = models.ExecutionFilled
			res.Qty = minFloat(rep.FilledQty, req.Qty)
		} else {
			res.Status = models.ExecutionRejected
		}
	}
	return res
}

// verifyFill waits for a terminal report of req. Past the fill timeout it
// applies the fill policy, but only while the gateway is connected;
// otherwise the order stays pending and the wait goes on.
func (e *Engine) verifyFill(ctx context.Context, op *operation, req models.OrderRequest, orderID string, submittedAt time.Time, signal <-chan struct{}) (fillResult, error) {
	deadline := submittedAt.Add(e.opts.FillTimeout)
	warnedDisconnected := false

	for {
		if rep, ok := e.tracker.Latest(req.ClientOrderID); ok && rep.Status.Terminal() {
			res := resultFromReport(rep, req)
			if res.OrderID == "" {
				res.OrderID = orderID
			}
			return res, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			if e.gateway.Connected() {
				return e.applyFillPolicy(op, req, orderID)
			}
			if !warnedDisconnected {
				op.addMessage(fmt.Sprintf("Gateway disconnected: %s %s %s kept pending until a report or reconnection.", req.Side, req.Symbol, req.ClientOrderID))
				e.publish(op)
				warnedDisconnected = true
			}
			wait = e.opts.FillPollInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fillResult{Status: models.ExecutionPending, OrderID: orderID}, ctx.Err()
		case <-signal:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (e *Engine) applyFillPolicy(op *operation, req models.OrderRequest, orderID string) (fillResult, error) {
	if e.opts.FillPolicy == FillPolicyHalt {
		op.addMessage(fmt.Sprintf("No confirmation for %s %s %s within %s; halting.", req.Side, req.Symbol, req.ClientOrderID, e.opts.FillTimeout))
		return fillResult{Status: models.ExecutionPending, OrderID: orderID},
			fmt.Errorf("%w: %s %s", ErrUnconfirmedFill, req.Side, req.ClientOrderID)
	}

	metrics.FillsAssumed.WithLabelValues(string(req.Side)).Inc()
	op.addMessage(fmt.Sprintf("ASSUMED FILL: no confirmation for %s %s %s within %s, booked %.4f @ %.4f.", req.Side, req.Symbol, req.ClientOrderID, e.opts.FillTimeout, req.Qty, req.Price))
	e.opLog(op).WithFields(map[string]interface{}{
		"client_order_id": req.ClientOrderID,
		"side":            req.Side,
		"qty":             req.Qty,
		"price":           req.Price,
	}).Warn("Fill assumed without confirmation.")
	return fillResult{
		Status:  models.ExecutionFilled,
		Qty:     req.Qty,
		Price:   req.Price,
		OrderID: orderID,
		Assumed: true,
	}, nil
}
