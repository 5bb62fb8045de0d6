package engine

import (
	"context"
	"errors"
	"fmt"
	"ratiobot/internal/metrics"
	"ratiobot/internal/models"
	"runtime/debug"
	"time"
)

// execute is the goroutine body of one operation. Nothing escapes it: a
// panic becomes a failed operation.
func (e *Engine) execute(op *operation) {
	defer e.wg.Done()
	defer close(op.done)

	metrics.OperationsActive.Inc()
	defer metrics.OperationsActive.Dec()

	err := e.safeLoop(op)
	e.finalize(op, err)
	e.scheduleEviction(op)
}

func (e *Engine) safeLoop(op *operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.opLog(op).WithField("stack", string(debug.Stack())).Error("Operation loop panicked.")
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()

	if !op.start() {
		return nil
	}
	e.opLog(op).Info("Ratio operation running.")
	e.publish(op)
	return e.loop(e.ctx, op)
}

func (e *Engine) loop(ctx context.Context, op *operation) error {
	policy := RetryPolicy{
		SafetyCeiling:      e.opts.SafetyCeiling,
		MaxAttempts:        op.req.MaxAttempts,
		Backoff:            e.opts.WaitBackoff,
		LotPause:           e.opts.LotPause,
		ZeroLiquidityLimit: e.opts.ZeroLiquidityLimit,
	}
	sellSymbol := op.req.InstrumentToSell
	buySymbol := op.req.InstrumentToBuy()
	emptyBooks := 0

	wait := func(reason string) error {
		op.update(func(p *models.OperationProgress) {
			p.CurrentStep = models.StepWaitingBetterPrices
			op.appendMessageLocked(reason)
		})
		e.publish(op)
		e.stepLog(op, models.StepWaitingBetterPrices).WithField("reason", reason).Debug("Waiting for better prices.")
		if err := sleep(ctx, op.cancelCh, policy.Backoff); err != nil {
			return err
		}
		op.setStep(models.StepCalculatingLotSize)
		return nil
	}
	// An empty book side is no liquidity, not a missing quote.
	noLiquidity := func(reason string) error {
		emptyBooks++
		if policy.LiquidityExhausted(emptyBooks) {
			return fmt.Errorf("%w: %d consecutive observations without size", ErrLiquidityExhausted, emptyBooks)
		}
		return wait(fmt.Sprintf("%s (%d in a row).", reason, emptyBooks))
	}

	for {
		if op.cancelRequested() || op.remaining() <= qtyEpsilon {
			return nil
		}
		if step := e.opts.QtyStep; step > 0 && op.remaining() < step-qtyEpsilon {
			return fmt.Errorf("%w: %.4f left, step %.4f", ErrBelowQtyStep, op.remaining(), step)
		}

		if err := policy.Check(op.attempts()); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		op.update(func(p *models.OperationProgress) {
			p.AttemptCount++
			p.CurrentStep = models.StepGettingQuotes
		})

		sellQuote, okSell := e.quotes.Fresh(sellSymbol, e.opts.MaxQuoteAge)
		buyQuote, okBuy := e.quotes.Fresh(buySymbol, e.opts.MaxQuoteAge)
		if !okSell || !okBuy {
			if err := wait(fmt.Sprintf("Waiting for quotes: %s=%t %s=%t.", sellSymbol, okSell, buySymbol, okBuy)); err != nil {
				return err
			}
			continue
		}

		ratio, sellPrice, buyPrice, ok := InstantRatio(sellQuote, buyQuote)
		if !ok {
			if err := noLiquidity(fmt.Sprintf("No prices: %s bid %.4f, %s offer %.4f",
				sellSymbol, sellPrice, buySymbol, buyPrice)); err != nil {
				return err
			}
			continue
		}

		remaining := op.remaining()
		lotQty := LotSize(sellQuote.BidSize, buyQuote.OfferSize, remaining, e.opts.QtyStep)
		op.update(func(p *models.OperationProgress) {
			p.CurrentRatio = ratio
			p.CurrentStep = models.StepCalculatingLotSize
		})
		e.publish(op)

		if lotQty <= 0 {
			if err := noLiquidity(fmt.Sprintf("No liquidity: %s bid size %.4f, %s offer size %.4f",
				sellSymbol, sellQuote.BidSize, buySymbol, buyQuote.OfferSize)); err != nil {
				return err
			}
			continue
		}
		emptyBooks = 0

		decision := decideLot(decisionInput{
			Condition:        op.req.Condition,
			TargetRatio:      op.req.TargetRatio,
			CurrentRatio:     ratio,
			LotQty:           lotQty,
			Remaining:        remaining,
			LotCount:         op.lotCount(),
			Average:          op.average(),
			Margin:           e.opts.Margin,
			LargeLotFraction: e.opts.LargeLotFraction,
		})
		if !decision.Go {
			if err := wait("Holding: " + decision.Reason + "."); err != nil {
				return err
			}
			continue
		}

		// Last checkpoint before a new lot.
		if op.cancelRequested() {
			return nil
		}

		lot, credited, err := e.executeLot(ctx, op, lotQty, sellPrice, buyPrice, decision.Reason)
		if credited {
			op.setStep(models.StepCalculatingAverage)
			snap := op.creditLot(lot)
			metrics.LotsExecuted.WithLabelValues(sellSymbol, buySymbol).Inc()
			metrics.WeightedAverageRatio.WithLabelValues(op.id).Set(snap.WeightedAverageRatio)
			e.opLog(op).WithFields(map[string]interface{}{
				"lot":       snap.LotCount,
				"sold_qty":  lot.SoldQty,
				"ratio":     lot.Ratio(),
				"avg":       snap.WeightedAverageRatio,
				"filled":    snap.FilledSize,
				"remaining": snap.RemainingSize,
			}).Info("Lot executed.")
			e.publish(op)
		}
		if err != nil {
			return err
		}

		if op.remaining() > qtyEpsilon {
			op.setStep(models.StepCalculatingLotSize)
			if err := sleep(ctx, op.cancelCh, policy.LotPause); err != nil {
				return err
			}
		}
	}
}

// executeLot sells first and buys only what the sell actually filled. The
// lot is credited once the sell is filled; an error after that point means
// the operation must stop with the lot on the books.
//
// A cancel request does not interrupt a lot. Once the sell has filled, the
// buy leg and its retries are still submitted, so buy executions may be
// stamped after the cancel.
func (e *Engine) executeLot(ctx context.Context, op *operation, qty, sellPrice, buyPrice float64, reason string) (Lot, bool, error) {
	op.update(func(p *models.OperationProgress) {
		p.CurrentStep = models.StepExecutingLot
		op.appendMessageLocked(fmt.Sprintf("Executing lot of %.4f: %s.", qty, reason))
	})
	e.publish(op)

	sellReq := e.orderRequest(op, op.req.InstrumentToSell, models.OrderSideSell, qty, sellPrice)
	sell, accepted := e.submitLeg(ctx, op, sellReq)
	if !accepted {
		return Lot{}, false, nil
	}

	op.setStep(models.StepVerifyingFill)
	e.publish(op)
	sellRes, err := e.verifyFill(ctx, op, sellReq, sell.OrderID, sell.SubmittedAt, sell.signal)
	e.tracker.Forget(sellReq.ClientOrderID)
	op.recordExecution(execution(sellReq, sell.SubmittedAt, sellRes))
	if err != nil {
		return Lot{}, false, err
	}
	if !sellRes.filled() {
		op.addMessage(fmt.Sprintf("Sell %s was not filled; retrying.", sellReq.ClientOrderID))
		e.publish(op)
		return Lot{}, false, nil
	}

	buyQty := sellRes.Qty
	if op.req.BuyQuantity > 0 {
		buyQty = minFloat(op.req.BuyQuantity, sellRes.Qty)
	}
	buyQty = RoundDown(buyQty, e.opts.QtyStep)
	lot := Lot{SoldQty: sellRes.Qty, SellPrice: sellRes.Price, BuyPrice: buyPrice}
	if buyQty <= qtyEpsilon {
		op.addMessage(fmt.Sprintf("Sold %.4f %s, below one tradable step to buy back.", lot.SoldQty, op.req.InstrumentToSell))
		return lot, true, fmt.Errorf("%w: buy quantity %.4f below step %.4f", ErrBuyLegFailed, sellRes.Qty, e.opts.QtyStep)
	}

	var lastErr error
	for attempt := 0; attempt <= e.opts.BuyLegRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, nil, retryBackoff(attempt, buyRetryBackoff, buyRetryBackoffMax)); err != nil {
				return lot, true, err
			}
		}
		op.setStep(models.StepExecutingLot)
		buyReq := e.orderRequest(op, op.req.InstrumentToBuy(), models.OrderSideBuy, buyQty, buyPrice)
		buy, accepted := e.submitLeg(ctx, op, buyReq)
		if !accepted {
			lastErr = fmt.Errorf("buy %s not accepted", buyReq.ClientOrderID)
			continue
		}

		op.setStep(models.StepVerifyingFill)
		e.publish(op)
		buyRes, err := e.verifyFill(ctx, op, buyReq, buy.OrderID, buy.SubmittedAt, buy.signal)
		e.tracker.Forget(buyReq.ClientOrderID)
		op.recordExecution(execution(buyReq, buy.SubmittedAt, buyRes))
		if err != nil {
			return lot, true, err
		}
		if buyRes.filled() {
			lot.BuyPrice = buyRes.Price
			return lot, true, nil
		}
		lastErr = fmt.Errorf("buy %s was not filled", buyReq.ClientOrderID)
	}
	op.addMessage(fmt.Sprintf("Buy leg failed after sold %.4f %s: %v.", lot.SoldQty, op.req.InstrumentToSell, lastErr))
	return lot, true, fmt.Errorf("%w: %v", ErrBuyLegFailed, lastErr)
}

type submittedLeg struct {
	OrderID     string
	SubmittedAt time.Time
	signal      <-chan struct{}
}

// submitLeg sends one order with the submit timeout. A rejection, an error
// or a timeout all count as not accepted and leave no execution record.
func (e *Engine) submitLeg(ctx context.Context, op *operation, req models.OrderRequest) (submittedLeg, bool) {
	signal := e.tracker.Track(req.ClientOrderID)
	submittedAt := time.Now()
	ack, err := e.submit(ctx, req)

	entry := e.opLog(op).WithFields(map[string]interface{}{
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             req.Qty,
		"price":           req.Price,
	})
	if err != nil || !ack.Accepted() {
		e.tracker.Forget(req.ClientOrderID)
		reason := ack.Message
		if err != nil {
			reason = err.Error()
		}
		metrics.OrdersSubmitted.WithLabelValues(string(req.Side), "rejected").Inc()
		entry.WithField("reason", reason).Warn("Order rejected.")
		op.addMessage(fmt.Sprintf("%s %.4f %s @ %.4f rejected: %s.", req.Side, req.Qty, req.Symbol, req.Price, reason))
		e.publish(op)
		return submittedLeg{}, false
	}

	metrics.OrdersSubmitted.WithLabelValues(string(req.Side), "accepted").Inc()
	entry.WithField("order_id", ack.OrderID).Info("Order accepted.")
	op.addMessage(fmt.Sprintf("%s %.4f %s @ %.4f accepted (%s).", req.Side, req.Qty, req.Symbol, req.Price, req.ClientOrderID))
	return submittedLeg{OrderID: ack.OrderID, SubmittedAt: submittedAt, signal: signal}, true
}

// submit bounds the gateway call even if the gateway ignores ctx.
func (e *Engine) submit(ctx context.Context, req models.OrderRequest) (models.OrderAck, error) {
	sctx, cancel := context.WithTimeout(ctx, e.opts.SubmitTimeout)
	defer cancel()

	type result struct {
		ack models.OrderAck
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ack, err := e.gateway.SubmitOrder(sctx, req)
		ch <- result{ack, err}
	}()

	select {
	case r := <-ch:
		return r.ack, r.err
	case <-sctx.Done():
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return models.OrderAck{Status: models.AckStatusError, Message: "submission timed out"}, fmt.Errorf("submission timed out after %s", e.opts.SubmitTimeout)
		}
		return models.OrderAck{Status: models.AckStatusError}, sctx.Err()
	}
}

func (e *Engine) orderRequest(op *operation, symbol string, side models.OrderSide, qty, price float64) models.OrderRequest {
	return models.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          e.opts.OrderType,
		Qty:           qty,
		Price:         price,
		TimeInForce:   e.opts.TimeInForce,
		ClientOrderID: op.nextClientOrderID(side),
	}
}

func execution(req models.OrderRequest, submittedAt time.Time, res fillResult) models.OrderExecution {
	exec := models.OrderExecution{
		Instrument:    req.Symbol,
		Side:          req.Side,
		Quantity:      req.Qty,
		Price:         req.Price,
		OrderID:       res.OrderID,
		ClientOrderID: req.ClientOrderID,
		SubmittedAt:   submittedAt,
		Status:        res.Status,
	}
	if res.Status == models.ExecutionFilled {
		exec.Quantity = res.Qty
		exec.Price = res.Price
	}
	return exec
}

// finalize sets the terminal status. A cancel request wins over the loop's
// outcome; completed needs at least one lot and the whole target filled.
func (e *Engine) finalize(op *operation, loopErr error) {
	op.update(func(p *models.OperationProgress) {
		p.CurrentStep = models.StepVerifyingRatio
		if p.LotCount > 0 {
			p.WeightedAverageRatio = op.avg.average()
			p.ConditionMet = op.req.Condition.Satisfied(p.WeightedAverageRatio, op.req.TargetRatio)
		} else {
			p.ConditionMet = false
		}
	})
	e.publish(op)

	op.update(func(p *models.OperationProgress) {
		p.CurrentStep = models.StepFinalizing
		now := time.Now()
		p.FinishedAt = &now

		switch {
		case p.CancelRequested:
			p.Status = models.StatusCancelled
			op.appendMessageLocked(fmt.Sprintf("Cancelled after %d lots, filled %.4f/%.4f.", p.LotCount, p.FilledSize, p.TargetSize))
		case loopErr == nil && p.LotCount > 0 && p.FilledSize > 0 && p.RemainingSize <= qtyEpsilon:
			p.Status = models.StatusCompleted
			op.appendMessageLocked(fmt.Sprintf("Completed in %d lots, weighted average ratio %.6f.", p.LotCount, p.WeightedAverageRatio))
		case (errors.Is(loopErr, ErrLiquidityExhausted) || errors.Is(loopErr, ErrBelowQtyStep)) && p.LotCount > 0:
			p.Status = models.StatusPartiallyCompleted
			p.Error = loopErr.Error()
			op.appendMessageLocked(fmt.Sprintf("Partially completed: %.4f/%.4f filled, %v.", p.FilledSize, p.TargetSize, loopErr))
		case loopErr != nil:
			p.Status = models.StatusFailed
			p.Error = loopErr.Error()
			op.appendMessageLocked("Failed: " + loopErr.Error() + ".")
		default:
			p.Status = models.StatusFailed
			p.Error = "operation ended without executing its target"
			op.appendMessageLocked("Failed: " + p.Error + ".")
		}
	})

	snap := op.snapshot()
	metrics.OperationsFinished.WithLabelValues(string(snap.Status)).Inc()
	entry := e.opLog(op).WithFields(map[string]interface{}{
		"status":    snap.Status,
		"lots":      snap.LotCount,
		"filled":    snap.FilledSize,
		"remaining": snap.RemainingSize,
		"avg":       snap.WeightedAverageRatio,
		"attempts":  snap.AttemptCount,
	})
	if snap.Error != "" {
		entry.WithField("error", snap.Error).Warn("Ratio operation finished.")
	} else {
		entry.Info("Ratio operation finished.")
	}
	e.publish(op)
}
