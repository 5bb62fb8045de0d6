package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"ratiobot/internal/config"
	"ratiobot/internal/exchange"
	"ratiobot/internal/logger"
	"ratiobot/internal/metrics"
	"ratiobot/internal/models"
	"ratiobot/internal/notifier"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrDuplicateOperation = errors.New("operation already exists")
	ErrNotFound           = errors.New("operation not found")
	ErrSafetyCeiling      = errors.New("safety ceiling reached")
	ErrAttemptsExhausted  = errors.New("max attempts reached")
	ErrLiquidityExhausted = errors.New("liquidity exhausted")
	ErrBelowQtyStep       = errors.New("remaining size below the tradable step")
	ErrUnconfirmedFill    = errors.New("fill not confirmed")
	ErrBuyLegFailed       = errors.New("buy leg failed after the sell was filled")
	ErrEngineClosed       = errors.New("engine closed")
)

// QuoteSource is the read side of the quote store.
type QuoteSource interface {
	Fresh(symbol string, maxAge time.Duration) (models.Quote, bool)
}

type Options struct {
	SafetyCeiling      int
	WaitBackoff        time.Duration
	LotPause           time.Duration
	FillTimeout        time.Duration
	FillPollInterval   time.Duration
	FillPolicy         FillPolicy
	SubmitTimeout      time.Duration
	BuyLegRetries      int
	Margin             float64
	LargeLotFraction   float64
	ZeroLiquidityLimit int
	MaxQuoteAge        time.Duration
	Retention          time.Duration
	// QtyStep is the broker's tradable unit. Lots are rounded down to it.
	QtyStep            float64
	OrderType          models.OrderType
	TimeInForce        string
	MessageLimit       int
}

func DefaultOptions() Options {
	return Options{
		SafetyCeiling:      1000,
		WaitBackoff:        5 * time.Second,
		LotPause:           1 * time.Second,
		FillTimeout:        10 * time.Second,
		FillPollInterval:   1 * time.Second,
		FillPolicy:         FillPolicyAssumeFilled,
		SubmitTimeout:      5 * time.Second,
		BuyLegRetries:      3,
		Margin:             0.05,
		LargeLotFraction:   0.30,
		ZeroLiquidityLimit: 30,
		Retention:          5 * time.Minute,
		QtyStep:            1,
		OrderType:          models.OrderTypeLimit,
		TimeInForce:        "DAY",
		MessageLimit:       defaultMessageLimit,
	}
}

func OptionsFromConfig(cfg config.EngineConfig) (Options, error) {
	policy, err := ParseFillPolicy(cfg.FillPolicy)
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.SafetyCeiling = cfg.SafetyCeiling
	opts.WaitBackoff = cfg.WaitBackoff
	opts.LotPause = cfg.LotPause
	opts.FillTimeout = cfg.FillTimeout
	opts.FillPollInterval = cfg.FillPollInterval
	opts.FillPolicy = policy
	opts.SubmitTimeout = cfg.SubmitTimeout
	opts.Margin = cfg.Margin
	opts.LargeLotFraction = cfg.LargeLotFraction
	opts.ZeroLiquidityLimit = cfg.ZeroLiquidityLimit
	opts.MaxQuoteAge = cfg.MaxQuoteAge
	opts.Retention = cfg.Retention
	opts.QtyStep = cfg.QtyStep
	if cfg.OrderType != "" {
		opts.OrderType = models.OrderType(cfg.OrderType)
	}
	if cfg.TimeInForce != "" {
		opts.TimeInForce = cfg.TimeInForce
	}
	return opts, nil
}

// Engine runs ratio operations and is their registry: every live operation
// is owned by exactly one goroutine and callers only ever see copies.
type Engine struct {
	opts     Options
	quotes   QuoteSource
	gateway  exchange.Gateway
	notifier *notifier.Notifier
	log      *logger.Logger
	tracker  *fillTracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	ops    map[string]*operation
	closed bool
}

func New(opts Options, quotes QuoteSource, gateway exchange.Gateway, n *notifier.Notifier, log *logger.Logger) *Engine {
	if opts.SafetyCeiling <= 0 {
		opts.SafetyCeiling = DefaultOptions().SafetyCeiling
	}
	if opts.FillPolicy == "" {
		opts.FillPolicy = FillPolicyAssumeFilled
	}
	if opts.FillPollInterval <= 0 {
		opts.FillPollInterval = DefaultOptions().FillPollInterval
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultOptions().SubmitTimeout
	}
	if opts.OrderType == "" {
		opts.OrderType = models.OrderTypeLimit
	}
	if n == nil {
		n = notifier.New(log, 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:     opts,
		quotes:   quotes,
		gateway:  gateway,
		notifier: n,
		log:      log,
		tracker:  newFillTracker(),
		ctx:      ctx,
		cancel:   cancel,
		ops:      make(map[string]*operation),
	}
}

// Run routes order reports from the gateway to waiting operations until ctx
// is done or the report stream closes.
func (e *Engine) Run(ctx context.Context) error {
	reports := e.gateway.Reports()
	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-prune.C:
			if n := e.tracker.Prune(10 * time.Minute); n > 0 {
				e.logEntry().WithField("count", n).Debug("Pruned stale order reports.")
			}
		case rep, ok := <-reports:
			if !ok {
				e.logEntry().Warn("Order report stream closed.")
				return nil
			}
			e.logEntry().WithFields(map[string]interface{}{
				"client_order_id": rep.ClientOrderID,
				"order_id":        rep.OrderID,
				"status":          rep.Status,
				"filled_qty":      rep.FilledQty,
				"price":           rep.Price,
			}).Debug("order report")
			e.tracker.Deliver(rep)
		}
	}
}

// Start validates req, registers it and launches its loop. The returned
// snapshot is the operation in pending.
func (e *Engine) Start(ctx context.Context, req models.RatioOperationRequest) (models.OperationProgress, error) {
	if err := ctx.Err(); err != nil {
		return models.OperationProgress{}, err
	}
	req.OperationID = strings.TrimSpace(req.OperationID)
	req.InstrumentPair[0] = strings.TrimSpace(req.InstrumentPair[0])
	req.InstrumentPair[1] = strings.TrimSpace(req.InstrumentPair[1])
	req.InstrumentToSell = strings.TrimSpace(req.InstrumentToSell)
	if req.OperationID == "" {
		req.OperationID = newOperationID()
	}
	if err := validateRequest(req, e.opts.QtyStep); err != nil {
		return models.OperationProgress{}, err
	}

	op := newOperation(req, e.opts.MessageLimit)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return models.OperationProgress{}, ErrEngineClosed
	}
	if _, exists := e.ops[req.OperationID]; exists {
		e.mu.Unlock()
		return models.OperationProgress{}, fmt.Errorf("%w: %s", ErrDuplicateOperation, req.OperationID)
	}
	e.ops[req.OperationID] = op
	e.wg.Add(1)
	e.mu.Unlock()

	metrics.OperationsStarted.Inc()
	e.opLog(op).WithFields(map[string]interface{}{
		"sell":         req.InstrumentToSell,
		"buy":          req.InstrumentToBuy(),
		"target_size":  req.TargetSize,
		"target_ratio": req.TargetRatio,
		"condition":    req.Condition,
		"max_attempts": req.MaxAttempts,
	}).Info("Ratio operation registered.")

	snap := op.snapshot()
	go e.execute(op)
	return snap, nil
}

func (e *Engine) Get(id string) (models.OperationProgress, bool) {
	op, ok := e.lookup(id)
	if !ok {
		return models.OperationProgress{}, false
	}
	return op.snapshot(), true
}

// List returns snapshots of every retained operation, oldest first.
func (e *Engine) List() []models.OperationProgress {
	e.mu.Lock()
	ops := make([]*operation, 0, len(e.ops))
	for _, op := range e.ops {
		ops = append(ops, op)
	}
	e.mu.Unlock()

	out := make([]models.OperationProgress, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Wait blocks until the operation reaches a terminal status.
func (e *Engine) Wait(ctx context.Context, id string) (models.OperationProgress, error) {
	op, ok := e.lookup(id)
	if !ok {
		return models.OperationProgress{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	select {
	case <-ctx.Done():
		return op.snapshot(), ctx.Err()
	case <-op.done:
		return op.snapshot(), nil
	}
}

// Cancel requests cooperative cancellation. It reports whether the
// operation was still pending or running.
func (e *Engine) Cancel(id string) bool {
	op, ok := e.lookup(id)
	if !ok {
		return false
	}
	if !op.cancel() {
		return false
	}
	e.opLog(op).Info("Cancellation requested.")
	e.publish(op)
	return true
}

func (e *Engine) RegisterProgressListener(id string, cb notifier.Callback) (notifier.ListenerID, error) {
	if _, ok := e.lookup(id); !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.notifier.Register(id, cb), nil
}

func (e *Engine) RemoveProgressListener(id string, lid notifier.ListenerID) {
	e.notifier.Remove(id, lid)
}

func (e *Engine) Connected() bool {
	return e.gateway.Connected()
}

// Close cancels every operation, waits for their loops to finish and
// refuses new ones.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	ops := make([]*operation, 0, len(e.ops))
	for _, op := range e.ops {
		ops = append(ops, op)
	}
	e.mu.Unlock()

	for _, op := range ops {
		op.cancel()
	}
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) lookup(id string) (*operation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.ops[id]
	return op, ok
}

// publish sends the current snapshot to the operation's listeners.
func (e *Engine) publish(op *operation) {
	e.notifier.Notify(e.ctx, op.id, op.snapshot().Event())
}

func (e *Engine) scheduleEviction(op *operation) {
	if e.opts.Retention <= 0 {
		return
	}
	time.AfterFunc(e.opts.Retention, func() {
		e.mu.Lock()
		if cur, ok := e.ops[op.id]; ok && cur == op {
			delete(e.ops, op.id)
		}
		e.mu.Unlock()
		e.notifier.Unregister(op.id)
		metrics.WeightedAverageRatio.DeleteLabelValues(op.id)
	})
}

func validateRequest(req models.RatioOperationRequest, step float64) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidRequest}, args...)...)
	}
	a, b := req.InstrumentPair[0], req.InstrumentPair[1]
	switch {
	case a == "" || b == "":
		return bad("instrument_pair needs two instruments")
	case a == b:
		return bad("instrument_pair has the same instrument twice (%s)", a)
	case req.InstrumentToSell != a && req.InstrumentToSell != b:
		return bad("instrument_to_sell %q is not in the pair", req.InstrumentToSell)
	case !(req.TargetSize > 0) || math.IsInf(req.TargetSize, 0):
		return bad("target_size must be positive")
	case !(req.TargetRatio > 0) || math.IsInf(req.TargetRatio, 0):
		return bad("target_ratio must be positive")
	case req.MaxAttempts < 0:
		return bad("max_attempts must not be negative")
	case req.BuyQuantity < 0:
		return bad("buy_quantity must not be negative")
	case req.BuyQuantity > req.TargetSize:
		return bad("buy_quantity %v is above target_size %v", req.BuyQuantity, req.TargetSize)
	case step > 0 && req.TargetSize < step-qtyEpsilon:
		return bad("target_size %v is below the tradable step %v", req.TargetSize, step)
	case step > 0 && req.BuyQuantity > 0 && req.BuyQuantity < step-qtyEpsilon:
		return bad("buy_quantity %v is below the tradable step %v", req.BuyQuantity, step)
	}
	if _, err := models.ParseCondition(string(req.Condition)); err != nil {
		return bad("%v", err)
	}
	return nil
}
