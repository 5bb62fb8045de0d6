package engine

import (
	"fmt"
	"ratiobot/internal/models"
	"sync"
	"time"
)

const defaultMessageLimit = 50

// operation is the engine-private state of one ratio operation. Only its
// own goroutine mutates the progress, except Cancel which sets
// CancelRequested. mu exists for concurrent readers.
type operation struct {
	id  string
	req models.RatioOperationRequest

	mu       sync.Mutex
	progress models.OperationProgress
	avg      ratioAccumulator
	seq      int
	msgLimit int

	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func newOperation(req models.RatioOperationRequest, msgLimit int) *operation {
	if msgLimit <= 0 {
		msgLimit = defaultMessageLimit
	}
	now := time.Now()
	return &operation{
		id:       req.OperationID,
		req:      req,
		msgLimit: msgLimit,
		progress: models.OperationProgress{
			OperationID:   req.OperationID,
			Request:       req,
			Status:        models.StatusPending,
			CurrentStep:   models.StepInitializing,
			TargetSize:    req.TargetSize,
			RemainingSize: req.TargetSize,
			StartedAt:     now,
			UpdatedAt:     now,
		},
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (o *operation) snapshot() models.OperationProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress.Clone()
}

func (o *operation) update(fn func(p *models.OperationProgress)) {
	o.mu.Lock()
	fn(&o.progress)
	o.progress.UpdatedAt = time.Now()
	o.mu.Unlock()
}

func (o *operation) appendMessageLocked(text string) {
	o.progress.Messages = append(o.progress.Messages, models.ProgressMessage{Time: time.Now(), Text: text})
	if extra := len(o.progress.Messages) - o.msgLimit; extra > 0 {
		o.progress.Messages = append(o.progress.Messages[:0:0], o.progress.Messages[extra:]...)
	}
}

func (o *operation) addMessage(text string) {
	o.update(func(p *models.OperationProgress) {
		o.appendMessageLocked(text)
	})
}

func (o *operation) setStep(step models.Step) {
	o.update(func(p *models.OperationProgress) {
		p.CurrentStep = step
	})
}

func (o *operation) cancelRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress.CancelRequested
}

func (o *operation) remaining() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress.RemainingSize
}

func (o *operation) attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress.AttemptCount
}

func (o *operation) lotCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress.LotCount
}

func (o *operation) average() ratioAccumulator {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.avg
}

// cancel flags a pending or running operation. The status stays as it is
// until finalize: an in-flight lot still gets booked and published before
// the operation turns cancelled.
func (o *operation) cancel() bool {
	o.mu.Lock()
	if !o.progress.Status.Cancellable() || o.progress.CancelRequested {
		o.mu.Unlock()
		return false
	}
	o.progress.CancelRequested = true
	o.progress.UpdatedAt = time.Now()
	o.appendMessageLocked("Cancellation requested; no new lots will be sent.")
	o.mu.Unlock()

	o.cancelOnce.Do(func() { close(o.cancelCh) })
	return true
}

// start moves pending to running. It fails if the operation was cancelled
// before its goroutine got scheduled.
func (o *operation) start() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress.Status != models.StatusPending || o.progress.CancelRequested {
		return false
	}
	o.progress.Status = models.StatusRunning
	o.appendMessageLocked(fmt.Sprintf("Started: sell %s / buy %s, target %.4f at ratio %s %.6f.",
		o.req.InstrumentToSell, o.req.InstrumentToBuy(), o.req.TargetSize, o.req.Condition, o.req.TargetRatio))
	return true
}

// nextClientOrderID returns a per-operation unique id for the gateway.
func (o *operation) nextClientOrderID(side models.OrderSide) string {
	o.mu.Lock()
	o.seq++
	seq := o.seq
	o.mu.Unlock()

	suffix := "s"
	if side == models.OrderSideBuy {
		suffix = "b"
	}
	return fmt.Sprintf("%s-%03d%s", o.id, seq, suffix)
}

func (o *operation) recordExecution(exec models.OrderExecution) {
	o.update(func(p *models.OperationProgress) {
		if exec.Side == models.OrderSideSell {
			p.SellFills = append(p.SellFills, exec)
		} else {
			p.BuyFills = append(p.BuyFills, exec)
		}
	})
}

// creditLot books one executed lot: sizes, lot count and the average.
func (o *operation) creditLot(lot Lot) models.OperationProgress {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := &o.progress
	o.avg.add(lot.Ratio(), lot.SoldQty)
	p.LotCount++
	p.FilledSize += lot.SoldQty
	p.RemainingSize = p.TargetSize - p.FilledSize
	if p.RemainingSize < qtyEpsilon {
		p.RemainingSize = 0
	}
	p.WeightedAverageRatio = o.avg.average()
	p.ConditionMet = o.req.Condition.Satisfied(p.WeightedAverageRatio, o.req.TargetRatio)
	p.UpdatedAt = time.Now()
	o.appendMessageLocked(fmt.Sprintf("Lot %d: sold %.4f %s @ %.4f, bought %s @ %.4f, ratio %.6f, average %.6f, filled %.4f/%.4f.",
		p.LotCount, lot.SoldQty, o.req.InstrumentToSell, lot.SellPrice, o.req.InstrumentToBuy(), lot.BuyPrice,
		lot.Ratio(), p.WeightedAverageRatio, p.FilledSize, p.TargetSize))
	return p.Clone()
}
