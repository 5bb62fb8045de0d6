package api

import (
	"context"
	"errors"
	"net/http"
	"ratiobot/internal/engine"
	"ratiobot/internal/logger"
	"ratiobot/internal/models"
	"ratiobot/internal/notifier"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Operations is the part of the engine the control surface drives.
type Operations interface {
	Start(ctx context.Context, req models.RatioOperationRequest) (models.OperationProgress, error)
	Get(id string) (models.OperationProgress, bool)
	List() []models.OperationProgress
	Cancel(id string) bool
	RegisterProgressListener(id string, cb notifier.Callback) (notifier.ListenerID, error)
	RemoveProgressListener(id string, lid notifier.ListenerID)
	Connected() bool
}

type QuoteBook interface {
	Set(symbol string, quote models.Quote)
	Snapshot() map[string]models.Quote
}

// Handler holds the HTTP handler dependencies.
type Handler struct {
	ops      Operations
	quotes   QuoteBook
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(ops Operations, quotes QuoteBook, log *logger.Logger) *Handler {
	return &Handler{
		ops:    ops,
		quotes: quotes,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/operations", h.StartOperation)
		v1.GET("/operations", h.ListOperations)
		v1.GET("/operations/:id", h.GetOperation)
		v1.DELETE("/operations/:id", h.CancelOperation)
		v1.GET("/operations/:id/stream", h.StreamOperation)
		v1.GET("/quotes", h.GetQuotes)
		v1.PUT("/quotes/:symbol", h.PutQuote)
	}
}

func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	connected := h.ops.Connected()
	if !connected {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"service":           "ratiobot",
		"gateway_connected": connected,
	})
}

// StartOperationRequest is the request body for a new ratio operation.
type StartOperationRequest struct {
	OperationID      string   `json:"operation_id"`
	InstrumentPair   []string `json:"instrument_pair" binding:"required,len=2"`
	InstrumentToSell string   `json:"instrument_to_sell" binding:"required"`
	TargetSize       float64  `json:"target_size" binding:"required,gt=0"`
	TargetRatio      float64  `json:"target_ratio" binding:"required,gt=0"`
	Condition        string   `json:"condition" binding:"required,oneof=<= >="`
	MaxAttempts      int      `json:"max_attempts" binding:"gte=0"`
	BuyQuantity      float64  `json:"buy_quantity" binding:"gte=0"`
}

// StartOperation handles POST /v1/operations.
func (h *Handler) StartOperation(c *gin.Context) {
	var req StartOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.ops.Start(c.Request.Context(), models.RatioOperationRequest{
		OperationID:      req.OperationID,
		InstrumentPair:   [2]string{req.InstrumentPair[0], req.InstrumentPair[1]},
		InstrumentToSell: req.InstrumentToSell,
		TargetSize:       req.TargetSize,
		TargetRatio:      req.TargetRatio,
		Condition:        models.Condition(req.Condition),
		MaxAttempts:      req.MaxAttempts,
		BuyQuantity:      req.BuyQuantity,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"operation_id": snap.OperationID,
		"status":       snap.Status,
	})
}

// ListOperations handles GET /v1/operations.
func (h *Handler) ListOperations(c *gin.Context) {
	c.JSON(http.StatusOK, h.ops.List())
}

// GetOperation handles GET /v1/operations/:id.
func (h *Handler) GetOperation(c *gin.Context) {
	snap, ok := h.ops.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CancelOperation handles DELETE /v1/operations/:id. Cancellation is
// cooperative, so the answer is only whether it was accepted.
func (h *Handler) CancelOperation(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.ops.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}
	if !h.ops.Cancel(id) {
		c.JSON(http.StatusConflict, gin.H{"operation_id": id, "accepted": false})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"operation_id": id, "accepted": true})
}

// GetQuotes handles GET /v1/quotes.
func (h *Handler) GetQuotes(c *gin.Context) {
	c.JSON(http.StatusOK, h.quotes.Snapshot())
}

// QuoteRequest is a manual top-of-book update.
type QuoteRequest struct {
	Bid       float64 `json:"bid" binding:"gte=0"`
	Offer     float64 `json:"offer" binding:"gte=0"`
	Last      float64 `json:"last" binding:"gte=0"`
	BidSize   float64 `json:"bid_size" binding:"gte=0"`
	OfferSize float64 `json:"offer_size" binding:"gte=0"`
}

// PutQuote handles PUT /v1/quotes/:symbol, the quote source for dry runs
// without a broker feed.
func (h *Handler) PutQuote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := c.Param("symbol")
	h.quotes.Set(symbol, models.Quote{
		Bid:       req.Bid,
		Offer:     req.Offer,
		Last:      req.Last,
		BidSize:   req.BidSize,
		OfferSize: req.OfferSize,
	})
	h.log.WithSymbol(symbol).WithFields(map[string]interface{}{
		"bid":   req.Bid,
		"offer": req.Offer,
	}).Debug("Quote set manually.")
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrDuplicateOperation):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEngineClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
