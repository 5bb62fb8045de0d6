package exchange

import (
	"context"
	"ratiobot/internal/models"
)

type EventType string

const (
	EventTypeMarketData EventType = "MarketData"
	EventTypeReport     EventType = "Report"
	EventTypeReconnect  EventType = "Reconnect"
)

type Event struct {
	Type       EventType
	MarketData *models.Quote
	Report     *models.OrderReport
}

// Gateway is the order entry side of a broker. SubmitOrder only
// acknowledges; fills arrive later on Reports, keyed by the request's
// ClientOrderID.
type Gateway interface {
	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error)
	Reports() <-chan models.OrderReport
	Connected() bool
}

// QuoteSink receives market data pushed by a feed.
type QuoteSink interface {
	Set(symbol string, quote models.Quote)
}
