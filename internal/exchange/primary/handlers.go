package primary

import (
	"encoding/json"
	"ratiobot/internal/exchange"
	"ratiobot/internal/models"
	"strings"
	"time"
)

const transactTimeLayout = "20060102-15:04:05.000-0700"

func (w *Stream) handleMarketData(data []byte) {
	var msg marketDataMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		w.logEntry().WithError(err).Warn("Unparseable market data.")
		return
	}

	md := msg.MarketData
	quote := models.Quote{
		Symbol:    msg.InstrumentID.Symbol,
		Timestamp: time.Now(),
	}
	if len(md.BI) > 0 {
		quote.Bid = md.BI[0].Price
		quote.BidSize = md.BI[0].Size
	}
	if len(md.OF) > 0 {
		quote.Offer = md.OF[0].Price
		quote.OfferSize = md.OF[0].Size
	}
	if md.LA != nil {
		quote.Last = md.LA.Price
	}

	w.logEntry().WithFields(map[string]interface{}{
		"symbol":     quote.Symbol,
		"bid":        quote.Bid,
		"bid_size":   quote.BidSize,
		"offer":      quote.Offer,
		"offer_size": quote.OfferSize,
		"last":       quote.Last,
	}).Debug("market data")

	w.emit(exchange.Event{Type: exchange.EventTypeMarketData, MarketData: &quote})
}

func (w *Stream) handleOrderReport(data []byte) {
	var msg orderReportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		w.logEntry().WithError(err).Warn("Unparseable order report.")
		return
	}

	var item orderReport
	var fields map[string]any
	if err := json.Unmarshal(msg.OrderReport, &item); err != nil {
		w.logEntry().WithError(err).Warn("Unparseable order report body.")
		return
	}
	if err := json.Unmarshal(msg.OrderReport, &fields); err != nil {
		w.logEntry().WithError(err).Warn("Unparseable order report body.")
		return
	}

	report := models.OrderReport{
		ClientOrderID: ClientOrderIDFromFields(fields),
		OrderID:       item.OrderID,
		Symbol:        item.InstrumentID.Symbol,
		Side:          models.OrderSide(strings.ToUpper(item.Side)),
		Status:        orderStatus(item.Status),
		FilledQty:     item.CumQty,
		Price:         reportPrice(item),
		Text:          item.Text,
		Timestamp:     reportTime(item.TransactTime, msg.Timestamp),
	}

	w.logEntry().WithFields(map[string]interface{}{
		"client_order_id": report.ClientOrderID,
		"order_id":        report.OrderID,
		"symbol":          report.Symbol,
		"side":            report.Side,
		"status":          item.Status,
		"cum_qty":         item.CumQty,
		"leaves_qty":      item.LeavesQty,
		"avg_px":          item.AvgPx,
		"text":            item.Text,
	}).Debug("order report")

	if report.ClientOrderID == "" {
		w.logEntry().WithField("order_id", report.OrderID).Warn("Order report without a client order id.")
		return
	}
	w.emit(exchange.Event{Type: exchange.EventTypeReport, Report: &report})
}

// orderStatus folds the broker's intermediate states into NEW.
func orderStatus(s string) models.OrderStatus {
	switch strings.ToUpper(s) {
	case "FILLED":
		return models.OrderStatusFilled
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartiallyFilled
	case "CANCELLED", "CANCELED", "EXPIRED":
		return models.OrderStatusCancelled
	case "REJECTED":
		return models.OrderStatusRejected
	}
	return models.OrderStatusNew
}

func reportPrice(item orderReport) float64 {
	switch {
	case item.AvgPx > 0:
		return item.AvgPx
	case item.LastPx > 0:
		return item.LastPx
	}
	return item.Price
}

func reportTime(transactTime string, tsMs int64) time.Time {
	if transactTime != "" {
		if t, err := time.Parse(transactTimeLayout, transactTime); err == nil {
			return t
		}
	}
	if tsMs > 0 {
		return time.UnixMilli(tsMs)
	}
	return time.Now()
}
