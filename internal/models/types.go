package models

import "time"

type OrderSide string
type OrderType string
type OrderStatus string
type AckStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"

	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"

	AckStatusOK    AckStatus = "ok"
	AckStatusError AckStatus = "error"
)

// Terminal reports whether no further report is expected for the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Quote is the latest two-sided snapshot of one instrument.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Offer     float64   `json:"offer"`
	Last      float64   `json:"last"`
	BidSize   float64   `json:"bid_size"`
	OfferSize float64   `json:"offer_size"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Qty           float64   `json:"qty"`
	Price         float64   `json:"price"`
	TimeInForce   string    `json:"time_in_force"`
	ClientOrderID string    `json:"client_order_id"`
}

// OrderAck is the synchronous answer to an order submission. It says
// nothing about fills.
type OrderAck struct {
	Status  AckStatus `json:"status"`
	OrderID string    `json:"order_id,omitempty"`
	Message string    `json:"message,omitempty"`
}

func (a OrderAck) Accepted() bool {
	return a.Status == AckStatusOK
}

// OrderReport is one asynchronous status update, already correlated to the
// client order id assigned by the engine.
type OrderReport struct {
	ClientOrderID string      `json:"client_order_id"`
	OrderID       string      `json:"order_id"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Status        OrderStatus `json:"status"`
	FilledQty     float64     `json:"filled_qty"`
	Price         float64     `json:"price"`
	Text          string      `json:"text,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}
