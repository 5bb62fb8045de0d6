package primary

import "encoding/json"

// Message is the envelope shared by every WS frame.
type Message struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

type product struct {
	Symbol   string `json:"symbol"`
	MarketID string `json:"marketId"`
}

type marketDataSubscription struct {
	Type     string    `json:"type"`
	Level    int       `json:"level"`
	Entries  []string  `json:"entries"`
	Products []product `json:"products"`
}

type accountRef struct {
	ID string `json:"id"`
}

type orderReportSubscription struct {
	Type     string       `json:"type"`
	Accounts []accountRef `json:"accounts"`
}

type bookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type lastTrade struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Date  int64   `json:"date"`
}

type marketDataMessage struct {
	Timestamp    int64   `json:"timestamp"`
	InstrumentID product `json:"instrumentId"`
	MarketData   struct {
		BI []bookLevel `json:"BI"`
		OF []bookLevel `json:"OF"`
		LA *lastTrade  `json:"LA"`
	} `json:"marketData"`
}

type orderReportMessage struct {
	Timestamp   int64           `json:"timestamp"`
	OrderReport json.RawMessage `json:"orderReport"`
}

type orderReport struct {
	OrderID      string  `json:"orderId"`
	InstrumentID product `json:"instrumentId"`
	Side         string  `json:"side"`
	Status       string  `json:"status"`
	Price        float64 `json:"price"`
	OrderQty     float64 `json:"orderQty"`
	CumQty       float64 `json:"cumQty"`
	LeavesQty    float64 `json:"leavesQty"`
	AvgPx        float64 `json:"avgPx"`
	LastPx       float64 `json:"lastPx"`
	Text         string  `json:"text"`
	TransactTime string  `json:"transactTime"`
}
