package primary

import (
	"context"
	"net/http"
	"net/url"
	"ratiobot/internal/models"
)

type newOrderResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Order   struct {
		ClientID    string `json:"clientId"`
		Proprietary string `json:"proprietary"`
	} `json:"order"`
}

// SubmitOrder places a single order. A broker-side refusal is an ack with
// status error, not a Go error.
func (c *Client) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error) {
	qty := formatQty(req.Qty)
	if qty == "0" {
		return models.OrderAck{Status: models.AckStatusError, Message: "quantity below one nominal"}, nil
	}

	params := url.Values{}
	params.Set("marketId", c.marketID)
	params.Set("symbol", req.Symbol)
	params.Set("orderQty", qty)
	params.Set("ordType", string(req.Type))
	params.Set("side", string(req.Side))
	params.Set("account", c.account)
	params.Set("cancelPrevious", "false")
	params.Set("iceberg", "false")
	if req.TimeInForce != "" {
		params.Set("timeInForce", req.TimeInForce)
	}
	if req.Type != models.OrderTypeMarket {
		params.Set("price", formatPrice(req.Price))
	}
	if req.ClientOrderID != "" {
		params.Set("wsClOrdId", req.ClientOrderID)
	}

	var resp newOrderResponse
	if err := c.doRequest(ctx, http.MethodGet, "/rest/order/newSingleOrder", params, &resp); err != nil {
		return models.OrderAck{}, err
	}

	entry := c.logEntry().WithFields(map[string]interface{}{
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             qty,
		"price":           params.Get("price"),
	})
	if resp.Status != "OK" {
		msg := resp.Message
		if msg == "" {
			msg = "status " + resp.Status
		}
		entry.WithField("message", msg).Warn("Order refused by the broker.")
		return models.OrderAck{Status: models.AckStatusError, Message: msg}, nil
	}

	entry.WithField("order_id", resp.Order.ClientID).Debug("Order placed.")
	return models.OrderAck{Status: models.AckStatusOK, OrderID: resp.Order.ClientID}, nil
}
