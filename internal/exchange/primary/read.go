package primary

import (
	"context"
	"encoding/json"
	"ratiobot/internal/exchange"
	"time"
)

func (w *Stream) readLoop() {
	w.logEntry().Debug("Read loop started.")

	for {
		if w.stopped() {
			w.closeConn()
			return
		}

		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			w.connected.Store(false)
			if w.stopped() {
				return
			}
			w.logEntry().WithError(err).Warn("Broker WS read failed.")
			if !w.reconnect() {
				return
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logEntry().WithError(err).Warn("Unparseable WS message.")
			continue
		}

		switch msg.Type {
		case "Md", "md":
			w.handleMarketData(data)
		case "or", "OR":
			w.handleOrderReport(data)
		default:
			if msg.Status == "ERROR" {
				w.logEntry().WithField("description", msg.Description).Warn("Broker WS error message.")
			}
		}
	}
}

func (w *Stream) reconnect() bool {
	backoff := w.reconnectMin

	for {
		w.logEntry().WithField("backoff", backoff).Info("Reconnecting to the broker WS.")

		timer := time.NewTimer(backoff)
		select {
		case <-w.stopCh:
			timer.Stop()
			return false
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.dial(ctx)
		cancel()
		if err != nil {
			w.logEntry().WithError(err).Warn("Broker WS reconnect failed.")
			backoff = w.nextBackoff(backoff)
			continue
		}

		w.emit(exchange.Event{Type: exchange.EventTypeReconnect})
		w.logEntry().Info("Broker WS reconnected and subscriptions restored.")
		return true
	}
}

func (w *Stream) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > w.reconnectMax {
		return w.reconnectMax
	}
	return next
}
