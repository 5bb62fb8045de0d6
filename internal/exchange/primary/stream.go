package primary

import (
	"context"
	"fmt"
	"net/http"
	"ratiobot/internal/exchange"
	"ratiobot/internal/logger"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Stream is the broker WebSocket: market data and order reports for one
// account. It reconnects on its own and re-subscribes.
type Stream struct {
	url      string
	token    func(ctx context.Context) (string, error)
	refresh  func(stale string)
	products []product
	account  string
	log      *logger.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	events       chan exchange.Event
	connected    atomic.Bool
	stopCh       chan struct{}
	stopOnce     sync.Once
	reconnectMin time.Duration
	reconnectMax time.Duration
}

func NewStream(url string, client *Client, symbols []string, log *logger.Logger) *Stream {
	products := make([]product, 0, len(symbols))
	for _, s := range symbols {
		products = append(products, product{Symbol: s, MarketID: client.marketID})
	}
	return &Stream{
		url:          url,
		token:        client.Token,
		refresh:      client.invalidateToken,
		products:     products,
		account:      client.account,
		log:          log,
		events:       make(chan exchange.Event, 256),
		stopCh:       make(chan struct{}),
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

func (w *Stream) Connect(ctx context.Context) error {
	w.logEntry().WithField("url", w.url).Info("Connecting to the broker WS.")

	if err := w.dial(ctx); err != nil {
		return err
	}
	w.logEntry().Info("Broker WS connected.")

	go w.readLoop()
	return nil
}

func (w *Stream) dial(ctx context.Context) error {
	token, err := w.token(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set(tokenHeader, token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			w.refresh(token)
		}
		return fmt.Errorf("dial broker WS: %w", err)
	}
	conn.SetReadLimit(2 << 20)

	w.mu.Lock()
	old := w.conn
	w.conn = conn
	w.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	if err := w.subscribe(); err != nil {
		_ = conn.Close()
		return err
	}
	w.connected.Store(true)
	return nil
}

func (w *Stream) subscribe() error {
	if len(w.products) > 0 {
		msg := marketDataSubscription{
			Type:     "smd",
			Level:    1,
			Entries:  []string{"BI", "OF", "LA"},
			Products: w.products,
		}
		if err := w.writeJSON(msg); err != nil {
			return fmt.Errorf("subscribe market data: %w", err)
		}
	}
	if w.account != "" {
		msg := orderReportSubscription{
			Type:     "os",
			Accounts: []accountRef{{ID: w.account}},
		}
		if err := w.writeJSON(msg); err != nil {
			return fmt.Errorf("subscribe order reports: %w", err)
		}
	}
	return nil
}

func (w *Stream) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	return w.conn.WriteJSON(v)
}

func (w *Stream) Events() <-chan exchange.Event {
	return w.events
}

func (w *Stream) Connected() bool {
	return w.connected.Load()
}

// Close stops the read loop and drops the connection. Events is not closed.
func (w *Stream) Close() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.closeConn()
	})
}

func (w *Stream) closeConn() {
	w.connected.Store(false)
	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
	}
	w.mu.Unlock()
}

func (w *Stream) stopped() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Stream) emit(ev exchange.Event) {
	select {
	case w.events <- ev:
	case <-w.stopCh:
	}
}

func (w *Stream) logEntry() *logrus.Entry {
	return w.log.WithComponent("primary_ws")
}
