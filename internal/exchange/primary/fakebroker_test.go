package primary

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"ratiobot/internal/config"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeBroker serves the auth, order entry and WS endpoints.
type fakeBroker struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	logins     atomic.Int32
	conns      atomic.Int32
	expireOnce atomic.Bool

	mu       sync.Mutex
	queries  []url.Values
	subs     []map[string]any
	frames   []string
	dropConn int32
	orderRes string
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{orderRes: `{"status":"OK","order":{"clientId":"cid-1","proprietary":"PBCP"}}`}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/getToken", b.handleAuth)
	mux.HandleFunc("/rest/order/newSingleOrder", b.handleOrder)
	mux.HandleFunc("/", b.handleWS)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) config() config.BrokerConfig {
	return config.BrokerConfig{
		BaseUrl:     b.srv.URL,
		WSUrl:       "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/",
		Username:    "user",
		Password:    "pass",
		Account:     "REM123",
		MarketID:    "ROFX",
		Instruments: []string{"TX26", "TX28"},
	}
}

func (b *fakeBroker) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.Header.Get("X-Username") != "user" || r.Header.Get("X-Password") != "pass" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	n := b.logins.Add(1)
	w.Header().Set(tokenHeader, fmt.Sprintf("tok-%d", n))
	w.WriteHeader(http.StatusOK)
}

func (b *fakeBroker) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(tokenHeader) == "" || b.expireOnce.CompareAndSwap(true, false) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	b.mu.Lock()
	b.queries = append(b.queries, r.URL.Query())
	res := b.orderRes
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(res))
}

func (b *fakeBroker) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(tokenHeader) == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := b.conns.Add(1)

	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub map[string]any
		_ = json.Unmarshal(data, &sub)
		b.mu.Lock()
		b.subs = append(b.subs, sub)
		b.mu.Unlock()
	}

	b.mu.Lock()
	frames := append([]string(nil), b.frames...)
	drop := b.dropConn
	b.mu.Unlock()
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
	if n == drop {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *fakeBroker) lastQuery() url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queries) == 0 {
		return nil
	}
	return b.queries[len(b.queries)-1]
}

func (b *fakeBroker) subscriptions() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.subs...)
}
