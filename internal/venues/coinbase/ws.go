// Package coinbase speaks the Coinbase Advanced Trade market-data
// protocol: the level2 WebSocket channel plus the Exchange REST API for
// product listings and book snapshots.
package coinbase

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsHost      = "advanced-trade-ws.coinbase.com"
	wsChannel   = "level2"
	readLimit   = 1 << 22 // snapshots for deep books are large
	dialTimeout = 10 * time.Second
)

type subscribeMsg struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	ProductIDs []string `json:"product_ids"`
}

// WS is the Coinbase level2 connector. Start blocks in the read loop and
// hands each text frame to the onMessage callback; the callback must stay
// cheap, the WS goroutine is the socket's only consumer.
type WS struct {
	product   string
	onMessage func([]byte)
	log       *zap.Logger

	stopped atomic.Bool
	mu      sync.Mutex
	conn    *websocket.Conn
}

func NewWS(product string, onMessage func([]byte), log *zap.Logger) *WS {
	if log == nil {
		log = zap.NewNop()
	}
	return &WS{product: product, onMessage: onMessage, log: log.Named("coinbase-ws")}
}

// Start dials, subscribes to the book channel and reads until Stop or a
// terminal error. An orderly close (local stop or remote normal close)
// returns nil.
func (w *WS) Start(port int) error {
	d := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	u := url.URL{Scheme: "wss", Host: net.JoinHostPort(wsHost, strconv.Itoa(port)), Path: "/"}

	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsHost, err)
	}

	w.mu.Lock()
	if w.stopped.Load() {
		w.mu.Unlock()
		conn.Close()
		return nil
	}
	w.conn = conn
	w.mu.Unlock()

	sub := subscribeMsg{Type: "subscribe", Channel: wsChannel, ProductIDs: []string{w.product}}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe %s: %w", w.product, err)
	}

	conn.SetReadLimit(readLimit)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if w.stopped.Load() || isBenignClose(err) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if w.onMessage != nil {
			w.onMessage(data)
		}
	}
}

// Stop is idempotent and thread-safe: it posts a close frame and tears the
// socket down, which unblocks the read loop.
func (w *WS) Stop() {
	w.stopped.Store(true)
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
}

func isBenignClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "not connected")
}
