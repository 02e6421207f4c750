// Package kraken speaks the Kraken v2 market-data protocol: the book
// WebSocket channel plus the public REST API for asset-pair listings and
// depth snapshots.
package kraken

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
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
	wsHost      = "ws.kraken.com"
	wsPath      = "/v2"
	wsChannel   = "book"
	bookDepth   = 1000 // deepest book Kraken publishes over WS
	readLimit   = 1 << 22
	dialTimeout = 10 * time.Second
)

type subscribeParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
	Depth   int      `json:"depth"`
}

type subscribeMsg struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
}

// WS is the Kraken v2 book connector. Start blocks in the read loop and
// hands each text frame to the onMessage callback.
type WS struct {
	symbol    string // venue spelling, e.g. "BTC/USD"
	onMessage func([]byte)
	log       *zap.Logger

	stopped atomic.Bool
	mu      sync.Mutex
	conn    *websocket.Conn
}

func NewWS(symbol string, onMessage func([]byte), log *zap.Logger) *WS {
	if log == nil {
		log = zap.NewNop()
	}
	return &WS{symbol: symbol, onMessage: onMessage, log: log.Named("kraken-ws")}
}

// Start dials, subscribes to the book channel at full depth and reads
// until Stop or a terminal error. An orderly close returns nil.
func (w *WS) Start(port int) error {
	d := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	u := url.URL{Scheme: "wss", Host: net.JoinHostPort(wsHost, strconv.Itoa(port)), Path: wsPath}
	header := http.Header{"Origin": []string{"https://docs.kraken.com"}}

	conn, _, err := d.Dial(u.String(), header)
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

	sub := subscribeMsg{
		Method: "subscribe",
		Params: subscribeParams{Channel: wsChannel, Symbol: []string{w.symbol}, Depth: bookDepth},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe %s: %w", w.symbol, err)
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

// Stop is idempotent and thread-safe: posts a close frame and tears the
// socket down, unblocking the read loop.
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
