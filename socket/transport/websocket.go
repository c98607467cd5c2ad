package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/internal/sync"
)

var ErrNotConnected = errors.New("not connected")

type WebSocketTransport struct {
	mu               sync.Mutex
	conn             *websocket.Conn
	url              string
	dialer           *websocket.Dialer
	headers          http.Header
	connected        bool
	readTimeout      time.Duration
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
	compression      bool
}

type WebSocketOption func(*WebSocketTransport)

func WithHeaders(headers http.Header) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.headers = headers
	}
}

// WithReadTimeout bounds the silence tolerated between two frames,
// pings included.
func WithReadTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.readTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.writeTimeout = timeout
	}
}

func WithCompression(enabled bool) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.compression = enabled
	}
}

func NewWebSocketTransport(url string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url:              url,
		dialer:           websocket.DefaultDialer,
		headers:          make(http.Header),
		readTimeout:      60 * time.Second,
		writeTimeout:     10 * time.Second,
		handshakeTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	debug.Printf("WebSocketTransport: connecting to %s", t.url)

	dialer := *t.dialer
	dialer.HandshakeTimeout = t.handshakeTimeout
	dialer.EnableCompression = t.compression

	conn, _, err := dialer.DialContext(ctx, t.url, t.headers)
	if err != nil {
		debug.Printf("WebSocketTransport: connection failed: %v", err)
		return err
	}

	if t.readTimeout > 0 {
		conn.SetPingHandler(func(appData string) error {
			conn.SetReadDeadline(time.Now().Add(t.readTimeout))
			err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		})
	}

	t.conn = conn
	t.connected = true
	return nil
}

func (t *WebSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return ErrNotConnected
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	debug.Printf("WebSocketTransport: sending %s", data)
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) BatchSend(messages [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return ErrNotConnected
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	for _, msg := range messages {
		if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return err
		}
	}
	return nil
}

// Receive blocks until the next text frame arrives. Only one goroutine may
// call Receive at a time.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	if !t.connected || conn == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	if t.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.mu.Unlock()

	_, message, err := conn.ReadMessage()
	if err != nil {
		debug.Printf("WebSocketTransport: read error: %v", err)
		return nil, err
	}

	debug.Printf("WebSocketTransport: received %s", message)
	return message, nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return nil
	}

	debug.Printf("WebSocketTransport: closing connection")

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	err := t.conn.Close()
	t.connected = false
	t.conn = nil
	return err
}

func (t *WebSocketTransport) EnableCompression(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.compression = enabled
	if t.connected && t.conn != nil {
		t.conn.EnableWriteCompression(enabled)
	}
}
