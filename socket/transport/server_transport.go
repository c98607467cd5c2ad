package transport

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/internal/json"
	"github.com/kleeedolinux/actionsocket/internal/sync"
)

var ErrTransportClosed = errors.New("transport closed")

type ServerTransport interface {
	Read() ([]byte, error)

	Write([]byte) error

	Close() error

	ID() string
}

type WebSocketServerTransport struct {
	id           string
	conn         *websocket.Conn
	sendCh       chan []byte
	closeCh      chan struct{}
	writeWg      sync.WaitGroup
	writeTimeout time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration
	mu           sync.Mutex
	closed       bool
}

type WebSocketServerConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	BufferSize   int
}

func DefaultWebSocketServerConfig() WebSocketServerConfig {
	return WebSocketServerConfig{
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		BufferSize:   100,
	}
}

func NewWebSocketServerTransport(id string, conn *websocket.Conn, config WebSocketServerConfig) *WebSocketServerTransport {
	t := &WebSocketServerTransport{
		id:           id,
		conn:         conn,
		sendCh:       make(chan []byte, config.BufferSize),
		closeCh:      make(chan struct{}),
		writeTimeout: config.WriteTimeout,
		readTimeout:  config.ReadTimeout,
		pingInterval: config.PingInterval,
	}

	if t.readTimeout > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		})
	}

	t.writeWg.Add(1)
	go t.writePump()

	return t
}

func (t *WebSocketServerTransport) writePump() {
	defer t.writeWg.Done()

	var pingC <-chan time.Time
	if t.pingInterval > 0 {
		ticker := time.NewTicker(t.pingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-t.closeCh:
			return
		case <-pingC:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout)); err != nil {
				debug.Printf("WebSocketServerTransport %s: ping failed: %v", t.id, err)
				go t.Close()
				return
			}
		case message := <-t.sendCh:
			if t.writeTimeout > 0 {
				t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				debug.Printf("WebSocketServerTransport %s: write failed: %v", t.id, err)
				go t.Close()
				return
			}
		}
	}
}

func (t *WebSocketServerTransport) Read() ([]byte, error) {
	if t.readTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
	_, message, err := t.conn.ReadMessage()
	if err != nil {
		debug.Printf("WebSocketServerTransport %s: read error: %v", t.id, err)
		t.Close()
		return nil, err
	}

	debug.Printf("WebSocketServerTransport %s: received %s", t.id, message)
	return message, nil
}

// Write queues data for the write pump. A full queue closes the connection:
// the peer is not keeping up.
func (t *WebSocketServerTransport) Write(data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return ErrTransportClosed
	}

	select {
	case t.sendCh <- data:
		return nil
	default:
		debug.Printf("WebSocketServerTransport %s: send buffer full, closing connection", t.id)
		go t.Close()
		return errors.New("send buffer full")
	}
}

func (t *WebSocketServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	t.mu.Unlock()

	t.writeWg.Wait()

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

func (t *WebSocketServerTransport) ID() string {
	return t.id
}

type LongPollingServerTransport struct {
	id                string
	pendingMessages   [][]byte
	notify            chan struct{}
	incomingMessages  chan []byte
	closeCh           chan struct{}
	mu                sync.Mutex
	lastActivity      time.Time
	closed            bool
	disconnectTimeout time.Duration
	pollWait          time.Duration
}

type LongPollingServerConfig struct {
	DisconnectTimeout time.Duration
	// PollWait is how long a poll request is held open waiting for messages.
	PollWait   time.Duration
	BufferSize int
}

func DefaultLongPollingServerConfig() LongPollingServerConfig {
	return LongPollingServerConfig{
		DisconnectTimeout: 60 * time.Second,
		PollWait:          25 * time.Second,
		BufferSize:        100,
	}
}

func NewLongPollingServerTransport(id string, config LongPollingServerConfig) *LongPollingServerTransport {
	return &LongPollingServerTransport{
		id:                id,
		notify:            make(chan struct{}, 1),
		incomingMessages:  make(chan []byte, config.BufferSize),
		closeCh:           make(chan struct{}),
		lastActivity:      time.Now(),
		disconnectTimeout: config.DisconnectTimeout,
		pollWait:          config.PollWait,
	}
}

func (t *LongPollingServerTransport) Read() ([]byte, error) {
	select {
	case msg := <-t.incomingMessages:
		return msg, nil
	case <-t.closeCh:
		return nil, ErrTransportClosed
	}
}

func (t *LongPollingServerTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}

	t.pendingMessages = append(t.pendingMessages, data)
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

func (t *LongPollingServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closeCh)
	return nil
}

func (t *LongPollingServerTransport) ID() string {
	return t.id
}

func (t *LongPollingServerTransport) touch() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivity = time.Now()
	return !t.closed
}

func (t *LongPollingServerTransport) drain() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	messages := t.pendingMessages
	t.pendingMessages = nil
	return messages
}

// HandlePoll responds with the pending messages as a JSON array, waiting up
// to the poll wait for at least one to arrive.
func (t *LongPollingServerTransport) HandlePoll(w http.ResponseWriter, r *http.Request) {
	if !t.touch() {
		http.Error(w, "Session closed", http.StatusGone)
		return
	}

	messages := t.drain()
	if len(messages) == 0 && t.pollWait > 0 {
		timer := time.NewTimer(t.pollWait)
		select {
		case <-t.notify:
		case <-timer.C:
		case <-t.closeCh:
		case <-r.Context().Done():
		}
		timer.Stop()
		t.touch()
		messages = t.drain()
	}

	raw := make([]json.RawMessage, len(messages))
	for i, msg := range messages {
		raw[i] = msg
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(raw)
}

func (t *LongPollingServerTransport) HandleSend(w http.ResponseWriter, r *http.Request) {
	if !t.touch() {
		http.Error(w, "Session closed", http.StatusGone)
		return
	}

	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	select {
	case t.incomingMessages <- data:
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Message queue full", http.StatusServiceUnavailable)
	}
}

func (t *LongPollingServerTransport) IsExpired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return true
	}
	return time.Since(t.lastActivity) > t.disconnectTimeout
}

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
