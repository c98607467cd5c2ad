package socket

import (
	"context"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/internal/json"
	"github.com/kleeedolinux/actionsocket/internal/sync"
)

type Client struct {
	mu            sync.RWMutex
	id            string
	conn          Transport
	handlers      map[Event][]Handler
	anyHandlers   []AnyHandler
	errorHandlers []ErrorHandler

	rooms mapset.Set[string]

	connected    bool
	closed       bool
	reconnecting bool
	sendCh       chan Message

	batchSize       int
	batchInterval   time.Duration
	messageBufferCh chan Message

	compressionEnabled bool

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	reconnectJitter   float64
	reconnectAttempts int
	backoff           *backoff

	ctx        context.Context
	cancelFunc context.CancelFunc
	loopCancel context.CancelFunc
}

type Transport interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

type CompressibleTransport interface {
	Transport
	EnableCompression(bool)
}

type BatchTransport interface {
	Transport
	BatchSend([][]byte) error
}

type ClientOption func(*Client)

func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

func WithMaxReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxReconnectDelay = d
	}
}

// WithReconnectJitter randomizes each reconnection delay by up to the given
// fraction (0..1).
func WithReconnectJitter(jitter float64) ClientOption {
	return func(c *Client) {
		c.reconnectJitter = jitter
	}
}

// WithReconnectAttempts sets how many times the client tries to reconnect
// after losing its connection. 0 disables reconnection, negative values retry
// forever.
func WithReconnectAttempts(attempts int) ClientOption {
	return func(c *Client) {
		c.reconnectAttempts = attempts
	}
}

func WithBatchSend(batchSize int, interval time.Duration) ClientOption {
	return func(c *Client) {
		c.batchSize = batchSize
		c.batchInterval = interval
	}
}

func WithClientCompression(enabled bool) ClientOption {
	return func(c *Client) {
		c.compressionEnabled = enabled
	}
}

func NewClient(transport Transport, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		id:                generateID(),
		conn:              transport,
		handlers:          make(map[Event][]Handler),
		rooms:             mapset.NewSet[string](),
		sendCh:            make(chan Message, 100),
		messageBufferCh:   make(chan Message, 1000),
		batchSize:         1,
		batchInterval:     50 * time.Millisecond,
		reconnectDelay:    time.Second,
		maxReconnectDelay: 30 * time.Second,
		reconnectJitter:   0.5,
		reconnectAttempts: 5,
		ctx:               ctx,
		cancelFunc:        cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.backoff = newBackoff(c.reconnectDelay, c.maxReconnectDelay, c.reconnectJitter)
	c.setupTransport()

	return c
}

func (c *Client) ID() string {
	return c.id
}

// Connect opens the transport and starts the send and receive loops.
// ctx bounds the handshake only.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.conn.Connect(ctx); err != nil {
		return fmt.Errorf("socket: connect: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.conn.Close()
		return ErrConnectionClosed
	}
	loopCtx, cancel := context.WithCancel(c.ctx)
	c.loopCancel = cancel
	c.connected = true
	c.reconnecting = false
	rooms := c.rooms.ToSlice()
	c.mu.Unlock()

	c.backoff.reset()
	debug.Printf("Client %s: connected", c.id)

	go c.sendLoop(loopCtx)
	go c.receiveLoop(loopCtx)
	go c.batchProcessingLoop(loopCtx)

	for _, room := range rooms {
		c.send(Message{Control: ControlJoin, Data: room})
	}

	c.triggerEvent(EventConnect, nil)
	return nil
}

func (c *Client) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.sendCh:
			data, err := json.Marshal(msg)
			if err != nil {
				c.triggerError(err)
				continue
			}

			if err := c.conn.Send(data); err != nil {
				c.triggerError(err)
				c.handleDisconnect(err)
				return
			}
		}
	}
}

func (c *Client) receiveLoop(ctx context.Context) {
	for {
		data, err := c.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.triggerError(err)
			c.handleDisconnect(err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || (msg.Event == "" && msg.Control == "") {
			c.triggerError(ErrInvalidMessage)
			continue
		}

		if msg.Control != "" {
			debug.Printf("Client %s: dropping control %q from peer", c.id, msg.Control)
			continue
		}

		if IsReserved(msg.Event) {
			debug.Printf("Client %s: dropping reserved event %q from peer", c.id, msg.Event)
			continue
		}

		c.triggerEvent(msg.Event, msg.Data)
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	if c.loopCancel != nil {
		c.loopCancel()
	}
	closed := c.closed
	c.mu.Unlock()

	debug.Printf("Client %s: disconnected: %v", c.id, err)
	c.conn.Close()
	c.triggerEvent(EventDisconnect, err)

	if !closed {
		c.Reconnect()
	}
}

// Reconnect retries Connect in the background, following the client's
// backoff and attempt settings. It does nothing when the client is
// connected, closed or already retrying, or when reconnection is disabled.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.connected || c.reconnecting || c.reconnectAttempts == 0 {
		return
	}
	c.reconnecting = true
	go c.reconnect()
}

func (c *Client) reconnect() {
	for attempts := 0; c.reconnectAttempts < 0 || attempts < c.reconnectAttempts; attempts++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.backoff.duration()):
			if c.IsConnected() {
				return
			}
			// A successful Connect clears the reconnecting flag.
			err := c.Connect(c.ctx)
			if err == nil {
				return
			}
			debug.Printf("Client %s: reconnect attempt %d failed: %v", c.id, attempts+1, err)
		}
	}

	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()
	c.triggerError(ErrReconnectFailed)
}

// Emit queues a message for sending. Messages emitted while the client is
// (re)connecting are sent once the connection is up.
func (c *Client) Emit(event Event, data any) error {
	if IsReserved(event) {
		return fmt.Errorf("socket: emit %q: %w", event, ErrReservedEvent)
	}
	return c.send(Message{Event: event, Data: data})
}

func (c *Client) send(msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnectionClosed
	}

	ch := c.sendCh
	if c.batchSize > 1 {
		ch = c.messageBufferCh
	}

	select {
	case ch <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *Client) On(event Event, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *Client) OnAny(handler AnyHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.anyHandlers = append(c.anyHandlers, handler)
}

func (c *Client) Off(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handlers, event)
}

// OnError registers a handler for transport failures, malformed frames and
// exhausted reconnection.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errorHandlers = append(c.errorHandlers, handler)
}

func (c *Client) OffAny() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.anyHandlers = nil
}

// triggerEvent runs handlers on the calling goroutine, so inbound events
// reach handlers in arrival order.
func (c *Client) triggerEvent(event Event, data any) {
	c.mu.RLock()
	handlers := c.handlers[event]
	anyHandlers := c.anyHandlers
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
	if IsReserved(event) {
		return
	}
	for _, handler := range anyHandlers {
		handler(event, data)
	}
}

func (c *Client) triggerError(err error) {
	c.mu.RLock()
	handlers := c.errorHandlers
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(err)
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

// Close stops reconnection and closes the transport. A closed client cannot
// be reconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasConnected := c.connected
	c.connected = false
	c.cancelFunc()
	c.mu.Unlock()

	err := c.conn.Close()
	if wasConnected {
		c.triggerEvent(EventDisconnect, nil)
	}
	return err
}

func (c *Client) batchProcessingLoop(ctx context.Context) {
	if c.batchSize <= 1 {
		return
	}

	batch := make([]Message, 0, c.batchSize)
	ticker := time.NewTicker(c.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.messageBufferCh:
			batch = append(batch, msg)

			if len(batch) >= c.batchSize {
				if !c.processBatch(batch) {
					return
				}
				batch = make([]Message, 0, c.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				if !c.processBatch(batch) {
					return
				}
				batch = make([]Message, 0, c.batchSize)
			}
		}
	}
}

func (c *Client) processBatch(messages []Message) bool {
	encoded := make([][]byte, 0, len(messages))
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			c.triggerError(err)
			continue
		}
		encoded = append(encoded, data)
	}
	if len(encoded) == 0 {
		return true
	}

	var err error
	if batchTransport, ok := c.conn.(BatchTransport); ok {
		err = batchTransport.BatchSend(encoded)
	} else {
		for _, data := range encoded {
			if err = c.conn.Send(data); err != nil {
				break
			}
		}
	}
	if err != nil {
		c.triggerError(err)
		c.handleDisconnect(err)
		return false
	}
	return true
}

// Join asks the server to add this client to room. Rooms are rejoined after
// every reconnection.
func (c *Client) Join(room string) error {
	c.rooms.Add(room)
	if !c.IsConnected() {
		return nil
	}
	return c.send(Message{Control: ControlJoin, Data: room})
}

func (c *Client) Leave(room string) error {
	c.rooms.Remove(room)
	if !c.IsConnected() {
		return nil
	}
	return c.send(Message{Control: ControlLeave, Data: room})
}

func (c *Client) Rooms() []string {
	return c.rooms.ToSlice()
}

func (c *Client) InRoom(room string) bool {
	return c.rooms.Contains(room)
}

func (c *Client) setupTransport() {
	if !c.compressionEnabled {
		return
	}
	if compressible, ok := c.conn.(CompressibleTransport); ok {
		compressible.EnableCompression(true)
	}
}
