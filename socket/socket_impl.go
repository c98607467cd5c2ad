package socket

import (
	"fmt"

	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/internal/json"
	"github.com/kleeedolinux/actionsocket/internal/sync"
	"github.com/kleeedolinux/actionsocket/socket/transport"
)

// socketImpl is the server side of one connection.
type socketImpl struct {
	id          string
	mu          sync.RWMutex
	handlers    map[Event][]Handler
	anyHandlers []AnyHandler

	// Set before start.
	onControl func(control Control, data any)

	transport transport.ServerTransport
	connected bool
	startOnce sync.Once
}

func newSocketFromServerTransport(id string, t transport.ServerTransport) *socketImpl {
	debug.Printf("Creating new socket with ID: %s", id)
	return &socketImpl{
		id:        id,
		handlers:  make(map[Event][]Handler),
		transport: t,
		connected: true,
	}
}

// start begins reading. Handlers registered before start see every message.
func (s *socketImpl) start() {
	s.startOnce.Do(func() {
		go s.receiveLoop()
	})
}

func (s *socketImpl) receiveLoop() {
	for {
		data, err := s.transport.Read()
		if err != nil {
			debug.Printf("Socket %s: read error: %v", s.id, err)
			s.closeWith(err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || (msg.Event == "" && msg.Control == "") {
			debug.Printf("Socket %s: invalid message: %s", s.id, data)
			continue
		}

		if msg.Control != "" {
			if s.onControl != nil {
				s.onControl(msg.Control, msg.Data)
			}
			continue
		}

		if IsReserved(msg.Event) {
			debug.Printf("Socket %s: dropping reserved event %q from peer", s.id, msg.Event)
			continue
		}

		s.triggerEvent(msg.Event, msg.Data)
	}
}

func (s *socketImpl) ID() string {
	return s.id
}

func (s *socketImpl) Emit(event Event, data any) error {
	if IsReserved(event) {
		return fmt.Errorf("socket: emit %q: %w", event, ErrReservedEvent)
	}
	return s.write(Message{Event: event, Data: data})
}

func (s *socketImpl) write(msg Message) error {
	if !s.IsConnected() {
		return ErrConnectionClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.writeRaw(data)
}

func (s *socketImpl) writeRaw(data []byte) error {
	if !s.IsConnected() {
		return ErrConnectionClosed
	}
	return s.transport.Write(data)
}

func (s *socketImpl) On(event Event, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[event] = append(s.handlers[event], handler)
}

func (s *socketImpl) OnAny(handler AnyHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anyHandlers = append(s.anyHandlers, handler)
}

func (s *socketImpl) Off(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.handlers, event)
}

func (s *socketImpl) triggerEvent(event Event, data any) {
	s.mu.RLock()
	handlers := s.handlers[event]
	anyHandlers := s.anyHandlers
	s.mu.RUnlock()

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

func (s *socketImpl) Close() error {
	return s.closeWith(nil)
}

func (s *socketImpl) closeWith(reason error) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	s.mu.Unlock()

	debug.Printf("Socket %s: closing connection", s.id)
	err := s.transport.Close()
	s.triggerEvent(EventDisconnect, reason)
	return err
}

func (s *socketImpl) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.connected
}
