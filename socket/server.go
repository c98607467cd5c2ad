package socket

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kleeedolinux/actionsocket/internal/sync"
	"github.com/kleeedolinux/actionsocket/socket/transport"
)

type (
	ServerHandler    func(s Socket, data any)
	ServerAnyHandler func(s Socket, event Event, data any)
)

type Server struct {
	mu          sync.RWMutex
	sockets     map[string]Socket
	handlers    map[Event][]ServerHandler
	anyHandlers []ServerAnyHandler
	sessions    map[string]*LongPollingSession

	roomManager *RoomManager
	defaultRoom string

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pollWait             time.Duration
	sessionTimeout       time.Duration
	maxConcurrency       int
	concurrencySemaphore chan struct{}
	compressionEnabled   bool
	bufferSize           int

	ctx    context.Context
	cancel context.CancelFunc
}

type LongPollingSession struct {
	ID        string
	Transport *transport.LongPollingServerTransport
	Socket    *socketImpl
}

type ServerOption func(*Server)

func WithPingInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = d
	}
}

// WithPingTimeout sets how long a websocket peer may stay silent after a
// ping before it is dropped.
func WithPingTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.pingTimeout = d
	}
}

func WithPollWait(d time.Duration) ServerOption {
	return func(s *Server) {
		s.pollWait = d
	}
}

// WithSessionTimeout sets how long an idle long-polling session survives.
// Non-positive values keep the default.
func WithSessionTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.sessionTimeout = d
		}
	}
}

// WithMaxConcurrency limits the number of live websocket connections.
func WithMaxConcurrency(maxConcurrent int) ServerOption {
	return func(s *Server) {
		s.maxConcurrency = maxConcurrent
	}
}

func WithCompression(enabled bool) ServerOption {
	return func(s *Server) {
		s.compressionEnabled = enabled
	}
}

func WithBufferSize(size int) ServerOption {
	return func(s *Server) {
		s.bufferSize = size
	}
}

// WithDefaultRoom names the room joined by connections that do not ask for
// one with the "room" query parameter. Empty means no room.
func WithDefaultRoom(room string) ServerOption {
	return func(s *Server) {
		s.defaultRoom = room
	}
}

func NewServer(opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		sockets:        make(map[string]Socket),
		handlers:       make(map[Event][]ServerHandler),
		sessions:       make(map[string]*LongPollingSession),
		roomManager:    NewRoomManager(),
		pingInterval:   25 * time.Second,
		pingTimeout:    20 * time.Second,
		pollWait:       25 * time.Second,
		sessionTimeout: 60 * time.Second,
		maxConcurrency: 1000,
		bufferSize:     1024,
		ctx:            ctx,
		cancel:         cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.maxConcurrency > 0 {
		s.concurrencySemaphore = make(chan struct{}, s.maxConcurrency)
	}

	go s.cleanupSessions()

	return s
}

func (s *Server) cleanupSessions() {
	interval := s.sessionTimeout / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		var expired []*LongPollingSession
		s.mu.Lock()
		for id, session := range s.sessions {
			if session.Transport.IsExpired() {
				delete(s.sessions, id)
				expired = append(expired, session)
			}
		}
		s.mu.Unlock()

		for _, session := range expired {
			session.Socket.Close()
		}
	}
}

func (s *Server) HandleHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.handleWebSocket(w, r)
		return
	}
	s.handleLongPolling(w, r)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleHTTP(w, r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.concurrencySemaphore != nil {
		select {
		case s.concurrencySemaphore <- struct{}{}:
		default:
			http.Error(w, ErrTooManyConnection.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	release := func() {
		if s.concurrencySemaphore != nil {
			<-s.concurrencySemaphore
		}
	}

	upgrader := transport.Upgrader
	upgrader.EnableCompression = s.compressionEnabled
	upgrader.ReadBufferSize = s.bufferSize
	upgrader.WriteBufferSize = s.bufferSize

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Server: websocket upgrade failed: %v", err)
		release()
		return
	}

	id := generateID()

	wsConfig := transport.DefaultWebSocketServerConfig()
	wsConfig.PingInterval = s.pingInterval
	wsConfig.ReadTimeout = s.pingInterval + s.pingTimeout

	sock := newSocketFromServerTransport(id, transport.NewWebSocketServerTransport(id, conn, wsConfig))
	sock.On(EventDisconnect, func(any) { release() })

	s.handleSocket(sock, s.roomFor(r))
}

func (s *Server) roomFor(r *http.Request) string {
	if room := r.URL.Query().Get("room"); room != "" {
		return room
	}
	return s.defaultRoom
}

func (s *Server) handleLongPolling(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	path := strings.TrimSuffix(r.URL.Path, "/")

	switch {
	case strings.HasSuffix(path, "/connect") && r.Method == http.MethodPost:
		s.handleLongPollingConnect(w, r)
	case strings.HasSuffix(path, "/poll") && r.Method == http.MethodGet:
		s.withSession(w, sessionID, func(session *LongPollingSession) {
			session.Transport.HandlePoll(w, r)
		})
	case strings.HasSuffix(path, "/send") && r.Method == http.MethodPost:
		s.withSession(w, sessionID, func(session *LongPollingSession) {
			session.Transport.HandleSend(w, r)
		})
	case strings.HasSuffix(path, "/disconnect") && r.Method == http.MethodPost:
		s.handleLongPollingDisconnect(w, sessionID)
	default:
		http.Error(w, "Unknown endpoint", http.StatusNotFound)
	}
}

func (s *Server) handleLongPollingConnect(w http.ResponseWriter, r *http.Request) {
	sessionID := generateID()

	config := transport.DefaultLongPollingServerConfig()
	config.DisconnectTimeout = s.sessionTimeout
	config.PollWait = s.pollWait
	lpTransport := transport.NewLongPollingServerTransport(sessionID, config)

	sock := newSocketFromServerTransport(sessionID, lpTransport)

	s.mu.Lock()
	s.sessions[sessionID] = &LongPollingSession{
		ID:        sessionID,
		Transport: lpTransport,
		Socket:    sock,
	}
	s.mu.Unlock()

	sock.On(EventDisconnect, func(any) {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	})

	s.handleSocket(sock, s.roomFor(r))

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"sessionId":"` + sessionID + `"}`))
}

func (s *Server) withSession(w http.ResponseWriter, sessionID string, f func(*LongPollingSession)) {
	s.mu.RLock()
	session, exists := s.sessions[sessionID]
	s.mu.RUnlock()

	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	f(session)
}

func (s *Server) handleLongPollingDisconnect(w http.ResponseWriter, sessionID string) {
	s.mu.Lock()
	session, exists := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if exists {
		session.Socket.Close()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) HandleFunc(event Event, handler ServerHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[event] = append(s.handlers[event], handler)
}

// HandleAny registers a handler for every non-reserved event received from
// any socket.
func (s *Server) HandleAny(handler ServerAnyHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anyHandlers = append(s.anyHandlers, handler)
}

func (s *Server) handleSocket(sock *socketImpl, room string) {
	s.mu.Lock()
	s.sockets[sock.ID()] = sock
	s.mu.Unlock()

	log.Printf("Server: socket %s connected", sock.ID())

	sock.OnAny(func(event Event, data any) {
		s.mu.RLock()
		handlers := s.handlers[event]
		anyHandlers := s.anyHandlers
		s.mu.RUnlock()

		for _, handler := range handlers {
			handler(sock, data)
		}
		for _, handler := range anyHandlers {
			handler(sock, event, data)
		}
	})

	sock.onControl = func(control Control, data any) {
		name, ok := data.(string)
		if !ok || name == "" {
			return
		}
		switch control {
		case ControlJoin:
			s.Join(sock.ID(), name)
		case ControlLeave:
			s.Leave(sock.ID(), name)
		}
	}

	sock.On(EventDisconnect, func(data any) {
		log.Printf("Server: socket %s disconnected", sock.ID())

		s.mu.Lock()
		delete(s.sockets, sock.ID())
		s.mu.Unlock()

		s.LeaveAll(sock.ID())
		s.triggerEvent(sock, EventDisconnect, data)
	})

	if room != "" {
		s.roomManager.JoinRoom(room, sock)
	}

	s.triggerEvent(sock, EventConnect, nil)
	sock.start()
}

func (s *Server) triggerEvent(sock Socket, event Event, data any) {
	s.mu.RLock()
	handlers := s.handlers[event]
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(sock, data)
	}
}

func (s *Server) snapshot() []Socket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sockets := make([]Socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	return sockets
}

func (s *Server) Broadcast(event Event, data any) {
	sockets := s.snapshot()
	for _, sock := range sockets {
		if err := sock.Emit(event, data); err != nil {
			log.Printf("Server: error broadcasting to %s: %v", sock.ID(), err)
		}
	}
}

func (s *Server) BroadcastToRoom(room string, event Event, data any) {
	s.roomManager.BroadcastToRoom(room, event, data)
}

// BroadcastToRoomExcept sends to every member of room but the given socket.
func (s *Server) BroadcastToRoomExcept(room string, exceptID string, event Event, data any) {
	s.roomManager.BroadcastToRoom(room, event, data, exceptID)
}

func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sockets)
}

// Shutdown closes every socket and stops session cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	for _, sock := range s.snapshot() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sock.Close(); err != nil {
			log.Printf("Server: error closing socket %s: %v", sock.ID(), err)
		}
	}
	return nil
}

func (s *Server) Join(socketID string, room string) {
	s.mu.RLock()
	sock, exists := s.sockets[socketID]
	s.mu.RUnlock()

	if exists {
		s.roomManager.JoinRoom(room, sock)
	}
}

func (s *Server) Leave(socketID string, room string) {
	s.roomManager.LeaveRoom(room, socketID)
}

func (s *Server) LeaveAll(socketID string) {
	s.roomManager.LeaveAllRooms(socketID)
}

func (s *Server) RoomsOf(socketID string) []string {
	return s.roomManager.GetSocketRooms(socketID)
}

func (s *Server) In(room string) []Socket {
	r := s.roomManager.GetRoom(room)
	if r == nil {
		return nil
	}
	return r.GetSockets()
}

func (s *Server) GetSocket(id string) (Socket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sock, exists := s.sockets[id]
	return sock, exists
}
