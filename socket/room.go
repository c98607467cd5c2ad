package socket

import (
	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/internal/json"
	"github.com/kleeedolinux/actionsocket/internal/sync"
)

type Room struct {
	name    string
	sockets map[string]Socket
	mu      sync.RWMutex
}

func NewRoom(name string) *Room {
	return &Room{
		name:    name,
		sockets: make(map[string]Socket),
	}
}

func (r *Room) AddSocket(s Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sockets[s.ID()] = s
}

func (r *Room) RemoveSocket(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sockets, id)
}

func (r *Room) HasSocket(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sockets[id]
	return exists
}

func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets)
}

// Broadcast sends to every member except the sockets whose IDs are listed.
// The message is encoded once.
func (r *Room) Broadcast(event Event, data any, except ...string) {
	encoded, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		debug.Printf("Room %s: encode %s: %v", r.name, event, err)
		return
	}

	for _, socket := range r.GetSockets() {
		if contains(except, socket.ID()) {
			continue
		}
		if err := writeEncoded(socket, encoded, event, data); err != nil {
			debug.Printf("Room %s: send to %s: %v", r.name, socket.ID(), err)
		}
	}
}

// writeEncoded reuses the encoded frame for server-side sockets.
func writeEncoded(s Socket, encoded []byte, event Event, data any) error {
	if impl, ok := s.(*socketImpl); ok {
		return impl.writeRaw(encoded)
	}
	return s.Emit(event, data)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (r *Room) GetSockets() []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sockets := make([]Socket, 0, len(r.sockets))
	for _, socket := range r.sockets {
		sockets = append(sockets, socket)
	}
	return sockets
}

func (r *Room) Name() string {
	return r.name
}

type RoomManager struct {
	rooms map[string]*Room
	mu    sync.Mutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
	}
}

// GetRoom returns the named room, or nil if it has no members.
func (rm *RoomManager) GetRoom(name string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.rooms[name]
}

func (rm *RoomManager) HasRoom(name string) bool {
	return rm.GetRoom(name) != nil
}

func (rm *RoomManager) GetRooms() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rooms := make([]string, 0, len(rm.rooms))
	for name := range rm.rooms {
		rooms = append(rooms, name)
	}
	return rooms
}

func (rm *RoomManager) JoinRoom(roomName string, socket Socket) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, exists := rm.rooms[roomName]
	if !exists {
		room = NewRoom(roomName)
		rm.rooms[roomName] = room
	}
	room.AddSocket(socket)
}

func (rm *RoomManager) LeaveRoom(roomName string, socketID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, exists := rm.rooms[roomName]; exists {
		room.RemoveSocket(socketID)
		if room.Count() == 0 {
			delete(rm.rooms, roomName)
		}
	}
}

func (rm *RoomManager) LeaveAllRooms(socketID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for name, room := range rm.rooms {
		if room.HasSocket(socketID) {
			room.RemoveSocket(socketID)
			if room.Count() == 0 {
				delete(rm.rooms, name)
			}
		}
	}
}

func (rm *RoomManager) GetSocketRooms(socketID string) []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var socketRooms []string
	for name, room := range rm.rooms {
		if room.HasSocket(socketID) {
			socketRooms = append(socketRooms, name)
		}
	}
	return socketRooms
}

func (rm *RoomManager) BroadcastToRoom(roomName string, event Event, data any, except ...string) {
	if room := rm.GetRoom(roomName); room != nil {
		room.Broadcast(event, data, except...)
	}
}
