package socket

import (
	"errors"
)

type Event string

// Lifecycle events, triggered locally. Every other name is free for
// applications, including "error", "join" and "leave".
const (
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"
)

// IsReserved reports whether event is used by the socket layer itself.
// Reserved events are never delivered to OnAny handlers and cannot be emitted.
func IsReserved(event Event) bool {
	return event == EventConnect || event == EventDisconnect
}

// Control names a frame handled by the socket layer instead of the
// application.
type Control string

// Room membership requests. The room name travels in Data.
const (
	ControlJoin  Control = "join"
	ControlLeave Control = "leave"
)

// Message is the wire frame: one JSON object per transport message. A frame
// carries either an event or a control.
type Message struct {
	Event   Event   `json:"event,omitempty"`
	Data    any     `json:"data,omitempty"`
	Control Control `json:"control,omitempty"`
}

type (
	Handler      func(data any)
	AnyHandler   func(event Event, data any)
	ErrorHandler func(err error)
)

type Socket interface {
	ID() string

	// Emit sends a named message. It does not wait for delivery.
	Emit(event Event, data any) error

	On(event Event, handler Handler)

	// OnAny registers a handler called for every inbound, non-reserved event.
	OnAny(handler AnyHandler)

	// Off removes every handler of event.
	Off(event Event)

	Close() error

	IsConnected() bool
}

var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrInvalidMessage    = errors.New("invalid message format")
	ErrReservedEvent     = errors.New("reserved event")
	ErrBufferFull        = errors.New("send buffer full")
	ErrReconnectFailed   = errors.New("reconnection attempts exhausted")
	ErrUnknownTransport  = errors.New("unknown transport")
	ErrTooManyConnection = errors.New("too many connections")
)
