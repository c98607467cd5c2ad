// Package bridge connects a store to an event socket.
//
// Every action executed in the store is emitted over the socket under the
// action's name. Every inbound socket event whose name was a registered
// action at installation time is dispatched back into the store. Names are
// captured once; actions registered later are never dispatched from the
// socket.
package bridge

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kleeedolinux/actionsocket/app"
	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/internal/sync"
	"github.com/kleeedolinux/actionsocket/socket"
	"github.com/kleeedolinux/actionsocket/store"
	"github.com/mitchellh/mapstructure"
)

// SocketKey names the socket both as a global property and as an
// injectable of the host application.
const SocketKey = "socket"

type (
	// Socket is the part of an event socket the bridge uses.
	// *socket.Client implements it.
	Socket interface {
		Emit(event socket.Event, data any) error
		OnAny(handler socket.AnyHandler)
		Close() error
	}

	// Store is the part of a state container the bridge uses.
	// *store.Store implements it.
	Store[S any] interface {
		ActionNames() []string
		SubscribeAction(fn func(store.Action, S)) store.Unsubscribe
		Dispatch(ctx context.Context, name string, payload any) error
	}

	// DialFunc opens a socket to connection. opts is handed over untouched.
	DialFunc func(ctx context.Context, connection string, opts map[string]any) (Socket, error)

	connector interface {
		Connect(ctx context.Context) error
	}

	reconnector interface {
		Reconnect()
	}
)

type Options struct {
	Verbose bool `mapstructure:"verbose"`
}

// OptionsFromMap reads plugin options from an untyped bag, such as a decoded
// YAML or JSON document. It never fails: anything that is not a map with a
// boolean "verbose" leaves Verbose false. Keys are case-sensitive.
func OptionsFromMap(bag any) Options {
	var opts Options
	if bag == nil {
		return opts
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &opts,
		MatchName: func(mapKey, fieldName string) bool {
			return mapKey == fieldName
		},
	})
	if err != nil {
		return Options{}
	}
	if err := decoder.Decode(bag); err != nil {
		return Options{}
	}
	return opts
}

type Config struct {
	// Connection is the socket target, e.g. "http://localhost:3000/socket".
	Connection string

	// SocketOptions is passed to Dial as is.
	SocketOptions map[string]any

	Options Options

	// Debugger receives the diagnostic lines when Options.Verbose is set.
	// Defaults to a stdout printer.
	Debugger debug.Debugger

	// Dial defaults to DialSocket.
	Dial DialFunc
}

// DialSocket opens an unconnected *socket.Client. Install connects it once
// its listeners are attached.
func DialSocket(_ context.Context, connection string, opts map[string]any) (Socket, error) {
	c, err := socket.Open(connection, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Bridge struct {
	socket      Socket
	allowed     mapset.Set[string]
	unsubscribe store.Unsubscribe
	debugger    debug.Debugger

	closeOnce sync.Once
	closeErr  error
}

// Install wires st to a socket opened with cfg and exposes the socket on
// host under SocketKey.
//
// Only dial errors are returned. When the first connection attempt fails the
// socket keeps retrying in the background, if it can, and is exposed anyway;
// actions executed meanwhile are buffered by the socket.
//
// Dispatches triggered by inbound events run with a context derived from
// ctx that carries host but is never cancelled. Their errors are left to the
// store's own error reporting.
func Install[S any](ctx context.Context, host *app.App, cfg Config, st Store[S]) (*Bridge, error) {
	d := debug.NewNoopDebugger()
	if cfg.Options.Verbose {
		d = cfg.Debugger
		if d == nil {
			d = debug.NewPrintDebugger(nil)
		}
		d = d.WithContext("bridge")
	}
	d.Log("options read", "verbose", cfg.Options.Verbose)

	dial := cfg.Dial
	if dial == nil {
		dial = DialSocket
	}
	sock, err := dial(ctx, cfg.Connection, cfg.SocketOptions)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", cfg.Connection, err)
	}

	b := &Bridge{
		socket:   sock,
		allowed:  mapset.NewSet(st.ActionNames()...),
		debugger: d,
	}

	b.unsubscribe = st.SubscribeAction(func(action store.Action, _ S) {
		if err := sock.Emit(socket.Event(action.Type), action.Payload); err != nil {
			d.Log("forwarding action failed", action.Type, err)
			return
		}
		d.Log("forwarded action", action.Type, action.Payload)
	})

	dispatchCtx := app.WithApp(context.WithoutCancel(ctx), host)
	sock.OnAny(func(event socket.Event, data any) {
		name := string(event)
		if !b.allowed.Contains(name) {
			d.Log("event is invalid, ignoring", name)
			return
		}
		d.Log("event is valid, dispatching", name, data)
		_ = st.Dispatch(dispatchCtx, name, data)
	})

	if c, ok := sock.(connector); ok {
		if err := c.Connect(ctx); err != nil {
			d.Log("connect failed, retrying", cfg.Connection, err)
			if r, ok := sock.(reconnector); ok {
				r.Reconnect()
			}
		}
	}

	host.Globals().Set(SocketKey, sock)
	host.Provide(SocketKey, sock)

	return b, nil
}

func (b *Bridge) Socket() Socket { return b.socket }

// Allowed reports whether inbound events named name are dispatched.
func (b *Bridge) Allowed(name string) bool { return b.allowed.Contains(name) }

// Close stops forwarding actions and closes the socket. The host keeps
// its references to the closed socket.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.unsubscribe()
		b.closeErr = b.socket.Close()
	})
	return b.closeErr
}

// SocketFrom returns the socket a bridge exposed on a, or on an ancestor.
func SocketFrom(a *app.App) (Socket, bool) {
	return app.InjectAs[Socket](a, SocketKey)
}

// Plugin installs a bridge through app.Use.
type Plugin[S any] struct {
	cfg   Config
	store Store[S]

	bridge *Bridge
}

func NewPlugin[S any](cfg Config, st Store[S]) *Plugin[S] {
	return &Plugin[S]{cfg: cfg, store: st}
}

func (p *Plugin[S]) Name() string { return "actionsocket" }

func (p *Plugin[S]) Install(ctx context.Context, a *app.App) error {
	b, err := Install(ctx, a, p.cfg, p.store)
	if err != nil {
		return err
	}
	p.bridge = b
	return nil
}

// Bridge returns the installed bridge, or nil before installation.
func (p *Plugin[S]) Bridge() *Bridge { return p.bridge }
