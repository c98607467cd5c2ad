package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kleeedolinux/actionsocket/app"
	"github.com/kleeedolinux/actionsocket/debug"
	"github.com/kleeedolinux/actionsocket/internal/sync"
	"github.com/kleeedolinux/actionsocket/socket"
	"github.com/kleeedolinux/actionsocket/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	Event socket.Event
	Data  any
}

type fakeSocket struct {
	mu       sync.Mutex
	emits    []emitted
	handlers []socket.AnyHandler
	emitErr  error
	closed   int
}

func (f *fakeSocket) Emit(event socket.Event, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitted{Event: event, Data: data})
	return nil
}

func (f *fakeSocket) OnAny(handler socket.AnyHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// deliver plays an inbound event the way the socket client does.
func (f *fakeSocket) deliver(event socket.Event, data any) {
	f.mu.Lock()
	handlers := append([]socket.AnyHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(event, data)
	}
}

func (f *fakeSocket) sent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

type connectingSocket struct {
	fakeSocket
	connectErr error
	connected  bool
	reconnects int
	// handlers attached when Connect was called
	handlersAtConnect int
}

func (c *connectingSocket) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

func (c *connectingSocket) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlersAtConnect = len(c.handlers)
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

type recordingDebugger struct {
	lines   *[]string
	context string
}

func newRecordingDebugger() *recordingDebugger {
	return &recordingDebugger{lines: new([]string)}
}

func (r *recordingDebugger) Log(main string, v ...any) {
	fields := []string{main}
	for _, f := range v {
		fields = append(fields, fmt.Sprint(f))
	}
	line := strings.Join(fields, ": ")
	if r.context != "" {
		line = r.context + ": " + line
	}
	*r.lines = append(*r.lines, line)
}

func (r *recordingDebugger) WithContext(context string) debug.Debugger {
	return &recordingDebugger{lines: r.lines, context: context}
}

type dispatched struct {
	Name    string
	Payload any
}

type counter struct {
	Count int
}

// newCounterStore registers increment and decrement, and records every
// handler invocation.
func newCounterStore(t *testing.T) (*store.Store[counter], *[]dispatched) {
	t.Helper()

	var calls []dispatched
	s := store.New(counter{})
	s.RegisterMutation("add", func(state *counter, payload any) {
		var n int
		store.DecodePayload(payload, &n)
		state.Count += n
	})
	for name, sign := range map[string]int{"increment": 1, "decrement": -1} {
		name, sign := name, sign
		s.RegisterAction(name, func(ctx context.Context, c *store.Context[counter], payload any) error {
			calls = append(calls, dispatched{Name: name, Payload: payload})
			var n int
			if err := store.DecodePayload(payload, &n); err != nil {
				return err
			}
			return c.Commit("add", sign*n)
		})
	}
	return s, &calls
}

func install(t *testing.T, host *app.App, st *store.Store[counter], opts Options, d debug.Debugger) (*Bridge, *fakeSocket) {
	t.Helper()

	sock := &fakeSocket{}
	b, err := Install[counter](context.Background(), host, Config{
		Connection: "http://localhost:3000/socket",
		Options:    opts,
		Debugger:   d,
		Dial: func(context.Context, string, map[string]any) (Socket, error) {
			return sock, nil
		},
	}, st)
	require.NoError(t, err)
	return b, sock
}

func TestBridge(t *testing.T) {
	t.Run("should forward executed actions and dispatch allowed events", func(t *testing.T) {
		st, calls := newCounterStore(t)
		_, sock := install(t, app.New("test"), st, Options{}, nil)

		require.NoError(t, st.Dispatch(context.Background(), "increment", 5))
		assert.Equal(t, []emitted{{Event: "increment", Data: 5}}, sock.sent())

		sock.deliver("increment", float64(7))
		sock.deliver("reset", nil)

		assert.Equal(t, []dispatched{
			{Name: "increment", Payload: 5},
			{Name: "increment", Payload: float64(7)},
		}, *calls)
		assert.Equal(t, 12, st.State().Count)
	})

	t.Run("should forward every action regardless of the allow-list", func(t *testing.T) {
		st, _ := newCounterStore(t)
		b, sock := install(t, app.New("test"), st, Options{}, nil)

		st.RegisterAction("reset", func(ctx context.Context, c *store.Context[counter], _ any) error {
			return c.Commit("add", -c.State().Count)
		})
		require.NoError(t, st.Dispatch(context.Background(), "reset", nil))
		require.NoError(t, st.Dispatch(context.Background(), "decrement", 1))

		assert.False(t, b.Allowed("reset"))
		assert.Equal(t, []emitted{
			{Event: "reset", Data: nil},
			{Event: "decrement", Data: 1},
		}, sock.sent())
	})

	t.Run("should re-emit actions dispatched from inbound events", func(t *testing.T) {
		st, _ := newCounterStore(t)
		_, sock := install(t, app.New("test"), st, Options{}, nil)

		sock.deliver("decrement", float64(2))
		assert.Equal(t, []emitted{{Event: "decrement", Data: float64(2)}}, sock.sent())
	})

	t.Run("should keep the allow-list captured at installation", func(t *testing.T) {
		st, _ := newCounterStore(t)
		b, sock := install(t, app.New("test"), st, Options{}, nil)

		resets := 0
		st.RegisterAction("reset", func(context.Context, *store.Context[counter], any) error {
			resets++
			return nil
		})

		sock.deliver("reset", nil)
		assert.Equal(t, 0, resets)

		require.NoError(t, st.Dispatch(context.Background(), "reset", nil))
		assert.Equal(t, 1, resets)

		assert.True(t, b.Allowed("increment"))
		assert.True(t, b.Allowed("decrement"))
		assert.False(t, b.Allowed("reset"))
	})

	t.Run("should pass inbound data to the store untouched", func(t *testing.T) {
		st := store.New(counter{})
		var got any
		st.RegisterAction("setItems", func(_ context.Context, _ *store.Context[counter], payload any) error {
			got = payload
			return nil
		})
		_, sock := install(t, app.New("test"), st, Options{}, nil)

		payload := map[string]any{"items": []any{"a", "b"}, "total": float64(2)}
		sock.deliver("setItems", payload)
		assert.Equal(t, payload, got)
	})

	t.Run("should ignore dispatch failures", func(t *testing.T) {
		var reported []error
		st := store.New(counter{}, store.WithErrorHandler(func(_ store.Action, err error) {
			reported = append(reported, err)
		}))
		st.RegisterAction("explode", func(context.Context, *store.Context[counter], any) error {
			return errors.New("boom")
		})
		_, sock := install(t, app.New("test"), st, Options{}, nil)

		assert.NotPanics(t, func() { sock.deliver("explode", nil) })
		require.Len(t, reported, 1)
		assert.EqualError(t, reported[0], `store: action "explode": boom`)
	})

	t.Run("should hand the host to inbound dispatches", func(t *testing.T) {
		host := app.New("test")
		st := store.New(counter{})
		var fromCtx *app.App
		st.RegisterAction("whoami", func(ctx context.Context, _ *store.Context[counter], _ any) error {
			fromCtx = app.FromContext(ctx)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		sock := &fakeSocket{}
		_, err := Install[counter](ctx, host, Config{
			Dial: func(context.Context, string, map[string]any) (Socket, error) { return sock, nil },
		}, st)
		require.NoError(t, err)
		cancel()

		sock.deliver("whoami", nil)
		assert.Same(t, host, fromCtx)
	})
}

func TestBridgeExposure(t *testing.T) {
	host := app.New("test")
	child := host.Child("child")
	st, _ := newCounterStore(t)
	b, sock := install(t, host, st, Options{}, nil)

	for i := 0; i < 3; i++ {
		global, ok := host.Globals().Get(SocketKey)
		require.True(t, ok)
		assert.Same(t, sock, global)

		injected, ok := host.Inject(SocketKey)
		require.True(t, ok)
		assert.Same(t, sock, injected)

		fromChild, ok := SocketFrom(child)
		require.True(t, ok)
		assert.Same(t, sock, fromChild)
	}
	assert.Same(t, sock, b.Socket())
}

func TestBridgeVerbose(t *testing.T) {
	drive := func(t *testing.T, opts Options, d debug.Debugger) {
		st, _ := newCounterStore(t)
		_, sock := install(t, app.New("test"), st, opts, d)

		require.NoError(t, st.Dispatch(context.Background(), "decrement", 3))
		sock.deliver("reset", nil)
		sock.deliver("increment", float64(7))
	}

	t.Run("should log one line per step", func(t *testing.T) {
		d := newRecordingDebugger()
		drive(t, Options{Verbose: true}, d)

		assert.Equal(t, []string{
			"bridge: options read: verbose: true",
			"bridge: forwarded action: decrement: 3",
			"bridge: event is invalid, ignoring: reset",
			"bridge: event is valid, dispatching: increment: 7",
			"bridge: forwarded action: increment: 7",
		}, *d.lines)
	})

	t.Run("should stay silent unless verbose", func(t *testing.T) {
		for _, bag := range []any{
			nil,
			map[string]any{},
			map[string]any{"verbose": false},
			map[string]any{"verbose": "yes"},
			map[string]any{"verbose": 1},
			"verbose",
			[]any{true},
		} {
			d := newRecordingDebugger()
			drive(t, OptionsFromMap(bag), d)
			assert.Empty(t, *d.lines, "%#v", bag)
		}
	})

	t.Run("should log emit failures on the same step", func(t *testing.T) {
		d := newRecordingDebugger()
		st, _ := newCounterStore(t)
		_, sock := install(t, app.New("test"), st, Options{Verbose: true}, d)
		sock.emitErr = socket.ErrBufferFull

		require.NoError(t, st.Dispatch(context.Background(), "increment", 1))
		assert.Equal(t, []string{
			"bridge: options read: verbose: true",
			"bridge: forwarding action failed: increment: send buffer full",
		}, *d.lines)
	})
}

func TestOptionsFromMap(t *testing.T) {
	assert.Equal(t, Options{Verbose: true}, OptionsFromMap(map[string]any{"verbose": true}))
	assert.Equal(t, Options{Verbose: true}, OptionsFromMap(map[string]any{"verbose": true, "other": 1}))
	assert.Equal(t, Options{}, OptionsFromMap(map[string]any{"verbose": "true"}))
	assert.Equal(t, Options{}, OptionsFromMap(map[string]any{"Verbose": true}))
	assert.Equal(t, Options{}, OptionsFromMap(map[string]any{"VERBOSE": true}))
	assert.Equal(t, Options{}, OptionsFromMap(nil))
	assert.Equal(t, Options{}, OptionsFromMap(42))
}

func TestBridgeLifecycle(t *testing.T) {
	t.Run("should connect after attaching the listener", func(t *testing.T) {
		st, _ := newCounterStore(t)
		sock := &connectingSocket{}
		_, err := Install[counter](context.Background(), app.New("test"), Config{
			Dial: func(context.Context, string, map[string]any) (Socket, error) { return sock, nil },
		}, st)
		require.NoError(t, err)

		assert.True(t, sock.connected)
		assert.Equal(t, 1, sock.handlersAtConnect)
	})

	t.Run("should expose the socket and retry when the first connect fails", func(t *testing.T) {
		st, _ := newCounterStore(t)
		host := app.New("test")
		d := newRecordingDebugger()
		sock := &connectingSocket{connectErr: errors.New("refused")}
		b, err := Install[counter](context.Background(), host, Config{
			Connection: "http://localhost:1/socket",
			Options:    Options{Verbose: true},
			Debugger:   d,
			Dial:       func(context.Context, string, map[string]any) (Socket, error) { return sock, nil },
		}, st)
		require.NoError(t, err)
		require.NotNil(t, b)

		assert.Equal(t, 1, sock.reconnects)
		assert.Zero(t, sock.closed)
		assert.Contains(t, *d.lines, "bridge: connect failed, retrying: http://localhost:1/socket: refused")

		injected, ok := host.Inject(SocketKey)
		require.True(t, ok)
		assert.Same(t, sock, injected)
		global, ok := host.Globals().Get(SocketKey)
		require.True(t, ok)
		assert.Same(t, sock, global)

		require.NoError(t, st.Dispatch(context.Background(), "increment", 1))
		assert.Equal(t, []emitted{{Event: "increment", Data: 1}}, sock.sent())
	})

	t.Run("should not retry a socket that connected", func(t *testing.T) {
		st, _ := newCounterStore(t)
		sock := &connectingSocket{}
		_, err := Install[counter](context.Background(), app.New("test"), Config{
			Dial: func(context.Context, string, map[string]any) (Socket, error) { return sock, nil },
		}, st)
		require.NoError(t, err)
		assert.Zero(t, sock.reconnects)
	})

	t.Run("should fail when dialing fails", func(t *testing.T) {
		st, _ := newCounterStore(t)
		_, err := Install[counter](context.Background(), app.New("test"), Config{
			Connection: "http://localhost:1/socket",
			Dial: func(context.Context, string, map[string]any) (Socket, error) {
				return nil, socket.ErrUnknownTransport
			},
		}, st)
		assert.ErrorIs(t, err, socket.ErrUnknownTransport)
	})

	t.Run("should stop forwarding after close", func(t *testing.T) {
		st, _ := newCounterStore(t)
		b, sock := install(t, app.New("test"), st, Options{}, nil)

		require.NoError(t, b.Close())
		require.NoError(t, b.Close())
		assert.Equal(t, 1, sock.closed)

		require.NoError(t, st.Dispatch(context.Background(), "increment", 1))
		assert.Empty(t, sock.sent())
	})

	t.Run("should install as a plugin once", func(t *testing.T) {
		st, _ := newCounterStore(t)
		host := app.New("test")
		sock := &fakeSocket{}
		p := NewPlugin[counter](Config{
			Dial: func(context.Context, string, map[string]any) (Socket, error) { return sock, nil },
		}, st)

		assert.Nil(t, p.Bridge())
		require.NoError(t, host.Use(context.Background(), p))
		require.NotNil(t, p.Bridge())
		assert.Same(t, sock, p.Bridge().Socket())
		assert.ErrorIs(t, host.Use(context.Background(), p), app.ErrAlreadyInstalled)
	})
}
