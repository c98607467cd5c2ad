package main

import (
	"context"
	"fmt"
	"log"

	"github.com/kleeedolinux/actionsocket/internal/sync"
	"github.com/kleeedolinux/actionsocket/store"
)

const syncEvent = "sync"

type syncPayload struct {
	Count int `json:"count"`
}

// counters keeps one counter store per room.
type counters struct {
	mu    sync.Mutex
	rooms map[string]*store.Store[int]

	// Called after every change with the room's new count.
	changed func(room string, count int)
}

func newCounters(changed func(room string, count int)) *counters {
	return &counters{
		rooms:   make(map[string]*store.Store[int]),
		changed: changed,
	}
}

func (c *counters) room(name string) *store.Store[int] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.rooms[name]; ok {
		return st
	}
	st := newRoomStore(name)
	st.Subscribe(func(_ store.Mutation, count int) {
		c.changed(name, count)
	})
	c.rooms[name] = st
	return st
}

// count returns 0 for rooms nobody has touched yet.
func (c *counters) count(name string) int {
	c.mu.Lock()
	st, ok := c.rooms[name]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return st.State()
}

// handle dispatches event into the room's store. Events that are not
// counter actions are reported as handled=false.
func (c *counters) handle(ctx context.Context, room string, event string, data any) (handled bool) {
	st := c.room(room)
	if !st.HasAction(event) {
		return false
	}
	st.Dispatch(ctx, event, data)
	return true
}

func newRoomStore(room string) *store.Store[int] {
	st := store.New(0, store.WithErrorHandler(func(action store.Action, err error) {
		log.Printf("Room %s: %v", room, err)
	}))

	st.RegisterMutation("add", func(count *int, payload any) {
		*count += payload.(int)
	})
	st.RegisterMutation("set", func(count *int, payload any) {
		*count = payload.(int)
	})

	st.RegisterAction("increment", func(_ context.Context, c *store.Context[int], payload any) error {
		n, err := amount(payload)
		if err != nil {
			return err
		}
		return c.Commit("add", n)
	})
	st.RegisterAction("decrement", func(_ context.Context, c *store.Context[int], payload any) error {
		n, err := amount(payload)
		if err != nil {
			return err
		}
		return c.Commit("add", -n)
	})
	st.RegisterAction("reset", func(_ context.Context, c *store.Context[int], _ any) error {
		return c.Commit("set", 0)
	})
	return st
}

// amount reads a step from a payload. A missing payload means 1.
func amount(payload any) (int, error) {
	if payload == nil {
		return 1, nil
	}
	var n int
	if err := store.DecodePayload(payload, &n); err != nil {
		return 0, fmt.Errorf("invalid amount %v: %w", payload, err)
	}
	return n, nil
}
