package main

import (
	"context"

	"github.com/kleeedolinux/actionsocket/store"
)

type syncPayload struct {
	Count int `json:"count"`
}

// newCounterStore holds the count last announced by the server.
// increment, decrement and reset change nothing locally: the bridge
// forwards them and the server answers with sync.
func newCounterStore() *store.Store[int] {
	st := store.New(0)

	st.RegisterMutation("set", func(count *int, payload any) {
		*count = payload.(int)
	})

	request := func(context.Context, *store.Context[int], any) error { return nil }
	st.RegisterAction("increment", request)
	st.RegisterAction("decrement", request)
	st.RegisterAction("reset", request)

	st.RegisterAction("sync", func(_ context.Context, c *store.Context[int], payload any) error {
		var p syncPayload
		if err := store.DecodePayload(payload, &p); err != nil {
			return err
		}
		return c.Commit("set", p.Count)
	})
	return st
}
