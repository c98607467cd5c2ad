package testutil

import (
	"fmt"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kleeedolinux/actionsocket/internal/sync"
)

const DefaultWaitTimeout = 5 * time.Second

// TestWaiter is a WaitGroup that fails the test instead of hanging forever.
type TestWaiter struct {
	wg *sync.WaitGroup
}

func NewTestWaiter(delta int) *TestWaiter {
	wg := new(sync.WaitGroup)
	wg.Add(delta)
	return &TestWaiter{wg: wg}
}

func (w *TestWaiter) Add(delta int) { w.wg.Add(delta) }

func (w *TestWaiter) Done() { w.wg.Done() }

func (w *TestWaiter) WaitTimeout(t testing.TB, timeout time.Duration) (timedout bool) {
	t.Helper()
	return waitTimeout(t, w.wg, timeout)
}

// TestWaiterString waits for a set of named events, each expected once.
type TestWaiterString struct {
	wg      *sync.WaitGroup
	pending mapset.Set[string]
}

func NewTestWaiterString(names ...string) *TestWaiterString {
	w := &TestWaiterString{
		wg:      new(sync.WaitGroup),
		pending: mapset.NewSet[string](),
	}
	for _, name := range names {
		w.Add(name)
	}
	return w
}

func (w *TestWaiterString) Add(name string) {
	w.pending.Add(name)
	w.wg.Add(1)
}

func (w *TestWaiterString) Done(name string) {
	if !w.pending.Contains(name) {
		panic(fmt.Errorf("testutil: Done called for unexpected or already finished %q", name))
	}
	w.pending.Remove(name)
	w.wg.Done()
}

func (w *TestWaiterString) Pending() []string {
	return w.pending.ToSlice()
}

func (w *TestWaiterString) WaitTimeout(t testing.TB, timeout time.Duration) (timedout bool) {
	t.Helper()
	return waitTimeout(t, w.wg, timeout)
}

func waitTimeout(t testing.TB, wg *sync.WaitGroup, timeout time.Duration) bool {
	t.Helper()
	c := make(chan struct{})
	go func() {
		defer close(c)
		wg.Wait()
	}()

	select {
	case <-c:
		return false
	case <-time.After(timeout):
		t.Error("timeout exceeded")
		return true
	}
}
