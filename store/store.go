// Package store is an action/mutation state container.
//
// Mutations change the state synchronously. Actions are named, possibly
// failing operations that usually commit mutations. Subscribers observe every
// action before its handler runs and every mutation after it is applied.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kleeedolinux/actionsocket/internal/sync"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrUnknownMutation = errors.New("unknown mutation")
)

type Action struct {
	Type    string
	Payload any
}

type Mutation struct {
	Type    string
	Payload any
}

type (
	ActionHandler[S any]   func(ctx context.Context, c *Context[S], payload any) error
	MutationHandler[S any] func(state *S, payload any)

	Unsubscribe func()
)

type Option func(*options)

type options struct {
	errorHandler func(action Action, err error)
}

// WithErrorHandler registers a callback for failed dispatches. It runs
// before Dispatch returns the error.
func WithErrorHandler(f func(action Action, err error)) Option {
	return func(o *options) {
		o.errorHandler = f
	}
}

type Store[S any] struct {
	stateMu sync.RWMutex
	state   S

	mu        sync.RWMutex
	actions   map[string]ActionHandler[S]
	mutations map[string]MutationHandler[S]

	subsMu       sync.RWMutex
	nextSubID    uint64
	actionSubs   []subscription[func(Action, S)]
	mutationSubs []subscription[func(Mutation, S)]
	errorHandler func(Action, error)
}

type subscription[F any] struct {
	id uint64
	fn F
}

func New[S any](initial S, opts ...Option) *Store[S] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[S]{
		state:        initial,
		actions:      make(map[string]ActionHandler[S]),
		mutations:    make(map[string]MutationHandler[S]),
		errorHandler: o.errorHandler,
	}
}

// RegisterAction adds or replaces the handler for name.
func (s *Store[S]) RegisterAction(name string, handler ActionHandler[S]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[name] = handler
}

// RegisterMutation adds or replaces the handler for name.
func (s *Store[S]) RegisterMutation(name string, handler MutationHandler[S]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations[name] = handler
}

// ActionNames returns the registered action names, sorted.
func (s *Store[S]) ActionNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store[S]) HasAction(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.actions[name]
	return ok
}

// State returns a copy of the current state. Reference types inside S
// are shared.
func (s *Store[S]) State() S {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// SubscribeAction calls fn before every action handler runs, with the state
// at that moment.
func (s *Store[S]) SubscribeAction(fn func(Action, S)) Unsubscribe {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.actionSubs = append(s.actionSubs, subscription[func(Action, S)]{id: id, fn: fn})

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		s.actionSubs = removeSubscription(s.actionSubs, id)
	}
}

// Subscribe calls fn after every committed mutation with the new state.
func (s *Store[S]) Subscribe(fn func(Mutation, S)) Unsubscribe {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.mutationSubs = append(s.mutationSubs, subscription[func(Mutation, S)]{id: id, fn: fn})

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		s.mutationSubs = removeSubscription(s.mutationSubs, id)
	}
}

func removeSubscription[F any](subs []subscription[F], id uint64) []subscription[F] {
	out := make([]subscription[F], 0, len(subs))
	for _, sub := range subs {
		if sub.id != id {
			out = append(out, sub)
		}
	}
	return out
}

// Dispatch runs the action handler registered under name. Action
// subscribers are notified first. Unknown names fail with ErrUnknownAction
// without notifying anyone.
func (s *Store[S]) Dispatch(ctx context.Context, name string, payload any) error {
	s.mu.RLock()
	handler, ok := s.actions[name]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("store: action %q: %w", name, ErrUnknownAction)
	}

	action := Action{Type: name, Payload: payload}

	s.subsMu.RLock()
	subs := s.actionSubs
	s.subsMu.RUnlock()

	state := s.State()
	for _, sub := range subs {
		sub.fn(action, state)
	}

	if err := handler(ctx, &Context[S]{store: s}, payload); err != nil {
		err = fmt.Errorf("store: action %q: %w", name, err)
		if s.errorHandler != nil {
			s.errorHandler(action, err)
		}
		return err
	}
	return nil
}

// Commit applies the mutation registered under name.
func (s *Store[S]) Commit(name string, payload any) error {
	s.mu.RLock()
	handler, ok := s.mutations[name]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("store: mutation %q: %w", name, ErrUnknownMutation)
	}

	s.stateMu.Lock()
	handler(&s.state, payload)
	state := s.state
	s.stateMu.Unlock()

	s.subsMu.RLock()
	subs := s.mutationSubs
	s.subsMu.RUnlock()

	mutation := Mutation{Type: name, Payload: payload}
	for _, sub := range subs {
		sub.fn(mutation, state)
	}
	return nil
}

// Context is handed to action handlers.
type Context[S any] struct {
	store *Store[S]
}

func (c *Context[S]) State() S { return c.store.State() }

func (c *Context[S]) Commit(name string, payload any) error {
	return c.store.Commit(name, payload)
}

func (c *Context[S]) Dispatch(ctx context.Context, name string, payload any) error {
	return c.store.Dispatch(ctx, name, payload)
}
