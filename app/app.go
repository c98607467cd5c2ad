// Package app is the composition root a plugin installs itself into.
//
// An App carries named injectables, resolved through parent scopes, and a
// set of global properties shared by the whole tree.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kleeedolinux/actionsocket/internal/sync"
)

var ErrAlreadyInstalled = errors.New("plugin already installed")

// Plugin is installed once per application tree.
type Plugin interface {
	Name() string
	Install(ctx context.Context, a *App) error
}

type App struct {
	name   string
	parent *App

	mu       sync.RWMutex
	provided map[string]any

	globals *Properties

	// Shared with every scope of the tree.
	installed *installedSet
}

type installedSet struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func New(name string) *App {
	return &App{
		name:      name,
		provided:  make(map[string]any),
		globals:   newProperties(),
		installed: &installedSet{names: make(map[string]struct{})},
	}
}

func (a *App) Name() string { return a.name }

func (a *App) Parent() *App { return a.parent }

// Child creates a descendant scope. It sees everything provided by its
// ancestors and shares their global properties.
func (a *App) Child(name string) *App {
	return &App{
		name:      name,
		parent:    a,
		provided:  make(map[string]any),
		globals:   a.globals,
		installed: a.installed,
	}
}

// Provide registers v under key in this scope. A later call replaces the
// value, and a value provided in a descendant shadows this one there.
func (a *App) Provide(key string, v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provided[key] = v
}

// Inject resolves key in this scope, then in each ancestor.
func (a *App) Inject(key string) (any, bool) {
	for scope := a; scope != nil; scope = scope.parent {
		scope.mu.RLock()
		v, ok := scope.provided[key]
		scope.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// InjectAs resolves key and asserts it to T.
func InjectAs[T any](a *App, key string) (T, bool) {
	v, ok := a.Inject(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (a *App) Globals() *Properties { return a.globals }

// Use installs p. Installing a plugin with the same name twice anywhere in
// the tree fails with ErrAlreadyInstalled.
func (a *App) Use(ctx context.Context, p Plugin) error {
	name := p.Name()

	a.installed.mu.Lock()
	if _, ok := a.installed.names[name]; ok {
		a.installed.mu.Unlock()
		return fmt.Errorf("app: %s: %w", name, ErrAlreadyInstalled)
	}
	a.installed.names[name] = struct{}{}
	a.installed.mu.Unlock()

	if err := p.Install(ctx, a); err != nil {
		a.installed.mu.Lock()
		delete(a.installed.names, name)
		a.installed.mu.Unlock()
		return fmt.Errorf("app: install %s: %w", name, err)
	}
	return nil
}

// Properties are global values visible from every scope of an App tree.
type Properties struct {
	mu     sync.RWMutex
	values map[string]any
}

func newProperties() *Properties {
	return &Properties{values: make(map[string]any)}
}

func (p *Properties) Set(key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = v
}

func (p *Properties) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the property names, sorted.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type contextKey struct{}

func WithApp(ctx context.Context, a *App) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext returns the App stored by WithApp, or nil.
func FromContext(ctx context.Context) *App {
	a, _ := ctx.Value(contextKey{}).(*App)
	return a
}
