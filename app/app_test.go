package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlugin struct {
	name     string
	err      error
	installs int
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) Install(ctx context.Context, a *App) error {
	p.installs++
	if p.err != nil {
		return p.err
	}
	a.Provide(p.name, p)
	return nil
}

func TestProvideInject(t *testing.T) {
	root := New("root")
	child := root.Child("child")
	grandchild := child.Child("grandchild")

	value := &struct{ n int }{n: 1}
	root.Provide("thing", value)

	for _, scope := range []*App{root, child, grandchild} {
		v, ok := scope.Inject("thing")
		require.True(t, ok, scope.Name())
		assert.Same(t, value, v)
	}

	shadow := &struct{ n int }{n: 2}
	child.Provide("thing", shadow)

	v, _ := grandchild.Inject("thing")
	assert.Same(t, shadow, v)
	v, _ = root.Inject("thing")
	assert.Same(t, value, v)

	_, ok := grandchild.Inject("missing")
	assert.False(t, ok)

	assert.Same(t, child, grandchild.Parent())
	assert.Nil(t, root.Parent())
}

func TestInjectAs(t *testing.T) {
	a := New("root")
	a.Provide("name", "counter")

	s, ok := InjectAs[string](a, "name")
	assert.True(t, ok)
	assert.Equal(t, "counter", s)

	_, ok = InjectAs[int](a, "name")
	assert.False(t, ok)

	_, ok = InjectAs[string](a, "missing")
	assert.False(t, ok)
}

func TestGlobals(t *testing.T) {
	root := New("root")
	child := root.Child("child")

	child.Globals().Set("b", 2)
	root.Globals().Set("a", 1)

	v, ok := root.Globals().Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Same(t, root.Globals(), child.Globals())
	assert.Equal(t, []string{"a", "b"}, child.Globals().Keys())

	_, ok = root.Globals().Get("c")
	assert.False(t, ok)
}

func TestUse(t *testing.T) {
	t.Run("should install once per tree", func(t *testing.T) {
		root := New("root")
		p := &fakePlugin{name: "bridge"}

		require.NoError(t, root.Use(context.Background(), p))
		err := root.Child("child").Use(context.Background(), p)
		assert.ErrorIs(t, err, ErrAlreadyInstalled)
		assert.Equal(t, 1, p.installs)

		_, ok := root.Inject("bridge")
		assert.True(t, ok)
	})

	t.Run("should allow a retry after a failed install", func(t *testing.T) {
		root := New("root")
		boom := errors.New("boom")
		p := &fakePlugin{name: "bridge", err: boom}

		err := root.Use(context.Background(), p)
		assert.ErrorIs(t, err, boom)

		p.err = nil
		require.NoError(t, root.Use(context.Background(), p))
		assert.Equal(t, 2, p.installs)
	})
}

func TestContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	a := New("root")
	ctx := WithApp(context.Background(), a)
	assert.Same(t, a, FromContext(ctx))
}
