// Package component is a minimal host framework for bindings: a property
// store with path watchers and a lifecycle driver.
package component

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/atoy40/kapton"
)

// Option configures a Component.
type Option func(*Component)

// WithLogger sets the logger of the component.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Component) {
		c.log = logger
	}
}

// WithState makes the component publish onto an existing state.
func WithState(state *State) Option {
	return func(c *Component) {
		c.state = state
	}
}

// Component is a named property store driving the lifecycle of the
// bindings attached to it. It implements kapton.Host and kapton.Watcher.
type Component struct {
	name  string
	state *State
	log   logrus.FieldLogger

	mu      sync.Mutex
	hooks   []kapton.Lifecycle
	mounted bool
}

var (
	_ kapton.Host    = (*Component)(nil)
	_ kapton.Watcher = (*Component)(nil)
)

// New returns an unmounted component.
func New(name string, opts ...Option) *Component {
	c := &Component{
		name: name,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.state == nil {
		c.state = NewState()
	}
	c.log = c.log.WithField("component", name)
	return c
}

func (c *Component) Name() string { return c.name }

func (c *Component) State() *State { return c.state }

// Set stores a property.
func (c *Component) Set(name string, value any) {
	c.state.Set(name, value)
}

// Get returns a property, or the value at a dotted path below one.
func (c *Component) Get(path string) (any, bool) {
	return c.state.Get(path)
}

// Watch observes a path of the component state.
func (c *Component) Watch(path string, fn func(value any)) func() {
	return c.state.Watch(path, fn)
}

// Bind creates a binding of doc publishing onto c, and attaches it.
func (c *Component) Bind(doc *ast.QueryDocument, client kapton.Client, source kapton.OptionsSource, opts ...kapton.BindingOption) (*kapton.Binding, error) {
	opts = append([]kapton.BindingOption{kapton.WithLogger(c.log)}, opts...)
	b, err := kapton.New(doc, client, c, source, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Attach(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Attach adds lifecycle hooks. On a mounted component the hooks are
// initialized and made ready right away.
func (c *Component) Attach(l kapton.Lifecycle) error {
	c.mu.Lock()
	c.hooks = append(c.hooks, l)
	mounted := c.mounted
	c.mu.Unlock()

	if !mounted {
		return nil
	}
	if err := l.Init(); err != nil {
		return fmt.Errorf("component %s: init: %w", c.name, err)
	}
	if err := l.Ready(); err != nil {
		return fmt.Errorf("component %s: ready: %w", c.name, err)
	}
	return nil
}

// Mount initializes every attached hook, then makes them ready, in
// attachment order. It stops at the first failure.
func (c *Component) Mount() error {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.mounted = true
	hooks := append([]kapton.Lifecycle(nil), c.hooks...)
	c.mu.Unlock()

	for _, h := range hooks {
		if err := h.Init(); err != nil {
			return fmt.Errorf("component %s: init: %w", c.name, err)
		}
	}
	for _, h := range hooks {
		if err := h.Ready(); err != nil {
			return fmt.Errorf("component %s: ready: %w", c.name, err)
		}
	}
	c.log.WithField("hooks", len(hooks)).Debug("mounted")
	return nil
}

// Unmount tears the hooks down in reverse attachment order. Hooks stay
// attached, but a torn down binding ignores later events.
func (c *Component) Unmount() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	hooks := append([]kapton.Lifecycle(nil), c.hooks...)
	c.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i].Teardown()
	}
	c.log.Debug("unmounted")
}
