package kapton

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"
)

const defaultMutateName = "mutate"

// Host is the component a binding publishes onto.
type Host interface {
	Set(name string, value any)
}

// Watcher is implemented by hosts able to report changes on a state path.
// Watch returns a function that removes the listener.
type Watcher interface {
	Watch(path string, fn func(value any)) (cancel func())
}

// Lifecycle is the set of hooks a host framework adapter calls on a binding.
type Lifecycle interface {
	Init() error
	Ready() error
	OptionsChanged(opts Options)
	Teardown()
}

// State is the subscription state of a binding.
type State uint8

const (
	StateIdle State = iota
	StateSkipped
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSkipped:
		return "skipped"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// BindingOption configures a Binding.
type BindingOption func(*Binding)

// WithLogger sets the logger. The binding adds its own identifying fields.
func WithLogger(logger logrus.FieldLogger) BindingOption {
	return func(b *Binding) {
		b.log = logger
	}
}

// WithErrorHandler registers a function called for every stream error.
func WithErrorHandler(fn func(*StreamError)) BindingOption {
	return func(b *Binding) {
		b.onError = fn
	}
}

// WithErrorChannel makes the binding send stream errors on ch. Sends never
// block: an error is dropped when ch is not ready.
func WithErrorChannel(ch chan<- *StreamError) BindingOption {
	return func(b *Binding) {
		b.errs = ch
	}
}

// WithMetrics records binding activity on m.
func WithMetrics(m *Metrics) BindingOption {
	return func(b *Binding) {
		b.metrics = m
	}
}

// Binding ties one GraphQL operation to one component. It subscribes,
// updates and unsubscribes as lifecycle events and option changes arrive,
// and publishes every result onto a single host property.
type Binding struct {
	id      uuid.UUID
	doc     *ast.QueryDocument
	op      *ParsedOperation
	client  Client
	host    Host
	source  OptionsSource
	log     logrus.FieldLogger
	onError func(*StreamError)
	errs    chan<- *StreamError
	metrics *Metrics

	// lifecycle serializes Init, Ready, OptionsChanged and Teardown.
	lifecycle sync.Mutex

	// mu guards the fields below. It is never held while calling the host
	// or an observable.
	mu              sync.Mutex
	state           State
	current         *Options
	observable      Observable
	subscription    SubscriptionHandle
	generation      uint64
	watching        bool
	stopWatching    func()
	mutatePublished bool
	tornDown        bool
}

var _ Lifecycle = (*Binding)(nil)

// New classifies doc and returns a binding publishing onto host. It fails
// with an *InvalidDocumentError when doc does not hold exactly one operation.
func New(doc *ast.QueryDocument, client Client, host Host, source OptionsSource, opts ...BindingOption) (*Binding, error) {
	op, err := Classify(doc)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("kapton: nil client")
	}
	if host == nil {
		return nil, errors.New("kapton: nil host")
	}

	b := &Binding{
		id:     uuid.New(),
		doc:    doc,
		op:     op,
		client: client,
		host:   host,
		source: source,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithFields(logrus.Fields{
		"binding":   b.id.String(),
		"operation": op.Name,
		"type":      op.Type.String(),
	})
	return b, nil
}

// ID returns the identity of the binding.
func (b *Binding) ID() uuid.UUID { return b.id }

// Operation returns the classification of the bound document.
func (b *Binding) Operation() *ParsedOperation { return b.op }

// State returns the current subscription state.
func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PropertyName returns the host property results are published onto:
// Options.Name when set, otherwise "mutate" for mutations and the operation
// name for queries and subscriptions ("data" when the operation is
// anonymous). Named operations therefore publish under their own name rather
// than a fixed "data" property. With dynamic options the name may change once
// options arrive.
func (b *Binding) PropertyName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.propertyName()
}

// CurrentOptions returns the last resolved options, if any.
func (b *Binding) CurrentOptions() (Options, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Options{}, false
	}
	return b.current.Clone(), true
}

// Init resolves static options, or starts listening on the options path of
// the host. A host that reports the current value while registering the
// listener triggers OptionsChanged before Init returns.
//
// The options path must not be related to the property the binding
// publishes onto (equal, ancestor or descendant): publishing would report
// an option change from inside the binding. Init fails with
// ErrOverlappingPath in that case, and later options naming such a property
// are ignored.
func (b *Binding) Init() error {
	b.lifecycle.Lock()
	if b.isTornDown() {
		b.lifecycle.Unlock()
		return nil
	}
	if !b.source.IsDynamic() {
		b.resolveStatic()
		b.lifecycle.Unlock()
		return nil
	}

	if name := b.PropertyName(); pathsOverlap(name, b.source.Path()) {
		b.lifecycle.Unlock()
		return fmt.Errorf("%w: property %q, options %q", ErrOverlappingPath, name, b.source.Path())
	}
	w, ok := b.host.(Watcher)
	if !ok {
		b.lifecycle.Unlock()
		return fmt.Errorf("%w: %q", ErrNoWatcher, b.source.Path())
	}
	b.mu.Lock()
	already := b.watching
	b.watching = true
	b.mu.Unlock()
	b.lifecycle.Unlock()
	if already {
		return nil
	}

	b.log.WithField("path", b.source.Path()).Debug("watching options")
	cancel := w.Watch(b.source.Path(), b.optionsFromHost)

	b.mu.Lock()
	if b.tornDown {
		b.mu.Unlock()
		cancel()
		return nil
	}
	b.stopWatching = cancel
	b.mu.Unlock()
	return nil
}

// Ready publishes the mutate function of mutation bindings, and subscribes
// query and subscription bindings that have static options.
func (b *Binding) Ready() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.isTornDown() {
		return nil
	}

	switch b.op.Type {
	case Mutation:
		b.publishMutate()
		return nil
	case Query, Subscription:
	}

	if b.State() == StateSubscribed || b.source.IsDynamic() {
		return nil
	}
	opts := b.resolveStatic()
	if opts.Skip {
		b.setState(StateSkipped)
		b.log.Debug("skipped")
		return nil
	}
	b.subscribe()
	return nil
}

// OptionsChanged applies a new option set. Skipping releases the live
// subscription, re-enabling subscribes again, and a change while subscribed
// is pushed to the observable when it accepts live updates or otherwise
// resubscribes.
func (b *Binding) OptionsChanged(opts Options) {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.isTornDown() {
		return
	}
	opts = opts.Clone()

	if b.op.Type == Mutation {
		b.setCurrent(opts)
		return
	}

	if opts.Skip {
		switch b.State() {
		case StateSubscribed:
			b.unsubscribe()
			b.setState(StateSkipped)
			b.log.Debug("skipped")
		case StateIdle:
			b.setState(StateSkipped)
		case StateSkipped:
		}
		return
	}

	b.setCurrent(opts)
	switch b.State() {
	case StateSubscribed:
		if b.updateLive(opts) {
			b.metrics.optionsUpdated(b.op, "live")
			return
		}
		b.unsubscribe()
		b.subscribe()
		b.metrics.optionsUpdated(b.op, "resubscribe")
	case StateSkipped:
		b.log.Debug("re-enabled")
		b.subscribe()
	case StateIdle:
		b.subscribe()
	}
}

// Teardown stops listening for option changes and releases the subscription.
// The binding ignores every event afterwards. A result whose host write has
// already started when Teardown runs may still land on the host.
func (b *Binding) Teardown() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if b.tornDown {
		b.mu.Unlock()
		return
	}
	b.tornDown = true
	stop := b.stopWatching
	b.stopWatching = nil
	b.mu.Unlock()

	if stop != nil {
		stop()
	}
	b.unsubscribe()
	b.log.Debug("torn down")
}

// Mutate runs the bound document as a mutation. It is the function that
// mutation bindings publish.
func (b *Binding) Mutate(ctx context.Context, opts MutationOptions) (*Result, error) {
	opts.Mutation = b.doc
	if opts.OperationName == "" && b.op.Definition != nil {
		opts.OperationName = b.op.Definition.Name
	}
	return b.client.Mutate(ctx, opts)
}

func (b *Binding) optionsFromHost(value any) {
	opts, err := DecodeOptions(value)
	if err != nil {
		b.log.WithError(err).WithField("path", b.source.Path()).Warn("ignoring options")
		return
	}
	if pathsOverlap(opts.Name, b.source.Path()) {
		b.log.WithFields(logrus.Fields{"path": b.source.Path(), "name": opts.Name}).
			Warn("ignoring options publishing onto their own path")
		return
	}
	b.OptionsChanged(opts)
}

// updateLive pushes opts to the live observable. It reports false when the
// observable cannot take live updates and must be resubscribed.
func (b *Binding) updateLive(opts Options) bool {
	if b.op.Type == Subscription {
		return false
	}
	b.mu.Lock()
	setter, ok := b.observable.(OptionSetter)
	gen := b.generation
	b.mu.Unlock()
	if !ok {
		return false
	}
	if err := setter.SetOptions(opts.QueryOptions(b.doc)); err != nil {
		b.streamFailed(gen, fmt.Errorf("set options: %w", err))
		return false
	}
	return true
}

// subscribe creates the observable when needed and attaches the result and
// error callbacks. Callers hold the lifecycle lock.
func (b *Binding) subscribe() {
	b.mu.Lock()
	if b.current == nil {
		b.mu.Unlock()
		return
	}
	qo := b.current.QueryOptions(b.doc)
	obs := b.observable
	b.mu.Unlock()

	if obs == nil {
		switch b.op.Type {
		case Query:
			obs = b.client.WatchQuery(qo)
		case Subscription:
			obs = b.client.Subscribe(qo)
		case Mutation:
			return
		}
	}

	b.mu.Lock()
	b.generation++
	gen := b.generation
	b.observable = obs
	b.state = StateSubscribed
	b.mu.Unlock()

	sub := obs.Subscribe(Observer{
		Next:     func(r Result) { b.deliver(gen, r) },
		Error:    func(err error) { b.streamFailed(gen, err) },
		Complete: func() { b.completed(gen) },
	})

	b.mu.Lock()
	stale := b.generation != gen
	if !stale {
		b.subscription = sub
	}
	b.mu.Unlock()
	if stale && sub != nil {
		sub.Unsubscribe()
		return
	}
	b.metrics.subscribed(b.op)
	b.log.WithField("variables", qo.Variables).Debug("subscribed")
}

// unsubscribe releases both the subscription and the observable.
func (b *Binding) unsubscribe() {
	b.mu.Lock()
	sub := b.subscription
	live := b.state == StateSubscribed
	b.subscription = nil
	b.observable = nil
	b.generation++
	b.state = StateIdle
	b.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if live {
		b.metrics.unsubscribed(b.op)
		b.log.Debug("unsubscribed")
	}
}

func (b *Binding) deliver(gen uint64, r Result) {
	b.mu.Lock()
	if gen != b.generation || b.tornDown {
		b.mu.Unlock()
		return
	}
	obs := b.observable
	name := b.propertyName()
	var variables map[string]any
	if b.current != nil {
		variables = b.current.Variables
	}
	b.mu.Unlock()

	data := publishedData(b.op.Type, r, obs, variables)

	// Passthroughs may call back into the binding; check again before writing.
	b.mu.Lock()
	current := gen == b.generation && !b.tornDown
	b.mu.Unlock()
	if !current {
		return
	}
	b.host.Set(name, data)
	b.metrics.publishedValue(b.op)
}

func (b *Binding) streamFailed(gen uint64, err error) {
	b.mu.Lock()
	stale := gen != b.generation
	b.mu.Unlock()
	if stale {
		b.log.WithError(err).Debug("dropping error from released subscription")
		return
	}

	serr := &StreamError{Binding: b.id, Operation: b.op.Name, Type: b.op.Type, Err: err}
	b.log.WithError(err).Error("stream error")
	b.metrics.streamError(b.op)
	if b.onError != nil {
		b.onError(serr)
	}
	if b.errs != nil {
		select {
		case b.errs <- serr:
		default:
		}
	}
}

// completed handles the end of the underlying stream: handles are released
// and the next option change subscribes again.
func (b *Binding) completed(gen uint64) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}
	b.subscription = nil
	b.observable = nil
	b.generation++
	b.state = StateIdle
	b.mu.Unlock()
	b.log.Debug("stream completed")
}

func (b *Binding) publishMutate() {
	b.mu.Lock()
	if b.mutatePublished {
		b.mu.Unlock()
		return
	}
	if b.current == nil && !b.source.IsDynamic() {
		opts := b.source.static.Clone()
		b.current = &opts
	}
	b.mutatePublished = true
	name := b.propertyName()
	b.mu.Unlock()

	b.host.Set(name, MutateFunc(b.Mutate))
	b.metrics.publishedValue(b.op)
}

// propertyName must be called with mu held.
func (b *Binding) propertyName() string {
	opts := b.current
	if opts == nil && !b.source.IsDynamic() {
		opts = &b.source.static
	}
	if opts != nil && opts.Name != "" {
		return opts.Name
	}
	if b.op.Type == Mutation {
		return defaultMutateName
	}
	return b.op.Name
}

// pathsOverlap reports whether two dotted paths are equal or one is the
// ancestor of the other.
func pathsOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

func (b *Binding) resolveStatic() Options {
	opts := b.source.static.Clone()
	b.setCurrent(opts)
	return opts
}

func (b *Binding) setCurrent(opts Options) {
	b.mu.Lock()
	b.current = &opts
	b.mu.Unlock()
}

func (b *Binding) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Binding) isTornDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tornDown
}
