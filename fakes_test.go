package kapton_test

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/atoy40/kapton"
)

// fakeClient records every observable it hands out. With live set, the
// observables accept SetOptions and expose passthrough helpers.
type fakeClient struct {
	live bool

	mu        sync.Mutex
	watches   []*fakeObservable
	subs      []*fakeObservable
	mutations []kapton.MutationOptions
}

func (c *fakeClient) WatchQuery(opts kapton.QueryOptions) kapton.Observable {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &fakeObservable{opts: opts}
	c.watches = append(c.watches, o)
	if c.live {
		return &liveObservable{o}
	}
	return o
}

func (c *fakeClient) Subscribe(opts kapton.QueryOptions) kapton.Observable {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &fakeObservable{opts: opts}
	c.subs = append(c.subs, o)
	if c.live {
		return &liveObservable{o}
	}
	return o
}

func (c *fakeClient) Mutate(_ context.Context, opts kapton.MutationOptions) (*kapton.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutations = append(c.mutations, opts)
	return &kapton.Result{Data: map[string]any{"ok": true}, NetworkStatus: kapton.NetworkStatusReady}, nil
}

func (c *fakeClient) watchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watches)
}

func (c *fakeClient) subCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *fakeClient) watch(i int) *fakeObservable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watches[i]
}

func (c *fakeClient) sub(i int) *fakeObservable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[i]
}

type fakeObservable struct {
	mu           sync.Mutex
	opts         kapton.QueryOptions
	observers    []kapton.Observer
	unsubscribed int
	setOptions   []kapton.QueryOptions

	// onSubscribe, when set, runs inside Subscribe before it returns.
	onSubscribe func(kapton.Observer)
}

func (o *fakeObservable) Subscribe(observer kapton.Observer) kapton.SubscriptionHandle {
	o.mu.Lock()
	o.observers = append(o.observers, observer)
	hook := o.onSubscribe
	o.mu.Unlock()
	if hook != nil {
		hook(observer)
	}
	return fakeSubscription{o}
}

func (o *fakeObservable) emit(r kapton.Result) {
	for _, obs := range o.snapshot() {
		if obs.Next != nil {
			obs.Next(r)
		}
	}
}

func (o *fakeObservable) fail(err error) {
	for _, obs := range o.snapshot() {
		if obs.Error != nil {
			obs.Error(err)
		}
	}
}

func (o *fakeObservable) complete() {
	for _, obs := range o.snapshot() {
		if obs.Complete != nil {
			obs.Complete()
		}
	}
}

func (o *fakeObservable) snapshot() []kapton.Observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]kapton.Observer(nil), o.observers...)
}

func (o *fakeObservable) unsubscribeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unsubscribed
}

func (o *fakeObservable) setOptionsCalls() []kapton.QueryOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]kapton.QueryOptions(nil), o.setOptions...)
}

type fakeSubscription struct {
	o *fakeObservable
}

func (s fakeSubscription) Unsubscribe() {
	s.o.mu.Lock()
	s.o.unsubscribed++
	s.o.mu.Unlock()
}

// liveObservable behaves like a watch query: it takes new options in place
// and exposes a subset of the passthrough helpers.
type liveObservable struct {
	*fakeObservable
}

func (o *liveObservable) SetOptions(opts kapton.QueryOptions) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setOptions = append(o.setOptions, opts)
	o.opts = opts
	return nil
}

func (o *liveObservable) Variables() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return maps.Clone(o.opts.Variables)
}

func (o *liveObservable) Refetch(_ context.Context, variables map[string]any) (*kapton.Result, error) {
	return &kapton.Result{Data: map[string]any{"refetched": variables}}, nil
}

func (o *liveObservable) FetchMore(_ context.Context, _ kapton.FetchMoreOptions) (*kapton.Result, error) {
	return &kapton.Result{}, nil
}

func (o *liveObservable) StartPolling(time.Duration) {}

func (o *liveObservable) StopPolling() {}

// fakeHost is a component that records published values and lets tests
// drive option changes on watched paths.
type fakeHost struct {
	mu       sync.Mutex
	values   map[string]any
	sets     map[string]int
	watchers map[string]func(any)
	cancels  int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		values:   map[string]any{},
		sets:     map[string]int{},
		watchers: map[string]func(any){},
	}
}

func (h *fakeHost) Set(name string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values[name] = value
	h.sets[name]++
}

func (h *fakeHost) Watch(path string, fn func(any)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers[path] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.watchers, path)
		h.cancels++
	}
}

func (h *fakeHost) fire(path string, value any) {
	h.mu.Lock()
	fn := h.watchers[path]
	h.mu.Unlock()
	if fn != nil {
		fn(value)
	}
}

func (h *fakeHost) get(name string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[name]
	return v, ok
}

func (h *fakeHost) setCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sets[name]
}

// plainHost cannot watch paths.
type plainHost struct {
	mu   sync.Mutex
	sets int
}

func (h *plainHost) Set(string, any) {
	h.mu.Lock()
	h.sets++
	h.mu.Unlock()
}
