package transport

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/atoy40/kapton"
)

// watchQuery is the observable of a query. It keeps the last data, fetches
// according to the fetch policy of its options, and takes new options in
// place.
type watchQuery struct {
	link *Link

	// fetchMu serializes network fetches.
	fetchMu sync.Mutex

	mu        sync.Mutex
	opts      kapton.QueryOptions
	query     string
	data      map[string]any
	version   uint64
	observers map[uint64]*emitter
	more      map[uint64]func()
	nextID    uint64
	ctx       context.Context
	cancel    context.CancelFunc
	stopPoll  context.CancelFunc
}

var (
	_ kapton.Observable   = (*watchQuery)(nil)
	_ kapton.OptionSetter = (*watchQuery)(nil)
)

func newWatchQuery(l *Link, opts kapton.QueryOptions) *watchQuery {
	return &watchQuery{
		link:      l,
		opts:      cloneQueryOptions(opts),
		query:     printDocument(opts.Query),
		observers: make(map[uint64]*emitter),
		more:      make(map[uint64]func()),
	}
}

func cloneQueryOptions(opts kapton.QueryOptions) kapton.QueryOptions {
	opts.Variables = maps.Clone(opts.Variables)
	return opts
}

// Subscribe adds an observer. The first observer starts the initial fetch
// and polling; later ones receive the last data right away.
func (w *watchQuery) Subscribe(observer kapton.Observer) kapton.SubscriptionHandle {
	out := newEmitter(observer)

	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.observers[id] = out
	first := len(w.observers) == 1
	if first {
		w.ctx, w.cancel = context.WithCancel(context.Background())
	}
	ctx, version, opts, query, data := w.ctx, w.version, w.opts, w.query, w.data
	w.mu.Unlock()

	if first {
		w.restartPolling()
		go w.load(ctx, version, opts, query)
	} else if data != nil {
		out.next(ready(maps.Clone(data)))
	}
	return &watchSubscription{w: w, id: id}
}

// SetOptions replaces the options of the query and loads it again when
// observers are subscribed. Results of the previous options are dropped.
func (w *watchQuery) SetOptions(opts kapton.QueryOptions) error {
	if opts.Query == nil {
		return errors.New("transport: watch query without document")
	}
	opts = cloneQueryOptions(opts)

	w.mu.Lock()
	prev := w.opts
	w.opts = opts
	if opts.Query != prev.Query {
		w.query = printDocument(opts.Query)
	}
	w.version++
	ctx, version, query := w.ctx, w.version, w.query
	active := len(w.observers) > 0
	w.mu.Unlock()

	if !active {
		return nil
	}
	if opts.PollInterval != prev.PollInterval {
		w.restartPolling()
	}
	go w.load(ctx, version, opts, query)
	return nil
}

// Variables returns a copy of the current variables.
func (w *watchQuery) Variables() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.opts.Variables)
}

// Refetch fetches the query from the network. Non-nil variables are merged
// into the current ones and kept for later fetches.
func (w *watchQuery) Refetch(ctx context.Context, variables map[string]any) (*kapton.Result, error) {
	w.mu.Lock()
	if variables != nil {
		merged := maps.Clone(w.opts.Variables)
		if merged == nil {
			merged = make(map[string]any, len(variables))
		}
		maps.Copy(merged, variables)
		w.opts.Variables = merged
		w.version++
	}
	version, opts, query := w.version, cloneQueryOptions(w.opts), w.query
	w.mu.Unlock()

	if opts.FetchPolicy != kapton.NoCache {
		opts.FetchPolicy = kapton.NetworkOnly
	}
	return w.fetch(ctx, version, opts, query)
}

// FetchMore fetches another page and merges it into the current data with
// opts.UpdateQuery. It returns the result of the page fetch.
func (w *watchQuery) FetchMore(ctx context.Context, opts kapton.FetchMoreOptions) (*kapton.Result, error) {
	w.mu.Lock()
	version, current, query := w.version, cloneQueryOptions(w.opts), w.query
	w.mu.Unlock()

	moreQuery, operationName := query, current.OperationName
	if opts.Query != nil {
		moreQuery, operationName = printDocument(opts.Query), ""
	}
	variables := maps.Clone(current.Variables)
	if variables == nil {
		variables = make(map[string]any, len(opts.Variables))
	}
	maps.Copy(variables, opts.Variables)

	data, err := w.link.execute(ctx, moreQuery, operationName, variables)
	if data == nil {
		if err != nil {
			return nil, err
		}
		return &kapton.Result{NetworkStatus: kapton.NetworkStatusReady}, nil
	}

	w.mu.Lock()
	previous := maps.Clone(w.data)
	w.mu.Unlock()
	merged := data
	if opts.UpdateQuery != nil {
		merged = opts.UpdateQuery(previous, maps.Clone(data))
	}
	if merged != nil {
		w.commit(version, merged)
	}
	return result(data, err)
}

// UpdateQuery replaces the current data with fn applied to a copy of it.
// A nil return leaves the data unchanged.
func (w *watchQuery) UpdateQuery(fn func(previous map[string]any) map[string]any) {
	w.mu.Lock()
	previous, version := maps.Clone(w.data), w.version
	w.mu.Unlock()

	if next := fn(previous); next != nil {
		w.commit(version, next)
	}
}

// StartPolling fetches the query from the network every interval while
// observers are subscribed.
func (w *watchQuery) StartPolling(interval time.Duration) {
	w.mu.Lock()
	w.opts.PollInterval = interval
	w.mu.Unlock()
	w.restartPolling()
}

// StopPolling stops polling started by StartPolling or the poll interval option.
func (w *watchQuery) StopPolling() {
	w.mu.Lock()
	w.opts.PollInterval = 0
	w.mu.Unlock()
	w.restartPolling()
}

// SubscribeToMore opens a subscription whose events are merged into the
// data of the query with opts.UpdateQuery. The returned function closes it;
// it is also closed when the last observer of the query unsubscribes.
func (w *watchQuery) SubscribeToMore(opts kapton.SubscribeToMoreOptions) func() {
	s := &stream{
		link:      w.link,
		query:     printDocument(opts.Document),
		variables: maps.Clone(opts.Variables),
	}
	sub := s.Subscribe(kapton.Observer{
		Next: func(r kapton.Result) {
			w.mu.Lock()
			previous, version := maps.Clone(w.data), w.version
			w.mu.Unlock()

			next := r.Data
			if opts.UpdateQuery != nil {
				next = opts.UpdateQuery(previous, r.Data)
			}
			if next != nil {
				w.commit(version, next)
			}
		},
		Error: opts.OnError,
	})

	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.more[id] = sub.Unsubscribe
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		stop, ok := w.more[id]
		delete(w.more, id)
		w.mu.Unlock()
		if ok {
			stop()
		}
	}
}

// load serves the options from the cache or the network, as their fetch
// policy says.
func (w *watchQuery) load(ctx context.Context, version uint64, opts kapton.QueryOptions, query string) {
	if data, ok := w.link.cached(opts.FetchPolicy, query, opts.Variables); ok {
		if opts.FetchPolicy != kapton.CacheAndNetwork {
			w.publish(version, ready(data))
			return
		}
		w.publish(version, kapton.Result{
			Data:          data,
			Loading:       true,
			NetworkStatus: kapton.NetworkStatusLoading,
		})
	} else if opts.FetchPolicy == kapton.CacheOnly {
		w.fail(version, ErrCacheMiss)
		return
	}
	_, _ = w.fetch(ctx, version, opts, query)
}

// fetch runs the query on the network and publishes the outcome unless the
// options changed meanwhile.
func (w *watchQuery) fetch(ctx context.Context, version uint64, opts kapton.QueryOptions, query string) (*kapton.Result, error) {
	w.fetchMu.Lock()
	defer w.fetchMu.Unlock()

	data, err := w.link.execute(ctx, query, opts.OperationName, opts.Variables)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if data != nil && writesCache(opts.FetchPolicy) {
		w.link.store(query, opts.Variables, data)
	}
	r, err := result(data, err)
	if r == nil {
		w.fail(version, err)
		return nil, err
	}
	w.publish(version, *r)
	return r, err
}

// commit stores data as the current data of the query and publishes it.
func (w *watchQuery) commit(version uint64, data map[string]any) {
	w.mu.Lock()
	opts, query := w.opts, w.query
	current := version == w.version
	w.mu.Unlock()
	if !current {
		return
	}
	if writesCache(opts.FetchPolicy) {
		w.link.store(query, opts.Variables, data)
	}
	w.publish(version, ready(data))
}

func (w *watchQuery) publish(version uint64, r kapton.Result) {
	w.mu.Lock()
	if version != w.version {
		w.mu.Unlock()
		return
	}
	if r.Data != nil {
		w.data = maps.Clone(r.Data)
	}
	outs := w.snapshot()
	w.mu.Unlock()

	for _, out := range outs {
		out.next(r)
	}
}

func (w *watchQuery) fail(version uint64, err error) {
	w.mu.Lock()
	if version != w.version {
		w.mu.Unlock()
		return
	}
	outs := w.snapshot()
	w.mu.Unlock()

	for _, out := range outs {
		out.fail(err)
	}
}

// snapshot must be called with mu held.
func (w *watchQuery) snapshot() []*emitter {
	outs := make([]*emitter, 0, len(w.observers))
	for _, out := range w.observers {
		outs = append(outs, out)
	}
	return outs
}

// restartPolling stops the poller and starts a new one when observers are
// subscribed and the poll interval is positive.
func (w *watchQuery) restartPolling() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopPoll != nil {
		w.stopPoll()
		w.stopPoll = nil
	}
	if w.ctx == nil || w.opts.PollInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.stopPoll = cancel
	go w.poll(ctx, w.opts.PollInterval)
}

func (w *watchQuery) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			version, opts, query := w.version, cloneQueryOptions(w.opts), w.query
			w.mu.Unlock()
			if opts.FetchPolicy != kapton.NoCache {
				opts.FetchPolicy = kapton.NetworkOnly
			}
			_, _ = w.fetch(ctx, version, opts, query)
		}
	}
}

// remove drops an observer. Removing the last one stops polling, cancels
// in-flight fetches and closes the subscriptions opened by SubscribeToMore.
func (w *watchQuery) remove(id uint64) {
	w.mu.Lock()
	out, ok := w.observers[id]
	delete(w.observers, id)
	var cancel context.CancelFunc
	var more []func()
	if ok && len(w.observers) == 0 {
		cancel = w.cancel
		w.cancel, w.ctx, w.stopPoll = nil, nil, nil
		for _, stop := range w.more {
			more = append(more, stop)
		}
		w.more = make(map[uint64]func())
		w.version++
	}
	w.mu.Unlock()

	if out != nil {
		out.close()
	}
	if cancel != nil {
		cancel()
	}
	for _, stop := range more {
		stop()
	}
}

func ready(data map[string]any) kapton.Result {
	return kapton.Result{Data: data, NetworkStatus: kapton.NetworkStatusReady}
}

type watchSubscription struct {
	w    *watchQuery
	once sync.Once
	id   uint64
}

func (s *watchSubscription) Unsubscribe() {
	s.once.Do(func() { s.w.remove(s.id) })
}
