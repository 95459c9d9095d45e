package component

import (
	"maps"
	"strings"
	"sync"
)

// State is a property store addressed by dotted paths. Nested maps are
// created on write. It is safe for concurrent use: a write copies the maps
// along its path, so maps returned by Get or passed to watchers are never
// modified afterwards.
type State struct {
	mu       sync.Mutex
	root     map[string]any
	watchers []*watcher
	nextID   uint64
}

type watcher struct {
	id   uint64
	path string
	fn   func(any)
}

// NewState returns an empty state.
func NewState() *State {
	return &State{root: make(map[string]any)}
}

// Get returns the value at path.
func (s *State) Get(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lookup(s.root, path)
}

// Set stores value at path and notifies the watchers of the path, of its
// ancestors and of its descendants. Watchers run after the write, outside
// the lock, in registration order. A descendant watcher whose path no longer
// resolves is not called.
func (s *State) Set(path string, value any) {
	if path == "" {
		return
	}
	s.mu.Lock()
	store(s.root, strings.Split(path, "."), value)
	type call struct {
		fn    func(any)
		value any
	}
	var calls []call
	for _, w := range s.watchers {
		if !related(w.path, path) {
			continue
		}
		v, ok := lookup(s.root, w.path)
		if !ok {
			continue
		}
		calls = append(calls, call{fn: w.fn, value: v})
	}
	s.mu.Unlock()

	for _, c := range calls {
		c.fn(c.value)
	}
}

// Watch calls fn with the value at path on every related Set. When path
// already holds a value, fn is called with it before Watch returns. The
// returned function removes the watcher.
func (s *State) Watch(path string, fn func(value any)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers = append(s.watchers, &watcher{id: id, path: path, fn: fn})
	current, ok := lookup(s.root, path)
	s.mu.Unlock()

	if ok {
		fn(current)
	}
	return func() { s.unwatch(id) }
}

func (s *State) unwatch(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.watchers {
		if w.id == id {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			return
		}
	}
}

// related reports whether a write at written concerns a watcher of watched:
// same path, an ancestor, or a descendant.
func related(watched, written string) bool {
	return watched == written ||
		strings.HasPrefix(written, watched+".") ||
		strings.HasPrefix(watched, written+".")
}

func lookup(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = root
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// store writes value at keys below root. Every map on the way is replaced
// by a copy; only root is modified in place.
func store(root map[string]any, keys []string, value any) {
	key := keys[0]
	if len(keys) == 1 {
		root[key] = value
		return
	}
	next, _ := root[key].(map[string]any)
	next = maps.Clone(next)
	if next == nil {
		next = make(map[string]any)
	}
	store(next, keys[1:], value)
	root[key] = next
}
