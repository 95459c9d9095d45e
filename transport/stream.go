package transport

import (
	"sync"

	"github.com/atoy40/kapton"
)

// stream is the observable of a GraphQL subscription. It has no live option
// updates: new variables need a new stream.
type stream struct {
	link          *Link
	query         string
	operationName string
	variables     map[string]any
}

func (s *stream) Subscribe(observer kapton.Observer) kapton.SubscriptionHandle {
	out := newEmitter(observer)
	sub := &streamSubscription{ws: s.link.ws, out: out}
	if s.link.ws == nil {
		out.fail(ErrNoSubscriptionClient)
		return sub
	}

	id, err := s.link.ws.Subscribe(Request{
		Query:         s.query,
		OperationName: s.operationName,
		Variables:     s.variables,
	}, func(raw []byte, gqlErr error) error {
		if sub.isStopped() {
			return ErrSubscriptionStopped
		}
		data, err := decodeData(raw)
		if err != nil {
			out.fail(err)
			return nil
		}
		if gqlErr != nil && data == nil {
			out.fail(gqlErr)
			return nil
		}
		r := kapton.Result{Data: data, NetworkStatus: kapton.NetworkStatusReady}
		if gqlErr != nil {
			r.Errors = gqlErr
			r.NetworkStatus = kapton.NetworkStatusError
		}
		out.next(r)
		return nil
	}, out.complete)
	if err != nil {
		s.link.log.WithError(err).WithField("operationName", s.operationName).Debug("subscribe failed")
		out.fail(err)
		return sub
	}
	sub.setID(id)
	return sub
}

type streamSubscription struct {
	ws  *SubscriptionClient
	out *emitter

	mu      sync.Mutex
	id      string
	stopped bool
}

func (s *streamSubscription) setID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

func (s *streamSubscription) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Unsubscribe stops the operation on the server and drops pending events.
func (s *streamSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	id := s.id
	s.mu.Unlock()

	s.out.close()
	if id != "" && s.ws != nil {
		_ = s.ws.Unsubscribe(id)
	}
}
