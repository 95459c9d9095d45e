package kapton

import (
	"context"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
)

// NetworkStatus mirrors the numeric network status reported by watch queries.
type NetworkStatus int

const (
	NetworkStatusLoading      NetworkStatus = 1
	NetworkStatusSetVariables NetworkStatus = 2
	NetworkStatusFetchMore    NetworkStatus = 3
	NetworkStatusRefetch      NetworkStatus = 4
	NetworkStatusPoll         NetworkStatus = 6
	NetworkStatusReady        NetworkStatus = 7
	NetworkStatusError        NetworkStatus = 8
)

// Result is a single emission of an observable, or the outcome of a mutation.
type Result struct {
	Data          map[string]any
	Errors        error
	Loading       bool
	NetworkStatus NetworkStatus
}

// QueryOptions is what a client receives to watch a query or open a subscription.
type QueryOptions struct {
	Query         *ast.QueryDocument
	OperationName string
	Variables     map[string]any
	FetchPolicy   FetchPolicy
	PollInterval  time.Duration
}

// MutationOptions is what a client receives to run a mutation.
type MutationOptions struct {
	Mutation      *ast.QueryDocument
	OperationName string
	Variables     map[string]any
}

// FetchMoreOptions describes an additional page fetched on top of a watch query.
// UpdateQuery merges the new page into the previous data; when nil the new
// data replaces the old.
type FetchMoreOptions struct {
	Query       *ast.QueryDocument
	Variables   map[string]any
	UpdateQuery func(previous, next map[string]any) map[string]any
}

// SubscribeToMoreOptions attaches a subscription whose events update the data
// of a watch query.
type SubscribeToMoreOptions struct {
	Document    *ast.QueryDocument
	Variables   map[string]any
	UpdateQuery func(previous, event map[string]any) map[string]any
	OnError     func(error)
}

// Observer receives the emissions of an Observable. Any callback may be nil.
type Observer struct {
	Next     func(Result)
	Error    func(error)
	Complete func()
}

// SubscriptionHandle is returned by Observable.Subscribe.
type SubscriptionHandle interface {
	Unsubscribe()
}

// Observable is a live result stream for a query or a subscription.
type Observable interface {
	Subscribe(observer Observer) SubscriptionHandle
}

// OptionSetter is implemented by observables that accept new options without
// being resubscribed.
type OptionSetter interface {
	SetOptions(opts QueryOptions) error
}

// Client is the GraphQL client capability set a binding consumes.
type Client interface {
	WatchQuery(opts QueryOptions) Observable
	Subscribe(opts QueryOptions) Observable
	Mutate(ctx context.Context, opts MutationOptions) (*Result, error)
}

// Passthrough capabilities copied from the live observable onto published data.
type (
	variablesProvider interface {
		Variables() map[string]any
	}
	refetcher interface {
		Refetch(ctx context.Context, variables map[string]any) (*Result, error)
	}
	moreFetcher interface {
		FetchMore(ctx context.Context, opts FetchMoreOptions) (*Result, error)
	}
	queryUpdater interface {
		UpdateQuery(fn func(previous map[string]any) map[string]any)
	}
	pollStarter interface {
		StartPolling(interval time.Duration)
	}
	pollStopper interface {
		StopPolling()
	}
	moreSubscriber interface {
		SubscribeToMore(opts SubscribeToMoreOptions) func()
	}
)
