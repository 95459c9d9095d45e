package kapton

import (
	"context"
	"maps"
)

// MutateFunc is the value published for mutation bindings. Calling it runs
// the bound document as a mutation with the given options.
type MutateFunc func(ctx context.Context, opts MutationOptions) (*Result, error)

// Keys set on published query and subscription data.
const (
	LoadingKey         = "loading"
	NetworkStatusKey   = "networkStatus"
	VariablesKey       = "variables"
	RefetchKey         = "refetch"
	FetchMoreKey       = "fetchMore"
	UpdateQueryKey     = "updateQuery"
	StartPollingKey    = "startPolling"
	StopPollingKey     = "stopPolling"
	SubscribeToMoreKey = "subscribeToMore"
)

// publishedData merges, later keys winning: the result data, the loading and
// network status flags, then whatever passthroughs the observable provides.
func publishedData(typ OperationType, r Result, obs Observable, variables map[string]any) map[string]any {
	out := make(map[string]any, len(r.Data)+9)
	maps.Copy(out, r.Data)

	switch typ {
	case Subscription:
		out[LoadingKey] = true
		out[NetworkStatusKey] = r.NetworkStatus
		if variables != nil {
			out[VariablesKey] = maps.Clone(variables)
		}
	case Query:
		out[LoadingKey] = r.Loading
		out[NetworkStatusKey] = r.NetworkStatus
	case Mutation:
	}

	maps.Copy(out, observableFields(obs))
	return out
}

// observableFields collects the passthrough members defined on obs. Method
// values stay bound to obs, so callers can use them after the binding moved on.
func observableFields(obs Observable) map[string]any {
	fields := make(map[string]any, 7)
	if obs == nil {
		return fields
	}
	if o, ok := obs.(variablesProvider); ok {
		if vars := o.Variables(); vars != nil {
			fields[VariablesKey] = vars
		}
	}
	if o, ok := obs.(refetcher); ok {
		fields[RefetchKey] = o.Refetch
	}
	if o, ok := obs.(moreFetcher); ok {
		fields[FetchMoreKey] = o.FetchMore
	}
	if o, ok := obs.(queryUpdater); ok {
		fields[UpdateQueryKey] = o.UpdateQuery
	}
	if o, ok := obs.(pollStarter); ok {
		fields[StartPollingKey] = o.StartPolling
	}
	if o, ok := obs.(pollStopper); ok {
		fields[StopPollingKey] = o.StopPolling
	}
	if o, ok := obs.(moreSubscriber); ok {
		fields[SubscribeToMoreKey] = o.SubscribeToMore
	}
	return fields
}
