package transport

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/atoy40/kapton"
)

// LinkOption configures a Link.
type LinkOption func(*Link)

// WithCache makes queries of the link read and write cache according to
// their fetch policy. Without a cache, cache-only queries always miss and
// every other policy fetches from the network.
func WithCache(cache *Cache) LinkOption {
	return func(l *Link) {
		l.cache = cache
	}
}

// WithLogger sets the logger of the link and of its observables.
func WithLogger(logger logrus.FieldLogger) LinkOption {
	return func(l *Link) {
		l.log = logger
	}
}

// Link is a kapton.Client sending queries and mutations with an HTTP Client
// and subscriptions with a SubscriptionClient.
type Link struct {
	client *Client
	ws     *SubscriptionClient
	cache  *Cache
	log    logrus.FieldLogger
}

var _ kapton.Client = (*Link)(nil)

// NewLink returns a link over client. ws may be nil, in which case every
// subscription observable fails with ErrNoSubscriptionClient.
func NewLink(client *Client, ws *SubscriptionClient, opts ...LinkOption) *Link {
	l := &Link{
		client: client,
		ws:     ws,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Cache returns the result cache of the link, or nil.
func (l *Link) Cache() *Cache {
	return l.cache
}

// WatchQuery returns a watch query observable. Nothing is fetched until the
// first observer subscribes.
func (l *Link) WatchQuery(opts kapton.QueryOptions) kapton.Observable {
	return newWatchQuery(l, opts)
}

// Subscribe returns a subscription observable. Each observer opens its own
// operation on the websocket.
func (l *Link) Subscribe(opts kapton.QueryOptions) kapton.Observable {
	return &stream{
		link:          l,
		query:         printDocument(opts.Query),
		operationName: opts.OperationName,
		variables:     opts.Variables,
	}
}

// Query fetches opts once, honouring its fetch policy.
func (l *Link) Query(ctx context.Context, opts kapton.QueryOptions) (*kapton.Result, error) {
	query := printDocument(opts.Query)
	if data, ok := l.cached(opts.FetchPolicy, query, opts.Variables); ok {
		return &kapton.Result{Data: data, NetworkStatus: kapton.NetworkStatusReady}, nil
	}
	if opts.FetchPolicy == kapton.CacheOnly {
		return nil, ErrCacheMiss
	}
	data, err := l.execute(ctx, query, opts.OperationName, opts.Variables)
	if data != nil && writesCache(opts.FetchPolicy) {
		l.store(query, opts.Variables, data)
	}
	return result(data, err)
}

// Mutate runs a mutation over HTTP. GraphQL errors are returned together with
// the partial data of the response.
func (l *Link) Mutate(ctx context.Context, opts kapton.MutationOptions) (*kapton.Result, error) {
	query := printDocument(opts.Mutation)
	data, err := l.execute(ctx, query, opts.OperationName, opts.Variables)
	return result(data, err)
}

func result(data map[string]any, err error) (*kapton.Result, error) {
	if err != nil {
		if data == nil {
			return nil, err
		}
		return &kapton.Result{Data: data, Errors: err, NetworkStatus: kapton.NetworkStatusError}, err
	}
	return &kapton.Result{Data: data, NetworkStatus: kapton.NetworkStatusReady}, nil
}

func (l *Link) execute(ctx context.Context, query, operationName string, variables map[string]any) (map[string]any, error) {
	raw, err := l.client.Do(ctx, Request{
		Query:         query,
		OperationName: operationName,
		Variables:     variables,
	})
	data, derr := decodeData(raw)
	if derr != nil {
		return nil, derr
	}
	if err != nil {
		l.log.WithError(err).WithField("operationName", operationName).Debug("request failed")
	}
	return data, err
}

func (l *Link) cached(policy kapton.FetchPolicy, query string, variables map[string]any) (map[string]any, bool) {
	if l.cache == nil {
		return nil, false
	}
	switch policy {
	case kapton.CacheFirst, kapton.CacheOnly, kapton.CacheAndNetwork, "":
		return l.cache.Get(query, variables)
	default:
		return nil, false
	}
}

func (l *Link) store(query string, variables map[string]any, data map[string]any) {
	if l.cache != nil {
		l.cache.Put(query, variables, data)
	}
}

func writesCache(policy kapton.FetchPolicy) bool {
	return policy != kapton.NoCache
}

// printDocument renders doc back to GraphQL source.
func printDocument(doc *ast.QueryDocument) string {
	if doc == nil {
		return ""
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

func decodeData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, newSimpleErrors(ErrGraphQLDecode, err)
	}
	return data, nil
}
