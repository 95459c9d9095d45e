package kapton_test

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/atoy40/kapton"
)

var (
	getUser   = kapton.MustParse(`query GetUser($id: ID!) { user(id: $id) { id name } }`)
	helloSaid = kapton.MustParse(`subscription HelloSaid($room: String) { helloSaid(room: $room) { id msg } }`)
	sayHello  = kapton.MustParse(`mutation SayHello($msg: String!) { sayHello(msg: $msg) { id msg } }`)
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func mustBind(
	t *testing.T,
	doc *ast.QueryDocument,
	client kapton.Client,
	host kapton.Host,
	source kapton.OptionsSource,
	opts ...kapton.BindingOption,
) *kapton.Binding {
	t.Helper()
	opts = append([]kapton.BindingOption{kapton.WithLogger(quietLogger())}, opts...)
	b, err := kapton.New(doc, client, host, source, opts...)
	if err != nil {
		t.Fatalf("got error: %v, want: nil", err)
	}
	return b
}

func mount(t *testing.T, b *kapton.Binding) {
	t.Helper()
	if err := b.Init(); err != nil {
		t.Fatalf("Init: got error: %v, want: nil", err)
	}
	if err := b.Ready(); err != nil {
		t.Fatalf("Ready: got error: %v, want: nil", err)
	}
}

func published(t *testing.T, host *fakeHost, name string) map[string]any {
	t.Helper()
	v, ok := host.get(name)
	if !ok {
		t.Fatalf("property %q was not published", name)
	}
	data, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("got %T for %q, want map[string]any", v, name)
	}
	return data
}

func TestBinding_queryPublishesResult(t *testing.T) {
	client := &fakeClient{live: true}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{
		Variables: map[string]any{"id": "42"},
	}))
	mount(t, b)

	if got := client.watchCount(); got != 1 {
		t.Fatalf("got %d watch queries, want 1", got)
	}
	opts := client.watch(0).opts
	if opts.Query != getUser {
		t.Error("watch query was not given the bound document")
	}
	if !reflect.DeepEqual(opts.Variables, map[string]any{"id": "42"}) {
		t.Errorf("got variables %v, want map[id:42]", opts.Variables)
	}
	if got := b.State(); got != kapton.StateSubscribed {
		t.Errorf("got state %v, want subscribed", got)
	}

	user := map[string]any{"id": "42", "name": "Ada"}
	client.watch(0).emit(kapton.Result{
		Data:          map[string]any{"user": user},
		Loading:       false,
		NetworkStatus: kapton.NetworkStatusReady,
	})

	data := published(t, host, "GetUser")
	if !reflect.DeepEqual(data["user"], user) {
		t.Errorf("got user %v, want %v", data["user"], user)
	}
	if data[kapton.LoadingKey] != false {
		t.Errorf("got loading %v, want false", data[kapton.LoadingKey])
	}
	if data[kapton.NetworkStatusKey] != kapton.NetworkStatusReady {
		t.Errorf("got networkStatus %v, want 7", data[kapton.NetworkStatusKey])
	}
	if !reflect.DeepEqual(data[kapton.VariablesKey], map[string]any{"id": "42"}) {
		t.Errorf("got variables %v, want map[id:42]", data[kapton.VariablesKey])
	}
	for _, key := range []string{kapton.RefetchKey, kapton.FetchMoreKey, kapton.StartPollingKey, kapton.StopPollingKey} {
		if _, ok := data[key]; !ok {
			t.Errorf("missing passthrough %q", key)
		}
	}
	for _, key := range []string{kapton.UpdateQueryKey, kapton.SubscribeToMoreKey} {
		if _, ok := data[key]; ok {
			t.Errorf("got passthrough %q, the observable does not define it", key)
		}
	}

	refetch, ok := data[kapton.RefetchKey].(func(context.Context, map[string]any) (*kapton.Result, error))
	if !ok {
		t.Fatalf("got refetch of type %T", data[kapton.RefetchKey])
	}
	r, err := refetch(context.Background(), map[string]any{"id": "7"})
	if err != nil {
		t.Fatalf("got error: %v, want: nil", err)
	}
	if !reflect.DeepEqual(r.Data["refetched"], map[string]any{"id": "7"}) {
		t.Errorf("got refetch result %v", r.Data)
	}
}

func TestBinding_customPropertyName(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{Name: "profile"}))
	mount(t, b)

	client.watch(0).emit(kapton.Result{Data: map[string]any{"user": nil}, NetworkStatus: kapton.NetworkStatusReady})
	if _, ok := host.get("profile"); !ok {
		t.Error("property profile was not published")
	}
	if _, ok := host.get("GetUser"); ok {
		t.Error("got property GetUser, want the configured name only")
	}
}

func TestBinding_anonymousQueryPublishesData(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, kapton.MustParse(`{ viewer { login } }`), client, host, kapton.Static(kapton.Options{}))
	mount(t, b)

	client.watch(0).emit(kapton.Result{Data: map[string]any{"viewer": "x"}})
	data := published(t, host, "data")
	if data["viewer"] != "x" {
		t.Errorf("got viewer %v, want x", data["viewer"])
	}
}

func TestBinding_skipUntilEnabled(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{Skip: true}))
	mount(t, b)

	if got := client.watchCount(); got != 0 {
		t.Fatalf("got %d watch queries while skipped, want 0", got)
	}
	if got := b.State(); got != kapton.StateSkipped {
		t.Errorf("got state %v, want skipped", got)
	}

	b.OptionsChanged(kapton.Options{Variables: map[string]any{"id": "1"}})
	if got := client.watchCount(); got != 1 {
		t.Fatalf("got %d watch queries after re-enable, want 1", got)
	}
	if got := b.State(); got != kapton.StateSubscribed {
		t.Errorf("got state %v, want subscribed", got)
	}
}

func TestBinding_skipIsIdempotent(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{}))
	mount(t, b)

	b.OptionsChanged(kapton.Options{Skip: true})
	b.OptionsChanged(kapton.Options{Skip: true})

	if got := client.watch(0).unsubscribeCount(); got != 1 {
		t.Errorf("got %d unsubscribes, want 1", got)
	}
	if got := client.watchCount(); got != 1 {
		t.Errorf("got %d watch queries, want 1", got)
	}
	if got := b.State(); got != kapton.StateSkipped {
		t.Errorf("got state %v, want skipped", got)
	}

	b.OptionsChanged(kapton.Options{})
	if got := client.watchCount(); got != 2 {
		t.Errorf("got %d watch queries after re-enable, want a fresh one", got)
	}
}

func TestBinding_queryLiveUpdate(t *testing.T) {
	client := &fakeClient{live: true}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{Variables: map[string]any{"id": "1"}}))
	mount(t, b)

	b.OptionsChanged(kapton.Options{Variables: map[string]any{"id": "2"}, Name: "user", Skip: false})

	if got := client.watchCount(); got != 1 {
		t.Errorf("got %d watch queries, want 1", got)
	}
	calls := client.watch(0).setOptionsCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d SetOptions calls, want 1", len(calls))
	}
	if !reflect.DeepEqual(calls[0].Variables, map[string]any{"id": "2"}) {
		t.Errorf("got variables %v, want map[id:2]", calls[0].Variables)
	}
	if got := client.watch(0).unsubscribeCount(); got != 0 {
		t.Errorf("got %d unsubscribes, want 0", got)
	}

	client.watch(0).emit(kapton.Result{Data: map[string]any{"user": "u2"}})
	if _, ok := host.get("user"); !ok {
		t.Error("property from the updated options was not used")
	}
}

func TestBinding_queryWithoutLiveUpdateResubscribes(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{Variables: map[string]any{"id": "1"}}))
	mount(t, b)

	b.OptionsChanged(kapton.Options{Variables: map[string]any{"id": "2"}})

	if got := client.watchCount(); got != 2 {
		t.Fatalf("got %d watch queries, want 2", got)
	}
	if got := client.watch(0).unsubscribeCount(); got != 1 {
		t.Errorf("got %d unsubscribes of the first observable, want 1", got)
	}
	if !reflect.DeepEqual(client.watch(1).opts.Variables, map[string]any{"id": "2"}) {
		t.Errorf("got variables %v, want map[id:2]", client.watch(1).opts.Variables)
	}
}

func TestBinding_subscriptionAlwaysResubscribes(t *testing.T) {
	client := &fakeClient{live: true}
	host := newFakeHost()
	b := mustBind(t, helloSaid, client, host, kapton.Static(kapton.Options{Variables: map[string]any{"room": "a"}}))
	mount(t, b)

	if got := client.subCount(); got != 1 {
		t.Fatalf("got %d subscriptions, want 1", got)
	}
	if got := client.watchCount(); got != 0 {
		t.Errorf("got %d watch queries for a subscription, want 0", got)
	}

	b.OptionsChanged(kapton.Options{Variables: map[string]any{"room": "b"}})

	if got := client.subCount(); got != 2 {
		t.Fatalf("got %d subscriptions, want 2", got)
	}
	if got := len(client.sub(0).setOptionsCalls()); got != 0 {
		t.Errorf("got %d SetOptions calls, want 0", got)
	}
	if got := client.sub(0).unsubscribeCount(); got != 1 {
		t.Errorf("got %d unsubscribes, want 1", got)
	}
	if !reflect.DeepEqual(client.sub(1).opts.Variables, map[string]any{"room": "b"}) {
		t.Errorf("got variables %v, want map[room:b]", client.sub(1).opts.Variables)
	}
}

func TestBinding_subscriptionPublishesLoading(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, helloSaid, client, host, kapton.Static(kapton.Options{Variables: map[string]any{"room": "a"}}))
	mount(t, b)

	client.sub(0).emit(kapton.Result{Data: map[string]any{"helloSaid": map[string]any{"id": "1", "msg": "hi"}}})

	data := published(t, host, "HelloSaid")
	if data[kapton.LoadingKey] != true {
		t.Errorf("got loading %v, want true", data[kapton.LoadingKey])
	}
	if !reflect.DeepEqual(data[kapton.VariablesKey], map[string]any{"room": "a"}) {
		t.Errorf("got variables %v, want map[room:a]", data[kapton.VariablesKey])
	}
	if _, ok := data[kapton.RefetchKey]; ok {
		t.Error("got refetch on an observable without it")
	}
}

func TestBinding_mutationPublishesCallableOnce(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, sayHello, client, host, kapton.Static(kapton.Options{}))
	mount(t, b)

	b.OptionsChanged(kapton.Options{Variables: map[string]any{"msg": "a"}})
	b.OptionsChanged(kapton.Options{Name: "renamed"})
	if err := b.Ready(); err != nil {
		t.Fatalf("got error: %v, want: nil", err)
	}

	if got := host.setCount("mutate"); got != 1 {
		t.Errorf("got %d publications of mutate, want 1", got)
	}
	if _, ok := host.get("renamed"); ok {
		t.Error("mutate function was republished after an option change")
	}
	if client.watchCount()+client.subCount() != 0 {
		t.Error("mutation binding subscribed")
	}
	if got := b.State(); got != kapton.StateIdle {
		t.Errorf("got state %v, want idle", got)
	}

	v, _ := host.get("mutate")
	mutate, ok := v.(kapton.MutateFunc)
	if !ok {
		t.Fatalf("got %T, want kapton.MutateFunc", v)
	}
	res, err := mutate(context.Background(), kapton.MutationOptions{Variables: map[string]any{"msg": "hello"}})
	if err != nil {
		t.Fatalf("got error: %v, want: nil", err)
	}
	if res.Data["ok"] != true {
		t.Errorf("got result %v", res.Data)
	}
	if len(client.mutations) != 1 {
		t.Fatalf("got %d mutations, want 1", len(client.mutations))
	}
	if client.mutations[0].Mutation != sayHello {
		t.Error("mutation options were not given the bound document")
	}
	if client.mutations[0].OperationName != "SayHello" {
		t.Errorf("got operation name %q, want SayHello", client.mutations[0].OperationName)
	}
	if client.mutations[0].Variables["msg"] != "hello" {
		t.Errorf("got variables %v", client.mutations[0].Variables)
	}
}

func TestBinding_mutationCustomName(t *testing.T) {
	host := newFakeHost()
	b := mustBind(t, sayHello, &fakeClient{}, host, kapton.Static(kapton.Options{Name: "save"}))
	mount(t, b)

	if _, ok := host.get("save"); !ok {
		t.Error("property save was not published")
	}
}

func TestBinding_dynamicOptions(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.FromPath("userOptions"))
	mount(t, b)

	if got := client.watchCount(); got != 0 {
		t.Fatalf("got %d watch queries before options resolved, want 0", got)
	}

	host.fire("userOptions", map[string]any{"variables": map[string]any{"id": "9"}})
	if got := client.watchCount(); got != 1 {
		t.Fatalf("got %d watch queries, want 1", got)
	}
	if !reflect.DeepEqual(client.watch(0).opts.Variables, map[string]any{"id": "9"}) {
		t.Errorf("got variables %v, want map[id:9]", client.watch(0).opts.Variables)
	}

	host.fire("userOptions", "not options")
	if got := b.State(); got != kapton.StateSubscribed {
		t.Errorf("got state %v after an invalid value, want subscribed", got)
	}

	host.fire("userOptions", map[string]any{"skip": true})
	if got := b.State(); got != kapton.StateSkipped {
		t.Errorf("got state %v, want skipped", got)
	}

	b.Teardown()
	if host.cancels != 1 {
		t.Errorf("got %d watcher cancellations, want 1", host.cancels)
	}
}

func TestBinding_dynamicOptionsNeedWatcher(t *testing.T) {
	b := mustBind(t, getUser, &fakeClient{}, &plainHost{}, kapton.FromPath("opts"))
	err := b.Init()
	if !errors.Is(err, kapton.ErrNoWatcher) {
		t.Errorf("got error %v, want ErrNoWatcher", err)
	}
}

func TestBinding_streamErrorKeepsSubscription(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	errs := make(chan *kapton.StreamError, 1)
	var handled []*kapton.StreamError
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{}),
		kapton.WithErrorChannel(errs),
		kapton.WithErrorHandler(func(err *kapton.StreamError) { handled = append(handled, err) }),
	)
	mount(t, b)

	boom := errors.New("connection reset")
	client.watch(0).fail(boom)

	select {
	case serr := <-errs:
		if !errors.Is(serr, boom) {
			t.Errorf("got %v, want wrapped %v", serr, boom)
		}
		if serr.Binding != b.ID() || serr.Operation != "GetUser" || serr.Type != kapton.Query {
			t.Errorf("got %+v, want binding identity", serr)
		}
	default:
		t.Fatal("no stream error on the channel")
	}
	if len(handled) != 1 {
		t.Errorf("got %d handled errors, want 1", len(handled))
	}
	if got := b.State(); got != kapton.StateSubscribed {
		t.Errorf("got state %v, want subscribed", got)
	}

	client.watch(0).emit(kapton.Result{Data: map[string]any{"user": "still here"}})
	if data := published(t, host, "GetUser"); data["user"] != "still here" {
		t.Errorf("got %v after the error, want later results published", data["user"])
	}

	// A full channel does not block the binding.
	client.watch(0).fail(boom)
	client.watch(0).fail(boom)
	if len(handled) != 3 {
		t.Errorf("got %d handled errors, want 3", len(handled))
	}
}

func TestBinding_dropsResultsOfReleasedSubscriptions(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{}))
	mount(t, b)

	b.OptionsChanged(kapton.Options{Variables: map[string]any{"id": "2"}})
	client.watch(0).emit(kapton.Result{Data: map[string]any{"user": "stale"}})
	if got := host.setCount("GetUser"); got != 0 {
		t.Errorf("got %d publications from a released observable, want 0", got)
	}

	client.watch(1).emit(kapton.Result{Data: map[string]any{"user": "fresh"}})
	if data := published(t, host, "GetUser"); data["user"] != "fresh" {
		t.Errorf("got %v, want fresh", data["user"])
	}
}

func TestBinding_teardown(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{}))
	mount(t, b)

	b.Teardown()
	b.Teardown()
	if got := client.watch(0).unsubscribeCount(); got != 1 {
		t.Errorf("got %d unsubscribes, want 1", got)
	}
	if got := b.State(); got != kapton.StateIdle {
		t.Errorf("got state %v, want idle", got)
	}

	b.OptionsChanged(kapton.Options{Variables: map[string]any{"id": "3"}})
	if err := b.Ready(); err != nil {
		t.Fatalf("got error: %v, want: nil", err)
	}
	if got := client.watchCount(); got != 1 {
		t.Errorf("got %d watch queries after teardown, want 1", got)
	}
	client.watch(0).emit(kapton.Result{Data: map[string]any{"user": "late"}})
	if got := host.setCount("GetUser"); got != 0 {
		t.Errorf("got %d publications after teardown, want 0", got)
	}
}

func TestBinding_completedStreamReturnsIdle(t *testing.T) {
	client := &fakeClient{}
	host := newFakeHost()
	b := mustBind(t, helloSaid, client, host, kapton.Static(kapton.Options{}))
	mount(t, b)

	client.sub(0).complete()
	if got := b.State(); got != kapton.StateIdle {
		t.Fatalf("got state %v, want idle", got)
	}

	b.OptionsChanged(kapton.Options{Variables: map[string]any{"room": "c"}})
	if got := client.subCount(); got != 2 {
		t.Errorf("got %d subscriptions, want a fresh one", got)
	}
}

type syncClient struct {
	fakeClient
}

func (c *syncClient) WatchQuery(opts kapton.QueryOptions) kapton.Observable {
	o := c.fakeClient.WatchQuery(opts).(*fakeObservable)
	o.onSubscribe = func(obs kapton.Observer) {
		obs.Next(kapton.Result{Data: map[string]any{"user": "cached"}, NetworkStatus: kapton.NetworkStatusReady})
	}
	return o
}

func TestBinding_synchronousDelivery(t *testing.T) {
	client := &syncClient{}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{}))
	mount(t, b)

	if data := published(t, host, "GetUser"); data["user"] != "cached" {
		t.Errorf("got %v, want cached", data["user"])
	}
	if got := b.State(); got != kapton.StateSubscribed {
		t.Errorf("got state %v, want subscribed", got)
	}
}

func TestNew_invalidDocument(t *testing.T) {
	_, err := kapton.New(kapton.MustParse(`query A { a } query B { b }`), &fakeClient{}, newFakeHost(), kapton.Static(kapton.Options{}))
	if !errors.Is(err, kapton.ErrInvalidDocument) {
		t.Errorf("got error %v, want ErrInvalidDocument", err)
	}
}

func TestNew_requiresClientAndHost(t *testing.T) {
	if _, err := kapton.New(getUser, nil, newFakeHost(), kapton.Static(kapton.Options{})); err == nil {
		t.Error("got error: nil for a nil client")
	}
	if _, err := kapton.New(getUser, &fakeClient{}, nil, kapton.Static(kapton.Options{})); err == nil {
		t.Error("got error: nil for a nil host")
	}
}

func TestBinding_metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := kapton.NewMetrics(reg)
	client := &fakeClient{live: true}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{}), kapton.WithMetrics(metrics))
	mount(t, b)

	client.watch(0).emit(kapton.Result{Data: map[string]any{"user": "a"}})
	b.OptionsChanged(kapton.Options{Variables: map[string]any{"id": "2"}})
	b.Teardown()

	expected := `
# HELP kapton_subscribes_total Number of subscriptions opened by bindings
# TYPE kapton_subscribes_total counter
kapton_subscribes_total{operation="GetUser",type="Query"} 1
# HELP kapton_unsubscribes_total Number of subscriptions released by bindings
# TYPE kapton_unsubscribes_total counter
kapton_unsubscribes_total{operation="GetUser",type="Query"} 1
# HELP kapton_published_total Number of values published onto component properties
# TYPE kapton_published_total counter
kapton_published_total{operation="GetUser",type="Query"} 1
# HELP kapton_option_updates_total Option changes applied to a live subscription, by mode
# TYPE kapton_option_updates_total counter
kapton_option_updates_total{mode="live",operation="GetUser",type="Query"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"kapton_subscribes_total",
		"kapton_unsubscribes_total",
		"kapton_published_total",
		"kapton_option_updates_total",
	)
	if err != nil {
		t.Error(err)
	}
}

func TestBinding_PropertyName(t *testing.T) {
	tests := []struct {
		name   string
		doc    *ast.QueryDocument
		source kapton.OptionsSource
		want   string
	}{
		{name: "query", doc: getUser, source: kapton.Static(kapton.Options{}), want: "GetUser"},
		{name: "static name", doc: getUser, source: kapton.Static(kapton.Options{Name: "user"}), want: "user"},
		{name: "mutation", doc: sayHello, source: kapton.Static(kapton.Options{}), want: "mutate"},
		{name: "dynamic before options", doc: helloSaid, source: kapton.FromPath("opts"), want: "HelloSaid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustBind(t, tt.doc, &fakeClient{}, newFakeHost(), tt.source)
			if got := b.PropertyName(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// hookClient hands out observables whose Variables passthrough runs a hook,
// which lets a test act while a result is being published.
type hookClient struct {
	fakeClient
	variables func()
}

func (c *hookClient) WatchQuery(opts kapton.QueryOptions) kapton.Observable {
	o := c.fakeClient.WatchQuery(opts).(*fakeObservable)
	return &hookObservable{fakeObservable: o, hook: c.variables}
}

type hookObservable struct {
	*fakeObservable
	hook func()
}

func (o *hookObservable) Variables() map[string]any {
	if o.hook != nil {
		o.hook()
	}
	return nil
}

func TestBinding_teardownDuringPublication(t *testing.T) {
	client := &hookClient{}
	host := newFakeHost()
	b := mustBind(t, getUser, client, host, kapton.Static(kapton.Options{}))
	client.variables = b.Teardown
	mount(t, b)

	client.watch(0).emit(kapton.Result{Data: map[string]any{"user": "late"}})
	if got := host.setCount("GetUser"); got != 0 {
		t.Errorf("got %d publications after teardown, want 0", got)
	}
	if got := client.watch(0).unsubscribeCount(); got != 1 {
		t.Errorf("got %d unsubscribes, want 1", got)
	}
}

func TestBinding_optionsPathOverlapsProperty(t *testing.T) {
	anonymous := kapton.MustParse(`{ user { id } }`)
	tests := []struct {
		name string
		path string
	}{
		{name: "descendant", path: "data.opts"},
		{name: "same", path: "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustBind(t, anonymous, &fakeClient{}, newFakeHost(), kapton.FromPath(tt.path))
			if err := b.Init(); !errors.Is(err, kapton.ErrOverlappingPath) {
				t.Errorf("got error %v, want ErrOverlappingPath", err)
			}
		})
	}

	t.Run("name from options", func(t *testing.T) {
		client := &fakeClient{}
		host := newFakeHost()
		b := mustBind(t, getUser, client, host, kapton.FromPath("userOptions"))
		mount(t, b)

		host.fire("userOptions", map[string]any{"name": "userOptions.result"})
		if got := client.watchCount(); got != 0 {
			t.Errorf("got %d watch queries, want options ignored", got)
		}
		if got := b.PropertyName(); got != "GetUser" {
			t.Errorf("got property %q, want GetUser", got)
		}
	})
}
