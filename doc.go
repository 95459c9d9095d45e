// Package kapton binds a single GraphQL operation to the lifecycle of a UI
// component.
//
// A Binding classifies its document once, then reacts to the host's
// lifecycle hooks (Init, Ready, OptionsChanged, Teardown) by opening,
// updating or releasing a subscription on a Client, and publishes each
// result onto one component property:
//
//	doc := kapton.MustParse(`query GetUser($id: ID!) { user(id: $id) { name } }`)
//	b, err := kapton.New(doc, client, component, kapton.Static(kapton.Options{
//		Variables: map[string]any{"id": "42"},
//	}))
//
// Query and subscription bindings publish a map holding the result data, the
// loading and networkStatus flags and the observable's passthrough helpers
// (refetch, fetchMore, ...). Mutation bindings publish a MutateFunc instead
// and never subscribe.
//
// The transport package provides a Client over HTTP and graphql-ws, and the
// component package a reactive in-memory host.
package kapton
