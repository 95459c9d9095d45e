package kapton

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// OperationType is the kind of the single operation held by a bound document.
type OperationType uint8

const (
	Query OperationType = iota
	Mutation
	Subscription
)

func (t OperationType) String() string {
	switch t {
	case Query:
		return "Query"
	case Mutation:
		return "Mutation"
	case Subscription:
		return "Subscription"
	default:
		return "Unknown"
	}
}

// defaultOperationName is used for anonymous operations.
const defaultOperationName = "data"

// ParsedOperation is the classification of a document. It is computed once
// per bound document and never modified.
type ParsedOperation struct {
	Name      string
	Type      OperationType
	Variables ast.VariableDefinitionList
	Fragments ast.FragmentDefinitionList

	// Definition is the operation definition the classification was made from.
	Definition *ast.OperationDefinition
}

// Parse parses GraphQL source text into a document.
func Parse(src string) (*ast.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: src})
	if err != nil {
		return nil, &InvalidDocumentError{Reason: "parse failed", Err: err}
	}
	return doc, nil
}

// MustParse is like Parse but panics on error. It is meant for documents
// declared as package-level variables.
func MustParse(src string) *ast.QueryDocument {
	doc, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return doc
}

// Classify validates that doc holds exactly one query, mutation or
// subscription and extracts its name, variables and fragments.
func Classify(doc *ast.QueryDocument) (*ParsedOperation, error) {
	if doc == nil {
		return nil, &InvalidDocumentError{Reason: "no document"}
	}

	var queries, mutations, subscriptions ast.OperationList
	for _, op := range doc.Operations {
		switch op.Operation {
		case ast.Query:
			queries = append(queries, op)
		case ast.Mutation:
			mutations = append(mutations, op)
		case ast.Subscription:
			subscriptions = append(subscriptions, op)
		}
	}

	counts := func(reason string) *InvalidDocumentError {
		return &InvalidDocumentError{
			Reason:        reason,
			Queries:       len(queries),
			Mutations:     len(mutations),
			Subscriptions: len(subscriptions),
			Fragments:     len(doc.Fragments),
		}
	}

	total := len(queries) + len(mutations) + len(subscriptions)
	switch {
	case total == 0 && len(doc.Fragments) == 0:
		return nil, counts("document has no definitions")
	case total == 0:
		return nil, counts("fragments must be sent with a query, mutation or subscription")
	case total > 1:
		return nil, counts("only one query, mutation or subscription is supported per binding")
	}

	typ, definitions := Subscription, subscriptions
	if len(queries) > 0 {
		typ, definitions = Query, queries
	} else if len(mutations) > 0 {
		typ, definitions = Mutation, mutations
	}
	if len(definitions) != 1 {
		return nil, counts("expected exactly one " + typ.String() + " definition")
	}

	def := definitions[0]
	name := def.Name
	if name == "" {
		name = defaultOperationName
	}
	variables := def.VariableDefinitions
	if variables == nil {
		variables = ast.VariableDefinitionList{}
	}
	fragments := doc.Fragments
	if fragments == nil {
		fragments = ast.FragmentDefinitionList{}
	}

	return &ParsedOperation{
		Name:       name,
		Type:       typ,
		Variables:  variables,
		Fragments:  fragments,
		Definition: def,
	}, nil
}
