package kapton

import (
	"fmt"
	"maps"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
)

// FetchPolicy selects how a watch query uses the client's result cache.
type FetchPolicy string

const (
	CacheFirst      FetchPolicy = "cache-first"
	CacheAndNetwork FetchPolicy = "cache-and-network"
	NetworkOnly     FetchPolicy = "network-only"
	CacheOnly       FetchPolicy = "cache-only"
	NoCache         FetchPolicy = "no-cache"
)

const defaultFetchPolicy = CacheFirst

// Options is the option record of a binding. Skip and Name are consumed by
// the binding itself, every other field is forwarded to the client.
type Options struct {
	Variables     map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Skip          bool           `json:"skip,omitempty" yaml:"skip,omitempty"`
	Name          string         `json:"name,omitempty" yaml:"name,omitempty"`
	FetchPolicy   FetchPolicy    `json:"fetchPolicy,omitempty" yaml:"fetchPolicy,omitempty"`
	PollInterval  time.Duration  `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty"`
	OperationName string         `json:"operationName,omitempty" yaml:"operationName,omitempty"`
}

// Clone returns a copy that does not share the variables map.
func (o Options) Clone() Options {
	o.Variables = maps.Clone(o.Variables)
	return o
}

// QueryOptions builds the client-level options for doc, leaving out the
// binding-local Skip and Name.
func (o Options) QueryOptions(doc *ast.QueryDocument) QueryOptions {
	policy := o.FetchPolicy
	if policy == "" {
		policy = defaultFetchPolicy
	}
	return QueryOptions{
		Query:         doc,
		OperationName: o.OperationName,
		Variables:     maps.Clone(o.Variables),
		FetchPolicy:   policy,
		PollInterval:  o.PollInterval,
	}
}

// OptionsSource is where a binding takes its options from: a static record,
// or a path into the host component's state.
type OptionsSource struct {
	static Options
	path   string
}

// Static returns a source that always resolves to opts.
func Static(opts Options) OptionsSource {
	return OptionsSource{static: opts.Clone()}
}

// FromPath returns a source resolved from the host state at path, and
// re-resolved each time the host reports a change on it.
func FromPath(path string) OptionsSource {
	return OptionsSource{path: path}
}

func (s OptionsSource) IsDynamic() bool { return s.path != "" }

func (s OptionsSource) Path() string { return s.path }

// DecodeOptions converts a host value into Options. It accepts Options,
// *Options and the map shape produced by JSON or YAML decoding.
func DecodeOptions(v any) (Options, error) {
	switch o := v.(type) {
	case Options:
		return o.Clone(), nil
	case *Options:
		if o == nil {
			return Options{}, fmt.Errorf("%w: nil *Options", ErrInvalidOptions)
		}
		return o.Clone(), nil
	case map[string]any:
		return decodeOptionsMap(o)
	default:
		return Options{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidOptions, v)
	}
}

func decodeOptionsMap(m map[string]any) (Options, error) {
	var opts Options
	for key, value := range m {
		switch key {
		case "variables":
			if value == nil {
				continue
			}
			vars, ok := value.(map[string]any)
			if !ok {
				return Options{}, fmt.Errorf("%w: variables must be an object, got %T", ErrInvalidOptions, value)
			}
			opts.Variables = maps.Clone(vars)
		case "skip":
			skip, ok := value.(bool)
			if !ok {
				return Options{}, fmt.Errorf("%w: skip must be a boolean, got %T", ErrInvalidOptions, value)
			}
			opts.Skip = skip
		case "name":
			name, ok := value.(string)
			if !ok {
				return Options{}, fmt.Errorf("%w: name must be a string, got %T", ErrInvalidOptions, value)
			}
			opts.Name = name
		case "operationName":
			name, ok := value.(string)
			if !ok {
				return Options{}, fmt.Errorf("%w: operationName must be a string, got %T", ErrInvalidOptions, value)
			}
			opts.OperationName = name
		case "fetchPolicy":
			policy, ok := value.(string)
			if !ok {
				return Options{}, fmt.Errorf("%w: fetchPolicy must be a string, got %T", ErrInvalidOptions, value)
			}
			opts.FetchPolicy = FetchPolicy(policy)
		case "pollInterval":
			d, err := decodeInterval(value)
			if err != nil {
				return Options{}, err
			}
			opts.PollInterval = d
		}
	}
	return opts, nil
}

// decodeInterval reads a duration string ("5s") or a number of milliseconds.
func decodeInterval(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("%w: pollInterval: %v", ErrInvalidOptions, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case int64:
		return time.Duration(d) * time.Millisecond, nil
	case float64:
		return time.Duration(d * float64(time.Millisecond)), nil
	default:
		return 0, fmt.Errorf("%w: pollInterval must be a duration or milliseconds, got %T", ErrInvalidOptions, v)
	}
}
