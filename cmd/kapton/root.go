package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vektah/gqlparser/v2/ast"
	"gopkg.in/yaml.v3"

	"github.com/atoy40/kapton"
	"github.com/atoy40/kapton/transport"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	endpoint   string
	wsEndpoint string
	logLevel   string
	debug      bool
	retries    int
	headers    []string

	log *logrus.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "kapton",
		Short:         "Bind GraphQL operations to a component and print what they publish",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogger(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.endpoint, "endpoint", "http://localhost:8080/graphql", "GraphQL HTTP endpoint")
	flags.StringVar(&opts.wsEndpoint, "ws-endpoint", "", "GraphQL websocket endpoint, required for subscriptions")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.debug, "debug", false, "add request and response details to errors")
	flags.IntVar(&opts.retries, "retries", 0, "retries of failed HTTP requests")
	flags.StringArrayVar(&opts.headers, "header", nil, "HTTP header as key=value, repeatable")

	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newMutateCmd(opts))
	return cmd
}

func (o *rootOptions) setupLogger(w io.Writer) error {
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	o.log = logrus.New()
	o.log.SetOutput(w)
	o.log.SetFormatter(&logrus.JSONFormatter{})
	o.log.SetLevel(level)
	return nil
}

func (o *rootOptions) header() (http.Header, error) {
	h := make(http.Header, len(o.headers))
	for _, kv := range o.headers {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --header %q, want key=value", kv)
		}
		h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return h, nil
}

// link builds the client stack from the flags. The returned close function
// releases the websocket, if any.
func (o *rootOptions) link() (*transport.Link, func(), error) {
	header, err := o.header()
	if err != nil {
		return nil, nil, err
	}

	client := transport.NewClient(o.endpoint, nil).
		WithDebug(o.debug).
		WithRequestModifier(func(r *http.Request) {
			for k, vs := range header {
				for _, v := range vs {
					r.Header.Add(k, v)
				}
			}
		})
	if o.retries > 0 {
		cfg := transport.DefaultRetryConfig()
		cfg.MaxRetries = o.retries
		client = client.WithRetry(cfg)
	}

	closeFn := func() {}
	var ws *transport.SubscriptionClient
	if o.wsEndpoint != "" {
		ws = transport.NewSubscriptionClient(o.wsEndpoint).
			WithHeader(header).
			WithLogger(o.log).
			WithTimeout(30 * time.Second)
		closeFn = func() { _ = ws.Close() }
	}

	link := transport.NewLink(client, ws,
		transport.WithCache(transport.NewCache(0)),
		transport.WithLogger(o.log),
	)
	return link, closeFn, nil
}

func readDocument(path string) (*ast.QueryDocument, *kapton.ParsedOperation, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	doc, err := kapton.Parse(string(src))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	op, err := kapton.Classify(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, op, nil
}

// readOptions decodes a YAML option file. An empty path gives zero options.
func readOptions(path string) (kapton.Options, error) {
	if path == "" {
		return kapton.Options{}, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return kapton.Options{}, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return kapton.Options{}, fmt.Errorf("%s: %w", path, err)
	}
	opts, err := kapton.DecodeOptions(raw)
	if err != nil {
		return kapton.Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// printable drops the function values of published data so it can be
// encoded as JSON.
func printable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if e != nil && reflect.TypeOf(e).Kind() == reflect.Func {
				continue
			}
			out[k] = printable(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = printable(e)
		}
		return out
	default:
		return v
	}
}

var errWrongOperation = errors.New("wrong operation type")
