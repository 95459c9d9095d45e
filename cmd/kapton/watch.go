package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atoy40/kapton"
	"github.com/atoy40/kapton/component"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		optionsFile string
		poll        time.Duration
		count       int
	)
	cmd := &cobra.Command{
		Use:   "watch <file.graphql>",
		Short: "Watch a query or subscription and print every published value as a JSON line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, op, err := readDocument(args[0])
			if err != nil {
				return err
			}
			if op.Type == kapton.Mutation {
				return fmt.Errorf("%s: %w: use mutate for mutations", args[0], errWrongOperation)
			}
			opts, err := readOptions(optionsFile)
			if err != nil {
				return err
			}
			if poll > 0 {
				opts.PollInterval = poll
			}

			link, closeLink, err := root.link()
			if err != nil {
				return err
			}
			defer closeLink()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := component.New(op.Name, component.WithLogger(root.log))
			b, err := c.Bind(doc, link, kapton.Static(opts))
			if err != nil {
				return err
			}

			values := make(chan any, 16)
			cancel := c.Watch(b.PropertyName(), func(v any) {
				select {
				case values <- v:
				case <-ctx.Done():
				}
			})
			defer cancel()

			if err := c.Mount(); err != nil {
				return err
			}
			defer c.Unmount()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for n := 0; count <= 0 || n < count; n++ {
				select {
				case <-ctx.Done():
					return nil
				case v := <-values:
					if err := enc.Encode(printable(v)); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&optionsFile, "options", "", "YAML file with the binding options")
	cmd.Flags().DurationVar(&poll, "poll", 0, "poll interval of queries, overrides the options file")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many values, 0 to run until interrupted")
	return cmd
}
