package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atoy40/kapton"
	"github.com/atoy40/kapton/component"
)

func newMutateCmd(root *rootOptions) *cobra.Command {
	var optionsFile string
	cmd := &cobra.Command{
		Use:   "mutate <file.graphql>",
		Short: "Run a mutation with the variables of the options file and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, op, err := readDocument(args[0])
			if err != nil {
				return err
			}
			if op.Type != kapton.Mutation {
				return fmt.Errorf("%s: %w: want a mutation, got a %s", args[0], errWrongOperation, op.Type)
			}
			opts, err := readOptions(optionsFile)
			if err != nil {
				return err
			}

			link, closeLink, err := root.link()
			if err != nil {
				return err
			}
			defer closeLink()

			c := component.New(op.Name, component.WithLogger(root.log))
			b, err := c.Bind(doc, link, kapton.Static(opts))
			if err != nil {
				return err
			}
			if err := c.Mount(); err != nil {
				return err
			}
			defer c.Unmount()

			v, _ := c.Get(b.PropertyName())
			mutate, ok := v.(kapton.MutateFunc)
			if !ok {
				return fmt.Errorf("no mutate function published on %q", b.PropertyName())
			}
			res, err := mutate(cmd.Context(), kapton.MutationOptions{
				OperationName: opts.OperationName,
				Variables:     opts.Variables,
			})
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if eerr := enc.Encode(res.Data); eerr != nil {
					return eerr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&optionsFile, "options", "", "YAML file with the mutation options")
	return cmd
}
