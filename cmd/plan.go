// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgevodb/pgevodb/cmd/flags"
	"github.com/pgevodb/pgevodb/pkg/planner"
)

func planCmd() *cobra.Command {
	var to string
	var down bool

	c := &cobra.Command{
		Use:   "plan",
		Short: "Show the steps `up` or `down` would execute, without running them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			o, err := newOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer o.Close()

			var plan any
			if down {
				plan, err = o.PlanDown(ctx, planner.DownOptions{To: to})
			} else {
				plan, err = o.PlanUp(ctx, planner.UpOptions{To: to, AllowTags: flags.AllowTags()})
			}
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	c.Flags().StringVar(&to, "to", "", "Limit the plan to this migration id (inclusive for up, exclusive boundary for down)")
	c.Flags().BoolVar(&down, "down", false, "Compute the reverse plan instead of the forward plan")
	return c
}
