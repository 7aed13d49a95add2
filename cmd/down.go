// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgevodb/pgevodb/cmd/flags"
	"github.com/pgevodb/pgevodb/pkg/orchestrator"
	"github.com/pgevodb/pgevodb/pkg/planner"
)

func downCmd() *cobra.Command {
	var to string

	c := &cobra.Command{
		Use:   "down",
		Short: "Revert applied migrations down to (exclusive of) the given id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			o, err := newOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer o.Close()

			plan, err := o.Down(ctx, orchestrator.DownRequest{
				Plan:            planner.DownOptions{To: to},
				ConfirmProdFlag: flags.ConfirmProd(),
			})
			if err != nil {
				return err
			}

			data, _ := json.MarshalIndent(plan, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}

	c.Flags().StringVar(&to, "to", "", "Revert every applied migration with an id greater than this one")
	return c
}
