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

func upCmd() *cobra.Command {
	var to string
	var ignoreTagBlock bool

	c := &cobra.Command{
		Use:   "up",
		Short: "Apply outstanding migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			o, err := newOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer o.Close()

			plan, err := o.Up(ctx, orchestrator.UpRequest{
				Plan: planner.UpOptions{
					To:             to,
					AllowTags:      flags.AllowTags(),
					IgnoreTagBlock: ignoreTagBlock,
				},
				ConfirmProdFlag: flags.ConfirmProd(),
				AppliedBy:       flags.AppliedBy(),
			})
			if err != nil {
				return err
			}

			data, _ := json.MarshalIndent(plan, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}

	c.Flags().StringVar(&to, "to", "", "Apply migrations up to and including this id")
	c.Flags().BoolVar(&ignoreTagBlock, "ignore-tags", false, "Bypass the tag allow-list filter for this run")
	return c
}
