// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "repair <id>",
		Short:     "Rewrite an applied migration's stored checksum to match its on-disk bundle",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"id"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer o.Close()

			if err := o.Repair(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("repaired checksum for %q\n", args[0])
			return nil
		},
	}
}
