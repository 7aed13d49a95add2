// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "verify <id>",
		Short:     "Re-run a migration's verify.sql against the current schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"id"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer o.Close()

			ok, err := o.Verify(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("verify_ok=%t\n", ok)
			return nil
		},
	}
}
