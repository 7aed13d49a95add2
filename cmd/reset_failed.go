// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgevodb/pgevodb/pkg/recovery"
)

func resetFailedCmd() *cobra.Command {
	var deleteRecord bool

	c := &cobra.Command{
		Use:       "reset-failed <id>",
		Short:     "Clear a failed migration's execution fields without re-running it",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"id"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer o.Close()

			if err := o.ResetFailed(ctx, args[0], recovery.ResetFailedOptions{Delete: deleteRecord}); err != nil {
				return err
			}
			fmt.Printf("reset %q\n", args[0])
			return nil
		},
	}

	c.Flags().BoolVar(&deleteRecord, "delete", false, "Delete the record entirely instead of resetting it to reverted")
	return c
}
