// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgevodb/pgevodb/cmd/flags"
	"github.com/pgevodb/pgevodb/pkg/recovery"
)

func retryCmd() *cobra.Command {
	var acceptChecksum bool
	var force bool

	c := &cobra.Command{
		Use:       "retry <id>",
		Short:     "Reset a failed or stuck migration and re-execute up through it",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"id"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer o.Close()

			err = o.Retry(ctx, args[0], recovery.RetryOptions{
				AcceptChecksum: acceptChecksum,
				Force:          force,
				AppliedBy:      flags.AppliedBy(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("retried %q\n", args[0])
			return nil
		},
	}

	c.Flags().BoolVar(&acceptChecksum, "accept-checksum", false, "Accept checksum drift by repairing before retrying")
	c.Flags().BoolVar(&force, "force", false, "Retry even if the record is stuck in status running")
	return c
}
