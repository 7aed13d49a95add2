// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgevodb/pgevodb/cmd/flags"
	"github.com/pgevodb/pgevodb/internal/connstr"
)

func urlCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "url",
		Short:     "Print the configured connection URL with search_path scoped to --schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"connection-string"},
		RunE: func(cmd *cobra.Command, args []string) error {
			pgURL := flags.PostgresURL()
			if len(args) > 0 {
				pgURL = args[0]
			}

			str, err := connstr.AppendSearchPathOption(pgURL, flags.Schema())
			if err != nil {
				return fmt.Errorf("adding search_path option: %w", err)
			}
			fmt.Println(str)
			return nil
		},
	}
}
