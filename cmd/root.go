// SPDX-License-Identifier: Apache-2.0

// Package cmd is the CLI dispatcher: argument parsing and confirmation
// prompts only, no engine logic (spec.md §1's CLI Non-goal; SPEC_FULL.md
// §2 "CLI surface"). Every engine subcommand builds an
// *orchestrator.Orchestrator and returns its errors unchanged; main maps
// them to the exit codes of spec §6 via pgerrors.ExitCodeFor.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgevodb/pgevodb/cmd/flags"
	"github.com/pgevodb/pgevodb/pkg/config"
	"github.com/pgevodb/pgevodb/pkg/orchestrator"
)

// Version is stamped at build time via -ldflags; "development" builds skip
// the engine/schema version compatibility check (spec §5).
var Version = "development"

func init() {
	viper.SetEnvPrefix("PGEVODB")
	viper.AutomaticEnv()
	flags.PgConnectionFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "pgevodb",
	Short:        "PGEVODB schema-migration execution engine",
	SilenceUsage: true,
	Version:      Version,
}

// newOrchestrator builds the Orchestrator this invocation's flags describe.
// Every subcommand calls this exactly once and defers Close.
func newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	orchestrator.EngineVersion = Version

	profile := config.Profile{
		DSN:         flags.PostgresURL(),
		Schema:      flags.Schema(),
		StateSchema: flags.StateSchema(),
		AppEnv:      flags.AppEnv(),
		ConfirmProd: flags.ConfirmProd() || flags.AppEnv() == "production",
	}
	global := config.GlobalConfig{
		MigrationsDir: flags.MigrationsDir(),
		LockKey:       flags.LockKey(),
		TimeoutSec:    flags.TimeoutSec(),
		AllowTags:     flags.AllowTags(),
		Interactive:   flags.Interactive(),
	}

	return orchestrator.New(ctx, profile, global, orchestrator.Options{})
}

// Execute runs the selected subcommand; the caller maps the returned error
// to an exit code via pgerrors.ExitCodeFor.
func Execute() error {
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(upCmd())
	rootCmd.AddCommand(downCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(resetFailedCmd())
	rootCmd.AddCommand(urlCmd())

	return rootCmd.Execute()
}
