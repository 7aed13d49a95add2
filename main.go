// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/pgevodb/pgevodb/cmd"
	"github.com/pgevodb/pgevodb/pkg/pgerrors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(pgerrors.ExitCodeFor(err))
	}
}
