// SPDX-License-Identifier: AGPL-3.0-or-later
// sgraph - a concurrent streaming speech-recognition graph runtime
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"fmt"
	"os"

	"github.com/USA-RedDragon/configulator"
	"github.com/speechgraph/sgraph/cmd"
	"github.com/speechgraph/sgraph/internal/config"
)

// version and commit are overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	rootCmd := cmd.NewCommand(version, commit)

	c := configulator.New[config.Config]()
	ctx, err := c.Bind(rootCmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to bind configuration:", err)
		os.Exit(1)
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
