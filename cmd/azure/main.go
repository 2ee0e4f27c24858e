// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/azure/azure-xplat-cli/internal/cmd"
	"github.com/azure/azure-xplat-cli/pkg/output"
	"github.com/mattn/go-colorable"
)

func main() {
	ctx := context.Background()

	restoreColorMode := colorable.EnableColorsStdout(nil)
	defer restoreColorMode()

	root := cmd.NewRootCmd(nil)
	root.SilenceErrors = true

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, output.WithErrorFormat("ERROR: %v", err))
		restoreColorMode()
		os.Exit(1)
	}
}
