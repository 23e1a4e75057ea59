// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// main package of the bare-server.
package main

import (
	"context"
	"os"

	"github.com/tomphttp/bare-server-go/bare-server/cmd"
	"github.com/tomphttp/bare-server-go/internal/process"
)

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

func execute() error {
	ctx, cancel := process.SignalContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := cmd.New()
	return cmd.ExecuteContext(ctx)
}
