// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/xsrenew-cli/cmd"
)

// main is the entry point for the xsrenew CLI.
func main() {
	// Listen for interrupt signals so an in-flight run can release the
	// browser session before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
