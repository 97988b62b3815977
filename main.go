// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsight/hudbridge/cmd"
	"github.com/opsight/hudbridge/internal/observability"
)

// main is the entry point for the hudbridge application.
func main() {
	defer observability.Sync()

	// Interrupt signals cancel the context so the listeners can drain
	// before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
