// Command feedctl reads the message feed from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is set via ldflags: -X main.version=v1.0.0
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := a.execute(ctx, newRootCommand(a, version)); err != nil {
		stop()
		os.Exit(1)
	}
}
