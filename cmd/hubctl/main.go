// hubctl inspects and maintains the session hub's stores and tails its lifecycle events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"session-hub/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cli.NewRootCommand(cli.Env{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "hubctl:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
