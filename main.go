// pathscan checks which TCP and UDP ports can cross the network path
// between this host and a remote echo service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pathscan/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pathscan: %v\n", err)
		os.Exit(1)
	}
}
