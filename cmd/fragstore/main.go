// Command fragstore manages fragment-based document repositories.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/roach88/fragstore/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	os.Exit(cli.GetExitCode(err))
}
