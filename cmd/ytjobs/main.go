package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ytget/ytjobs/cmd/ytjobs/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.NewCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
