package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/umee-network/fundme/cmd/fundme"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fundme.NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
