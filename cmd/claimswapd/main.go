package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/claimswap/claimswap/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	a := app.Initialize(ctx)

	app.Start(ctx, a)
}
