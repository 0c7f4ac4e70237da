package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vulntor/wafp/cmd/wafp/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := commands.Execute(ctx)
	stop()
	os.Exit(code)
}
