package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tuannvm/ado-ai/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newApp(os.Stdin, os.Stdout, os.Stderr).run(ctx, os.Args[1:])
	stop()
	logging.Sync()
	os.Exit(code)
}
