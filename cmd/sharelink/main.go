package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
)

// @title sharelink API
// @version 1.0
// @description Upload a file, get a short-lived link, optionally email it.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(ctx).Execute(); err != nil {
		stop()
		os.Exit(1)
	}
}
