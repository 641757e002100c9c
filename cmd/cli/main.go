package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robmartinson/tablesync/internal/config"
)

func main() {
	// load the .env file if it exists
	godotenv.Load()

	// interrupted syncs stop between statements; stored jobs can be resumed
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := config.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
