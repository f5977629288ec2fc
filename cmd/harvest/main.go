// cmd/harvest/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/order-archivers/harvest/internal/cli"
)

func main() {
	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Warn().Msg("Interrupt received, shutting down gracefully...")
		if a := cli.GetApp(); a != nil {
			_ = a.Close(context.Background())
		}
		os.Exit(1)
	}()

	// Execute CLI (app initialization happens inside cli.Execute)
	cli.Execute()
}
