package main

import (
	"context"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/HMasataka/visitorhub/pkg/visitor"
)

func main() {
	var (
		serverAddr = flag.String("server", "ws://localhost:3000/VisitorHub", "visitor hub URL")
		resync     = flag.Duration("resync", 0, "ask for the visitor count at this interval (0 disables)")
		logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  *logLevel,
		Format: "text",
	})

	serverURL, err := url.Parse(*serverAddr)
	if err != nil {
		log.Fatalf("invalid server URL: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	options := visitor.DefaultClientOptions()
	options.Logger = logger

	client := visitor.NewClient(*serverURL, options)
	client.OnEvent(func(e presence.Event) {
		logger.Info("presence changed", "kind", e.Kind, "count", e.Count)
	})

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect()

	var tick <-chan time.Time
	if *resync > 0 {
		ticker := time.NewTicker(*resync)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-client.Done():
			logger.Warn("connection closed by server")
			return
		case <-tick:
			count, err := client.RequestCount(ctx)
			if err != nil {
				logger.Error("count request failed", "error", err)
				continue
			}
			logger.Info("visitor count", "count", count)
		}
	}
}
