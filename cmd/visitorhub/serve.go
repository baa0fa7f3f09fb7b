package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/visitorhub/internal/config"
	"github.com/HMasataka/visitorhub/internal/eventbus"
	"github.com/HMasataka/visitorhub/internal/httpapi"
	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/internal/notify"
	"github.com/HMasataka/visitorhub/pkg/hub"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/HMasataka/visitorhub/pkg/transport/websocket"
	"github.com/HMasataka/visitorhub/pkg/visitor"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the visitor hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveFlags.configPath, "config", "c", "", "path to a yaml or json config file")
	serveCmd.Flags().StringVar(&serveFlags.envFile, "env-file", "", "load environment variables from this file first")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	if serveFlags.envFile != "" {
		if err := godotenv.Load(serveFlags.envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := config.Load(config.LoadOptions{Path: serveFlags.configPath})
	if err != nil {
		return err
	}
	if serveFlags.logLevel != "" {
		cfg.Logging.Level = serveFlags.logLevel
	}

	logger := logging.New(cfg.Logging)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.NewInMemoryBus(cfg.Hub.EventBuffer)
	bus.Start(ctx)
	defer bus.Stop()

	if cfg.NATS.Enabled() {
		nc, err := notify.Connect(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()

		forwarder := notify.NewForwarder(nc, cfg.NATS.SubjectPrefix, logger)
		forwarder.Attach(bus)
		defer forwarder.Detach()

		logger.Info("forwarding presence to nats", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	h := hub.New(logger, hub.Options{SendTimeout: cfg.Hub.SendTimeout})
	if err := h.Start(ctx); err != nil {
		return err
	}

	channel := presence.NewChannel(h,
		presence.WithLogger(logger),
		presence.WithEventBus(bus),
	)

	wsServer := websocket.NewServer(
		websocket.WithHub(h),
		websocket.WithListener(channel),
		websocket.WithRouter(visitor.NewRouter(channel, logger)),
		websocket.WithEventBus(bus),
		websocket.WithLogger(logger),
		websocket.WithClientOptions(clientOptions(cfg.WebSocket)),
	)

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.NewRouter(cfg, httpapi.Deps{
			Hub:      wsServer,
			Presence: channel,
			Stats:    h,
			Logger:   logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("visitor hub listening", "addr", server.Addr, "hub_path", cfg.Server.HubPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// hijacked websocket sessions are not tracked by Shutdown, the hub closes them
	if err := h.Stop(); err != nil {
		logger.Error("hub stop failed", "error", err)
	}
	channel.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("visitor hub stopped")
	return nil
}

func clientOptions(cfg config.WebSocketConfig) websocket.ClientOptions {
	return websocket.ClientOptions{
		WriteTimeout:    cfg.WriteTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		PingInterval:    cfg.PingInterval,
		MaxMessageSize:  int64(cfg.MaxMessageSize),
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		SendBufferSize:  cfg.SendBufferSize,
	}
}
