// gateway is the realtime WebSocket gateway. It authenticates players,
// relays their requests to the Room Manager over NATS and fans room events
// out to players and delayed spectators.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/auth"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/config"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/gateway"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/metrics"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/natsrooms"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/server"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML, JSON or TOML config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	cfg, err := config.Load(config.Options{File: *configFile, EnvFiles: []string{*envFile}})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := natsrooms.Connect(natsrooms.ConnectConfig{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		Token:         cfg.NATS.Token,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.RequestTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("nats drain", "error", err)
		}
	}()

	natsOpts := []natsrooms.Option{
		natsrooms.WithPrefix(cfg.NATS.Prefix),
		natsrooms.WithTimeout(cfg.NATS.RequestTimeout),
		natsrooms.WithLogger(logger),
	}

	authenticator, err := newAuthenticator(cfg.Auth, nc, natsOpts)
	if err != nil {
		return err
	}

	var (
		sink     metrics.Sink = metrics.Nop{}
		promSink *metrics.PrometheusSink
	)
	if cfg.Metrics.Enabled {
		promSink = metrics.NewPrometheusSink(cfg.Metrics.Namespace, metrics.WithLogger(logger))
		sink = promSink
	}

	gw, err := gateway.New(gateway.Config{
		RoomManager:       natsrooms.NewClient(nc, natsOpts...),
		Authenticator:     authenticator,
		Metrics:           sink,
		Logger:            logger,
		CheckOrigin:       checkOrigin(cfg.HTTP.AllowedOrigins),
		ConnectionOptions: connectionOptions(cfg.WebSocket, logger),
		Pool:              poolConfig(cfg.WebSocket),
		RequestTimeout:    cfg.Gateway.RequestTimeout,
	})
	if err != nil {
		return err
	}
	if err := gw.Start(ctx); err != nil {
		return err
	}

	handler := newHandler(handlerDeps{
		gateway:     gw,
		logger:      logger,
		metrics:     promSink,
		metricsPath: cfg.Metrics.Path,
		ready: []server.Check{{
			Name: "nats",
			Check: func(context.Context) error {
				if status := nc.Status(); status != nats.CONNECTED {
					return fmt.Errorf("nats %s", status)
				}
				return nil
			},
		}},
	})

	srv := server.New(server.Config{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		Logger:            logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = gw.Stop(stopCtx)
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// Stop accepting upgrades first; hijacked connections are the gateway's.
	err = errors.Join(srv.Shutdown(stopCtx), gw.Stop(stopCtx))
	if serveErr := <-errCh; serveErr != nil {
		err = errors.Join(err, serveErr)
	}
	return err
}

func newAuthenticator(cfg config.Auth, nc *nats.Conn, opts []natsrooms.Option) (gateway.Authenticator, error) {
	switch cfg.Mode {
	case config.AuthModeStatic:
		return auth.ParseStaticTokens(cfg.Tokens)
	case config.AuthModeNATS:
		return natsrooms.NewAuthenticator(nc, opts...), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
