// Command gatetun runs the HTTP(S) CONNECT tunneling proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatetun/gatetun/internal/config"
	"github.com/gatetun/gatetun/internal/logging"
	"github.com/gatetun/gatetun/internal/server"
	"github.com/gatetun/gatetun/internal/telemetry"
	"github.com/gatetun/gatetun/internal/tlsid"
	"github.com/gatetun/gatetun/internal/tunnel"
)

func main() {
	args, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("gatetun: %v", err)
	}

	resolved := config.ResolveConfigPath(args.ConfigPath)
	tunnelCfg, loggingCfg, adminAddr, err := config.Load(resolved.Path)
	if err != nil {
		log.Fatalf("gatetun: load config: %v", err)
	}

	logrt, err := logging.NewRuntime(loggingCfg)
	if err != nil {
		log.Fatalf("gatetun: init logging: %v", err)
	}
	defer logrt.Close()
	logger := logrt.Logger()

	if args.Mode == tunnel.ModeHTTP {
		// Forward-proxying a non-CONNECT first request is only meaningful
		// in plain HTTP mode; HTTPS-CONNECT and raw TCP never see the
		// Nugget grammar.
		tunnelCfg.AllowPlaintextForward = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetricsCollector()
	tunnels := telemetry.NewTunnelRegistry()

	handler, err := buildHandler(args, tunnelCfg, metrics, tunnels, logger)
	if err != nil {
		log.Fatalf("gatetun: %v", err)
	}

	tcpServer := server.NewTCPServer(args.Bind, handler, metrics, logger)

	adminOpts := telemetry.AdminServerOptions{
		Addr:    adminAddr,
		Metrics: metrics,
		Tunnels: tunnels,
		Health:  tcpServer.IsListening,
	}
	if store := logrt.Store(); store != nil {
		// Only set Logs when the buffer is actually enabled: a typed-nil
		// *logging.TunnelLogTail wrapped in the interface would compare != nil
		// and bypass the admin server's /logs disabled check.
		adminOpts.Logs = store
	}
	admin := telemetry.NewAdminServer(adminOpts)

	var adminErr chan error
	if adminAddr != "" {
		adminErr = make(chan error, 1)
		go func() {
			if err := admin.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
				stop()
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := tcpServer.ListenAndServe(ctx); err != nil {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if adminAddr != "" {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Warn("gatetun: admin shutdown", "err", err)
		}
	}
	if err := tcpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gatetun: server shutdown", "err", err)
	}

	select {
	case err := <-serveErr:
		log.Fatalf("gatetun: server error: %v", err)
	default:
	}
	if adminErr != nil {
		select {
		case err := <-adminErr:
			logger.Warn("gatetun: admin server error", "err", err)
		default:
		}
	}

	fmt.Println("gatetun exited")
}

// buildHandler constructs the per-mode server.ConnectionHandler: plain
// CONNECT, TLS-wrapped CONNECT, or fixed-destination TCP forwarding.
func buildHandler(args config.CLIArgs, tunnelCfg tunnel.Config, metrics *telemetry.MetricsCollector, tunnels *telemetry.TunnelRegistry, logger *slog.Logger) (server.ConnectionHandler, error) {
	switch args.Mode {
	case tunnel.ModeTCP:
		return &server.TCPForwardHandler{
			Destination:    args.Destination,
			Policy:         tunnelCfg.TargetConnection.RelayPolicy,
			ConnectTimeout: tunnelCfg.TargetConnection.ConnectTimeout,
			Metrics:        metrics,
			Tunnels:        tunnels,
			Logger:         logger,
		}, nil

	case tunnel.ModeHTTPS:
		identity, err := tlsid.LoadIdentity(args.PKCS12Path, args.Password)
		if err != nil {
			return nil, fmt.Errorf("load TLS identity: %w", err)
		}
		inner := buildControllerHandler(tunnelCfg, metrics, tunnels, logger)
		return &server.TLSHandler{Inner: inner, TLSConfig: tlsid.ServerTLSConfig(identity), Logger: logger}, nil

	case tunnel.ModeHTTP:
		return buildControllerHandler(tunnelCfg, metrics, tunnels, logger), nil

	default:
		return nil, fmt.Errorf("unsupported mode %v", args.Mode)
	}
}

func buildControllerHandler(tunnelCfg tunnel.Config, metrics *telemetry.MetricsCollector, tunnels *telemetry.TunnelRegistry, logger *slog.Logger) *server.ControllerHandler {
	resolver := tunnel.NewResolver(tunnelCfg.TargetConnection.DNSCacheTTL)
	connector := tunnel.NewConnector(resolver)

	var codec *tunnel.Codec
	if tunnelCfg.AllowPlaintextForward {
		codec = tunnel.NewForwardCodec(tunnelCfg.TargetConnection.AllowedTargets)
	} else {
		codec = tunnel.NewCodec(tunnelCfg.TargetConnection.AllowedTargets)
	}

	controller := tunnel.NewController(codec, connector, tunnelCfg, logger)
	return server.NewControllerHandler(controller, metrics, tunnels)
}
