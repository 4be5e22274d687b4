package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/gatetun/gatetun/internal/telemetry"
	"github.com/gatetun/gatetun/internal/tunnel"
)

// ControllerHandler adapts a *tunnel.Controller to ConnectionHandler,
// feeding its TunnelStats into the metrics collector after every connection
// closes; the tunnel registry is updated through the controller's
// OnEstablished/OnClosed callbacks.
type ControllerHandler struct {
	Controller *tunnel.Controller
	Metrics    *telemetry.MetricsCollector
	Tunnels    *telemetry.TunnelRegistry
}

// NewControllerHandler wires the registry callbacks into controller
// and returns a handler ready to pass to TCPServer.
func NewControllerHandler(controller *tunnel.Controller, metrics *telemetry.MetricsCollector, tunnels *telemetry.TunnelRegistry) *ControllerHandler {
	h := &ControllerHandler{Controller: controller, Metrics: metrics, Tunnels: tunnels}
	controller.OnEstablished = func(ctx tunnel.Ctx, remote, target string) {
		tunnels.Add(telemetry.TunnelInfo{Ctx: ctx.String(), Client: remote, Target: target, StartedAt: startTime()})
	}
	controller.OnClosed = func(ctx tunnel.Ctx) {
		tunnels.Remove(ctx.String())
	}
	return h
}

func (h *ControllerHandler) Handle(ctx context.Context, conn net.Conn) {
	h.Metrics.IncActive()
	defer h.Metrics.DecActive()

	stats := h.Controller.Handle(ctx, conn)
	h.Metrics.AddStatusHit(stats.Result.Code)
	if stats.UpstreamStats != nil {
		h.Metrics.AddUpstreamBytes(stats.UpstreamStats.TotalBytes)
	}
	if stats.DownstreamStats != nil {
		h.Metrics.AddDownstreamBytes(stats.DownstreamStats.TotalBytes)
	}
}

// startTime exists only so tests can observe a deterministic seam; today it
// is always time.Now().
var startTime = time.Now

// TLSHandler wraps each accepted connection in a TLS server handshake using
// TLSConfig before delegating to Inner.
type TLSHandler struct {
	Inner     ConnectionHandler
	TLSConfig *tls.Config
	Logger    *slog.Logger
}

func (h *TLSHandler) Handle(ctx context.Context, conn net.Conn) {
	tlsConn := tls.Server(conn, h.TLSConfig)
	h.Inner.Handle(ctx, tlsConn)
}

// TCPForwardHandler forwards every accepted connection to a fixed
// destination, with no handshake, using the same relay engine with Policy
// applied to both directions.
type TCPForwardHandler struct {
	Destination    string
	Policy         tunnel.RelayPolicy
	ConnectTimeout time.Duration
	Metrics        *telemetry.MetricsCollector
	Tunnels        *telemetry.TunnelRegistry
	Logger         *slog.Logger
}

func (h *TCPForwardHandler) Handle(ctx context.Context, client net.Conn) {
	tctx := tunnel.NewCtx()
	defer client.Close()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("tcp-forward: accept", "ctx", tctx.String(), "remote", client.RemoteAddr(), "destination", h.Destination)

	dialCtx := ctx
	var cancel context.CancelFunc
	if h.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, h.ConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	target, err := d.DialContext(dialCtx, "tcp", h.Destination)
	if err != nil {
		logger.Warn("tcp-forward: dial failed", "ctx", tctx.String(), "destination", h.Destination, "err", err)
		return
	}
	defer target.Close()

	tunnel.DisableNagle(client)
	tunnel.DisableNagle(target)

	h.Metrics.IncActive()
	defer h.Metrics.DecActive()
	if h.Tunnels != nil {
		h.Tunnels.Add(telemetry.TunnelInfo{Ctx: tctx.String(), Client: remoteAddrString(client), Target: h.Destination, StartedAt: startTime()})
		defer h.Tunnels.Remove(tctx.String())
	}

	up, down, err := tunnel.RunBothWays(client, target, h.Policy, h.Policy, logger)
	if err != nil {
		logger.Error("tcp-forward: relay panic", "ctx", tctx.String(), "err", err)
		return
	}

	attrs := []any{"ctx", tctx.String()}
	if up != nil {
		attrs = append(attrs, "upstream_bytes", up.TotalBytes, "upstream_reason", up.Reason)
		h.Metrics.AddUpstreamBytes(up.TotalBytes)
	}
	if down != nil {
		attrs = append(attrs, "downstream_bytes", down.TotalBytes, "downstream_reason", down.Reason)
		h.Metrics.AddDownstreamBytes(down.TotalBytes)
	}
	logger.Info("tcp-forward: relay-close", attrs...)
}

func remoteAddrString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
