package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// TunnelStats is the single record produced for every accepted connection:
// one per connection, carrying its Ctx, the establishment outcome, and
// per-direction relay statistics (present only once relaying began).
type TunnelStats struct {
	Ctx             Ctx
	Result          Status
	UpstreamStats   *Stats // client -> target
	DownstreamStats *Stats // target -> client
}

// Controller drives one connection's lifetime: handshake, target
// establishment, status response, then full-duplex relay. It is
// polymorphic over nothing but net.Conn — the same controller handles
// plain-HTTP and HTTPS-CONNECT alike, since TLS termination (if any)
// happens in the listener before Handle is called.
type Controller struct {
	Codec     *Codec
	Connector *Connector
	Config    Config
	Logger    *slog.Logger

	// OnEstablished and OnClosed, when set, let a caller (the admin
	// registry) track live tunnels without the controller depending on
	// telemetry. Both are optional and called synchronously.
	OnEstablished func(ctx Ctx, remote, target string)
	OnClosed      func(ctx Ctx)
}

// NewController builds a Controller for one tunnel configuration snapshot.
func NewController(codec *Codec, connector *Connector, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{Codec: codec, Connector: connector, Config: cfg, Logger: logger}
}

// Handle drives the CONNECT state machine for one client connection:
// AwaitHandshake -> Connecting -> Responding -> Relaying -> Closed. It
// always closes client before returning and always produces exactly one
// TunnelStats.
func (c *Controller) Handle(ctx context.Context, client net.Conn) TunnelStats {
	tctx := NewCtx()
	defer client.Close()

	c.Logger.Info("tunnel: accept", "ctx", tctx.String(), "remote", client.RemoteAddr())

	result, status := c.awaitHandshake(client, tctx)
	if !status.IsSuccess() {
		c.respond(client, status, tctx)
		return TunnelStats{Ctx: tctx, Result: status}
	}

	target, connectStatus, err := c.Connector.Connect(ctx, result.TargetURI, result.Nugget, c.Config.TargetConnection.ConnectTimeout)
	if err != nil {
		c.Logger.Warn("tunnel: connect-target failed", "ctx", tctx.String(), "target", result.TargetURI, "err", err)
		c.respond(client, connectStatus, tctx)
		return TunnelStats{Ctx: tctx, Result: connectStatus}
	}
	defer target.Close()

	responseStatus := StatusOk
	if !result.Nugget.Empty() {
		responseStatus = StatusOkWithNugget
	}
	if !c.respond(client, responseStatus, tctx) {
		return TunnelStats{Ctx: tctx, Result: StatusRequestTimeout}
	}

	c.Logger.Info("tunnel: handshake-result", "ctx", tctx.String(), "target", result.TargetURI, "status", responseStatus.Code)

	DisableNagle(client)

	if c.OnEstablished != nil {
		c.OnEstablished(tctx, remoteAddrString(client), result.TargetURI)
	}
	if c.OnClosed != nil {
		defer c.OnClosed(tctx)
	}

	upstreamStats, downstreamStats, relayErr := c.relayBothWays(client, target)
	stats := TunnelStats{
		Ctx:             tctx,
		Result:          StatusOk,
		UpstreamStats:   upstreamStats,
		DownstreamStats: downstreamStats,
	}
	if relayErr != nil {
		c.Logger.Error("tunnel: relay panic", "ctx", tctx.String(), "err", relayErr)
		stats.Result = StatusServerError
	}

	c.logClose(tctx, stats)
	return stats
}

// awaitHandshake decodes one handshake message under the initiation
// timeout, translating an expired deadline into RequestTimeout.
func (c *Controller) awaitHandshake(client net.Conn, tctx Ctx) (HandshakeResult, Status) {
	timeout := c.Config.ClientConnection.InitiationTimeout
	if timeout > 0 {
		_ = client.SetReadDeadline(time.Now().Add(timeout))
	}
	result, err := c.Codec.Decode(client)
	_ = client.SetReadDeadline(time.Time{})
	if err != nil {
		if isTimeout(err) {
			return HandshakeResult{}, StatusRequestTimeout
		}
		c.Logger.Warn("tunnel: handshake read error", "ctx", tctx.String(), "err", err)
		return HandshakeResult{}, StatusServerError
	}
	return result, result.Status
}

// respond writes the status-line response under the initiation timeout.
// It returns false (and the connection should be treated as having failed
// with RequestTimeout) if the write fails, whether by timing out or by any
// other error.
func (c *Controller) respond(client net.Conn, status Status, tctx Ctx) bool {
	timeout := c.Config.ClientConnection.InitiationTimeout
	if timeout > 0 {
		_ = client.SetWriteDeadline(time.Now().Add(timeout))
	}
	err := EncodeStatus(client, status)
	_ = client.SetWriteDeadline(time.Time{})
	if err != nil {
		c.Logger.Warn("tunnel: status write failed", "ctx", tctx.String(), "status", status.Code, "err", err)
		return false
	}
	return true
}

// relayBothWays splits the tunnel into its two directions and runs them
// concurrently, recovering a panic in either as a reported error rather
// than letting it escape the connection's goroutine.
func (c *Controller) relayBothWays(client, target net.Conn) (up, down *Stats, err error) {
	return RunBothWays(client, target, c.Config.ClientConnection.RelayPolicy, c.Config.TargetConnection.RelayPolicy, c.Logger)
}

// RunBothWays runs the upstream (client-read -> target-write) and downstream
// (target-read -> client-write) relays concurrently under their respective
// policies, recovering a panic in either into a returned error. It is shared
// by Controller (CONNECT/HTTPS modes) and the raw TCP forwarding handler,
// which has no handshake but still needs the identical two-direction pump.
func RunBothWays(client, target net.Conn, upstreamPolicy, downstreamPolicy RelayPolicy, logger *slog.Logger) (up, down *Stats, err error) {
	g := new(errgroup.Group)

	g.Go(func() (rerr error) {
		defer func() {
			if p := recover(); p != nil {
				rerr = fmt.Errorf("tunnel: upstream relay panic: %v", p)
			}
		}()
		stats := Relay{Name: "upstream", Policy: upstreamPolicy, Logger: logger}.Run(client, target)
		up = &stats
		return nil
	})

	g.Go(func() (rerr error) {
		defer func() {
			if p := recover(); p != nil {
				rerr = fmt.Errorf("tunnel: downstream relay panic: %v", p)
			}
		}()
		stats := Relay{Name: "downstream", Policy: downstreamPolicy, Logger: logger}.Run(target, client)
		down = &stats
		return nil
	})

	err = g.Wait()
	return up, down, err
}

func remoteAddrString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *Controller) logClose(tctx Ctx, stats TunnelStats) {
	attrs := []any{"ctx", tctx.String(), "result", stats.Result.Code}
	if stats.UpstreamStats != nil {
		attrs = append(attrs, "upstream_bytes", stats.UpstreamStats.TotalBytes, "upstream_reason", stats.UpstreamStats.Reason)
	}
	if stats.DownstreamStats != nil {
		attrs = append(attrs, "downstream_bytes", stats.DownstreamStats.TotalBytes, "downstream_reason", stats.DownstreamStats.Reason)
	}
	c.Logger.Info("tunnel: relay-close", attrs...)
}
