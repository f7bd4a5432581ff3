// Command ship-node runs a SHIP node that accepts and opens secure peer
// connections.
//
// Usage:
//
//	ship-node [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-listen string        Listen address, empty to disable (default ":4712")
//	-connect string       Connect to this address after start
//	-peer-ski string      Expected certificate SKI of the -connect peer
//	-redial               Keep the -connect peer connected
//	-cert, -key string    Identity files, created if missing
//	-trust-file string    Trust decisions file (default "ship-trust.yaml")
//	-accept-all           Trust every peer without asking
//	-mdns                 Advertise the node via mDNS
//	-websocket            Use the websocket transport
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-interactive          Start the interactive console
//
// Examples:
//
//	# Listen and advertise; decide about peers in the console
//	ship-node -mdns -interactive
//
//	# Connect to a known node and capture the exchange
//	ship-node -listen "" -connect 192.168.1.20:4712 -accept-all -protocol-log node.shiplog
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shipproto/ship-go/cmd/ship-node/interactive"
	"github.com/shipproto/ship-go/pkg/cert"
	"github.com/shipproto/ship-go/pkg/discovery"
	"github.com/shipproto/ship-go/pkg/log"
	"github.com/shipproto/ship-go/pkg/node"
	"github.com/shipproto/ship-go/pkg/persistence"
	"github.com/shipproto/ship-go/pkg/ship"
	"github.com/shipproto/ship-go/pkg/transport"
	"github.com/shipproto/ship-go/pkg/trust"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var console *interactive.Console
	var out io.Writer = os.Stderr
	if cfg.Interactive {
		console, err = interactive.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		out = console.Stdout()
	}
	logger := setupLogging(cfg.LogLevel, out)

	if err := run(ctx, cancel, cfg, logger, console); err != nil {
		logger.Error("ship-node failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *Config, logger *slog.Logger, console *interactive.Console) error {
	identity, err := cert.LoadOrCreateIdentity(cfg.CertFile, cfg.KeyFile, cfg.Name)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	logger.Info("identity loaded", "ski", cert.FormatSKI(identity.SKI()))

	var policy trust.Policy
	var store *trust.Store
	if cfg.AcceptAll {
		policy = trust.AllowAll()
		logger.Warn("trusting every peer")
	} else {
		opts := []trust.StoreOption{trust.WithLogger(logger)}
		if cfg.TrustFile != "" {
			opts = append(opts, trust.WithPersistence(persistence.NewTrustStateStore(cfg.TrustFile)))
		}
		store = trust.NewStore(opts...)
		if err := store.Load(); err != nil {
			return err
		}
		store.OnPending(func(p trust.Peer) {
			logger.Warn("peer awaits trust decision", "peer", cert.FormatSKI(p.ID), "addr", p.Addr)
		})
		policy = store
	}

	protocolLogger, closeProtocolLog, err := setupProtocolLog(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProtocolLog()

	connCfg := ship.DefaultConfig()
	if formats, _ := cfg.formats(); formats != nil {
		connCfg.Formats = formats
	}
	if cfg.HelloMaxWait > 0 {
		connCfg.HelloMaxWait = cfg.HelloMaxWait
	}

	nodeCfg := node.Config{
		Identity:       identity,
		ListenAddress:  cfg.Listen,
		WebSocket:      cfg.WebSocket,
		Path:           cfg.Path,
		Trust:          policy,
		Connection:     connCfg,
		MaxConnections: cfg.MaxConnections,
		Logger:         logger,
		ProtocolLogger: protocolLogger,
	}
	if cfg.WebSocket {
		ka := transport.DefaultKeepAliveConfig()
		nodeCfg.KeepAlive = &ka
	}

	n, err := node.New(nodeCfg)
	if err != nil {
		return err
	}
	if console != nil {
		console.Bind(n, store)
	} else {
		n.OnEvent(logEvent(logger))
	}

	if err := n.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := n.Stop(); err != nil {
			logger.Warn("stop", "error", err)
		}
	}()

	if cfg.MDNS {
		adv, err := advertise(ctx, cfg, identity, n.Addr())
		if err != nil {
			return err
		}
		defer adv.Stop()
		logger.Info("advertising via mDNS", "name", cfg.Name)
	}

	switch {
	case cfg.Connect != "" && cfg.Redial:
		r := n.Redialer(cfg.Connect, cfg.PeerSKI, node.DefaultBackoffConfig())
		r.OnAttempt(func(attempt int, delay time.Duration) {
			logger.Info("peer lost, redialing", "addr", cfg.Connect, "attempt", attempt, "in", delay.Round(time.Millisecond))
		})
		go func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redial stopped", "error", err)
			}
		}()
	case cfg.Connect != "":
		c, err := n.Connect(ctx, cfg.Connect, cfg.PeerSKI)
		if err != nil {
			return fmt.Errorf("connect %s: %w", cfg.Connect, err)
		}
		logger.Info("connecting", "addr", cfg.Connect, "conn", c.ID())
	}

	if cfg.StaleTimeout > 0 {
		go reapStale(ctx, n, cfg.StaleTimeout, logger)
	}

	if console != nil {
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}
	cancel()

	logger.Info("shutting down")
	return nil
}

// setupProtocolLog combines the capture file and, at debug level, the
// operational log.
func setupProtocolLog(cfg *Config, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create protocol logger: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() { _ = fl.Close() }
		logger.Info("protocol logging", "file", cfg.ProtocolLog)
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	if len(loggers) == 0 {
		return nil, closeFn, nil
	}
	return log.NewMultiLogger(loggers...), closeFn, nil
}

func advertise(ctx context.Context, cfg *Config, identity *cert.Identity, addr net.Addr) (*discovery.MDNSAdvertiser, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("cannot advertise listen address %v", addr)
	}

	adv, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	if err != nil {
		return nil, err
	}
	info := &discovery.NodeInfo{
		InstanceName: cfg.Name,
		ID:           cfg.Name,
		SKI:          identity.SKI(),
		Path:         cfg.Path,
		Register:     cfg.AcceptAll,
		Brand:        "ship-go",
		Model:        "ship-node",
		Port:         uint16(tcp.Port),
	}
	if err := adv.Advertise(ctx, info); err != nil {
		return nil, fmt.Errorf("mDNS advertise: %w", err)
	}
	return adv, nil
}

func reapStale(ctx context.Context, n *node.Node, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if aborted := n.AbortStale(maxAge); aborted > 0 {
				logger.Info("aborted stale connections", "count", aborted)
			}
		}
	}
}

func logEvent(logger *slog.Logger) node.EventHandler {
	return func(ev node.Event) {
		attrs := []any{"conn", ev.ConnID, "peer", cert.FormatSKI(ev.PeerID), "role", ev.Role.String()}
		switch ev.Type {
		case node.EventData:
			logger.Info("data received", append(attrs, "bytes", len(ev.Data))...)
		case node.EventClosed:
			if ev.Err != nil {
				logger.Warn("connection closed", append(attrs, "error", ev.Err, "kind", ship.KindOf(ev.Err).String())...)
				return
			}
			logger.Info("connection closed", attrs...)
		default:
			logger.Info(strings.ToLower(ev.Type.String()), append(attrs, "addr", ev.RemoteAddr)...)
		}
	}
}
