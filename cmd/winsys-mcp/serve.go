package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/winsys-mcp/bus"
	"github.com/vinayprograms/winsys-mcp/config"
	"github.com/vinayprograms/winsys-mcp/errors"
	"github.com/vinayprograms/winsys-mcp/logging"
	"github.com/vinayprograms/winsys-mcp/metrics"
	"github.com/vinayprograms/winsys-mcp/server"
	"github.com/vinayprograms/winsys-mcp/shutdown"
	"github.com/vinayprograms/winsys-mcp/telemetry"
	"github.com/vinayprograms/winsys-mcp/tools"
	"github.com/vinayprograms/winsys-mcp/transport"
)

// Tracked connection ids and hook names.
const (
	connBus      = "bus"
	connSSE      = "sse-intake"
	hookAnnounce = "announce-shutdown"
	hookSSE      = "sse-transport"
	hookTracing  = "telemetry"
	hookJournal  = "journal"
)

func newServeCmd() *cobra.Command {
	var (
		cfgPath  string
		logLevel string
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:       "serve [stdio|sse|ws]",
		Short:     "Run the MCP server",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{config.TransportStdio, config.TransportSSE, config.TransportWebSocket},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Server.Transport = args[0]
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			code, err := run(cfg)
			if err != nil {
				return err
			}
			exitCode = code
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default: winsys-mcp.toml or ~/.config/winsys-mcp/config.toml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.Flags().StringVar(&httpAddr, "addr", "", "listen address for sse and ws")
	return cmd
}

// shutdownConfig maps the file settings onto the coordinator's.
func shutdownConfig(c config.ShutdownConfig) shutdown.Config {
	sc := shutdown.DefaultConfig()
	if c.Timeout > 0 {
		sc.DefaultTimeout = c.Timeout
	}
	if c.SessionTimeout > 0 {
		sc.SessionTimeout = c.SessionTimeout
	}
	switch {
	case c.ForceExitAfter > 0:
		sc.ForceExitAfter = c.ForceExitAfter
	case c.ForceExitAfter < 0:
		sc.ForceExitAfter = -1
	default:
		sc.ForceExitAfter = shutdown.WatchdogDelay(sc.DefaultTimeout, sc.SessionTimeout)
	}
	return sc
}

// journalProgress records every finished shutdown step in exp.
func journalProgress(exp telemetry.Exporter) func(shutdown.HandlerResult) {
	return func(r shutdown.HandlerResult) {
		data := map[string]interface{}{
			"name":        r.Name,
			"phase":       r.Phase.String(),
			"close":       r.Close,
			"duration_ms": r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			data["error"] = r.Err.Error()
		}
		exp.LogEvent("shutdown_step", data)
	}
}

// openJournal posts to an http(s) target and appends to a file otherwise.
func openJournal(target string) (telemetry.Exporter, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return telemetry.NewExporter("http", target)
	}
	return telemetry.NewExporter("file", target)
}

func openBus(cfg config.BusConfig) (bus.MessageBus, error) {
	if cfg.URL == "" {
		return bus.NewMemoryBus(bus.DefaultConfig()), nil
	}
	nc := bus.DefaultNATSConfig()
	nc.URL = cfg.URL
	return bus.NewNATSBus(nc)
}

// watchBusRequests starts a shutdown on the first request published to
// subject and returns once ctx ends.
func watchBusRequests(ctx context.Context, b bus.MessageBus, subject string, coord *shutdown.Coordinator, log *logging.Logger) {
	err := bus.WatchShutdownRequests(ctx, b, subject, func() {
		log.Info("shutdown requested over bus", nil)
		go coord.Shutdown(context.Background(), shutdown.ReasonNormal, 0)
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("shutdown request watch ended", map[string]interface{}{"error": err.Error()})
	}
}

// run serves until the coordinator finishes and returns its exit code.
func run(cfg *config.Config) (int, error) {
	started := time.Now()

	logger := logging.New()
	if level, ok := logging.ParseLevel(cfg.Log.Level); ok {
		logger.SetLevel(level)
	}
	log := logger.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scfg := shutdownConfig(cfg.Shutdown)

	var journal telemetry.Exporter
	if cfg.Telemetry.Journal != "" {
		exp, err := openJournal(cfg.Telemetry.Journal)
		if err != nil {
			return 1, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "opening shutdown journal")
		}
		journal = exp
		scfg.OnProgress = journalProgress(journal)
	}

	tracer := telemetry.GetTracer()
	var provider *telemetry.Provider
	if cfg.Telemetry.Endpoint != "" {
		p, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    "winsys-mcp",
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
		})
		if err != nil {
			return 1, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "starting telemetry")
		}
		provider = p
		tracer = p.Tracer()
		telemetry.SetGlobalTracer(tracer)
	}

	if cfg.Log.Level == "debug" {
		tracer.SetDebug(true)
	}

	collector := metrics.New()
	coord := shutdown.NewCoordinator(scfg,
		shutdown.WithLogger(logger),
		shutdown.WithObserver(collector),
		shutdown.WithTracer(tracer),
	)
	hooks := coord.Hooks()

	b, err := openBus(cfg.Bus)
	if err != nil {
		return 1, err
	}
	announcer := bus.NewAnnouncer(b, cfg.Bus.Subject, logger)
	if err := hooks.RegisterPre(hookAnnounce, announcer.Hook(coord)); err != nil {
		return 1, err
	}
	coord.Connections().Add(connBus, b)

	reg := tools.NewRegistry()
	if err := reg.Register(tools.StatusTool(coord, started)); err != nil {
		return 1, err
	}
	srv := server.New(reg, coord,
		server.WithLogger(logger.WithComponent("server")),
		server.WithMetrics(collector),
		server.WithTracer(tracer),
		server.WithInfo("winsys-mcp", version),
	)

	g, gctx := errgroup.WithContext(ctx)
	if err := startTransport(gctx, g, cfg, coord, srv, collector, logger); err != nil {
		return 1, err
	}

	// Post hooks registered here run after the transport's own.
	if provider != nil {
		if err := hooks.RegisterPost(hookTracing, provider.OnShutdown); err != nil {
			return 1, err
		}
	}
	if journal != nil {
		if err := hooks.RegisterPost(hookJournal, telemetry.OnShutdown(journal)); err != nil {
			return 1, err
		}
	}

	trap := shutdown.NewSignalTrap(shutdown.WithTrapLogger(logger))
	if err := trap.OnSignal("server_shutdown", coord.SignalHook()); err != nil {
		return 1, err
	}

	// The watcher stops on the first signal; transports keep ctx so they
	// serve until the coordinator closes them.
	watchCtx, stopWatch := context.WithCancel(trap.Context())
	defer stopWatch()
	if cfg.Bus.URL != "" {
		go watchBusRequests(watchCtx, b, bus.SubjectShutdownRequest, coord, log)
	}

	trap.Install()
	defer trap.Restore()

	log.Info("server started", map[string]interface{}{
		"transport": cfg.Server.Transport,
		"version":   version,
	})

	served := make(chan error, 1)
	go func() { served <- g.Wait() }()

	select {
	case err := <-served:
		if coord.Status() == shutdown.StatusNotStarted {
			reason := shutdown.ReasonNormal
			if err != nil && err != context.Canceled {
				reason = shutdown.ReasonError
				log.Error("server stopped", map[string]interface{}{"error": err.Error()})
			}
			coord.Shutdown(context.Background(), reason, 0)
		}
	case <-coord.Done():
	}

	<-coord.Done()
	stopWatch()
	cancel()

	return coord.ExitCode(), nil
}

// startTransport wires the configured transport into the coordinator and
// starts serving it on g.
func startTransport(ctx context.Context, g *errgroup.Group, cfg *config.Config, coord *shutdown.Coordinator,
	srv *server.Server, collector *metrics.Collector, logger *logging.Logger) error {
	hooks := coord.Hooks()
	sessionTimeout := coord.Config().SessionTimeout

	var opts server.HTTPOptions

	switch cfg.Server.Transport {
	case config.TransportStdio:
		tr := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.DefaultConfig())

		stream := transport.NewStreamAdapter(transport.NameStdio, logger)
		stream.SetStreams(os.Stdin, os.Stdout)
		if err := stream.RegisterCallback("connection-metrics", func(context.Context) error {
			collector.ConnectionClosed(transport.NameStdio)
			return nil
		}); err != nil {
			return err
		}
		if err := stream.Register(hooks); err != nil {
			return err
		}

		coord.Connections().Add(transport.NameStdio, tr)
		collector.ConnectionOpened(transport.NameStdio)

		g.Go(func() error { return tr.Run(ctx) })
		g.Go(func() error { return srv.Serve(ctx, tr, transport.NameStdio) })
		return nil

	case config.TransportSSE:
		sse := transport.NewSSETransport(transport.DefaultSSEConfig())
		sessions := transport.NewSessionAdapter(transport.NameSSE, sessionTimeout, logger)
		if err := sessions.Register(hooks); err != nil {
			return err
		}
		coord.Connections().Add(connSSE, sse)
		if err := hooks.RegisterPost(hookSSE, func(context.Context) error { return sse.Close() }); err != nil {
			return err
		}

		opts = server.HTTPOptions{SSE: sse, SSESessions: sessions}
		g.Go(func() error { return sse.Run(ctx) })
		g.Go(func() error { return srv.Serve(ctx, sse, transport.NameSSE) })

	case config.TransportWebSocket:
		sessions := transport.NewSessionAdapter(transport.NameWebSocket, sessionTimeout, logger)
		if err := sessions.Register(hooks); err != nil {
			return err
		}
		opts = server.HTTPOptions{WebSocket: sessions, WebSocketConfig: transport.DefaultWebSocketConfig()}

	default:
		return errors.InvalidInput("unknown transport " + cfg.Server.Transport)
	}

	hs, err := server.Listen(cfg.Server.HTTPAddr, srv.Handler(opts), logger)
	if err != nil {
		return err
	}
	if err := hs.Register(coord); err != nil {
		return err
	}
	g.Go(hs.Serve)
	return nil
}
