package main

import (
	"fmt"
	"strings"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/ceremony"
	"github.com/fyrsmithlabs/councild/internal/config"
	"github.com/fyrsmithlabs/councild/internal/council"
	"github.com/fyrsmithlabs/councild/internal/eventbus"
	"github.com/fyrsmithlabs/councild/internal/field"
	"github.com/fyrsmithlabs/councild/internal/hub"
	"github.com/fyrsmithlabs/councild/internal/metrics"
	"github.com/fyrsmithlabs/councild/internal/scheduler"
	"github.com/fyrsmithlabs/councild/internal/scrub"
	"github.com/fyrsmithlabs/councild/internal/telemetry"
	"github.com/fyrsmithlabs/councild/internal/transport"
)

// app holds the wired hub and the infrastructure it owns.
type app struct {
	hub       *hub.Hub
	bus       *eventbus.Bus
	transport transport.Transport
	natsConn  *nats.Conn
	natsSrv   *natsserver.Server
	mirror    *eventbus.NATSMirror
	logger    *zap.Logger
}

// newApp builds every component from cfg. The hub is not started.
func newApp(cfg *config.Config, tel *telemetry.Telemetry, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	busMetrics, err := eventbus.NewMetrics(tel.Meter(eventbus.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("creating bus metrics: %w", err)
	}
	a.bus, err = eventbus.New(logger, eventbus.WithMetrics(busMetrics))
	if err != nil {
		return nil, fmt.Errorf("creating event bus: %w", err)
	}

	if _, err := metrics.NewSink(metrics.NewMetrics(), logger).Attach(a.bus); err != nil {
		return nil, fmt.Errorf("attaching metrics sink: %w", err)
	}

	if cfg.NATS.Enabled {
		if err := a.connectNATS(cfg.NATS); err != nil {
			return nil, err
		}
	}

	defs, err := buildDefinitions(cfg.Ceremonies)
	if err != nil {
		return nil, err
	}

	a.transport, err = a.buildTransport(cfg.Transport, defs)
	if err != nil {
		return nil, err
	}

	agents, err := buildAgents(cfg.Council, cfg.Agents, logger)
	if err != nil {
		return nil, err
	}

	councilMetrics, err := council.NewMetrics(tel.Meter(council.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("creating council metrics: %w", err)
	}
	coord, err := council.New(agents, a.bus, logger,
		council.WithPacing(cfg.Council.Pacing.Duration()),
		council.WithMetrics(councilMetrics),
		council.WithTracer(tel.Tracer(council.InstrumentationName)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating council: %w", err)
	}

	ceremonyMetrics, err := ceremony.NewMetrics(tel.Meter(ceremony.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("creating ceremony metrics: %w", err)
	}
	orch, err := ceremony.New(a.bus, a.transport, logger,
		ceremony.WithGuide(coord),
		ceremony.WithMetrics(ceremonyMetrics),
		ceremony.WithTracer(tel.Tracer(ceremony.InstrumentationName)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ceremony orchestrator: %w", err)
	}
	if err := orch.Register(defs...); err != nil {
		return nil, fmt.Errorf("registering ceremonies: %w", err)
	}

	tracker, err := field.New(a.bus, logger, field.WithConfig(cfg.Field))
	if err != nil {
		return nil, fmt.Errorf("creating field tracker: %w", err)
	}

	sched, err := scheduler.New(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	var arch *archive.Archive
	if cfg.Archive.Enabled {
		var opts []archive.Option
		if cfg.Archive.ScrubSecrets {
			scrubber, err := newScrubber(cfg.Archive.Allowlist, logger)
			if err != nil {
				return nil, err
			}
			opts = append(opts, archive.WithRedactor(scrubber.Scrub))
		}
		arch, err = archive.New(archive.Config{
			Capacity: cfg.Archive.Capacity,
			Path:     cfg.Archive.Path,
			Compress: cfg.Archive.Compress,
		}, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening wisdom archive: %w", err)
		}
	}

	a.hub, err = hub.New(hub.Options{
		Bus:          a.bus,
		Transport:    a.transport,
		Ceremonies:   orch,
		Council:      coord,
		Field:        tracker,
		Scheduler:    sched,
		Archive:      arch,
		Logger:       logger,
		Petitions:    cfg.Transport.Petitions,
		Deliberation: cfg.Transport.Deliberations,
	})
	if err != nil {
		return nil, fmt.Errorf("creating hub: %w", err)
	}
	return a, nil
}

// connectNATS connects to the configured broker, starting an embedded one
// first when asked, and mirrors the bus onto it.
func (a *app) connectNATS(cfg config.NATSConfig) error {
	url := cfg.URL
	if cfg.Embedded {
		srv, err := startEmbeddedNATS(cfg.EmbeddedPort)
		if err != nil {
			return err
		}
		a.natsSrv = srv
		url = srv.ClientURL()
		a.logger.Info("embedded nats server started", zap.String("url", url))
	}

	nc, err := nats.Connect(url,
		nats.Name("councild"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	a.natsConn = nc
	a.logger.Info("connected to nats", zap.String("url", url))

	a.mirror, err = eventbus.NewNATSMirror(nc, cfg.Prefix, a.logger)
	if err != nil {
		return fmt.Errorf("creating nats mirror: %w", err)
	}
	if err := a.mirror.Attach(a.bus); err != nil {
		return fmt.Errorf("attaching nats mirror: %w", err)
	}
	return nil
}

// startEmbeddedNATS runs an in-process server. Port -1 picks a free port.
func startEmbeddedNATS(port int) (*natsserver.Server, error) {
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready on port %d", port)
	}
	return srv, nil
}

// buildTransport returns the chat transport. The memory transport only
// receives traffic from the HTTP webhook.
func (a *app) buildTransport(cfg config.TransportConfig, defs []ceremony.Definition) (transport.Transport, error) {
	channels := knownChannels(cfg, defs)

	switch cfg.Kind {
	case "", config.TransportMemory:
		return transport.NewMemory(transport.WithChannels(channels...)), nil
	case config.TransportNATS:
		if a.natsConn == nil {
			return nil, fmt.Errorf("nats transport requires nats.enabled")
		}
		t, err := transport.NewNATSTransport(a.natsConn, transport.NATSConfig{
			Prefix:   cfg.Prefix,
			Channels: channels,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("creating nats transport: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// knownChannels lists the configured channels plus the council channels
// and every ceremony channel, without duplicates.
func knownChannels(cfg config.TransportConfig, defs []ceremony.Definition) []string {
	names := append([]string(nil), cfg.Channels...)
	names = append(names, orDefault(cfg.Petitions, hub.DefaultPetitionsChannel))
	names = append(names, orDefault(cfg.Deliberations, hub.DefaultDeliberationsChannel))
	for _, d := range defs {
		names = append(names, d.ChannelName())
	}

	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Close releases the transport, the NATS mirror and connection, and the
// embedded server. Safe on a partially built or nil app.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.transport != nil {
		if err := a.transport.Close(); err != nil {
			a.logger.Debug("closing transport", zap.Error(err))
		}
	}
	if a.mirror != nil {
		a.mirror.Detach()
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	if a.natsSrv != nil {
		a.natsSrv.Shutdown()
		a.natsSrv.WaitForShutdown()
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func newScrubber(allowlistPath string, logger *zap.Logger) (*scrub.Scrubber, error) {
	al, err := scrub.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading archive allowlist: %w", err)
	}
	s, err := scrub.New(al, logger.Named("scrub"))
	if err != nil {
		return nil, fmt.Errorf("creating secret scrubber: %w", err)
	}
	return s, nil
}
