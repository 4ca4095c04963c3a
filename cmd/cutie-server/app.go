package main

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/richb-hanover/cutie/internal/config"
	"github.com/richb-hanover/cutie/internal/httpserver"
	"github.com/richb-hanover/cutie/internal/metrics"
	"github.com/richb-hanover/cutie/internal/ratelimit"
	"github.com/richb-hanover/cutie/internal/registry"
	"github.com/richb-hanover/cutie/internal/report"
	"github.com/richb-hanover/cutie/internal/signaling"
	"github.com/richb-hanover/cutie/internal/webrtcpeer"
)

// app is the fully wired server, before it starts listening.
type app struct {
	http      *httpserver.Server
	signaling *signaling.Server
	registry  *registry.Registry
	runtime   *report.Runtime
	metrics   *metrics.Metrics
}

func newApp(cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) (*app, error) {
	// Constructing the API validates the network settings; no sockets are
	// opened until the first PeerConnection.
	api, err := webrtcpeer.NewAPI(cfg, logger)
	if err != nil {
		return nil, err
	}

	clk := clock.New()
	m := metrics.New()
	reg := registry.New(registry.Options{
		Clock:       clk,
		Metrics:     m,
		Logger:      logger,
		MaxSessions: cfg.MaxSessions,
		HistorySize: cfg.ClosedSessionHistory,
	})
	rt := report.New(report.Options{
		Registry:       reg,
		Metrics:        m,
		Clock:          clk,
		StreamInterval: cfg.StatsStreamInterval,
		Logger:         logger,
	})

	var limiter *ratelimit.Limiter
	if cfg.MaxSignalRequestsPerSecond > 0 || cfg.MaxSignalRequestsPerClient > 0 {
		limiter = ratelimit.NewLimiter(clk, ratelimit.LimiterConfig{
			PerSecond:          cfg.MaxSignalRequestsPerSecond,
			PerClientPerSecond: cfg.MaxSignalRequestsPerClient,
		})
	}

	sig := signaling.NewServer(signaling.Config{
		API:                   api,
		ICEServers:            peerConnectionICEServers(cfg),
		Registry:              reg,
		Metrics:               m,
		Limiter:               limiter,
		Clock:                 clk,
		Logger:                logger,
		ICEGatheringTimeout:   cfg.ICEGatheringTimeout,
		SessionConnectTimeout: cfg.SessionConnectTimeout,
		OnChannelOpen:         rt.CountConnection,
		Welcome:               rt.Welcome,
	})

	srv := httpserver.New(cfg, logger, build)
	sig.RegisterRoutes(srv.Mux())
	rt.RegisterRoutes(srv.Mux())

	promReg := metrics.NewRegistry(m, metrics.Gauges{
		ActiveSessions: reg.ActiveCount,
		ClosedSessions: reg.HistoryLen,
	})
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(promReg))

	return &app{
		http:      srv,
		signaling: sig,
		registry:  reg,
		runtime:   rt,
		metrics:   m,
	}, nil
}
