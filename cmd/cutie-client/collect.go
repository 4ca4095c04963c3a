package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/config"
	"github.com/richb-hanover/cutie/internal/latency"
	"github.com/richb-hanover/cutie/internal/probestore"
	"github.com/richb-hanover/cutie/internal/rtcclient"
	"github.com/richb-hanover/cutie/internal/webrtcpeer"
)

const (
	iceFetchTimeout   = 5 * time.Second
	finishTimeout     = 5 * time.Second
	statusInterval    = time.Second
	plainStatusEvery  = 10
	clearLineSequence = "\r\033[K"
)

type collectOutput struct {
	w io.Writer
	// interactive redraws a single status line instead of logging.
	interactive bool
}

func collect(ctx context.Context, cfg config.ClientConfig, store *probestore.Store, out collectOutput, logger *slog.Logger) error {
	clk := clock.New()

	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		fetchCtx, cancel := context.WithTimeout(ctx, iceFetchTimeout)
		servers, err := rtcclient.FetchICEServers(fetchCtx, http.DefaultClient, cfg.ServerURL)
		cancel()
		if err != nil {
			logger.Warn("could not fetch ICE servers; using host candidates only", "err", err)
		} else {
			iceServers = servers
		}
	}

	var rec *probestore.Recorder
	if store != nil {
		runID, err := store.Create(ctx, probestore.Run{SignalURL: cfg.SignalURL(), StartedAt: clk.Now()})
		if err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		rec = store.Recorder(runID)
		logger.Info("recording run", "run_id", runID, "db", cfg.RecordDB)
	}

	monOpts := latency.Options{
		Interval:          cfg.Interval,
		LossTimeout:       cfg.LossTimeout,
		LossCheckInterval: cfg.LossCheckInterval,
		HistorySize:       cfg.HistorySize,
		Clock:             clk,
		Logger:            logger,
	}
	if rec != nil {
		monOpts.OnProbeReceived = rec.Add
	}
	monitor := latency.NewMonitor(monOpts)

	se := webrtc.SettingEngine{LoggerFactory: webrtcpeer.NewLoggerFactory(logger)}
	c := rtcclient.NewCollector(rtcclient.CollectorConfig{
		Connect: rtcclient.Options{
			SignalURL: cfg.SignalURL(),
			Negotiator: &rtcclient.Negotiator{
				GatherTimeout: cfg.GatherTimeout,
				Clock:         clk,
				Logger:        logger,
			},
			API:        webrtc.NewAPI(webrtc.WithSettingEngine(se)),
			ICEServers: iceServers,
		},
		Monitor:  monitor,
		Duration: cfg.Duration,
		Clock:    clk,
		Logger:   logger,
		OnMessage: func(msg webrtc.DataChannelMessage) {
			logServerMessage(logger, msg)
		},
	})

	statusDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reportStatus(statusDone, clk, out, monitor, rec, logger)
	}()

	reason, runErr := c.Run(ctx)
	close(statusDone)
	wg.Wait()

	stats := monitor.Stats()
	if out.interactive {
		fmt.Fprint(out.w, clearLineSequence)
	}
	fmt.Fprintln(out.w, reason.Message(c.Elapsed(), cfg.Duration))
	writeSummary(out.w, stats)

	if rec != nil {
		finishCtx, cancel := context.WithTimeout(context.Background(), finishTimeout)
		defer cancel()
		if err := rec.Flush(finishCtx); err != nil {
			logger.Error("flush probe records", "run_id", rec.RunID(), "err", err)
		}
		if err := store.Finish(finishCtx, rec.RunID(), c.SessionID(), string(reason), clk.Now(), stats); err != nil {
			logger.Error("finish run", "run_id", rec.RunID(), "err", err)
		}
		fmt.Fprintf(out.w, "run=%s\n", rec.RunID())
	}

	if reason == rtcclient.StopError {
		return runErr
	}
	return nil
}

// reportStatus refreshes the status view once per statusInterval and flushes
// recorded probes as it goes.
func reportStatus(done <-chan struct{}, clk clock.Clock, out collectOutput, m *latency.Monitor, rec *probestore.Recorder, logger *slog.Logger) {
	ticker := clk.Ticker(statusInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		ticks++

		if rec != nil {
			flushCtx, cancel := context.WithTimeout(context.Background(), finishTimeout)
			err := rec.Flush(flushCtx)
			cancel()
			if err != nil {
				logger.Warn("flush probe records", "run_id", rec.RunID(), "err", err)
			}
		}
		if !m.Active() {
			continue
		}

		s := m.Stats()
		if out.interactive {
			fmt.Fprint(out.w, clearLineSequence+statusLine(s))
			continue
		}
		if ticks%plainStatusEvery == 0 {
			logger.Info("collecting",
				"sent", s.TotalSent,
				"received", s.TotalReceived,
				"lost", s.TotalLost,
				"latency", formatMs(s.LastLatencyMs),
				"avg", formatMs(s.AverageLatencyMs),
				"jitter", formatMs(s.JitterMs),
			)
		}
	}
}

func logServerMessage(logger *slog.Logger, msg webrtc.DataChannelMessage) {
	var welcome webrtcpeer.Welcome
	if err := json.Unmarshal(msg.Data, &welcome); err == nil && welcome.Type == webrtcpeer.WelcomeType {
		logger.Info("server welcome", "message", welcome.Message, "at", welcome.At, "connections", welcome.Connections)
		return
	}
	logger.Debug("ignoring data channel message", "len", len(msg.Data), "is_string", msg.IsString)
}
