package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/richb-hanover/cutie/internal/config"
	"github.com/richb-hanover/cutie/internal/httpserver"
	"github.com/richb-hanover/cutie/internal/report"
)

func newTestApp(t *testing.T) (*app, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		ListenAddr:            "127.0.0.1:0",
		Mode:                  config.ModeDev,
		ShutdownTimeout:       2 * time.Second,
		ICEGatheringTimeout:   time.Second,
		SessionConnectTimeout: 30 * time.Second,
		ClosedSessionHistory:  10,
		StatsStreamInterval:   time.Second,
	}
	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), httpserver.BuildInfo{Commit: "abc"})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	ts := httptest.NewServer(a.http.Handler())
	t.Cleanup(func() {
		ts.Close()
		a.signaling.Close()
	})
	return a, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestApp_RoutesAreMounted(t *testing.T) {
	_, ts := newTestApp(t)

	for _, path := range []string{"/", "/healthz", "/version", "/stats", "/webrtc/ice", "/metrics"} {
		if status, body := get(t, ts.URL+path); status != http.StatusOK {
			t.Fatalf("GET %s status=%d body=%s", path, status, body)
		}
	}

	resp, err := http.Post(ts.URL+"/signal", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /signal {} status=%d, want 400", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/signal?id=nope", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("DELETE /signal status=%d, want 404", resp.StatusCode)
	}
}

func TestApp_VisitorsReachStatsAndMetrics(t *testing.T) {
	a, ts := newTestApp(t)

	get(t, ts.URL+"/")
	get(t, ts.URL+"/")

	_, body := get(t, ts.URL+"/stats")
	var stats report.Stats
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalVisitors != 2 || stats.CurrentConnections != 0 {
		t.Fatalf("stats=%+v", stats)
	}

	_, body = get(t, ts.URL+"/metrics")
	if !strings.Contains(body, `cutie_events_total{event="visitors"} 2`) {
		t.Fatalf("metrics missing visitors counter:\n%s", body)
	}
	if !strings.Contains(body, "cutie_active_sessions 0") {
		t.Fatalf("metrics missing active sessions gauge:\n%s", body)
	}
	if a.runtime.Visitors() != 2 {
		t.Fatalf("Visitors=%d, want 2", a.runtime.Visitors())
	}
}
