package report

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/richb-hanover/cutie/internal/metrics"
	"github.com/richb-hanover/cutie/internal/registry"
	"github.com/richb-hanover/cutie/internal/webrtcpeer"
)

type fakeTransport struct {
	observers []func(string)
}

func (f *fakeTransport) OnTerminalState(fn func(string)) {
	f.observers = append(f.observers, fn)
}

func (f *fakeTransport) Close() error {
	for _, fn := range f.observers {
		fn(registry.ReasonClosed)
	}
	return nil
}

type fixture struct {
	clk *clock.Mock
	reg *registry.Registry
	m   *metrics.Metrics
	rt  *Runtime
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 5, 9, 4, 3, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	reg := registry.New(registry.Options{Clock: clk, Metrics: m, Logger: logger})
	return &fixture{
		clk: clk,
		reg: reg,
		m:   m,
		rt: New(Options{
			Registry: reg,
			Metrics:  m,
			Clock:    clk,
			Location: time.UTC,
			Logger:   logger,
		}),
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0d 0h 0m 0s"},
		{999 * time.Millisecond, "0d 0h 0m 0s"},
		{61 * time.Second, "0d 0h 1m 1s"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1d 2h 3m 4s"},
		{-time.Second, "0d 0h 0m 0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Fatalf("FormatDuration(%s)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDateTime(t *testing.T) {
	t.Parallel()

	got := FormatDateTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if got != "2024-01-02 03:04:05" {
		t.Fatalf("FormatDateTime=%q", got)
	}
}

func TestStats_ReportsActiveAndClosedSessions(t *testing.T) {
	f := newFixture(t)

	first, err := f.reg.Register(&fakeTransport{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.rt.CountConnection()
	f.clk.Add(90 * time.Second)
	second, err := f.reg.Register(&fakeTransport{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.rt.CountConnection()
	f.clk.Add(30 * time.Second)
	if err := f.reg.Close(first, registry.ReasonClientRequest); err != nil {
		t.Fatalf("Close: %v", err)
	}
	f.clk.Add(time.Hour)

	got := f.rt.Stats()
	if got.ServerStartTime != "2024-03-05 09:04:03" {
		t.Fatalf("ServerStartTime=%q", got.ServerStartTime)
	}
	if got.CurrentTime != "2024-03-05 10:06:03" {
		t.Fatalf("CurrentTime=%q", got.CurrentTime)
	}
	if got.RunningTime != "0d 1h 2m 0s" {
		t.Fatalf("RunningTime=%q", got.RunningTime)
	}
	if got.CurrentConnections != 1 || got.TotalConnections != 2 {
		t.Fatalf("current=%d total=%d, want 1 and 2", got.CurrentConnections, got.TotalConnections)
	}
	if len(got.ConnectionIDs) != 1 || got.ConnectionIDs[0] != second {
		t.Fatalf("ConnectionIDs=%v, want [%s]", got.ConnectionIDs, second)
	}
	want := Connection{ConnectionID: second, StartTime: "2024-03-05 09:05:33", Duration: "0d 1h 0m 30s"}
	if len(got.Connections) != 1 || got.Connections[0] != want {
		t.Fatalf("Connections=%+v, want [%+v]", got.Connections, want)
	}
	wantOld := Connection{ConnectionID: first, StartTime: "2024-03-05 09:04:03", Duration: "0d 0h 2m 0s"}
	if len(got.OldConnections) != 1 || got.OldConnections[0] != wantOld {
		t.Fatalf("OldConnections=%+v, want [%+v]", got.OldConnections, wantOld)
	}
}

func TestStats_EmptyListsEncodeAsArrays(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	f.rt.RegisterRoutes(mux)
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, field := range []string{`"connectionIds":[]`, `"connections":[]`, `"oldConnections":[]`} {
		if !strings.Contains(body, field) {
			t.Fatalf("body missing %s: %s", field, body)
		}
	}
}

func TestIndex_CountsVisitors(t *testing.T) {
	f := newFixture(t)
	mux := http.NewServeMux()
	f.rt.RegisterRoutes(mux)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d, want 200", rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalVisitors != 3 {
		t.Fatalf("totalVisitors=%d, want 3", stats.TotalVisitors)
	}
	if got := f.m.Get(metrics.Visitors); got != 3 {
		t.Fatalf("visitors metric=%d, want 3", got)
	}
}

func TestWelcome(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Register(&fakeTransport{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.rt.CountConnection()
	f.rt.CountConnection()
	f.clk.Add(5 * time.Second)

	got := f.rt.Welcome()
	want := webrtcpeer.Welcome{
		Type:        "welcome",
		Message:     "RTC channel established with server",
		At:          "2024-03-05 09:04:08",
		Connections: "Current: 1 Total: 2 since: 2024-03-05 09:04:03",
	}
	if got != want {
		t.Fatalf("Welcome=%+v, want %+v", got, want)
	}
}

func TestStatsStream_PushesPeriodically(t *testing.T) {
	rt := New(Options{
		StreamInterval: 10 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	rt.CountConnection()

	mux := http.NewServeMux()
	rt.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stats/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for i := 0; i < 3; i++ {
		var stats Stats
		if err := conn.ReadJSON(&stats); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if stats.TotalConnections != 1 {
			t.Fatalf("totalConnections=%d, want 1", stats.TotalConnections)
		}
	}
}
