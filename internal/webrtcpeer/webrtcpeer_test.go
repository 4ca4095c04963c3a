package webrtcpeer

import (
	"bytes"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/config"
)

func TestNewAPI_Defaults(t *testing.T) {
	api, err := NewAPI(config.Config{}, nil)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	_ = pc.Close()
}

func TestNewAPI_WithNetworkSettings(t *testing.T) {
	_, err := NewAPI(config.Config{
		WebRTCUDPPortRange:              &config.UDPPortRange{Min: 50000, Max: 50100},
		WebRTCNAT1To1IPs:                []string{"203.0.113.10"},
		WebRTCNAT1To1IPCandidateType:    config.NAT1To1CandidateTypeSrflx,
		WebRTCUDPListenIP:               net.ParseIP("127.0.0.1"),
		WebRTCSCTPMaxReceiveBufferBytes: 1 << 20,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
}

func TestApplyNetworkSettings_InvalidCandidateType(t *testing.T) {
	se := webrtc.SettingEngine{}
	err := ApplyNetworkSettings(&se, config.Config{
		WebRTCNAT1To1IPs:             []string{"203.0.113.10"},
		WebRTCNAT1To1IPCandidateType: "relay",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestApplyNetworkSettings_InvalidPortRange(t *testing.T) {
	se := webrtc.SettingEngine{}
	err := ApplyNetworkSettings(&se, config.Config{
		WebRTCUDPPortRange: &config.UDPPortRange{Min: 6000, Max: 5000},
	})
	if err == nil || !strings.Contains(err.Error(), "port range") {
		t.Fatalf("err=%v, want port range error", err)
	}
}

func TestLoggerFactory_ScopesAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := NewLoggerFactory(logger).NewLogger("ice")
	l.Infof("gathered %d candidates", 3)
	l.Trace("too chatty")
	l.Warn("slow")

	out := buf.String()
	if !strings.Contains(out, `msg="gathered 3 candidates"`) {
		t.Fatalf("missing formatted info line:\n%s", out)
	}
	if !strings.Contains(out, "scope=ice") {
		t.Fatalf("missing scope attribute:\n%s", out)
	}
	if strings.Contains(out, "too chatty") {
		t.Fatalf("trace line logged at debug level:\n%s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("missing warn line:\n%s", out)
	}
}
