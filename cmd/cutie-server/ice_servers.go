package main

import (
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/config"
)

// peerConnectionICEServers returns the ICE servers for server-side
// PeerConnections. pion rejects TURN entries without credentials, so those
// are dropped here; clients still see them through /webrtc/ice.
func peerConnectionICEServers(cfg config.Config) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, server := range cfg.ICEServers {
		if !iceServerHasTURNURL(server) {
			out = append(out, server)
			continue
		}
		if strings.TrimSpace(server.Username) == "" {
			continue
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			continue
		}
		out = append(out, server)
	}
	return out
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
