package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "CUTIE_ICE_SERVERS_JSON"

	envStunURLs       = "CUTIE_STUN_URLS"
	envTurnURLs       = "CUTIE_TURN_URLS"
	envTurnUsername   = "CUTIE_TURN_USERNAME"
	envTurnCredential = "CUTIE_TURN_CREDENTIAL"
)

// iceSources holds the raw ICE settings shared by the server and client
// loaders. JSON wins over the STUN/TURN shorthands.
type iceSources struct {
	JSON           string
	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string
}

func readICESources(lookup func(string) (string, bool)) iceSources {
	return iceSources{
		JSON:           envOrDefault(lookup, envICEServersJSON, ""),
		STUNURLs:       envOrDefault(lookup, envStunURLs, ""),
		TURNURLs:       envOrDefault(lookup, envTurnURLs, ""),
		TURNUsername:   envOrDefault(lookup, envTurnUsername, ""),
		TURNCredential: envOrDefault(lookup, envTurnCredential, ""),
	}
}

// Servers resolves the configured list. With nothing set it is a single
// public STUN server; an explicit "[]" disables ICE servers.
func (s iceSources) Servers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(s.JSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	if strings.TrimSpace(s.STUNURLs) == "" && strings.TrimSpace(s.TURNURLs) == "" {
		return []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}, nil
	}
	return s.shorthandServers()
}

func (s iceSources) shorthandServers() ([]webrtc.ICEServer, error) {
	var out []webrtc.ICEServer
	if urls := splitCommaSeparated(s.STUNURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		out = append(out, server)
	}

	if urls := splitCommaSeparated(s.TURNURLs); len(urls) > 0 {
		user := strings.TrimSpace(s.TURNUsername)
		cred := strings.TrimSpace(s.TURNCredential)
		if user == "" || cred == "" {
			return nil, fmt.Errorf("%s and %s are required with %s", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: urls, Username: user, Credential: cred}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// iceServerJSON is the RTCIceServer dictionary; urls may be one string or a
// list.
type iceServerJSON struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if json.Unmarshal(b, &one) == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("urls must be a string or a list of strings")
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses an RTCIceServer list.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var in []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(in))
	for i, entry := range in {
		server := webrtc.ICEServer{
			URLs:     trimURLs(entry.URLs),
			Username: strings.TrimSpace(entry.Username),
		}
		if strings.TrimSpace(entry.Credential) != "" {
			server.Credential = entry.Credential
		}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

func splitCommaSeparated(value string) []string {
	return trimURLs(strings.Split(value, ","))
}

func trimURLs(urls []string) []string {
	var out []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// checkICEServer parses every URL the way pion will and requires credentials
// for TURN.
func checkICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCreds := false
	for _, raw := range server.URLs {
		uri, err := stun.ParseURI(raw)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", raw, err)
		}
		if uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS {
			needsCreds = true
		}
	}
	if !needsCreds {
		return nil
	}

	if server.Username == "" {
		return errors.New("turn urls require username")
	}
	if cred, _ := server.Credential.(string); strings.TrimSpace(cred) == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}
