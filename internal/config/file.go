package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML config file. Every value sits below env vars and
// flags; zero values mean "not set".
type FileConfig struct {
	Server ServerFile `yaml:"server,omitempty"`
	Client ClientFile `yaml:"client,omitempty"`
}

type ICEServerFile struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

type ServerFile struct {
	ListenAddr                 string          `yaml:"listen_addr,omitempty"`
	Mode                       string          `yaml:"mode,omitempty"`
	LogFormat                  string          `yaml:"log_format,omitempty"`
	LogLevel                   string          `yaml:"log_level,omitempty"`
	ShutdownTimeout            time.Duration   `yaml:"shutdown_timeout,omitempty"`
	ICEGatheringTimeout        time.Duration   `yaml:"ice_gathering_timeout,omitempty"`
	SessionConnectTimeout      time.Duration   `yaml:"session_connect_timeout,omitempty"`
	MaxSessions                int             `yaml:"max_sessions,omitempty"`
	ClosedSessionHistory       int             `yaml:"closed_session_history,omitempty"`
	MaxSignalRequestsPerSecond int             `yaml:"max_signal_requests_per_second,omitempty"`
	MaxSignalRequestsPerClient int             `yaml:"max_signal_requests_per_client,omitempty"`
	StatsStreamInterval        time.Duration   `yaml:"stats_stream_interval,omitempty"`
	ICEServers                 []ICEServerFile `yaml:"ice_servers,omitempty"`
	WebRTC                     WebRTCFile      `yaml:"webrtc,omitempty"`
}

type WebRTCFile struct {
	UDPPortMin                int      `yaml:"udp_port_min,omitempty"`
	UDPPortMax                int      `yaml:"udp_port_max,omitempty"`
	UDPListenIP               string   `yaml:"udp_listen_ip,omitempty"`
	NAT1To1IPs                []string `yaml:"nat_1to1_ips,omitempty"`
	NAT1To1IPCandidateType    string   `yaml:"nat_1to1_ip_candidate_type,omitempty"`
	SCTPMaxReceiveBufferBytes int      `yaml:"sctp_max_receive_buffer_bytes,omitempty"`
}

type ClientFile struct {
	ServerURL         string          `yaml:"server_url,omitempty"`
	Duration          time.Duration   `yaml:"duration,omitempty"`
	Interval          time.Duration   `yaml:"interval,omitempty"`
	LossTimeout       time.Duration   `yaml:"loss_timeout,omitempty"`
	LossCheckInterval time.Duration   `yaml:"loss_check_interval,omitempty"`
	GatherTimeout     time.Duration   `yaml:"gather_timeout,omitempty"`
	HistorySize       int             `yaml:"history_size,omitempty"`
	RecordDB          string          `yaml:"record_db,omitempty"`
	LogFormat         string          `yaml:"log_format,omitempty"`
	LogLevel          string          `yaml:"log_level,omitempty"`
	ICEServers        []ICEServerFile `yaml:"ice_servers,omitempty"`
}

// LoadFile reads a YAML config file. Unknown keys are rejected.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// ServerValues maps the server section onto the env var names used by Load.
func (f *FileConfig) ServerValues() map[string]string {
	s := f.Server
	out := map[string]string{}
	putString(out, EnvListenAddr, s.ListenAddr)
	putString(out, EnvMode, s.Mode)
	putString(out, EnvLogFormat, s.LogFormat)
	putString(out, EnvLogLevel, s.LogLevel)
	putDuration(out, EnvShutdownTimeout, s.ShutdownTimeout)
	putDuration(out, EnvICEGatheringTimeout, s.ICEGatheringTimeout)
	putDuration(out, EnvSessionConnectTimeout, s.SessionConnectTimeout)
	putInt(out, EnvMaxSessions, s.MaxSessions)
	putInt(out, EnvClosedSessionHistory, s.ClosedSessionHistory)
	putInt(out, EnvMaxSignalRequestsPerSecond, s.MaxSignalRequestsPerSecond)
	putInt(out, EnvMaxSignalRequestsPerClient, s.MaxSignalRequestsPerClient)
	putDuration(out, EnvStatsStreamInterval, s.StatsStreamInterval)
	putInt(out, EnvWebRTCUDPPortMin, s.WebRTC.UDPPortMin)
	putInt(out, EnvWebRTCUDPPortMax, s.WebRTC.UDPPortMax)
	putString(out, EnvWebRTCUDPListenIP, s.WebRTC.UDPListenIP)
	putString(out, EnvWebRTCNAT1To1IPs, strings.Join(s.WebRTC.NAT1To1IPs, ","))
	putString(out, EnvWebRTCNAT1To1IPCandidateType, s.WebRTC.NAT1To1IPCandidateType)
	putInt(out, EnvWebRTCSCTPMaxReceiveBufferBytes, s.WebRTC.SCTPMaxReceiveBufferBytes)
	putICEServers(out, s.ICEServers)
	return out
}

// ClientValues maps the client section onto the env var names used by
// LoadClient.
func (f *FileConfig) ClientValues() map[string]string {
	c := f.Client
	out := map[string]string{}
	putString(out, EnvClientServerURL, c.ServerURL)
	putDuration(out, EnvClientDuration, c.Duration)
	putDuration(out, EnvClientInterval, c.Interval)
	putDuration(out, EnvClientLossTimeout, c.LossTimeout)
	putDuration(out, EnvClientLossCheckInterval, c.LossCheckInterval)
	putDuration(out, EnvClientGatherTimeout, c.GatherTimeout)
	putInt(out, EnvClientHistorySize, c.HistorySize)
	putString(out, EnvClientRecordDB, c.RecordDB)
	putString(out, EnvLogFormat, c.LogFormat)
	putString(out, EnvLogLevel, c.LogLevel)
	putICEServers(out, c.ICEServers)
	return out
}

func putString(m map[string]string, key, v string) {
	if strings.TrimSpace(v) != "" {
		m[key] = v
	}
}

func putInt(m map[string]string, key string, v int) {
	if v != 0 {
		m[key] = strconv.Itoa(v)
	}
}

func putDuration(m map[string]string, key string, v time.Duration) {
	if v != 0 {
		m[key] = v.String()
	}
}

// putICEServers hands the list to the JSON parser so file and env input share
// one validation path. A present but empty list is kept as "[]".
func putICEServers(m map[string]string, servers []ICEServerFile) {
	if servers == nil {
		return
	}
	raw, err := json.Marshal(servers)
	if err != nil {
		return
	}
	m[envICEServersJSON] = string(raw)
}
