package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	EnvConfigFile          = "CUTIE_CONFIG_FILE"
	EnvListenAddr          = "CUTIE_LISTEN_ADDR"
	EnvMode                = "CUTIE_MODE"
	EnvLogFormat           = "CUTIE_LOG_FORMAT"
	EnvLogLevel            = "CUTIE_LOG_LEVEL"
	EnvShutdownTimeout     = "CUTIE_SHUTDOWN_TIMEOUT"
	EnvICEGatheringTimeout = "CUTIE_ICE_GATHERING_TIMEOUT"

	EnvSessionConnectTimeout      = "CUTIE_SESSION_CONNECT_TIMEOUT"
	EnvMaxSessions                = "CUTIE_MAX_SESSIONS"
	EnvClosedSessionHistory       = "CUTIE_CLOSED_SESSION_HISTORY"
	EnvMaxSignalRequestsPerSecond = "CUTIE_MAX_SIGNAL_REQUESTS_PER_SECOND"
	EnvMaxSignalRequestsPerClient = "CUTIE_MAX_SIGNAL_REQUESTS_PER_CLIENT_PER_SECOND"
	EnvStatsStreamInterval        = "CUTIE_STATS_STREAM_INTERVAL"

	EnvWebRTCUDPPortMin                = "CUTIE_WEBRTC_UDP_PORT_MIN"
	EnvWebRTCUDPPortMax                = "CUTIE_WEBRTC_UDP_PORT_MAX"
	EnvWebRTCUDPListenIP               = "CUTIE_WEBRTC_UDP_LISTEN_IP"
	EnvWebRTCNAT1To1IPs                = "CUTIE_WEBRTC_NAT_1TO1_IPS"
	EnvWebRTCNAT1To1IPCandidateType    = "CUTIE_WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	EnvWebRTCSCTPMaxReceiveBufferBytes = "CUTIE_WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES"
)

const (
	flagConfig                          = "config"
	flagWebRTCUDPPortMin                = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax                = "webrtc-udp-port-max"
	flagWebRTCUDPListenIP               = "webrtc-udp-listen-ip"
	flagWebRTCNAT1To1IPs                = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType    = "webrtc-nat-1to1-ip-candidate-type"
	flagWebRTCSCTPMaxReceiveBufferBytes = "webrtc-sctp-max-receive-buffer-bytes"
)

const (
	DefaultListenAddr                 = "127.0.0.1:8080"
	DefaultMode                       = ModeDev
	DefaultShutdown                   = 15 * time.Second
	DefaultICEGatherTimeout           = 2 * time.Second
	DefaultSessionConnectTimeout      = 30 * time.Second
	DefaultClosedSessionHistory       = 10
	DefaultMaxSignalRequestsPerSecond = 20
	DefaultMaxSignalRequestsPerClient = 2
	DefaultStatsStreamInterval        = time.Second
	DefaultWebRTCUDPListenIP          = "0.0.0.0"

	// DefaultSTUNURL is used when no ICE servers are configured at all.
	DefaultSTUNURL = "stun:stun.l.google.com:19302"
)

// recommendedWebRTCUDPPortRangeSize is a conservative minimum: each session
// may hold several UDP ports while ICE runs.
const recommendedWebRTCUDPPortRangeSize = 100

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

// Config is the server configuration.
type Config struct {
	ConfigFile string

	ListenAddr          string
	Mode                Mode
	LogFormat           LogFormat
	LogLevel            slog.Level
	ShutdownTimeout     time.Duration
	ICEGatheringTimeout time.Duration

	// SessionConnectTimeout bounds how long a registered session may remain
	// unconnected before it is closed.
	SessionConnectTimeout time.Duration

	// MaxSessions caps concurrent sessions. <= 0 means unlimited.
	MaxSessions int
	// ClosedSessionHistory is the number of closed sessions kept for /stats.
	ClosedSessionHistory int
	// MaxSignalRequestsPerSecond limits POST /signal. <= 0 disables the limit.
	MaxSignalRequestsPerSecond int
	// MaxSignalRequestsPerClient limits POST /signal per remote IP.
	MaxSignalRequestsPerClient int
	StatsStreamInterval        time.Duration

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion
	// lets the OS pick.
	WebRTCUDPPortRange *UDPPortRange

	// WebRTCNAT1To1IPs are advertised for ICE when the server is behind NAT.
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType

	// WebRTCUDPListenIP restricts ICE to one local address. 0.0.0.0 keeps the
	// library default.
	WebRTCUDPListenIP net.IP

	// WebRTCSCTPMaxReceiveBufferBytes caps the SCTP receive buffer of one
	// association. 0 keeps the pion default.
	WebRTCSCTPMaxReceiveBufferBytes int

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. The server
// still starts but /readyz fails.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(envLookup func(string) (string, bool), args []string) (Config, error) {
	configFile := configFilePath(envLookup, args)
	lookup := envLookup
	if configFile != "" {
		file, err := LoadFile(configFile)
		if err != nil {
			return Config{}, err
		}
		lookup = layered(envLookup, file.ServerValues())
	}

	envMode, _ := lookup(EnvMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(EnvLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(EnvLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, EnvListenAddr, DefaultListenAddr)
	ice := readICESources(lookup)

	shutdownTimeout, err := envDurationOrDefault(lookup, EnvShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	iceGatherTimeout, err := envDurationOrDefault(lookup, EnvICEGatheringTimeout, DefaultICEGatherTimeout)
	if err != nil {
		return Config{}, err
	}
	sessionConnectTimeout, err := envDurationOrDefault(lookup, EnvSessionConnectTimeout, DefaultSessionConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	statsStreamInterval, err := envDurationOrDefault(lookup, EnvStatsStreamInterval, DefaultStatsStreamInterval)
	if err != nil {
		return Config{}, err
	}
	maxSessions, err := envIntOrDefault(lookup, EnvMaxSessions, 0)
	if err != nil {
		return Config{}, err
	}
	closedSessionHistory, err := envIntOrDefault(lookup, EnvClosedSessionHistory, DefaultClosedSessionHistory)
	if err != nil {
		return Config{}, err
	}
	maxSignalRequestsPerSecond, err := envIntOrDefault(lookup, EnvMaxSignalRequestsPerSecond, DefaultMaxSignalRequestsPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxSignalRequestsPerClient, err := envIntOrDefault(lookup, EnvMaxSignalRequestsPerClient, DefaultMaxSignalRequestsPerClient)
	if err != nil {
		return Config{}, err
	}
	sctpMaxReceiveBufferBytes, err := envIntOrDefault(lookup, EnvWebRTCSCTPMaxReceiveBufferBytes, 0)
	if err != nil {
		return Config{}, err
	}

	var webrtcUDPPortMin uint
	if raw, ok := lookup(EnvWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}
	var webrtcUDPPortMax uint
	if raw, ok := lookup(EnvWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}

	webrtcUDPListenIPStr := envOrDefault(lookup, EnvWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	webrtcNAT1To1IPsStr := envOrDefault(lookup, EnvWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, EnvWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))

	fs := flag.NewFlagSet("cutie-server", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&configFile, flagConfig, configFile, "YAML config file; env vars and flags override it (env "+EnvConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.DurationVar(&iceGatherTimeout, "ice-gather-timeout", iceGatherTimeout, "Max time to wait for ICE gathering before answering POST /signal (env "+EnvICEGatheringTimeout+")")
	fs.DurationVar(&sessionConnectTimeout, "session-connect-timeout", sessionConnectTimeout, "Close sessions that do not connect within this duration (env "+EnvSessionConnectTimeout+")")
	fs.IntVar(&maxSessions, "max-sessions", maxSessions, "Maximum concurrent sessions (0 = unlimited)")
	fs.IntVar(&closedSessionHistory, "closed-session-history", closedSessionHistory, "Number of closed sessions reported by /stats (env "+EnvClosedSessionHistory+")")
	fs.IntVar(&maxSignalRequestsPerSecond, "max-signal-requests-per-second", maxSignalRequestsPerSecond, "Max POST /signal requests per second (0 = unlimited)")
	fs.IntVar(&maxSignalRequestsPerClient, "max-signal-requests-per-client", maxSignalRequestsPerClient, "Max POST /signal requests per second from one IP (0 = unlimited)")
	fs.DurationVar(&statsStreamInterval, "stats-stream-interval", statsStreamInterval, "Push interval for /stats/ws (env "+EnvStatsStreamInterval+")")
	fs.StringVar(&ice.JSON, "ice-servers-json", ice.JSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&ice.STUNURLs, "stun-urls", ice.STUNURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&ice.TURNURLs, "turn-urls", ice.TURNURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&ice.TURNUsername, "turn-username", ice.TURNUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&ice.TURNCredential, "turn-credential", ice.TURNCredential, "TURN credential ("+envTurnCredential+")")

	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+EnvWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+EnvWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, flagWebRTCUDPListenIP, webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+EnvWebRTCUDPListenIP+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+EnvWebRTCNAT1To1IPs+")")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx (env "+EnvWebRTCNAT1To1IPCandidateType+")")
	fs.IntVar(&sctpMaxReceiveBufferBytes, flagWebRTCSCTPMaxReceiveBufferBytes, sctpMaxReceiveBufferBytes, "Max SCTP receive buffer size in bytes (0 = pion default; env "+EnvWebRTCSCTPMaxReceiveBufferBytes+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if iceGatherTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ice-gather-timeout must be > 0", EnvICEGatheringTimeout)
	}
	if sessionConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--session-connect-timeout must be > 0", EnvSessionConnectTimeout)
	}
	if closedSessionHistory <= 0 {
		return Config{}, fmt.Errorf("%s/--closed-session-history must be > 0", EnvClosedSessionHistory)
	}
	if statsStreamInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--stats-stream-interval must be > 0", EnvStatsStreamInterval)
	}
	sctpMaxReceiveBufferBytes, err = validateSCTPMaxReceiveBufferBytes(sctpMaxReceiveBufferBytes)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--%s: %w", EnvWebRTCSCTPMaxReceiveBufferBytes, flagWebRTCSCTPMaxReceiveBufferBytes, err)
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s/%s and %s/%s must be set together (or both unset)",
				EnvWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin,
				EnvWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax,
			)
		}
		min, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", EnvWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", EnvWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax, err)
		}
		if min > max {
			return Config{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		size := int(max) - int(min) + 1
		if size < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, recommendedWebRTCUDPPortRangeSize)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: min, Max: max}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q", EnvWebRTCUDPListenIP, "--"+flagWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	var webrtcNAT1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		ips, err := parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/%s %q: %w", EnvWebRTCNAT1To1IPs, "--"+flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, err)
		}
		webrtcNAT1To1IPs = ips
	}
	webrtcNAT1To1CandidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q: %w", EnvWebRTCNAT1To1IPCandidateType, "--"+flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, err)
	}

	cfg := Config{
		ConfigFile:                      configFile,
		ListenAddr:                      listenAddr,
		Mode:                            mode,
		LogFormat:                       logFormat,
		LogLevel:                        level,
		ShutdownTimeout:                 shutdownTimeout,
		ICEGatheringTimeout:             iceGatherTimeout,
		SessionConnectTimeout:           sessionConnectTimeout,
		MaxSessions:                     maxSessions,
		ClosedSessionHistory:            closedSessionHistory,
		MaxSignalRequestsPerSecond:      maxSignalRequestsPerSecond,
		MaxSignalRequestsPerClient:      maxSignalRequestsPerClient,
		StatsStreamInterval:             statsStreamInterval,
		WebRTCUDPPortRange:              webrtcUDPPortRange,
		WebRTCNAT1To1IPs:                webrtcNAT1To1IPs,
		WebRTCNAT1To1IPCandidateType:    webrtcNAT1To1CandidateType,
		WebRTCUDPListenIP:               webrtcUDPListenIP,
		WebRTCSCTPMaxReceiveBufferBytes: sctpMaxReceiveBufferBytes,
	}

	iceServers, err := ice.Servers()
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

// configFilePath finds --config in args before the full flag set is parsed,
// falling back to CUTIE_CONFIG_FILE.
func configFilePath(lookup func(string) (string, bool), args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, flagConfig+"="); ok {
			return v
		}
		if name == flagConfig && i+1 < len(args) {
			return args[i+1]
		}
	}
	return envOrDefault(lookup, EnvConfigFile, "")
}

// layered resolves keys from the environment first, then from file values.
func layered(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
