package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	EnvClientServerURL         = "CUTIE_SERVER_URL"
	EnvClientDuration          = "CUTIE_CLIENT_DURATION"
	EnvClientInterval          = "CUTIE_PROBE_INTERVAL"
	EnvClientLossTimeout       = "CUTIE_LOSS_TIMEOUT"
	EnvClientLossCheckInterval = "CUTIE_LOSS_CHECK_INTERVAL"
	EnvClientGatherTimeout     = "CUTIE_CLIENT_GATHER_TIMEOUT"
	EnvClientHistorySize       = "CUTIE_HISTORY_SIZE"
	EnvClientRecordDB          = "CUTIE_RECORD_DB"
)

const (
	DefaultClientServerURL         = "http://127.0.0.1:8080"
	DefaultClientDuration          = 2 * time.Hour
	DefaultClientInterval          = 100 * time.Millisecond
	DefaultClientLossTimeout       = 2000 * time.Millisecond
	DefaultClientLossCheckInterval = 250 * time.Millisecond
	DefaultClientGatherTimeout     = 15 * time.Second
	DefaultClientHistorySize       = 1000
)

// ClientConfig configures the measurement client.
type ClientConfig struct {
	ConfigFile string

	// ServerURL is the base URL of the server; the signaling endpoint is
	// ServerURL + "/signal".
	ServerURL string

	// Duration stops a collection run automatically. 0 runs until interrupted.
	Duration          time.Duration
	Interval          time.Duration
	LossTimeout       time.Duration
	LossCheckInterval time.Duration
	GatherTimeout     time.Duration
	HistorySize       int

	// RecordDB is the SQLite file that probe records are written to. Empty
	// disables recording.
	RecordDB string
	// ReplayRun replays a recorded run from RecordDB instead of connecting.
	ReplayRun string
	// ListRuns prints the runs stored in RecordDB and exits.
	ListRuns bool

	LogFormat LogFormat
	LogLevel  slog.Level

	ICEServers []webrtc.ICEServer
}

// SignalURL returns the signaling endpoint.
func (c ClientConfig) SignalURL() string {
	return strings.TrimRight(c.ServerURL, "/") + "/signal"
}

func LoadClient(args []string) (ClientConfig, error) {
	return loadClient(os.LookupEnv, args)
}

func loadClient(envLookup func(string) (string, bool), args []string) (ClientConfig, error) {
	configFile := configFilePath(envLookup, args)
	lookup := envLookup
	if configFile != "" {
		file, err := LoadFile(configFile)
		if err != nil {
			return ClientConfig{}, err
		}
		lookup = layered(envLookup, file.ClientValues())
	}

	serverURL := envOrDefault(lookup, EnvClientServerURL, DefaultClientServerURL)
	recordDB := envOrDefault(lookup, EnvClientRecordDB, "")
	logFormatStr := envOrDefault(lookup, EnvLogFormat, string(LogFormatText))
	logLevelStr := envOrDefault(lookup, EnvLogLevel, "info")
	ice := readICESources(lookup)

	duration, err := envDurationOrDefault(lookup, EnvClientDuration, DefaultClientDuration)
	if err != nil {
		return ClientConfig{}, err
	}
	interval, err := envDurationOrDefault(lookup, EnvClientInterval, DefaultClientInterval)
	if err != nil {
		return ClientConfig{}, err
	}
	lossTimeout, err := envDurationOrDefault(lookup, EnvClientLossTimeout, DefaultClientLossTimeout)
	if err != nil {
		return ClientConfig{}, err
	}
	lossCheckInterval, err := envDurationOrDefault(lookup, EnvClientLossCheckInterval, DefaultClientLossCheckInterval)
	if err != nil {
		return ClientConfig{}, err
	}
	gatherTimeout, err := envDurationOrDefault(lookup, EnvClientGatherTimeout, DefaultClientGatherTimeout)
	if err != nil {
		return ClientConfig{}, err
	}
	historySize, err := envIntOrDefault(lookup, EnvClientHistorySize, DefaultClientHistorySize)
	if err != nil {
		return ClientConfig{}, err
	}

	fs := flag.NewFlagSet("cutie-client", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		replayRun string
		listRuns  bool
	)

	fs.StringVar(&configFile, flagConfig, configFile, "YAML config file; env vars and flags override it (env "+EnvConfigFile+")")
	fs.StringVar(&serverURL, "server", serverURL, "Server base URL (env "+EnvClientServerURL+")")
	fs.DurationVar(&duration, "duration", duration, "Stop automatically after this long (0 = run until interrupted)")
	fs.DurationVar(&interval, "interval", interval, "Probe send interval (env "+EnvClientInterval+")")
	fs.DurationVar(&lossTimeout, "loss-timeout", lossTimeout, "Declare a probe lost after this long without a reply (env "+EnvClientLossTimeout+")")
	fs.DurationVar(&lossCheckInterval, "loss-check-interval", lossCheckInterval, "Loss scan interval (env "+EnvClientLossCheckInterval+")")
	fs.DurationVar(&gatherTimeout, "gather-timeout", gatherTimeout, "Max time to wait for ICE gathering before sending the offer")
	fs.IntVar(&historySize, "history-size", historySize, "Number of samples kept in history (env "+EnvClientHistorySize+")")
	fs.StringVar(&recordDB, "record-db", recordDB, "SQLite file to record probe round trips into (env "+EnvClientRecordDB+")")
	fs.StringVar(&replayRun, "replay", "", "Replay a recorded run id from --record-db instead of connecting")
	fs.BoolVar(&listRuns, "list-runs", false, "List recorded runs in --record-db and exit")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn, error")
	fs.StringVar(&ice.JSON, "ice-servers-json", ice.JSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&ice.STUNURLs, "stun-urls", ice.STUNURLs, "comma-separated STUN URLs ("+envStunURLs+")")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	u, err := url.Parse(serverURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ClientConfig{}, fmt.Errorf("invalid %s/--server %q (expected http(s)://host[:port])", EnvClientServerURL, serverURL)
	}
	if duration < 0 {
		return ClientConfig{}, fmt.Errorf("%s/--duration must be >= 0", EnvClientDuration)
	}
	if interval <= 0 {
		return ClientConfig{}, fmt.Errorf("%s/--interval must be > 0", EnvClientInterval)
	}
	if lossTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("%s/--loss-timeout must be > 0", EnvClientLossTimeout)
	}
	if lossCheckInterval <= 0 {
		return ClientConfig{}, fmt.Errorf("%s/--loss-check-interval must be > 0", EnvClientLossCheckInterval)
	}
	if gatherTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("%s/--gather-timeout must be > 0", EnvClientGatherTimeout)
	}
	if historySize <= 0 {
		return ClientConfig{}, fmt.Errorf("%s/--history-size must be > 0", EnvClientHistorySize)
	}
	if (replayRun != "" || listRuns) && recordDB == "" {
		return ClientConfig{}, fmt.Errorf("--replay and --list-runs require --record-db")
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return ClientConfig{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return ClientConfig{}, err
	}
	iceServers, err := ice.Servers()
	if err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		ConfigFile:        configFile,
		ServerURL:         serverURL,
		Duration:          duration,
		Interval:          interval,
		LossTimeout:       lossTimeout,
		LossCheckInterval: lossCheckInterval,
		GatherTimeout:     gatherTimeout,
		HistorySize:       historySize,
		RecordDB:          recordDB,
		ReplayRun:         replayRun,
		ListRuns:          listRuns,
		LogFormat:         logFormat,
		LogLevel:          level,
		ICEServers:        iceServers,
	}, nil
}

// NewClientLogger writes to stderr so stdout stays free for the status line.
func NewClientLogger(cfg ClientConfig) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	switch cfg.LogFormat {
	case LogFormatText:
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
}
