package main

import (
	"log/slog"
	"time"

	"github.com/richb-hanover/cutie/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will fail",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSessions <= 0 {
		logger.Warn("startup warning: MAX_SESSIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_sessions_unlimited_in_prod",
			"max_sessions", cfg.MaxSessions,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalRequestsPerSecond <= 0 && cfg.MaxSignalRequestsPerClient <= 0 {
		logger.Warn("startup warning: POST /signal is not rate limited while --mode=prod",
			"warning_code", "signal_rate_limit_disabled_in_prod",
			"mode", cfg.Mode,
		)
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 && cfg.WebRTCUDPPortRange == nil {
		logger.Warn("startup warning: NAT 1:1 IPs are set without a UDP port range; every ephemeral port must be forwarded",
			"warning_code", "nat_1to1_without_port_range",
			"webrtc_nat_1to1_ips", cfg.WebRTCNAT1To1IPs,
			"mode", cfg.Mode,
		)
	}

	if cfg.WebRTCSCTPMaxReceiveBufferBytes > 8<<20 { // 8MiB
		logger.Warn("startup warning: WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES is very large (increases per-session buffering)",
			"warning_code", "webrtc_sctp_max_receive_buffer_large",
			"webrtc_sctp_max_receive_buffer_bytes", cfg.WebRTCSCTPMaxReceiveBufferBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.SessionConnectTimeout > 2*time.Minute {
		logger.Warn("startup warning: SESSION_CONNECT_TIMEOUT is very large (half-open sessions stay registered longer)",
			"warning_code", "session_connect_timeout_large",
			"session_connect_timeout", cfg.SessionConnectTimeout,
			"mode", cfg.Mode,
		)
	}
}
