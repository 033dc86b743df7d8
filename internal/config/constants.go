package config

import "time"

// HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 10 * time.Second
)

// Control API request body limits. Host pushes carry a whole queue; SDP
// bodies and admin requests stay small.
const (
	HostPushMaxBody = 1 << 20
	ControlMaxBody  = 64 << 10
)

// WebSocket keepalive
const (
	WSWriteWait      = 10 * time.Second
	WSPongWait       = 60 * time.Second
	WSPingPeriod     = 30 * time.Second
	WSMaxMessageSize = 64 * 1024
	WSSendBuffer     = 64
)

// Listener port fallback
const PortAttempts = 10

// Background job intervals
const SweepJobInterval = 30 * time.Second

// Pairing brute-force guard
const (
	DefaultPairingAttemptsPerMin = 10
	PairingAttemptWindow         = time.Minute
)

// How long a config file must be quiet before a change is applied.
const ConfigReloadDebounce = 250 * time.Millisecond
