package audit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventPairingRequest  EventType = "pairing_request"
	EventPairingSuccess  EventType = "pairing_success"
	EventPairingFailure  EventType = "pairing_failure"
	EventPairingConfirm  EventType = "pairing_confirm"
	EventTokenAuth       EventType = "token_auth"
	EventTokenRejected   EventType = "token_rejected"
	EventCodeRotate      EventType = "code_rotate"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
	EventClientKick      EventType = "client_kick"
	EventControlAuthFail EventType = "control_auth_failure"
)

type Event struct {
	Type       EventType
	SessionID  string
	DeviceName string
	IP         string
	UserAgent  string
	Details    map[string]any
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("sessionId", event.SessionID).Logger()
	}
	if event.DeviceName != "" {
		logger = logger.With().Str("deviceName", event.DeviceName).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = r.RemoteAddr
	event.UserAgent = r.UserAgent()
	Log(event)
}
