// Package hub ties the pairing authority, session registry, router,
// broadcaster and signaling relay to one event loop. Every piece of core
// state is touched only from the goroutine running Hub.Run; transports, the
// host bridge and management callers submit work to it.
package hub

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/model"
	"github.com/pearconnect/connect-server/internal/protocol"
	"github.com/pearconnect/connect-server/internal/service"
)

const (
	Version = "1.0.0"

	defaultLoopBuffer = 256
)

// Settings are the runtime-tunable options the core reads.
type Settings struct {
	ServiceName    string
	RequireAuth    bool
	AutoSync       bool
	MaxConnections int
	Permissions    model.Permissions
}

type Options struct {
	Settings Settings
	// SigningSecret signs pairing tokens; it must be non-empty.
	SigningSecret string
	Host          Host
	// Limiter bounds pairing-code attempts per remote IP. Nil disables it.
	Limiter service.AttemptLimiter
	Clock   func() time.Time
	// LoopBuffer is the capacity of the work queue feeding the loop.
	LoopBuffer int
}

type Hub struct {
	ops       chan func()
	done      chan struct{}
	hostCalls chan func()

	settings  Settings
	authority *service.Authority
	registry  *service.Registry
	throttle  *service.CommandThrottle
	host      Host
	limiter   service.AttemptLimiter
	now       func() time.Time

	queue json.RawMessage
}

func New(opts Options) (*Hub, error) {
	if opts.SigningSecret == "" {
		return nil, apperrors.Internal("signing secret is required")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	host := opts.Host
	if host == nil {
		host = HostFuncs{}
	}
	buffer := opts.LoopBuffer
	if buffer <= 0 {
		buffer = defaultLoopBuffer
	}

	tokens := service.NewTokenIssuer(opts.SigningSecret, service.DefaultTokenTTL).WithClock(now)
	authority, err := service.NewAuthorityWithClock(tokens, opts.Settings.ServiceName, now)
	if err != nil {
		return nil, err
	}

	return &Hub{
		ops:       make(chan func(), buffer),
		done:      make(chan struct{}),
		hostCalls: make(chan func(), buffer),
		settings:  opts.Settings,
		authority: authority,
		registry:  service.NewRegistryWithClock(opts.Settings.MaxConnections, authority, now),
		throttle:  service.NewCommandThrottle(service.DefaultThrottleWindow, now),
		host:      host,
		limiter:   opts.Limiter,
		now:       now,
		queue:     json.RawMessage("[]"),
	}, nil
}

// Run drives the event loop until ctx is cancelled, then closes every
// remaining transport.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("hub started")
	defer close(h.done)

	go h.runHost(ctx)

	for {
		select {
		case fn := <-h.ops:
			fn()
		case <-ctx.Done():
			h.registry.Each(func(s model.Session, conn service.Conn) bool {
				_ = conn.Close()
				return true
			})
			log.Info().Msg("hub stopped")
			return
		}
	}
}

// runHost invokes host callbacks in the order the loop queued them. It runs
// beside the loop so a callback may call back into the hub.
func (h *Hub) runHost(ctx context.Context) {
	for {
		select {
		case fn := <-h.hostCalls:
			h.invokeHost(fn)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) invokeHost(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("host callback panicked")
		}
	}()
	fn()
}

// callHost queues a host callback. A host that falls a full buffer behind
// loses the command rather than stalling the loop.
func (h *Hub) callHost(name string, fn func()) {
	select {
	case h.hostCalls <- fn:
	default:
		log.Warn().Str("callback", name).Msg("host callback queue full, dropping command")
	}
}

// submit queues fn for the loop without waiting for it to run. It reports
// false once the loop has stopped.
func (h *Hub) submit(fn func()) bool {
	select {
	case h.ops <- fn:
		return true
	case <-h.done:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (h *Hub) do(fn func()) bool {
	finished := make(chan struct{})
	if !h.submit(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

// Connect registers a freshly accepted transport and greets it with
// DEVICE_INFO. It fails with TOO_MANY_CONNECTIONS when the server is full.
func (h *Hub) Connect(conn service.Conn, remoteAddr string) (string, error) {
	var (
		id  string
		err error
	)
	if !h.do(func() {
		var s model.Session
		s, err = h.registry.Register(conn, remoteAddr)
		if err != nil {
			return
		}
		id = s.ID
		h.sendTo(conn, protocol.TypeDeviceInfo, h.deviceInfo(), "")
	}) {
		return "", apperrors.TransportClosed()
	}
	if err != nil {
		log.Warn().Err(err).Str("remoteAddr", remoteAddr).Msg("connection rejected")
		return "", err
	}

	log.Info().Str("sessionId", id).Str("remoteAddr", remoteAddr).Msg("client connected")
	return id, nil
}

// Disconnected tears down a session after its transport closed.
func (h *Hub) Disconnected(sessionID string) {
	h.submit(func() {
		if h.registry.Remove(sessionID) {
			h.throttle.Forget(sessionID)
			log.Info().Str("sessionId", sessionID).Msg("client disconnected")
		}
	})
}

func (h *Hub) deviceInfo() protocol.DeviceInfo {
	return protocol.DeviceInfo{
		Name:         h.settings.ServiceName,
		Version:      Version,
		Platform:     runtime.GOOS,
		RequiresAuth: h.settings.RequireAuth,
	}
}

// Info is the DEVICE_INFO payload as it would be sent right now.
func (h *Hub) Info() protocol.DeviceInfo {
	var d protocol.DeviceInfo
	h.do(func() {
		d = h.deviceInfo()
	})
	return d
}

// UpdateSettings applies new options. Sessions that already authenticated
// keep the permissions they were given.
func (h *Hub) UpdateSettings(s Settings) {
	h.submit(func() {
		h.settings = s
		h.registry.SetMaxConnections(s.MaxConnections)
		h.authority.SetServiceName(s.ServiceName)
		log.Info().
			Bool("requireAuth", s.RequireAuth).
			Bool("autoSync", s.AutoSync).
			Int("maxConnections", s.MaxConnections).
			Msg("settings updated")
	})
}

// RotateSecret replaces the signing secret. Every previously issued token
// stops verifying; live sessions are not affected.
func (h *Hub) RotateSecret(secret string) {
	tokens := service.NewTokenIssuer(secret, service.DefaultTokenTTL).WithClock(h.now)
	h.submit(func() {
		h.authority.SetTokenIssuer(tokens)
		log.Warn().Msg("signing secret rotated, previously issued tokens are invalid")
	})
}

// Sweep expires stale pairing codes. It is driven by the periodic sweep job.
func (h *Hub) Sweep(now time.Time) int {
	var n int
	h.do(func() {
		n = h.authority.Sweep(now)
	})
	return n
}

func (h *Hub) ConnectedClients() []model.Session {
	var out []model.Session
	h.do(func() {
		out = h.registry.List()
	})
	return out
}

func (h *Hub) PendingPairings() []model.PendingPairing {
	var out []model.PendingPairing
	h.do(func() {
		out = h.authority.Pending()
	})
	return out
}

// CurrentCode is the advertised pairing code the host UI displays.
func (h *Hub) CurrentCode() model.PendingPairing {
	var p model.PendingPairing
	h.do(func() {
		p = h.authority.Current()
	})
	return p
}

// ConfirmPairing approves a pending pairing from the operator side. The
// session is promoted and receives AUTH_SUCCESS with its new token.
func (h *Hub) ConfirmPairing(sessionID string, device model.DeviceInfo) (string, error) {
	var (
		token string
		err   error
	)
	if !h.do(func() {
		if _, ok := h.registry.Get(sessionID); !ok {
			err = apperrors.NotFound("Session")
			return
		}
		token, err = h.authority.Confirm(sessionID, device)
		if err != nil {
			return
		}
		h.authenticate(sessionID, device, token, "")
	}) {
		return "", apperrors.TransportClosed()
	}
	return token, err
}

// DisconnectClient force-closes a session's transport.
func (h *Hub) DisconnectClient(sessionID string) error {
	var err error
	if !h.do(func() {
		err = h.registry.Disconnect(sessionID)
	}) {
		return apperrors.TransportClosed()
	}
	return err
}

// DisconnectAll closes every transport, e.g. when the feature is disabled.
func (h *Hub) DisconnectAll() {
	h.do(func() {
		h.registry.Each(func(s model.Session, conn service.Conn) bool {
			_ = conn.Close()
			return true
		})
	})
}

type Status struct {
	Connections   int  `json:"connections"`
	Authenticated int  `json:"authenticated"`
	Pending       int  `json:"pendingPairings"`
	RequireAuth   bool `json:"requireAuth"`
	AutoSync      bool `json:"autoSync"`
}

func (h *Hub) Status() Status {
	var st Status
	h.do(func() {
		st.Connections = h.registry.Len()
		h.registry.Each(func(s model.Session, _ service.Conn) bool {
			if s.Authenticated {
				st.Authenticated++
			}
			return true
		})
		st.Pending = len(h.authority.Pending())
		st.RequireAuth = h.settings.RequireAuth
		st.AutoSync = h.settings.AutoSync
	})
	return st
}

// sendTo encodes and enqueues one frame. A full client buffer drops the
// frame; the loop never waits on a client.
func (h *Hub) sendTo(conn service.Conn, t protocol.Type, payload any, requestID string) {
	frame, err := protocol.Encode(t, payload, requestID, h.now())
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to encode frame")
		return
	}
	h.enqueue(conn, t, frame)
}

func (h *Hub) enqueue(conn service.Conn, t protocol.Type, frame []byte) {
	if !conn.Send(frame) {
		log.Warn().Str("type", string(t)).Msg("client send buffer full, dropping frame")
	}
}

func (h *Hub) send(sessionID string, t protocol.Type, payload any, requestID string) {
	conn, ok := h.registry.Conn(sessionID)
	if !ok {
		return
	}
	h.sendTo(conn, t, payload, requestID)
}

func (h *Hub) sendError(sessionID string, err *apperrors.AppError, requestID string) {
	h.send(sessionID, protocol.TypeError, protocol.ErrorPayload{Error: err.Message}, requestID)
}

// permissionsOf returns what a session may do. Unauthenticated sessions only
// get here when authentication is not required, and then act with the
// current configured permissions.
func (h *Hub) permissionsOf(s model.Session) model.Permissions {
	if s.Authenticated {
		return s.Permissions
	}
	return h.settings.Permissions
}

// eligible reports whether a session receives pushes and relayed messages.
func (h *Hub) eligible(s model.Session) bool {
	return s.Authenticated || !h.settings.RequireAuth
}
