package hub

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/audit"
	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/model"
	"github.com/pearconnect/connect-server/internal/protocol"
)

// HandleFrame processes one inbound text frame from sessionID. Decoding and
// the pairing attempt check happen on the caller's goroutine; everything
// that touches core state is handed to the loop in arrival order.
func (h *Hub) HandleFrame(ctx context.Context, sessionID, remoteAddr string, frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		log.Debug().Err(err).Str("sessionId", sessionID).Msg("malformed frame")
		h.submit(func() {
			h.sendError(sessionID, apperrors.InvalidMessage(), "")
		})
		return
	}

	limited := false
	if req, ok := msg.Payload.(protocol.AuthRequest); ok && req.Token == "" && req.PairingCode != "" && h.limiter != nil {
		if allowed, _ := h.limiter.Allow(ctx, clientIP(remoteAddr)); !allowed {
			limited = true
		}
	}

	h.submit(func() {
		h.route(sessionID, msg, limited)
	})
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Hub) route(sessionID string, msg protocol.Message, limited bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("sessionId", sessionID).
				Str("type", string(msg.Type)).
				Interface("panic", r).
				Msg("message handler panicked")
			h.sendError(sessionID, apperrors.Internal("Internal error"), msg.RequestID)
		}
	}()

	s, ok := h.registry.Get(sessionID)
	if !ok {
		return
	}

	if msg.Type == protocol.TypeAuthRequest {
		h.handleAuth(s, msg.Payload.(protocol.AuthRequest), limited, msg.RequestID)
		return
	}

	if h.settings.RequireAuth && !s.Authenticated {
		h.sendError(sessionID, apperrors.NotAuthenticated(), msg.RequestID)
		return
	}

	h.registry.Touch(sessionID)
	perms := h.permissionsOf(s)

	switch msg.Type {
	case protocol.TypePlay, protocol.TypePause, protocol.TypeNext, protocol.TypePrevious:
		if h.gate(s, perms.Playback, "playback", msg) && h.throttle.Allow(sessionID, string(msg.Type)) {
			action := string(msg.Type)
			h.callHost("playbackControl", func() { h.host.OnPlaybackControl(action) })
		}

	case protocol.TypeSeek:
		seek := msg.Payload.(protocol.Seek)
		if h.gate(s, perms.Playback, "playback", msg) && h.throttle.Allow(sessionID, fmt.Sprintf("%s:%v", msg.Type, seek.Seconds)) {
			h.callHost("seek", func() { h.host.OnSeek(seek.Seconds) })
		}

	case protocol.TypeSetVolume:
		vol := msg.Payload.(protocol.Volume)
		if h.gate(s, perms.Volume, "volume", msg) && h.throttle.Allow(sessionID, fmt.Sprintf("%s:%d", msg.Type, vol.Level)) {
			h.callHost("volumeControl", func() { h.host.OnVolumeControl(vol.Level) })
		}

	case protocol.TypeSetPlaybackTarget:
		target := msg.Payload.(protocol.PlaybackTarget)
		if h.gate(s, perms.Playback, "playback", msg) && h.throttle.Allow(sessionID, fmt.Sprintf("%s:%s", msg.Type, target.Target)) {
			h.callHost("playbackTarget", func() { h.host.OnPlaybackTarget(target.Target) })
		}

	case protocol.TypePlayQueueItem:
		idx := msg.Payload.(protocol.QueueIndex)
		if h.gate(s, perms.Playback, "playback", msg) && h.throttle.Allow(sessionID, fmt.Sprintf("%s:%d", msg.Type, idx.Index)) {
			h.callHost("playQueueItem", func() { h.host.OnPlayQueueItem(idx.Index) })
		}

	case protocol.TypeGetQueue:
		h.send(sessionID, protocol.TypeQueueUpdate, h.queue, msg.RequestID)

	case protocol.TypeAddToQueue:
		item := msg.Payload.(protocol.AddToQueue).Item
		if h.gate(s, perms.Queue, "queue", msg) {
			if item.AddedBy == "" {
				item.AddedBy = s.DeviceName
			}
			h.callHost("addToQueue", func() { h.host.OnAddToQueue(item) })
		}

	case protocol.TypePing:
		h.send(sessionID, protocol.TypePong, nil, msg.RequestID)

	case protocol.TypeRTCOffer, protocol.TypeRTCAnswer, protocol.TypeRTCIceCandidate, protocol.TypeGetLyrics:
		h.relayFromClient(sessionID, msg)

	default:
		log.Debug().Str("sessionId", sessionID).Str("type", string(msg.Type)).Msg("ignoring message type")
	}
}

// gate replies with a permission error when allowed is false.
func (h *Hub) gate(s model.Session, allowed bool, capability string, msg protocol.Message) bool {
	if !allowed {
		log.Debug().
			Str("sessionId", s.ID).
			Str("type", string(msg.Type)).
			Str("capability", capability).
			Msg("permission denied")
		h.sendError(s.ID, apperrors.PermissionDenied(capability), msg.RequestID)
	}
	return allowed
}

// handleAuth covers the three AUTH_REQUEST shapes: a stored token, a pairing
// code, or an empty request asking for a code.
func (h *Hub) handleAuth(s model.Session, req protocol.AuthRequest, limited bool, requestID string) {
	switch {
	case req.Token != "":
		claims, err := h.authority.Tokens().Verify(req.Token)
		if err != nil {
			audit.Log(audit.Event{
				Type:      audit.EventTokenRejected,
				SessionID: s.ID,
				IP:        clientIP(s.RemoteAddr),
				Details:   map[string]any{"reason": string(apperrors.GetCode(err))},
			})
			h.authFailed(s.ID, err, requestID)
			return
		}

		device := claims.Device()
		if req.DeviceName != "" {
			device = req.Device()
		}
		audit.Log(audit.Event{
			Type:       audit.EventTokenAuth,
			SessionID:  s.ID,
			DeviceName: device.Name,
			IP:         clientIP(s.RemoteAddr),
			Details:    map[string]any{"originSessionId": claims.SessionOriginID},
		})
		h.authenticate(s.ID, device, req.Token, requestID)

	case req.PairingCode != "":
		if limited {
			audit.Log(audit.Event{
				Type:      audit.EventRateLimitExceed,
				SessionID: s.ID,
				IP:        clientIP(s.RemoteAddr),
			})
			h.authFailed(s.ID, apperrors.RateLimitExceeded(), requestID)
			return
		}

		device := req.Device()
		token, err := h.authority.Verify(req.PairingCode, s.ID, device)
		if err != nil {
			h.authFailed(s.ID, err, requestID)
			return
		}
		h.authenticate(s.ID, device, token, requestID)

	default:
		offer, err := h.authority.RequestPairing(s.ID)
		if err != nil {
			log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to create pairing code")
			h.sendError(s.ID, apperrors.Internal("Internal error"), requestID)
			return
		}
		h.send(s.ID, protocol.TypeAuthResponse, offer, requestID)
	}
}

func (h *Hub) authFailed(sessionID string, err error, requestID string) {
	reason := apperrors.TokenInvalid().Message
	if appErr, ok := apperrors.AsAppError(err); ok {
		reason = appErr.Message
	}
	h.send(sessionID, protocol.TypeAuthFailed, protocol.AuthFailed{Reason: reason}, requestID)
}

// authenticate promotes the session with a snapshot of the configured
// permissions and confirms with AUTH_SUCCESS. Earlier pushes are not
// replayed; the client catches up on the next push or with GET_QUEUE.
func (h *Hub) authenticate(sessionID string, device model.DeviceInfo, token, requestID string) {
	s, ok := h.registry.Promote(sessionID, device, h.settings.Permissions)
	if !ok {
		return
	}

	log.Info().
		Str("sessionId", s.ID).
		Str("deviceName", s.DeviceName).
		Str("deviceType", string(s.DeviceType)).
		Msg("client authenticated")

	h.send(sessionID, protocol.TypeAuthSuccess, protocol.AuthSuccess{Token: token}, requestID)
}
