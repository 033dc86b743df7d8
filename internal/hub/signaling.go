package hub

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/model"
	"github.com/pearconnect/connect-server/internal/protocol"
)

// relayFromClient hands negotiation messages and lyrics requests to the
// host. SDP and ICE bodies are passed through untouched.
func (h *Hub) relayFromClient(sessionID string, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeRTCOffer:
		offer := msg.Payload.(protocol.SessionDescription).SessionDescription
		h.callHost("rtcOffer", func() { h.host.OnRTCOffer(sessionID, offer) })
	case protocol.TypeRTCAnswer:
		answer := msg.Payload.(protocol.SessionDescription).SessionDescription
		h.callHost("rtcAnswer", func() { h.host.OnRTCAnswer(sessionID, answer) })
	case protocol.TypeRTCIceCandidate:
		candidate := msg.Payload.(protocol.IceCandidate).ICECandidateInit
		h.callHost("rtcIceCandidate", func() { h.host.OnRTCIceCandidate(sessionID, candidate) })
	case protocol.TypeGetLyrics:
		h.callHost("getLyrics", func() { h.host.OnGetLyrics(sessionID) })
	}
}

// SendAnswer forwards the host's SDP answer to one session. Unknown or
// ineligible sessions are dropped silently.
func (h *Hub) SendAnswer(sessionID string, answer webrtc.SessionDescription) {
	h.relayToClient(sessionID, protocol.TypeRTCAnswer, answer)
}

// SendOffer lets the host start a renegotiation with a session.
func (h *Hub) SendOffer(sessionID string, offer webrtc.SessionDescription) {
	h.relayToClient(sessionID, protocol.TypeRTCOffer, offer)
}

func (h *Hub) SendIceCandidate(sessionID string, candidate webrtc.ICECandidateInit) {
	h.relayToClient(sessionID, protocol.TypeRTCIceCandidate, candidate)
}

// SendLyrics answers one session's GET_LYRICS.
func (h *Hub) SendLyrics(sessionID string, lyrics model.Lyrics) {
	h.relayToClient(sessionID, protocol.TypeLyricsUpdate, lyrics)
}

func (h *Hub) relayToClient(sessionID string, t protocol.Type, payload any) {
	h.submit(func() {
		s, ok := h.registry.Get(sessionID)
		if !ok || !h.eligible(s) {
			log.Debug().Str("sessionId", sessionID).Str("type", string(t)).Msg("dropping relay to unknown session")
			return
		}
		h.send(sessionID, t, payload, "")
	})
}
