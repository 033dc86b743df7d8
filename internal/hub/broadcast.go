package hub

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/model"
	"github.com/pearconnect/connect-server/internal/protocol"
	"github.com/pearconnect/connect-server/internal/service"
)

// PushState fans a playback snapshot out to every eligible session. It does
// nothing while auto-sync is off. Duplicate suppression is the host's job.
func (h *Hub) PushState(state model.PlaybackState) {
	raw, err := protocol.MarshalPayload(state)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode playback state")
		return
	}

	h.submit(func() {
		if !h.settings.AutoSync {
			return
		}
		h.broadcast(protocol.TypeStateUpdate, raw, func(model.Session) bool { return true })
	})
}

// PushQueue replaces the cached queue and sends it to sessions allowed to see
// the queue. GET_QUEUE answers from the same cached bytes.
func (h *Hub) PushQueue(queue []model.QueueItem) {
	if queue == nil {
		queue = []model.QueueItem{}
	}
	raw, err := protocol.MarshalPayload(queue)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode queue")
		return
	}

	h.submit(func() {
		h.queue = raw
		h.broadcast(protocol.TypeQueueUpdate, raw, func(s model.Session) bool {
			return h.permissionsOf(s).Queue
		})
	})
}

// PushLyrics sends lyrics for the current track to every eligible session.
func (h *Hub) PushLyrics(lyrics model.Lyrics) {
	raw, err := protocol.MarshalPayload(lyrics)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode lyrics")
		return
	}

	h.submit(func() {
		h.broadcast(protocol.TypeLyricsUpdate, raw, func(model.Session) bool { return true })
	})
}

// broadcast encodes the frame once and enqueues it for each eligible session
// accepted by filter. Sessions that join later only see the next push.
func (h *Hub) broadcast(t protocol.Type, payload json.RawMessage, filter func(model.Session) bool) {
	frame, err := protocol.Encode(t, payload, "", h.now())
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to encode broadcast")
		return
	}

	sent := 0
	h.registry.Each(func(s model.Session, conn service.Conn) bool {
		if h.eligible(s) && filter(s) {
			h.enqueue(conn, t, frame)
			sent++
		}
		return true
	})

	log.Debug().Str("type", string(t)).Int("recipients", sent).Msg("broadcast")
}
