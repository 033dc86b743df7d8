package sse

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/model"
)

// HostTopic is the topic out-of-process hosts subscribe to.
const HostTopic = "host"

const (
	EventPlaybackControl = "playback_control"
	EventVolume          = "volume"
	EventSeek            = "seek"
	EventPlayQueueItem   = "play_queue_item"
	EventAddToQueue      = "add_to_queue"
	EventPlaybackTarget  = "playback_target"
	EventRTCOffer        = "rtc_offer"
	EventRTCAnswer       = "rtc_answer"
	EventRTCIceCandidate = "rtc_ice_candidate"
	EventGetLyrics       = "get_lyrics"
)

const hostEventBuffer = 256

// HostPublisher turns hub callbacks into events on HostTopic. Callbacks run
// on the hub loop, so they only enqueue; Run does the publishing.
type HostPublisher struct {
	broker *Broker
	topic  string
	events chan Event
}

func NewHostPublisher(broker *Broker) *HostPublisher {
	return &HostPublisher{
		broker: broker,
		topic:  HostTopic,
		events: make(chan Event, hostEventBuffer),
	}
}

// Run publishes queued events until ctx is done.
func (p *HostPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.events:
			if err := p.broker.Publish(ctx, p.topic, event); err != nil {
				log.Error().Err(err).Str("eventType", event.Type).Msg("failed to publish host event")
			}
		}
	}
}

func (p *HostPublisher) emit(eventType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("failed to encode host event")
		return
	}

	select {
	case p.events <- Event{Type: eventType, Data: raw}:
	default:
		log.Warn().Str("eventType", eventType).Msg("host event queue full, dropping event")
	}
}

func (p *HostPublisher) OnPlaybackControl(action string) {
	p.emit(EventPlaybackControl, map[string]string{"action": action})
}

func (p *HostPublisher) OnVolumeControl(level int) {
	p.emit(EventVolume, map[string]int{"level": level})
}

func (p *HostPublisher) OnSeek(seconds float64) {
	p.emit(EventSeek, map[string]float64{"seconds": seconds})
}

func (p *HostPublisher) OnPlayQueueItem(index int) {
	p.emit(EventPlayQueueItem, map[string]int{"index": index})
}

func (p *HostPublisher) OnAddToQueue(item model.QueueItem) {
	p.emit(EventAddToQueue, map[string]model.QueueItem{"item": item})
}

func (p *HostPublisher) OnPlaybackTarget(target model.PlaybackTarget) {
	p.emit(EventPlaybackTarget, map[string]model.PlaybackTarget{"target": target})
}

func (p *HostPublisher) OnRTCOffer(sessionID string, offer webrtc.SessionDescription) {
	p.emit(EventRTCOffer, map[string]any{"sessionId": sessionID, "offer": offer})
}

func (p *HostPublisher) OnRTCAnswer(sessionID string, answer webrtc.SessionDescription) {
	p.emit(EventRTCAnswer, map[string]any{"sessionId": sessionID, "answer": answer})
}

func (p *HostPublisher) OnRTCIceCandidate(sessionID string, candidate webrtc.ICECandidateInit) {
	p.emit(EventRTCIceCandidate, map[string]any{"sessionId": sessionID, "candidate": candidate})
}

func (p *HostPublisher) OnGetLyrics(sessionID string) {
	p.emit(EventGetLyrics, map[string]string{"sessionId": sessionID})
}
