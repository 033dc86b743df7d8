package hub

import (
	"github.com/pion/webrtc/v4"

	"github.com/pearconnect/connect-server/internal/model"
)

// Host receives decoded client commands. Callbacks run one at a time on a
// goroutine beside the hub loop, in the order commands arrived, so they may
// call any Hub method. A host that falls far behind loses commands.
type Host interface {
	OnPlaybackControl(action string)
	OnVolumeControl(level int)
	OnSeek(seconds float64)
	OnPlayQueueItem(index int)
	OnAddToQueue(item model.QueueItem)
	OnPlaybackTarget(target model.PlaybackTarget)
	OnRTCOffer(sessionID string, offer webrtc.SessionDescription)
	OnRTCAnswer(sessionID string, answer webrtc.SessionDescription)
	OnRTCIceCandidate(sessionID string, candidate webrtc.ICECandidateInit)
	OnGetLyrics(sessionID string)
}

// HostFuncs adapts optional functions to Host. Nil fields are skipped.
type HostFuncs struct {
	PlaybackControl func(action string)
	VolumeControl   func(level int)
	Seek            func(seconds float64)
	PlayQueueItem   func(index int)
	AddToQueue      func(item model.QueueItem)
	PlaybackTarget  func(target model.PlaybackTarget)
	RTCOffer        func(sessionID string, offer webrtc.SessionDescription)
	RTCAnswer       func(sessionID string, answer webrtc.SessionDescription)
	RTCIceCandidate func(sessionID string, candidate webrtc.ICECandidateInit)
	GetLyrics       func(sessionID string)
}

var _ Host = HostFuncs{}

func (f HostFuncs) OnPlaybackControl(action string) {
	if f.PlaybackControl != nil {
		f.PlaybackControl(action)
	}
}

func (f HostFuncs) OnVolumeControl(level int) {
	if f.VolumeControl != nil {
		f.VolumeControl(level)
	}
}

func (f HostFuncs) OnSeek(seconds float64) {
	if f.Seek != nil {
		f.Seek(seconds)
	}
}

func (f HostFuncs) OnPlayQueueItem(index int) {
	if f.PlayQueueItem != nil {
		f.PlayQueueItem(index)
	}
}

func (f HostFuncs) OnAddToQueue(item model.QueueItem) {
	if f.AddToQueue != nil {
		f.AddToQueue(item)
	}
}

func (f HostFuncs) OnPlaybackTarget(target model.PlaybackTarget) {
	if f.PlaybackTarget != nil {
		f.PlaybackTarget(target)
	}
}

func (f HostFuncs) OnRTCOffer(sessionID string, offer webrtc.SessionDescription) {
	if f.RTCOffer != nil {
		f.RTCOffer(sessionID, offer)
	}
}

func (f HostFuncs) OnRTCAnswer(sessionID string, answer webrtc.SessionDescription) {
	if f.RTCAnswer != nil {
		f.RTCAnswer(sessionID, answer)
	}
}

func (f HostFuncs) OnRTCIceCandidate(sessionID string, candidate webrtc.ICECandidateInit) {
	if f.RTCIceCandidate != nil {
		f.RTCIceCandidate(sessionID, candidate)
	}
}

func (f HostFuncs) OnGetLyrics(sessionID string) {
	if f.GetLyrics != nil {
		f.GetLyrics(sessionID)
	}
}
