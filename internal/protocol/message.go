// Package protocol defines the JSON frames exchanged with companion clients.
//
// Every frame is an envelope {type, payload?, timestamp, requestId?}. Decode
// turns an inbound envelope into a Message whose Payload has one concrete Go
// type per message type, so handlers never see an untyped payload.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/pearconnect/connect-server/internal/model"
)

type Type string

const (
	TypeAuthRequest  Type = "AUTH_REQUEST"
	TypeAuthResponse Type = "AUTH_RESPONSE"
	TypeAuthSuccess  Type = "AUTH_SUCCESS"
	TypeAuthFailed   Type = "AUTH_FAILED"

	TypePlay              Type = "PLAY"
	TypePause             Type = "PAUSE"
	TypeNext              Type = "NEXT"
	TypePrevious          Type = "PREVIOUS"
	TypeSeek              Type = "SEEK"
	TypeSetVolume         Type = "SET_VOLUME"
	TypeSetPlaybackTarget Type = "SET_PLAYBACK_TARGET"

	TypeStateUpdate Type = "STATE_UPDATE"

	TypeGetQueue      Type = "GET_QUEUE"
	TypeQueueUpdate   Type = "QUEUE_UPDATE"
	TypeAddToQueue    Type = "ADD_TO_QUEUE"
	TypePlayQueueItem Type = "PLAY_QUEUE_ITEM"

	TypeDeviceInfo Type = "DEVICE_INFO"
	TypePing       Type = "PING"
	TypePong       Type = "PONG"

	TypeError Type = "ERROR"

	TypeRTCOffer        Type = "RTC_OFFER"
	TypeRTCAnswer       Type = "RTC_ANSWER"
	TypeRTCIceCandidate Type = "RTC_ICE_CANDIDATE"

	TypeLyricsUpdate Type = "LYRICS_UPDATE"
	TypeGetLyrics    Type = "GET_LYRICS"
)

// IsPlaybackControl reports whether t is one of the transport buttons.
func (t Type) IsPlaybackControl() bool {
	switch t {
	case TypePlay, TypePause, TypeNext, TypePrevious:
		return true
	}
	return false
}

// Envelope is the wire form of every frame.
type Envelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// Message is a decoded inbound frame. Payload holds the concrete type for
// Type (see decodePayload) or nil for types without a payload and for types
// the server does not accept from clients.
type Message struct {
	Type      Type
	Payload   any
	Timestamp int64
	RequestID string
}

type AuthRequest struct {
	Token       string `json:"token,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`
}

func (r AuthRequest) Device() model.DeviceInfo {
	return model.DeviceInfo{Name: r.DeviceName, Type: model.ParseDeviceType(r.DeviceType)}
}

type AuthSuccess struct {
	Token string `json:"token"`
}

type AuthFailed struct {
	Reason string `json:"reason"`
}

type DeviceInfo struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Platform     string `json:"platform"`
	RequiresAuth bool   `json:"requiresAuth"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Seek carries an absolute position in seconds.
type Seek struct {
	Seconds float64
}

// Volume is 0-100.
type Volume struct {
	Level int
}

// QueueIndex is an absolute index into the last broadcast queue.
type QueueIndex struct {
	Index int
}

type PlaybackTarget struct {
	Target model.PlaybackTarget
}

type AddToQueue struct {
	Item model.QueueItem
}

type SessionDescription struct {
	webrtc.SessionDescription
}

type IceCandidate struct {
	webrtc.ICECandidateInit
}

// Decode parses one inbound frame. Any error means the frame is malformed:
// bad JSON, a missing type, or a payload that does not fit its type.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Message{}, fmt.Errorf("decode envelope: missing type")
	}

	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}

	return Message{
		Type:      env.Type,
		Payload:   payload,
		Timestamp: env.Timestamp,
		RequestID: env.RequestID,
	}, nil
}

func decodePayload(t Type, raw json.RawMessage) (any, error) {
	switch t {
	case TypeAuthRequest:
		var req AuthRequest
		if isEmpty(raw) {
			return req, nil
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return req, nil

	case TypePlay, TypePause, TypeNext, TypePrevious, TypeGetQueue, TypePing, TypeGetLyrics:
		if !isNullary(raw) {
			return nil, fmt.Errorf("unexpected payload")
		}
		return nil, nil

	case TypeSeek:
		var seconds float64
		if err := unmarshalRequired(raw, &seconds); err != nil {
			return nil, err
		}
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return nil, fmt.Errorf("seek position %v out of range", seconds)
		}
		// Rewinding near the start of a track yields a negative target.
		return Seek{Seconds: max(seconds, 0)}, nil

	case TypeSetVolume:
		var level int
		if err := unmarshalRequired(raw, &level); err != nil {
			return nil, err
		}
		if level < 0 || level > 100 {
			return nil, fmt.Errorf("volume %d out of range", level)
		}
		return Volume{Level: level}, nil

	case TypeSetPlaybackTarget:
		var target model.PlaybackTarget
		if err := unmarshalRequired(raw, &target); err != nil {
			return nil, err
		}
		if !target.Valid() {
			return nil, fmt.Errorf("unknown playback target %q", target)
		}
		return PlaybackTarget{Target: target}, nil

	case TypeAddToQueue:
		var item model.QueueItem
		if err := unmarshalRequired(raw, &item); err != nil {
			return nil, err
		}
		if item.VideoID == "" {
			return nil, fmt.Errorf("queue item without videoId")
		}
		return AddToQueue{Item: item}, nil

	case TypePlayQueueItem:
		var index int
		if err := unmarshalRequired(raw, &index); err != nil {
			return nil, err
		}
		if index < 0 {
			return nil, fmt.Errorf("queue index %d out of range", index)
		}
		return QueueIndex{Index: index}, nil

	case TypeRTCOffer, TypeRTCAnswer:
		var desc webrtc.SessionDescription
		if err := unmarshalRequired(raw, &desc); err != nil {
			return nil, err
		}
		if desc.SDP == "" {
			return nil, fmt.Errorf("empty sdp")
		}
		if t == TypeRTCOffer && desc.Type != webrtc.SDPTypeOffer {
			return nil, fmt.Errorf("sdp type %s in offer", desc.Type)
		}
		if t == TypeRTCAnswer && desc.Type != webrtc.SDPTypeAnswer && desc.Type != webrtc.SDPTypePranswer {
			return nil, fmt.Errorf("sdp type %s in answer", desc.Type)
		}
		return SessionDescription{desc}, nil

	case TypeRTCIceCandidate:
		var candidate webrtc.ICECandidateInit
		if err := unmarshalRequired(raw, &candidate); err != nil {
			return nil, err
		}
		return IceCandidate{candidate}, nil

	default:
		// Server-originated and unknown types carry nothing the router reads.
		return nil, nil
	}
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isNullary(raw json.RawMessage) bool {
	if isEmpty(raw) {
		return true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	return len(obj) == 0
}

func unmarshalRequired(raw json.RawMessage, v any) error {
	if isEmpty(raw) {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(raw, v)
}

// Encode builds an outbound frame. A json.RawMessage payload is embedded
// as-is so a cached snapshot is serialized once and shared by all recipients.
func Encode(t Type, payload any, requestID string, at time.Time) ([]byte, error) {
	env := Envelope{
		Type:      t,
		Timestamp: at.UnixMilli(),
		RequestID: requestID,
	}

	if payload != nil {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode %s payload: %w", t, err)
			}
			raw = data
		}
		env.Payload = raw
	}

	return json.Marshal(env)
}

// MarshalPayload serializes a payload once for reuse across many frames.
func MarshalPayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
