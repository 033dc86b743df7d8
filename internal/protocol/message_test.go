package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pearconnect/connect-server/internal/model"
)

func TestDecode(t *testing.T) {
	t.Run("rejects invalid json", func(t *testing.T) {
		_, err := Decode([]byte("not json"))
		assert.Error(t, err)
	})

	t.Run("rejects missing type", func(t *testing.T) {
		_, err := Decode([]byte(`{"timestamp": 1}`))
		assert.Error(t, err)
	})

	t.Run("keeps request id and timestamp", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"PING","timestamp":1700000000000,"requestId":"r-1"}`))
		require.NoError(t, err)
		assert.Equal(t, TypePing, msg.Type)
		assert.Equal(t, "r-1", msg.RequestID)
		assert.Equal(t, int64(1700000000000), msg.Timestamp)
		assert.Nil(t, msg.Payload)
	})

	t.Run("passes unknown types through without payload", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"SOMETHING_NEW","payload":{"x":1}}`))
		require.NoError(t, err)
		assert.Equal(t, Type("SOMETHING_NEW"), msg.Type)
		assert.Nil(t, msg.Payload)
	})
}

func TestDecodeAuthRequest(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want AuthRequest
	}{
		{"no payload", `{"type":"AUTH_REQUEST"}`, AuthRequest{}},
		{"empty object", `{"type":"AUTH_REQUEST","payload":{}}`, AuthRequest{}},
		{"token", `{"type":"AUTH_REQUEST","payload":{"token":"abc"}}`, AuthRequest{Token: "abc"}},
		{
			"pairing code",
			`{"type":"AUTH_REQUEST","payload":{"pairingCode":"123456","deviceName":"Test","deviceType":"mobile"}}`,
			AuthRequest{PairingCode: "123456", DeviceName: "Test", DeviceType: "mobile"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, msg.Payload)
		})
	}

	t.Run("rejects wrong field types", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"AUTH_REQUEST","payload":{"token":42}}`))
		assert.Error(t, err)
	})

	t.Run("normalizes unknown device type", func(t *testing.T) {
		req := AuthRequest{DeviceName: "TV", DeviceType: "television"}
		assert.Equal(t, model.DeviceTypeOther, req.Device().Type)
	})
}

func TestDecodeControlPayloads(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    any
		wantErr bool
	}{
		{"play without payload", `{"type":"PLAY"}`, nil, false},
		{"pause with empty object", `{"type":"PAUSE","payload":{}}`, nil, false},
		{"next with unexpected payload", `{"type":"NEXT","payload":5}`, nil, true},
		{"seek", `{"type":"SEEK","payload":42.5}`, Seek{Seconds: 42.5}, false},
		{"seek negative clamps to start", `{"type":"SEEK","payload":-4.5}`, Seek{Seconds: 0}, false},
		{"seek missing", `{"type":"SEEK"}`, nil, true},
		{"seek string", `{"type":"SEEK","payload":"10"}`, nil, true},
		{"volume", `{"type":"SET_VOLUME","payload":50}`, Volume{Level: 50}, false},
		{"volume zero", `{"type":"SET_VOLUME","payload":0}`, Volume{Level: 0}, false},
		{"volume too high", `{"type":"SET_VOLUME","payload":101}`, nil, true},
		{"volume fractional", `{"type":"SET_VOLUME","payload":50.5}`, nil, true},
		{"queue index", `{"type":"PLAY_QUEUE_ITEM","payload":3}`, QueueIndex{Index: 3}, false},
		{"queue index negative", `{"type":"PLAY_QUEUE_ITEM","payload":-1}`, nil, true},
		{"playback target", `{"type":"SET_PLAYBACK_TARGET","payload":"phone"}`, PlaybackTarget{Target: model.PlaybackTargetPhone}, false},
		{"playback target unknown", `{"type":"SET_PLAYBACK_TARGET","payload":"tv"}`, nil, true},
		{
			"add to queue",
			`{"type":"ADD_TO_QUEUE","payload":{"videoId":"v1","title":"T","artist":"A","duration":200}}`,
			AddToQueue{Item: model.QueueItem{VideoID: "v1", Title: "T", Artist: "A", Duration: 200}},
			false,
		},
		{"add to queue without video", `{"type":"ADD_TO_QUEUE","payload":{"title":"T"}}`, nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode([]byte(tc.raw))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, msg.Payload)
		})
	}
}

func TestDecodeSignaling(t *testing.T) {
	t.Run("offer", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"RTC_OFFER","payload":{"type":"offer","sdp":"v=0"}}`))
		require.NoError(t, err)
		desc, ok := msg.Payload.(SessionDescription)
		require.True(t, ok)
		assert.Equal(t, webrtc.SDPTypeOffer, desc.Type)
		assert.Equal(t, "v=0", desc.SDP)
	})

	t.Run("offer carrying an answer is rejected", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"RTC_OFFER","payload":{"type":"answer","sdp":"v=0"}}`))
		assert.Error(t, err)
	})

	t.Run("answer without sdp is rejected", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"RTC_ANSWER","payload":{"type":"answer"}}`))
		assert.Error(t, err)
	})

	t.Run("ice candidate", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"RTC_ICE_CANDIDATE","payload":{"candidate":"candidate:1 1 udp 1 10.0.0.2 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`))
		require.NoError(t, err)
		c, ok := msg.Payload.(IceCandidate)
		require.True(t, ok)
		assert.Contains(t, c.Candidate, "typ host")
		require.NotNil(t, c.SDPMid)
		assert.Equal(t, "0", *c.SDPMid)
	})

	t.Run("ice candidate missing payload", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"RTC_ICE_CANDIDATE"}`))
		assert.Error(t, err)
	})
}

func TestEncode(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	t.Run("encodes struct payload", func(t *testing.T) {
		data, err := Encode(TypeAuthSuccess, AuthSuccess{Token: "tok"}, "", at)
		require.NoError(t, err)

		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, TypeAuthSuccess, env.Type)
		assert.Equal(t, int64(1700000000123), env.Timestamp)
		assert.JSONEq(t, `{"token":"tok"}`, string(env.Payload))
	})

	t.Run("omits empty payload and request id", func(t *testing.T) {
		data, err := Encode(TypePong, nil, "", at)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"PONG","timestamp":1700000000123}`, string(data))
	})

	t.Run("echoes request id", func(t *testing.T) {
		data, err := Encode(TypePong, nil, "req-9", at)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"requestId":"req-9"`)
	})

	t.Run("embeds raw payload verbatim", func(t *testing.T) {
		raw, err := MarshalPayload([]model.QueueItem{{VideoID: "a", Title: "A", IsPlaying: true}})
		require.NoError(t, err)

		data, err := Encode(TypeQueueUpdate, raw, "", at)
		require.NoError(t, err)

		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, string(raw), string(env.Payload))
	})
}
