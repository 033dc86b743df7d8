package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pearconnect/connect-server/internal/config"
	"github.com/pearconnect/connect-server/internal/model"
)

type recordingCore struct {
	mu         sync.Mutex
	states     []model.PlaybackState
	queues     [][]model.QueueItem
	lyrics     []model.Lyrics
	answers    map[string]webrtc.SessionDescription
	offers     map[string]webrtc.SessionDescription
	candidates map[string]webrtc.ICECandidateInit
	sentLyrics map[string]model.Lyrics
}

func newRecordingCore() *recordingCore {
	return &recordingCore{
		answers:    map[string]webrtc.SessionDescription{},
		offers:     map[string]webrtc.SessionDescription{},
		candidates: map[string]webrtc.ICECandidateInit{},
		sentLyrics: map[string]model.Lyrics{},
	}
}

func (c *recordingCore) PushState(s model.PlaybackState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
}

func (c *recordingCore) PushQueue(q []model.QueueItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, q)
}

func (c *recordingCore) PushLyrics(l model.Lyrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lyrics = append(c.lyrics, l)
}

func (c *recordingCore) SendAnswer(id string, a webrtc.SessionDescription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers[id] = a
}

func (c *recordingCore) SendOffer(id string, o webrtc.SessionDescription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers[id] = o
}

func (c *recordingCore) SendIceCandidate(id string, cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates[id] = cand
}

func (c *recordingCore) SendLyrics(id string, l model.Lyrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentLyrics[id] = l
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHostHandler(t *testing.T) {
	t.Run("pushes playback state", func(t *testing.T) {
		core := newRecordingCore()
		routes := NewHostHandler(core, nil).Routes()

		rec := post(t, routes, "/state", `{"isPlaying":true,"currentTime":12.5,"duration":200,"volume":70,"queuePosition":1,"queueLength":3,"trackInfo":{"title":"Song","artist":"Band","videoId":"abc","duration":200}}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, core.states, 1)
		assert.True(t, core.states[0].IsPlaying)
		assert.Equal(t, "abc", core.states[0].TrackInfo.VideoID)
	})

	t.Run("rejects unknown playback target", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/state", `{"playbackTarget":"toaster"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, core.states)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/state", `{"isPlaying":true,"bogus":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("pushes queue", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/queue", `[{"videoId":"a","title":"A","artist":"X","duration":1,"isPlaying":true}]`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, core.queues, 1)
		assert.Equal(t, "a", core.queues[0][0].VideoID)
	})

	t.Run("pushes lyrics", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/lyrics", `{"videoId":"a","synced":false,"plain":"la la"}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, core.lyrics, 1)
		assert.Equal(t, "la la", core.lyrics[0].Plain)
	})

	t.Run("forwards answer to the named session", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/sessions/s1/rtc/answer", `{"type":"answer","sdp":"v=0"}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, webrtc.SDPTypeAnswer, core.answers["s1"].Type)
		assert.Equal(t, "v=0", core.answers["s1"].SDP)
	})

	t.Run("forwards offer to the named session", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/sessions/s1/rtc/offer", `{"type":"offer","sdp":"v=0"}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, webrtc.SDPTypeOffer, core.offers["s1"].Type)
	})

	t.Run("answer without sdp is rejected", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/sessions/s1/rtc/answer", `{"type":"answer"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, core.answers)
	})

	t.Run("forwards ice candidate", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/sessions/s2/rtc/ice", `{"candidate":"candidate:1 1 udp 1 192.168.1.2 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		got := core.candidates["s2"]
		assert.Contains(t, got.Candidate, "typ host")
		require.NotNil(t, got.SDPMid)
		assert.Equal(t, "0", *got.SDPMid)
	})

	t.Run("sends lyrics to one session", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/sessions/s3/lyrics", `{"videoId":"a","synced":true,"lines":[{"time":1.5,"text":"hi"}]}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Len(t, core.sentLyrics["s3"].Lines, 1)
	})

	t.Run("oversize sdp is rejected", func(t *testing.T) {
		core := newRecordingCore()
		body := `{"type":"answer","sdp":"` + strings.Repeat("a", config.ControlMaxBody) + `"}`
		rec := post(t, NewHostHandler(core, nil).Routes(), "/sessions/s1/rtc/answer", body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
		assert.Empty(t, core.answers)
	})

	t.Run("oversize body without content length is cut off", func(t *testing.T) {
		core := newRecordingCore()
		body := `{"type":"answer","sdp":"` + strings.Repeat("a", config.ControlMaxBody) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/sessions/s1/rtc/answer", strings.NewReader(body))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		NewHostHandler(core, nil).Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, core.answers)
	})

	t.Run("queue push allows a large queue", func(t *testing.T) {
		core := newRecordingCore()
		items := make([]string, 500)
		for i := range items {
			items[i] = `{"videoId":"v","title":"` + strings.Repeat("t", 100) + `","artist":"A","duration":1,"isPlaying":false}`
		}
		rec := post(t, NewHostHandler(core, nil).Routes(), "/queue", "["+strings.Join(items, ",")+"]")
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, core.queues, 1)
		assert.Len(t, core.queues[0], 500)
	})

	t.Run("malformed json is a bad request", func(t *testing.T) {
		core := newRecordingCore()
		rec := post(t, NewHostHandler(core, nil).Routes(), "/queue", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
	})
}
