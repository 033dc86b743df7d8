package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pion/webrtc/v4"

	"github.com/pearconnect/connect-server/internal/config"
	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/httputil"
	"github.com/pearconnect/connect-server/internal/model"
)

// HostCore is the part of the hub an out-of-process host drives.
type HostCore interface {
	PushState(state model.PlaybackState)
	PushQueue(queue []model.QueueItem)
	PushLyrics(lyrics model.Lyrics)
	SendAnswer(sessionID string, answer webrtc.SessionDescription)
	SendOffer(sessionID string, offer webrtc.SessionDescription)
	SendIceCandidate(sessionID string, candidate webrtc.ICECandidateInit)
	SendLyrics(sessionID string, lyrics model.Lyrics)
}

// HostHandler lets a host push player state and answer clients over HTTP.
// Every call is fire-and-forget on the hub and answers 202.
type HostHandler struct {
	core   HostCore
	events http.Handler
}

func NewHostHandler(core HostCore, events http.Handler) *HostHandler {
	return &HostHandler{core: core, events: events}
}

func (h *HostHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Post("/state", h.PushState)
		r.Post("/queue", h.PushQueue)
		r.Post("/lyrics", h.PushLyrics)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/rtc/offer", h.SendOffer)
			r.Post("/rtc/answer", h.SendAnswer)
			r.Post("/rtc/ice", h.SendIceCandidate)
			r.Post("/lyrics", h.SendLyrics)
		})
	})

	if h.events != nil {
		r.Get("/events", h.events.ServeHTTP)
	}

	return r
}

func accepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *HostHandler) PushState(w http.ResponseWriter, r *http.Request) {
	var state model.PlaybackState
	if err := decodeBody(w, r, config.HostPushMaxBody, &state); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if state.PlaybackTarget != "" && !state.PlaybackTarget.Valid() {
		httputil.WriteError(w, apperrors.InvalidInput("playbackTarget", "must be laptop, phone or both"))
		return
	}

	h.core.PushState(state)
	accepted(w)
}

func (h *HostHandler) PushQueue(w http.ResponseWriter, r *http.Request) {
	var queue []model.QueueItem
	if err := decodeBody(w, r, config.HostPushMaxBody, &queue); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.core.PushQueue(queue)
	accepted(w)
}

func (h *HostHandler) PushLyrics(w http.ResponseWriter, r *http.Request) {
	var lyrics model.Lyrics
	if err := decodeBody(w, r, config.HostPushMaxBody, &lyrics); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.core.PushLyrics(lyrics)
	accepted(w)
}

func (h *HostHandler) SendOffer(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := decodeSDP(w, r, &offer); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.core.SendOffer(chi.URLParam(r, "id"), offer)
	accepted(w)
}

func (h *HostHandler) SendAnswer(w http.ResponseWriter, r *http.Request) {
	var answer webrtc.SessionDescription
	if err := decodeSDP(w, r, &answer); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.core.SendAnswer(chi.URLParam(r, "id"), answer)
	accepted(w)
}

func (h *HostHandler) SendIceCandidate(w http.ResponseWriter, r *http.Request) {
	var candidate webrtc.ICECandidateInit
	if err := decodeBody(w, r, config.ControlMaxBody, &candidate); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if candidate.Candidate == "" {
		httputil.WriteError(w, apperrors.InvalidInput("candidate", "required"))
		return
	}

	h.core.SendIceCandidate(chi.URLParam(r, "id"), candidate)
	accepted(w)
}

func (h *HostHandler) SendLyrics(w http.ResponseWriter, r *http.Request) {
	var lyrics model.Lyrics
	if err := decodeBody(w, r, config.HostPushMaxBody, &lyrics); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.core.SendLyrics(chi.URLParam(r, "id"), lyrics)
	accepted(w)
}

func decodeSDP(w http.ResponseWriter, r *http.Request, sd *webrtc.SessionDescription) error {
	if err := decodeBody(w, r, config.ControlMaxBody, sd); err != nil {
		return err
	}
	if sd.SDP == "" {
		return apperrors.InvalidInput("sdp", "required")
	}
	return nil
}
