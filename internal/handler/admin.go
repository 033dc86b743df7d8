package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/audit"
	"github.com/pearconnect/connect-server/internal/config"
	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/hub"
	"github.com/pearconnect/connect-server/internal/httputil"
	"github.com/pearconnect/connect-server/internal/model"
)

// AdminCore is the management surface of the hub.
type AdminCore interface {
	ConnectedClients() []model.Session
	PendingPairings() []model.PendingPairing
	CurrentCode() model.PendingPairing
	ConfirmPairing(sessionID string, device model.DeviceInfo) (string, error)
	DisconnectClient(sessionID string) error
	Status() hub.Status
}

type AdminHandler struct {
	core AdminCore
}

func NewAdminHandler(core AdminCore) *AdminHandler {
	return &AdminHandler{core: core}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)

	r.Get("/clients", h.ListClients)
	r.Delete("/clients/{id}", h.DisconnectClient)

	r.Get("/pairings", h.ListPairings)
	r.Post("/pairings/{id}/confirm", h.ConfirmPairing)

	return r
}

func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Status())
}

func (h *AdminHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients := h.core.ConnectedClients()
	if clients == nil {
		clients = []model.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": clients,
		"total": len(clients),
	})
}

func (h *AdminHandler) DisconnectClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.core.DisconnectClient(id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventClientKick,
		SessionID: id,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListPairings shows per-connection codes and the advertised code. Codes are
// returned in full; the control API is an operator surface.
func (h *AdminHandler) ListPairings(w http.ResponseWriter, r *http.Request) {
	pending := h.core.PendingPairings()
	if pending == nil {
		pending = []model.PendingPairing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current": h.core.CurrentCode(),
		"pending": pending,
	})
}

func (h *AdminHandler) ConfirmPairing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceName string `json:"deviceName"`
		DeviceType string `json:"deviceType"`
	}
	if err := decodeBody(w, r, config.ControlMaxBody, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.DeviceName == "" {
		httputil.WriteError(w, apperrors.InvalidInput("deviceName", "required"))
		return
	}

	id := chi.URLParam(r, "id")
	device := model.DeviceInfo{Name: req.DeviceName, Type: model.ParseDeviceType(req.DeviceType)}
	token, err := h.core.ConfirmPairing(id, device)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	log.Info().
		Str("sessionId", id).
		Str("deviceName", device.Name).
		Msg("pairing confirmed by operator")
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"token":     token,
	})
}
