package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/hub"
	"github.com/pearconnect/connect-server/internal/model"
)

type mockAdminCore struct {
	clients      []model.Session
	pending      []model.PendingPairing
	current      model.PendingPairing
	confirmFunc  func(id string, device model.DeviceInfo) (string, error)
	disconnected []string
	status       hub.Status
}

func (m *mockAdminCore) ConnectedClients() []model.Session       { return m.clients }
func (m *mockAdminCore) PendingPairings() []model.PendingPairing { return m.pending }
func (m *mockAdminCore) CurrentCode() model.PendingPairing       { return m.current }
func (m *mockAdminCore) Status() hub.Status                      { return m.status }

func (m *mockAdminCore) ConfirmPairing(id string, device model.DeviceInfo) (string, error) {
	return m.confirmFunc(id, device)
}

func (m *mockAdminCore) DisconnectClient(id string) error {
	for _, c := range m.clients {
		if c.ID == id {
			m.disconnected = append(m.disconnected, id)
			return nil
		}
	}
	return apperrors.NotFound("Session")
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminHandler(t *testing.T) {
	connectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	core := &mockAdminCore{
		clients: []model.Session{{
			ID: "s1", Authenticated: true, DeviceName: "Phone", DeviceType: model.DeviceTypeMobile,
			ConnectedAt: connectedAt, LastActivity: connectedAt,
		}},
		pending: []model.PendingPairing{{SessionID: "s2", Code: "123456", ExpiresAt: connectedAt.Add(5 * time.Minute)}},
		current: model.PendingPairing{Code: "654321", ExpiresAt: connectedAt.Add(10 * time.Minute)},
		status:  hub.Status{Connections: 2, Authenticated: 1, Pending: 1, RequireAuth: true},
	}
	routes := NewAdminHandler(core).Routes()

	t.Run("status", func(t *testing.T) {
		rec := do(t, routes, http.MethodGet, "/status", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"connections":2,"authenticated":1,"pendingPairings":1,"requireAuth":true,"autoSync":false}`, rec.Body.String())
	})

	t.Run("lists clients", func(t *testing.T) {
		rec := do(t, routes, http.MethodGet, "/clients", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Items []model.Session `json:"items"`
			Total int             `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Total)
		assert.Equal(t, "Phone", body.Items[0].DeviceName)
	})

	t.Run("empty client list is an empty array", func(t *testing.T) {
		rec := do(t, NewAdminHandler(&mockAdminCore{}).Routes(), http.MethodGet, "/clients", "")
		assert.JSONEq(t, `{"items":[],"total":0}`, rec.Body.String())
	})

	t.Run("lists pairings with the advertised code", func(t *testing.T) {
		rec := do(t, routes, http.MethodGet, "/pairings", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Current model.PendingPairing   `json:"current"`
			Pending []model.PendingPairing `json:"pending"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "654321", body.Current.Code)
		require.Len(t, body.Pending, 1)
		assert.Equal(t, "s2", body.Pending[0].SessionID)
	})

	t.Run("disconnects a client", func(t *testing.T) {
		rec := do(t, routes, http.MethodDelete, "/clients/s1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"s1"}, core.disconnected)
	})

	t.Run("disconnecting unknown client is not found", func(t *testing.T) {
		rec := do(t, routes, http.MethodDelete, "/clients/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("confirms pairing", func(t *testing.T) {
		var gotDevice model.DeviceInfo
		core.confirmFunc = func(id string, device model.DeviceInfo) (string, error) {
			gotDevice = device
			return "jwt-token", nil
		}

		rec := do(t, routes, http.MethodPost, "/pairings/s2/confirm", `{"deviceName":"Tablet","deviceType":"fridge"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"sessionId":"s2","token":"jwt-token"}`, rec.Body.String())
		assert.Equal(t, model.DeviceInfo{Name: "Tablet", Type: model.DeviceTypeOther}, gotDevice)
	})

	t.Run("confirm requires a device name", func(t *testing.T) {
		rec := do(t, routes, http.MethodPost, "/pairings/s2/confirm", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("confirm surfaces expiry as gone", func(t *testing.T) {
		core.confirmFunc = func(string, model.DeviceInfo) (string, error) {
			return "", apperrors.CodeExpired()
		}
		rec := do(t, routes, http.MethodPost, "/pairings/s2/confirm", `{"deviceName":"Tablet"}`)
		assert.Equal(t, http.StatusGone, rec.Code)
	})
}
