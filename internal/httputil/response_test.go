package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pearconnect/connect-server/internal/errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   apperrors.ErrorCode
	}{
		{"not found", apperrors.NotFound("Session"), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"expired code", apperrors.CodeExpired(), http.StatusGone, apperrors.ErrCodeCodeExpired},
		{"unauthorized", apperrors.Unauthorized("Invalid control key"), http.StatusUnauthorized, apperrors.ErrCodeUnauthorized},
		{"invalid input", apperrors.InvalidInput("volume", "out of range"), http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"oversize body", apperrors.PayloadTooLarge(1024), http.StatusRequestEntityTooLarge, apperrors.ErrCodePayloadTooLarge},
		{"hub stopped", apperrors.TransportClosed(), http.StatusServiceUnavailable, apperrors.ErrCodeTransportClosed},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantCode, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}
