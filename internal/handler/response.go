package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// decodeBody decodes at most limit bytes of JSON into v, rejecting unknown
// fields.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	if r.ContentLength > limit {
		return apperrors.PayloadTooLarge(limit)
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.PayloadTooLarge(limit)
		}
		return apperrors.InvalidInput("body", err.Error())
	}
	return nil
}
