package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mind-engage/bitacora/internal/apperr"
)

// maxBody caps request bodies; bulk score uploads are the largest payloads.
const maxBody = 4 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrExamNotAvailable):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrInsufficientPool):
		return http.StatusUnprocessableEntity
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAvailability, apperr.KindConcurrency:
		return http.StatusConflict
	case apperr.KindDataIntegrity:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		if log == nil {
			log = zap.NewNop()
		}
		log.Error("request failed", zap.Error(err))
		writeJSON(w, status, errorBody{Error: "internal error", Code: "Internal"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: apperr.CodeOf(err)})
}

func forbidden(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusForbidden, errorBody{Error: msg, Code: "Forbidden"})
}

// decode reads a JSON body into dst, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json: " + err.Error(), Code: apperr.CodeInvalid})
		return false
	}
	return true
}
