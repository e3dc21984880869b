package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wakamiya-lab/grantbot/internal/domain"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// OK writes a success envelope. Handler fields merge into the top level next
// to the ok flag and trace id.
func OK(w http.ResponseWriter, traceID string, fields map[string]any) {
	payload := map[string]any{"ok": true}
	for k, v := range fields {
		payload[k] = v
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	JSON(w, http.StatusOK, payload)
}

// Fail writes a failure envelope.
func Fail(w http.ResponseWriter, status int, traceID, message string) {
	payload := map[string]any{"ok": false, "error": message}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	JSON(w, status, payload)
}

// DomainErrorToHTTP maps domain errors to HTTP status codes.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation, domain.ErrCodeInvalidMode:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeSearchUnavailable:
		return http.StatusServiceUnavailable
	case domain.ErrCodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an appropriate failure envelope based on the error type.
func HandleError(w http.ResponseWriter, traceID string, err error) {
	Fail(w, DomainErrorToHTTP(err), traceID, err.Error())
}
