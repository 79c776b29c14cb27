// Package httputil provides the JSON response helpers shared by the API
// handlers, including the mapping from fault kinds to HTTP status codes.
package httputil

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/openlot/parkwatch/internal/fault"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONError writes a JSON error response with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// BadRequest writes a 400 Bad Request response with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// MethodNotAllowed writes a 405 Method Not Allowed response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// StatusForKind maps an error kind to its HTTP status code.
func StatusForKind(k fault.Kind) int {
	switch k {
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindInvalidGeometry:
		return http.StatusUnprocessableEntity
	case fault.KindInvalidArgument:
		return http.StatusBadRequest
	case fault.KindCameraUnavailable:
		return http.StatusServiceUnavailable
	case fault.KindAlreadyActive, fault.KindConflict, fault.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteFault translates a classified error into a JSON error response.
func WriteFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	WriteJSON(w, StatusForKind(kind), map[string]string{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}
