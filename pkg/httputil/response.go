// Package httputil provides HTTP handler utilities for consistent error
// handling and JSON encoding across the authorization service.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/contextkeys"
)

// ErrorBody is the structured error response: a user-safe message plus a
// machine-readable error code.
type ErrorBody struct {
	Msg       string `json:"msg"`
	ErrorCode string `json:"errorCode"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteAuthError maps a denial error to its status, code, and user-safe
// message. The raw error text never reaches the response body.
func WriteAuthError(w http.ResponseWriter, err error) {
	kind := autherr.KindOf(err)
	code, msg := autherr.UserFacing(kind)
	WriteJSON(w, autherr.HTTPStatus(kind), ErrorBody{Msg: msg, ErrorCode: code})
}

// WriteErrorCode writes an error body with an explicit status and code.
func WriteErrorCode(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorBody{Msg: msg, ErrorCode: code})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteErrorCode(w, http.StatusBadRequest, "bad_request", msg)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteErrorCode(w, http.StatusNotFound, "not_found", msg)
}

// WriteInternalError writes an internal server error (500). The underlying
// error is deliberately not echoed to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorCode(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// RequestID assigns each request a UUID and stores it in the context for
// log correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestID(r.Context(), id)))
	})
}
