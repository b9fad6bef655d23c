package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error reply. Code is a stable machine
// value ("forbidden", "plan_limit", ...); Error is for people.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 OK JSON response
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 Created JSON response
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorCode writes an ErrorResponse
func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	WriteDetailedError(w, status, code, message, nil)
}

// WriteDetailedError writes an ErrorResponse with details
func WriteDetailedError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Error:   message,
		Details: details,
	})
}

// WriteBadRequest writes a 400 with code "invalid_request"
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusBadRequest, "invalid_request", message)
}

// WriteUnauthorized writes a 401 with code "unauthorized"
func WriteUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="sitework"`)
	WriteErrorCode(w, http.StatusUnauthorized, "unauthorized", message)
}

// WriteNotFound writes a 404 with code "not_found"
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusNotFound, "not_found", message)
}

// WriteInternalError writes a 500. The cause is not exposed.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorCode(w, http.StatusInternalServerError, "internal", "internal server error")
}
