// Package httpx implements the JSON response contract shared with API clients.
package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorBody carries the machine-readable code plus a human-readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope returned for every rejected request:
// {"success":false,"error":{"code":...,"message":...}}.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// SuccessResponse wraps successful payloads.
type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK sends a success envelope with the given payload.
func OK(w http.ResponseWriter, status int, data any) {
	JSON(w, status, SuccessResponse{Success: true, Data: data})
}

// Reject sends an error envelope with the given status, code and message.
func Reject(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{Success: false, Error: ErrorBody{Code: code, Message: message}})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
