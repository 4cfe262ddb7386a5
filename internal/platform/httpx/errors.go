package httpx

import (
	"errors"
	"net/http"
)

// Machine-readable rejection codes. Clients branch on these, so they are part
// of the wire contract and must not be renamed.
const (
	CodeTokenMissing     = "AUTH_TOKEN_MISSING"
	CodeTokenExpired     = "AUTH_TOKEN_EXPIRED"
	CodeTokenInvalid     = "AUTH_TOKEN_INVALID"
	CodeInvalidTokenType = "AUTH_INVALID_TOKEN_TYPE"
	CodeUserNotFound     = "AUTH_USER_NOT_FOUND"
	CodeAccountInactive  = "AUTH_ACCOUNT_INACTIVE"
	CodeTokenRevoked     = "AUTH_TOKEN_REVOKED"

	CodeAuthRequired            = "AUTH_REQUIRED"
	CodeInsufficientPermissions = "AUTH_INSUFFICIENT_PERMISSIONS"
	CodePageAccessDenied        = "AUTH_PAGE_ACCESS_DENIED"

	CodeCannotManageUser    = "CANNOT_MANAGE_USER"
	CodeCannotManageClients = "CANNOT_MANAGE_CLIENTS"
	CodeClientAccessDenied  = "CLIENT_ACCESS_DENIED"

	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeResourceNotFound    = "RESOURCE_NOT_FOUND"
	CodeRoleInUse           = "ROLE_IN_USE"
	CodeRoleSystemProtected = "ROLE_SYSTEM_PROTECTED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// APIError is a rejection carrying the HTTP status and wire code alongside the
// human-readable message.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Unauthorized builds a 401 rejection.
func Unauthorized(code, message string) *APIError {
	return &APIError{Status: http.StatusUnauthorized, Code: code, Message: message}
}

// Forbidden builds a 403 rejection.
func Forbidden(code, message string) *APIError {
	return &APIError{Status: http.StatusForbidden, Code: code, Message: message}
}

// NotFound builds a 404 rejection.
func NotFound(message string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: CodeResourceNotFound, Message: message}
}

// BadRequest builds a 400 rejection.
func BadRequest(code, message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: code, Message: message}
}

// RespondError maps an error to the rejection envelope. Unknown errors become
// a generic 500; the caller is expected to have logged the detail already.
func RespondError(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		Reject(w, apiErr.Status, apiErr.Code, apiErr.Message)
		return
	}
	Reject(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred")
}
