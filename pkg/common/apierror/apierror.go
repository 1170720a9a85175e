// Package apierror defines the uniform error body returned by every endpoint:
// {"code": ..., "message": ..., "details": ...}.
package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/smarthospital/vitals/pkg/common/logger"
)

const (
	CodeMissingCredential = "missing_credential"
	CodeInvalidCredential = "invalid_credential"
	CodeValidation        = "validation_error"
	CodeBadRequest        = "bad_request"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInternal          = "internal_error"
)

type Error struct {
	Status  int         `json:"-"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func (e *Error) WithDetails(details interface{}) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

func MissingCredential() *Error {
	return New(http.StatusUnauthorized, CodeMissingCredential, "missing API key")
}

func InvalidCredential() *Error {
	return New(http.StatusUnauthorized, CodeInvalidCredential, "invalid API key")
}

func Validation(details interface{}) *Error {
	return New(http.StatusBadRequest, CodeValidation, "request payload failed validation").WithDetails(details)
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, CodeConflict, message)
}

func Internal() *Error {
	return New(http.StatusInternalServerError, CodeInternal, "internal error")
}

func Write(w http.ResponseWriter, e *Error) {
	WriteJSON(w, e.Status, e)
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}
