// Package errors renders API errors as a JSON envelope.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/gohat/pkg/ledger"
)

// Error codes used in the envelope.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the envelope: {"error": {...}}.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// StatusError carries an explicit HTTP status and code through handler code.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// BadRequest reports invalid caller input.
func BadRequest(message string, err error) *StatusError {
	return &StatusError{Status: http.StatusBadRequest, Code: CodeInvalidArgument, Message: message, Err: err}
}

// WriteError writes an envelope with the request id taken from r, if any.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	resp := HTTPErrorResponse{Error: HTTPError{Code: code, Message: message, Details: details}}
	if r != nil {
		resp.Error.RequestID = chimw.GetReqID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// RespondWithError maps err onto a status and envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := Classify(err)
	var se *StatusError
	var details map[string]any
	if errors.As(err, &se) {
		details = se.Details
	}
	WriteError(w, r, status, code, message, details)
}

// Classify returns the status, code, and client-safe message for err.
func Classify(err error) (int, string, string) {
	var se *StatusError
	switch {
	case err == nil:
		return http.StatusInternalServerError, CodeInternal, "unknown error"
	case errors.As(err, &se):
		return se.Status, se.Code, se.Error()
	case ledger.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound, err.Error()
	case ledger.IsInvalid(err):
		return http.StatusBadRequest, CodeInvalidArgument, err.Error()
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}
