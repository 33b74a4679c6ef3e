package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/gohat/internal/errors"
)

// HTTPErrorResponder writes err to w.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder swaps the responder used by handlers. Nil restores
// the default envelope writer.
func SetHTTPErrorResponder(responder HTTPErrorResponder) {
	if responder == nil {
		httpErrorResponder = apperrors.RespondWithError
		return
	}
	httpErrorResponder = responder
}

// ResetHTTPErrorResponder restores the default envelope writer.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// NotFoundHandler renders unknown routes as a NOT_FOUND envelope.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteError(w, r, http.StatusNotFound, apperrors.CodeNotFound, "route not found: "+r.URL.Path, nil)
}

// MethodNotAllowedHandler renders a METHOD_NOT_ALLOWED envelope.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteError(w, r, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
		"method "+r.Method+" not allowed on "+r.URL.Path, nil)
}
