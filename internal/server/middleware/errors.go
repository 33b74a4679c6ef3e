package middleware

import (
	"encoding/json"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	chimw "github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/3leaps/gohat/internal/errors"
)

// envelopeWire is the subset of the gofulmen envelope surfaced to API clients.
type envelopeWire struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id"`
	Context       map[string]any `json:"context"`
}

// newEnvelope builds an envelope correlated with the request id, if any.
func newEnvelope(r *http.Request, code, message string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(code, message)
	if id := chimw.GetReqID(r.Context()); id != "" {
		env = env.WithCorrelationID(id)
	}
	return env
}

// writeErrorResponse renders a gofulmen envelope in the API error shape.
func writeErrorResponse(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	var wire envelopeWire
	if b, err := json.Marshal(env); err == nil {
		_ = json.Unmarshal(b, &wire)
	}
	if wire.Code == "" {
		wire.Code = apperrors.CodeInternal
	}

	resp := apperrors.HTTPErrorResponse{Error: apperrors.HTTPError{
		Code:      wire.Code,
		Message:   wire.Message,
		Details:   wire.Context,
		RequestID: wire.CorrelationID,
	}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
