package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/c360/semsub/dependability"
	"github.com/c360/semsub/errors"
)

// errorBody is the JSON error payload of both HTTP responses and
// WebSocket error frames
type errorBody struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"status"`
	// SubscriptionID names the subscription a WebSocket error refers to
	SubscriptionID string `json:"spuid,omitempty"`
}

// errorResponse maps err to a status code and a body safe for clients.
// Authorization failures keep their OAuth code and description; internal
// error details are never exposed.
func errorResponse(err error) errorBody {
	if ae, ok := dependability.AsAuthError(err); ok {
		return errorBody{Code: string(ae.Code), Description: ae.Description, Status: ae.HTTPStatus()}
	}

	switch {
	case errors.Is(err, errors.ErrSubscriptionNotFound):
		return errorBody{Code: "subscription_not_found", Description: "subscription not found", Status: http.StatusNotFound}
	case errors.Is(err, errors.ErrNotOwner):
		return errorBody{Code: "forbidden", Description: "subscription owned by another client", Status: http.StatusForbidden}
	case errors.Is(err, errors.ErrRateLimited):
		return errorBody{Code: "rate_limited", Description: "too many requests", Status: http.StatusTooManyRequests}
	case errors.Is(err, errors.ErrShuttingDown):
		return errorBody{Code: "unavailable", Description: "broker is shutting down", Status: http.StatusServiceUnavailable}
	case errors.Is(err, context.DeadlineExceeded):
		return errorBody{Code: "timeout", Description: "request timeout", Status: http.StatusGatewayTimeout}
	}

	if errors.IsInvalid(err) {
		return errorBody{Code: "invalid_request", Description: invalidDescription(err), Status: http.StatusBadRequest}
	}
	if errors.IsFatal(err) {
		return errorBody{Code: "internal_error", Description: "internal server error", Status: http.StatusInternalServerError}
	}
	if errors.Is(err, errors.ErrEndpointFailure) {
		return errorBody{Code: "endpoint_failure", Description: "SPARQL endpoint unavailable", Status: http.StatusBadGateway}
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return errorBody{Code: "timeout", Description: "request timeout", Status: http.StatusGatewayTimeout}
		}
		return errorBody{Code: "unavailable", Description: "service temporarily unavailable", Status: http.StatusServiceUnavailable}
	}
	return errorBody{Code: "internal_error", Description: "internal server error", Status: http.StatusInternalServerError}
}

// invalidDescription keeps the validation detail of invalid requests, which
// only ever describes the client's own input
func invalidDescription(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, errors.ErrInvalidRequest.Error()+": "); i >= 0 {
		return msg[i+len(errors.ErrInvalidRequest.Error())+2:]
	}
	return "invalid request"
}

// writeError writes an error response
func writeError(w http.ResponseWriter, body errorBody) {
	writeJSON(w, body.Status, "application/json", body)
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal_error","status":500}`)
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
