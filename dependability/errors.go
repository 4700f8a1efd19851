package dependability

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/c360/semsub/errors"
)

// ErrorCode is an OAuth 2.0 error code
type ErrorCode string

// Error codes returned by the gate
const (
	InvalidRequest       ErrorCode = "invalid_request"
	InvalidClient        ErrorCode = "invalid_client"
	InvalidGrant         ErrorCode = "invalid_grant"
	UnauthorizedClient   ErrorCode = "unauthorized_client"
	UnsupportedGrantType ErrorCode = "unsupported_grant_type"
	InvalidScope         ErrorCode = "invalid_scope"
)

// AuthError is an authorization failure
type AuthError struct {
	Code        ErrorCode
	Description string
}

func newAuthError(code ErrorCode, format string, args ...any) *AuthError {
	return &AuthError{Code: code, Description: fmt.Sprintf(format, args...)}
}

func (e *AuthError) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Description
}

// Is matches any *AuthError with the same code, and the broker's
// invalid-request sentinel for malformed authorization headers.
func (e *AuthError) Is(target error) bool {
	if t, ok := target.(*AuthError); ok {
		return t.Code == e.Code
	}
	return e.Code == InvalidRequest && target == errors.ErrInvalidRequest
}

// HTTPStatus maps the code to the response status: 400 for malformed
// requests, 401 for everything else.
func (e *AuthError) HTTPStatus() int {
	if e.Code == InvalidRequest {
		return http.StatusBadRequest
	}
	return http.StatusUnauthorized
}

// MarshalJSON encodes the RFC 6749 error body
func (e *AuthError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error       ErrorCode `json:"error"`
		Description string    `json:"error_description,omitempty"`
	}{e.Code, e.Description})
}

// AsAuthError extracts an *AuthError from err
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
