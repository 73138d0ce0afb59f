package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/examforge/authd/pkg/httpx"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	ErrorCodeInvalidRequest        = "invalid_request"
	ErrorCodeInvalidCredentials    = "invalid_credentials"
	ErrorCodeAccountLocked         = "account_locked"
	ErrorCodeAccountInactive       = "account_inactive"
	ErrorCodeDuplicateEmail        = "duplicate_email"
	ErrorCodeEmailInUse            = "email_in_use"
	ErrorCodeInvalidRefreshToken   = "invalid_refresh_token"
	ErrorCodeInvalidOrExpiredToken = "invalid_or_expired_token"
	ErrorCodeInvalidToken          = "invalid_token"
	ErrorCodeInsufficientRole      = "insufficient_role"
	ErrorCodeNotFound              = "not_found"
	ErrorCodeServerError           = "server_error"
)

// ============================================================================
// AuthError
// ============================================================================

// AuthError represents an error response from the auth service. It
// implements the error interface and is used both by the server
// (to write HTTP responses) and by the SDK client (to represent errors).
type AuthError struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Code is the machine-readable error code (e.g., "invalid_credentials")
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`

	// RetryAfterMinutes is set on account_locked errors to indicate how
	// long until the lockout expires, rounded up to whole minutes.
	RetryAfterMinutes int `json:"retry_after_minutes,omitempty"`
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WriteError writes this AuthError to an HTTP response writer.
func (e *AuthError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(e)
}

// WithDescription returns a copy of the error with a different description.
func (e *AuthError) WithDescription(desc string) *AuthError {
	clone := *e
	clone.Description = desc
	return &clone
}

// ============================================================================
// Predefined Errors
// ============================================================================

var (
	// ErrInvalidRequest is returned when the request is missing a required
	// parameter, includes an invalid value, or is otherwise malformed.
	ErrInvalidRequest = &AuthError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	// ErrInvalidCredentials is returned when the email or password is wrong.
	// The description never distinguishes which of the two failed.
	ErrInvalidCredentials = &AuthError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredentials,
		Description: "invalid email or password",
	}

	// ErrAccountLocked is returned when too many consecutive failed logins
	// have locked the account. Handlers set RetryAfterMinutes before writing.
	ErrAccountLocked = &AuthError{
		StatusCode:  http.StatusLocked,
		Code:        ErrorCodeAccountLocked,
		Description: "account temporarily locked due to repeated failed logins",
	}

	// ErrAccountInactive is returned when the credential has been deactivated.
	ErrAccountInactive = &AuthError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeAccountInactive,
		Description: "account is deactivated",
	}

	// ErrDuplicateEmail is returned on registration with an email that is
	// already taken.
	ErrDuplicateEmail = &AuthError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeDuplicateEmail,
		Description: "an account with this email already exists",
	}

	// ErrEmailInUse is returned on a profile update to an email owned by
	// another credential.
	ErrEmailInUse = &AuthError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeEmailInUse,
		Description: "email is already in use by another account",
	}

	// ErrInvalidRefreshToken is returned when a refresh token is expired,
	// malformed, already rotated, or does not match the stored token.
	ErrInvalidRefreshToken = &AuthError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidRefreshToken,
		Description: "refresh token is invalid or has been superseded",
	}

	// ErrInvalidOrExpiredToken is returned when a password reset token is
	// unknown, expired, or already used.
	ErrInvalidOrExpiredToken = &AuthError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidOrExpiredToken,
		Description: "token is invalid or has expired",
	}

	// ErrInvalidToken is returned when a bearer access token is missing,
	// malformed, expired, or fails verification.
	ErrInvalidToken = &AuthError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "access token is invalid or expired",
	}

	// ErrInsufficientRole is returned when the caller's role does not
	// permit the operation.
	ErrInsufficientRole = &AuthError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeInsufficientRole,
		Description: "caller role does not permit this operation",
	}

	// ErrNotFound is returned when the referenced credential does not exist.
	ErrNotFound = &AuthError{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeNotFound,
		Description: "credential not found",
	}

	// ErrServerError is returned on unexpected internal failures.
	ErrServerError = &AuthError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// parseErrorResponse converts an HTTP error response body into a typed
// *AuthError. Unparseable bodies map to a generic error carrying the
// status code.
func parseErrorResponse(resp *http.Response, body []byte) error {
	var authErr AuthError
	if err := json.Unmarshal(body, &authErr); err == nil && authErr.Code != "" {
		authErr.StatusCode = resp.StatusCode
		return &authErr
	}

	return &AuthError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("unexpected response (status %d)", resp.StatusCode),
	}
}
