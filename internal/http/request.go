package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/examforge/authd/internal/service"
	"github.com/examforge/authd/pkg/authsdk"
	"github.com/examforge/authd/pkg/slogx"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds request bodies. Auth payloads are tiny.
const maxBodyBytes = 64 << 10

// validate is shared across handlers; Validator instances cache struct
// metadata and are safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON reads and validates a JSON request body into dst. A false
// return means the error response has already been written.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/json") {
		authsdk.ErrInvalidRequest.WithDescription("expected application/json body").WriteError(w)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		authsdk.ErrInvalidRequest.WithDescription("malformed JSON body").WriteError(w)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := strings.ToLower(verrs[0].Field())
			authsdk.ErrInvalidRequest.
				WithDescription(fmt.Sprintf("invalid value for field %q", field)).
				WriteError(w)
			return false
		}
		authsdk.ErrInvalidRequest.WriteError(w)
		return false
	}

	return true
}

// writeServiceError maps service-level errors onto the wire taxonomy.
// Anything unrecognized is logged and surfaces as a 500 so internals
// never leak to the caller.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *service.AccountLockedError
	if errors.As(err, &locked) {
		lockedErr := *authsdk.ErrAccountLocked
		lockedErr.RetryAfterMinutes = locked.RemainingMinutes()
		lockedErr.WriteError(w)
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		authsdk.ErrInvalidCredentials.WriteError(w)
	case errors.Is(err, service.ErrAccountInactive):
		authsdk.ErrAccountInactive.WriteError(w)
	case errors.Is(err, service.ErrDuplicateEmail):
		authsdk.ErrDuplicateEmail.WriteError(w)
	case errors.Is(err, service.ErrEmailInUse):
		authsdk.ErrEmailInUse.WriteError(w)
	case errors.Is(err, service.ErrInvalidRefresh):
		authsdk.ErrInvalidRefreshToken.WriteError(w)
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		authsdk.ErrInvalidOrExpiredToken.WriteError(w)
	case errors.Is(err, service.ErrInvalidRole):
		authsdk.ErrInvalidRequest.WithDescription("unknown role").WriteError(w)
	case errors.Is(err, service.ErrNotFound):
		authsdk.ErrNotFound.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
	}
}
