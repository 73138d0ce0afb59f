package http

import (
	"net/http"

	"github.com/examforge/authd/internal/domain"
	"github.com/examforge/authd/internal/service"
	"github.com/examforge/authd/pkg/authsdk"
	"github.com/examforge/authd/pkg/httpx"
)

// MeHandler serves GET /v1/auth/me.
type MeHandler struct {
	Sessions *service.SessionService
}

func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject := httpx.SubjectFromContext(r.Context())
	if subject == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	cred, err := h.Sessions.Get(r.Context(), subject)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, credentialResponse(cred))
}

// UpdateProfileHandler serves PATCH /v1/auth/profile. Only email and name
// can change here; role and active have their own admin-guarded routes.
type UpdateProfileHandler struct {
	Sessions *service.SessionService
}

type updateProfileRequest struct {
	Email *string `json:"email" validate:"omitempty,email,max=254"`
	Name  *string `json:"name" validate:"omitempty,min=1,max=100"`
}

func (h *UpdateProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject := httpx.SubjectFromContext(r.Context())
	if subject == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cred, err := h.Sessions.UpdateProfile(r.Context(), subject, domain.ProfileUpdate{
		Email: req.Email,
		Name:  req.Name,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, credentialResponse(cred))
}
