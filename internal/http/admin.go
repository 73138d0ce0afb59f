package http

import (
	"net/http"

	"github.com/examforge/authd/internal/domain"
	"github.com/examforge/authd/internal/service"
	"github.com/examforge/authd/pkg/authsdk"
	"github.com/examforge/authd/pkg/httpx"
)

// SetRoleHandler serves PUT /v1/admin/credentials/{id}/role. Routed behind
// RequireRole(admin); role changes never ride through register or the
// profile surface.
type SetRoleHandler struct {
	Sessions *service.SessionService
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=student instructor admin"`
}

func (h *SetRoleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	var req setRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cred, err := h.Sessions.UpdateRole(r.Context(), id, domain.Role(req.Role))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, credentialResponse(cred))
}

// SetActiveHandler serves PUT /v1/admin/credentials/{id}/active.
type SetActiveHandler struct {
	Sessions *service.SessionService
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *SetActiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	var req setActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cred, err := h.Sessions.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, credentialResponse(cred))
}
