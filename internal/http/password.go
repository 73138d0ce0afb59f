package http

import (
	"net/http"

	"github.com/examforge/authd/internal/service"
	"github.com/examforge/authd/pkg/authsdk"
	"github.com/examforge/authd/pkg/httpx"
)

// ChangePasswordHandler serves PUT /v1/auth/password.
type ChangePasswordHandler struct {
	Sessions *service.SessionService
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
}

func (h *ChangePasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject := httpx.SubjectFromContext(r.Context())
	if subject == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Sessions.ChangePassword(r.Context(), subject, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ForgotPasswordHandler serves POST /v1/auth/password/forgot. The response
// is the same whether or not the email is registered.
type ForgotPasswordHandler struct {
	Resets *service.ResetService
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (h *ForgotPasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Resets.RequestReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{
		Message: "if the email is registered, a reset link has been sent",
	})
}

// ResetPasswordHandler serves POST /v1/auth/password/reset.
type ResetPasswordHandler struct {
	Resets *service.ResetService
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

func (h *ResetPasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Resets.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
