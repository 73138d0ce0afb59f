package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Session represents an authenticated session with automatic token refresh.
// All Session methods handle token expiration and refresh when needed.
type Session struct {
	client *Client

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// newSession creates a new authenticated session from a token response.
func newSession(client *Client, tokenResp *TokenResponse) *Session {
	expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	// Refresh 30 seconds before actual expiry
	expiresAt = expiresAt.Add(-30 * time.Second)

	return &Session{
		client:       client,
		accessToken:  tokenResp.AccessToken,
		refreshToken: tokenResp.RefreshToken,
		expiresAt:    expiresAt,
	}
}

// getValidToken returns a valid access token, automatically refreshing if
// expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}

	if s.refreshToken == "" {
		return "", fmt.Errorf("access token expired and no refresh token available")
	}

	tokenResp, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	s.accessToken = tokenResp.AccessToken
	s.refreshToken = tokenResp.RefreshToken
	s.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 30*time.Second)

	return s.accessToken, nil
}

// AccessToken returns the current access token without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// ============================================================================
// Authenticated Operations
// ============================================================================

// Me returns the credential for the authenticated account.
func (s *Session) Me(ctx context.Context) (*CredentialResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}

	var cred CredentialResponse
	if err := decodeJSON(resp, &cred, http.StatusOK); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Logout revokes the session's refresh token on the server. Logout is
// idempotent; a session that is already logged out succeeds.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	if err := checkStatusNoContent(resp); err != nil {
		return err
	}

	s.mu.Lock()
	s.refreshToken = ""
	s.mu.Unlock()
	return nil
}

// ChangePassword changes the account's password. The current password must
// be supplied and verified.
func (s *Session) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	resp, err := s.doAuthJSON(ctx, http.MethodPut, "/v1/auth/password", ChangePasswordRequest{
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// UpdateProfile updates email and/or name. Nil fields are left unchanged.
func (s *Session) UpdateProfile(ctx context.Context, update UpdateProfileRequest) (*CredentialResponse, error) {
	resp, err := s.doAuthJSON(ctx, http.MethodPatch, "/v1/auth/profile", update)
	if err != nil {
		return nil, err
	}

	var cred CredentialResponse
	if err := decodeJSON(resp, &cred, http.StatusOK); err != nil {
		return nil, err
	}
	return &cred, nil
}

// SetRole changes another credential's role. Requires the admin role.
func (s *Session) SetRole(ctx context.Context, credentialID, role string) (*CredentialResponse, error) {
	path := "/v1/admin/credentials/" + url.PathEscape(credentialID) + "/role"
	resp, err := s.doAuthJSON(ctx, http.MethodPut, path, SetRoleRequest{Role: role})
	if err != nil {
		return nil, err
	}

	var cred CredentialResponse
	if err := decodeJSON(resp, &cred, http.StatusOK); err != nil {
		return nil, err
	}
	return &cred, nil
}

// SetActive activates or deactivates another credential. Requires the
// admin role.
func (s *Session) SetActive(ctx context.Context, credentialID string, active bool) (*CredentialResponse, error) {
	path := "/v1/admin/credentials/" + url.PathEscape(credentialID) + "/active"
	resp, err := s.doAuthJSON(ctx, http.MethodPut, path, SetActiveRequest{Active: active})
	if err != nil {
		return nil, err
	}

	var cred CredentialResponse
	if err := decodeJSON(resp, &cred, http.StatusOK); err != nil {
		return nil, err
	}
	return &cred, nil
}

// ============================================================================
// Authenticated HTTP Helpers
// ============================================================================

// doAuthRequest performs an authenticated HTTP request using the session's
// access token, refreshing it first if needed.
func (s *Session) doAuthRequest(
	ctx context.Context,
	method, path string,
	body io.Reader,
) (*http.Response, error) {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, s.client.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

// doAuthJSON marshals body and sends it with the session's access token.
func (s *Session) doAuthJSON(ctx context.Context, method, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return s.doAuthRequest(ctx, method, path, bytes.NewReader(payload))
}
