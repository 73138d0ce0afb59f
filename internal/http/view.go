package http

import (
	"github.com/examforge/authd/internal/domain"
	"github.com/examforge/authd/pkg/authsdk"
)

// credentialResponse converts a domain credential into its public view.
// Password material, lockout counters and token fingerprints never leave
// the service.
func credentialResponse(c domain.Credential) authsdk.CredentialResponse {
	return authsdk.CredentialResponse{
		ID:          c.ID,
		Email:       c.Email,
		Name:        c.Name,
		Role:        string(c.Role),
		Active:      c.Active,
		LastLoginAt: c.LastLoginAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func tokenResponse(pair *domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
	}
}

func authResponse(c domain.Credential, pair *domain.TokenPair) authsdk.AuthResponse {
	return authsdk.AuthResponse{
		Credential:    credentialResponse(c),
		TokenResponse: tokenResponse(pair),
	}
}
