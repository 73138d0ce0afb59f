package domain

import "time"

// TokenPair is what login, register and refresh hand back to the caller:
// a short-lived access token and its longer-lived refresh partner, both
// signed JWTs.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type,omitempty"` // always "Bearer"
	ExpiresIn    time.Duration `json:"expires_in"`           // access token lifetime
}
