package jwtx

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrWrongKind   = errors.New("jwtx: wrong token kind")
)

// Verifier validates a token expected to be of a given kind and returns
// its claims. *Issuer implements it; middleware and tests depend on this
// interface rather than the concrete type.
type Verifier interface {
	Verify(token string, kind Kind) (Claims, error)
}

// IssuerConfig configures an Issuer. AccessSecret and RefreshSecret MUST
// differ: a compromised access key must not be able to forge refresh
// tokens, and vice versa.
type IssuerConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte

	// AccessTTL and RefreshTTL default to DefaultAccessTokenTTL and
	// DefaultRefreshTokenTTL when zero.
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Issuer   string
	Audience []string

	// Now is the clock used for iat/nbf/exp stamping and for expiry
	// checks during verification. Defaults to time.Now.
	Now func() time.Time
}

// Issuer mints and verifies the platform's signed tokens. It is pure and
// store-independent: Verify answers "is this structurally a live token of
// the expected kind" and nothing more. Whether a refresh token is still
// the credential's current one is the caller's check.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	audience      []string
	now           func() time.Time
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("jwtx: both signing secrets are required")
	}
	if subtle.ConstantTimeCompare(cfg.AccessSecret, cfg.RefreshSecret) == 1 {
		return nil, errors.New("jwtx: access and refresh secrets must be distinct")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("jwtx: issuer is required")
	}

	iss := &Issuer{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		now:           cfg.Now,
	}
	if iss.accessTTL <= 0 {
		iss.accessTTL = DefaultAccessTokenTTL
	}
	if iss.refreshTTL <= 0 {
		iss.refreshTTL = DefaultRefreshTokenTTL
	}
	if iss.now == nil {
		iss.now = time.Now
	}

	return iss, nil
}

// AccessTTL reports the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccess mints a short-lived access token for the subject.
func (i *Issuer) IssueAccess(subject, email, role string) (string, error) {
	return i.sign(KindAccess, subject, email, role)
}

// IssueRefresh mints a refresh token for the subject.
func (i *Issuer) IssueRefresh(subject, email, role string) (string, error) {
	return i.sign(KindRefresh, subject, email, role)
}

func (i *Issuer) sign(kind Kind, subject, email, role string) (string, error) {
	ttl, key := i.accessTTL, i.accessSecret
	if kind == KindRefresh {
		ttl, key = i.refreshTTL, i.refreshSecret
	}

	claims := NewClaims(subject, email, role, kind, ttl, i.issuer, i.audience, i.now().UTC())

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify validates signature, expiry, issuer, audience and kind, using the
// key that belongs to the expected kind. A token of the other kind fails on
// both signature and the kind claim.
func (i *Issuer) Verify(tokenStr string, kind Kind) (Claims, error) {
	key := i.accessSecret
	if kind == KindRefresh {
		key = i.refreshSecret
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSig
		default:
			return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrMalformed
	}

	if err := claims.ValidateKind(kind); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateIssuer(i.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(i.audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(i.now().UTC()); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}
