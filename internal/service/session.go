package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/examforge/authd/internal/domain"
	"github.com/examforge/authd/internal/store"
	"github.com/examforge/authd/pkg/cryptox"
	"github.com/examforge/authd/pkg/idx"
	"github.com/examforge/authd/pkg/jwtx"
	"github.com/examforge/authd/pkg/slogx"
)

const (
	// DefaultLockoutThreshold is the number of consecutive failed password
	// checks that trips the lock.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is how long a tripped lock holds.
	DefaultLockoutDuration = 15 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountInactive    = errors.New("account_inactive")
	ErrDuplicateEmail     = errors.New("duplicate_email")
	ErrEmailInUse         = errors.New("email_in_use")
	ErrInvalidRefresh     = errors.New("invalid_refresh_token")
	ErrInvalidRole        = errors.New("invalid_role")
	ErrNotFound           = errors.New("credential_not_found")
)

// AccountLockedError is returned when authentication is refused because
// the credential is under an active lockout. Remaining is measured from
// the moment the refusal happened.
type AccountLockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *AccountLockedError) Error() string {
	return "account_locked"
}

// RemainingMinutes reports the remaining lockout rounded up to whole
// minutes, never less than 1 while the lock holds.
func (e *AccountLockedError) RemainingMinutes() int {
	mins := int((e.Remaining + time.Minute - 1) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return mins
}

// SessionService orchestrates registration, login, token refresh, logout,
// password change and profile management. All durable state lives in the
// Store; the service itself is stateless between calls.
type SessionService struct {
	Store    store.Store
	Hasher   *cryptox.Hasher
	Issuer   *jwtx.Issuer
	Notifier Notifier

	LockoutThreshold int
	LockoutDuration  time.Duration

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SessionService) lockoutThreshold() int {
	if s.LockoutThreshold > 0 {
		return s.LockoutThreshold
	}
	return DefaultLockoutThreshold
}

func (s *SessionService) lockoutDuration() time.Duration {
	if s.LockoutDuration > 0 {
		return s.LockoutDuration
	}
	return DefaultLockoutDuration
}

// NormalizeEmail is the canonical email form used everywhere a credential
// is looked up or stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a credential and signs it in. New accounts always get
// the student role; role escalation only happens through the admin path.
// The welcome notification is fire-and-forget.
func (s *SessionService) Register(ctx context.Context, email, name, password string) (domain.Credential, *domain.TokenPair, error) {
	now := s.now()
	email = NormalizeEmail(email)

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return domain.Credential{}, nil, fmt.Errorf("hash password: %w", err)
	}

	cred := domain.Credential{
		ID:           idx.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         domain.RoleStudent,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Sign before persisting so a signing fault leaves no partial row.
	pair, refreshFP, err := s.issuePair(cred)
	if err != nil {
		return domain.Credential{}, nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Credentials().Create(ctx, cred); err != nil {
			return err
		}
		return tx.Credentials().RecordLoginSuccess(ctx, cred.ID, refreshFP, now)
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Credential{}, nil, ErrDuplicateEmail
		}
		return domain.Credential{}, nil, err
	}

	cred.RefreshFingerprint = &refreshFP
	cred.LastLoginAt = &now

	s.notify(ctx, "welcome", func(ctx context.Context) error {
		return s.Notifier.SendWelcome(ctx, cred.Email, cred.Name)
	})

	return cred, pair, nil
}

// Login authenticates an email/password pair. Unknown emails burn the
// same hashing cost as real ones so the two failures are not separable
// by timing. Lockout is checked before the password and a refused locked
// attempt never touches the attempt counter.
func (s *SessionService) Login(ctx context.Context, email, password string) (domain.Credential, *domain.TokenPair, error) {
	now := s.now()
	l := slogx.FromContext(ctx)

	cred, err := s.Store.Credentials().GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Hasher.VerifyDummy(password)
			return domain.Credential{}, nil, ErrInvalidCredentials
		}
		return domain.Credential{}, nil, err
	}

	if cred.Locked(now) {
		return domain.Credential{}, nil, &AccountLockedError{
			Until:     *cred.LockedUntil,
			Remaining: cred.LockedUntil.Sub(now),
		}
	}

	if err := s.Hasher.Verify(password, cred.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			return domain.Credential{}, nil, err
		}

		lockUntil := now.Add(s.lockoutDuration())
		state, ferr := s.Store.Credentials().RecordLoginFailure(ctx, cred.ID, s.lockoutThreshold(), lockUntil, now)
		if ferr != nil {
			if errors.Is(ferr, store.ErrNotFound) {
				// A concurrent failure locked the row first.
				return domain.Credential{}, nil, &AccountLockedError{
					Until:     lockUntil,
					Remaining: s.lockoutDuration(),
				}
			}
			return domain.Credential{}, nil, ferr
		}

		if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
			l.Info("login lockout tripped",
				slog.String("credential_id", cred.ID),
				slog.Time("locked_until", *state.LockedUntil),
			)
			return domain.Credential{}, nil, &AccountLockedError{
				Until:     *state.LockedUntil,
				Remaining: state.LockedUntil.Sub(now),
			}
		}
		return domain.Credential{}, nil, ErrInvalidCredentials
	}

	if !cred.Active {
		return domain.Credential{}, nil, ErrAccountInactive
	}

	pair, refreshFP, err := s.issuePair(cred)
	if err != nil {
		return domain.Credential{}, nil, err
	}

	if err := s.Store.Credentials().RecordLoginSuccess(ctx, cred.ID, refreshFP, now); err != nil {
		return domain.Credential{}, nil, err
	}

	cred.LoginAttempts = 0
	cred.LockedUntil = nil
	cred.RefreshFingerprint = &refreshFP
	cred.LastLoginAt = &now

	return cred, pair, nil
}

// Refresh rotates a refresh token: the presented token must verify as a
// refresh JWT and must be the credential's current one. The old token is
// dead after this call whether or not the caller keeps a copy.
func (s *SessionService) Refresh(ctx context.Context, presented string) (*domain.TokenPair, error) {
	claims, err := s.Issuer.Verify(presented, jwtx.KindRefresh)
	if err != nil {
		return nil, ErrInvalidRefresh
	}

	cred, err := s.Store.Credentials().GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	presentedFP := cryptox.FingerprintToken(presented)
	if cred.RefreshFingerprint == nil ||
		subtle.ConstantTimeCompare([]byte(*cred.RefreshFingerprint), []byte(presentedFP)) != 1 {
		return nil, ErrInvalidRefresh
	}

	if !cred.Active {
		return nil, ErrAccountInactive
	}

	pair, newFP, err := s.issuePair(cred)
	if err != nil {
		return nil, err
	}

	// Conditional swap; losing a race to another rotation or a logout
	// means the presented token is no longer current.
	if err := s.Store.Credentials().RotateRefreshToken(ctx, cred.ID, presentedFP, newFP); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	return pair, nil
}

// Logout revokes the stored refresh token. Already-logged-out and unknown
// credentials both succeed; there is nothing useful to report.
func (s *SessionService) Logout(ctx context.Context, credentialID string) error {
	err := s.Store.Credentials().ClearRefreshToken(ctx, credentialID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// ChangePassword verifies the current password before installing the new
// one. The live refresh token deliberately survives a password change;
// revoking it here would sign the caller out of their own session.
func (s *SessionService) ChangePassword(ctx context.Context, credentialID, currentPassword, newPassword string) error {
	cred, err := s.Store.Credentials().GetByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.Hasher.Verify(currentPassword, cred.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return ErrInvalidCredentials
		}
		return err
	}

	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.Store.Credentials().UpdatePasswordHash(ctx, credentialID, hash)
}

// UpdateProfile applies a partial email/name update and returns the
// resulting credential.
func (s *SessionService) UpdateProfile(ctx context.Context, credentialID string, upd domain.ProfileUpdate) (domain.Credential, error) {
	if upd.Email != nil {
		normalized := NormalizeEmail(*upd.Email)
		upd.Email = &normalized
	}

	if !upd.Empty() {
		if err := s.Store.Credentials().UpdateProfile(ctx, credentialID, upd); err != nil {
			switch {
			case errors.Is(err, store.ErrAlreadyExists):
				return domain.Credential{}, ErrEmailInUse
			case errors.Is(err, store.ErrNotFound):
				return domain.Credential{}, ErrNotFound
			}
			return domain.Credential{}, err
		}
	}

	cred, err := s.Store.Credentials().GetByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Credential{}, ErrNotFound
		}
		return domain.Credential{}, err
	}
	return cred, nil
}

// Get returns a credential by id.
func (s *SessionService) Get(ctx context.Context, credentialID string) (domain.Credential, error) {
	cred, err := s.Store.Credentials().GetByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Credential{}, ErrNotFound
		}
		return domain.Credential{}, err
	}
	return cred, nil
}

// UpdateRole changes a credential's role. Admin surface only.
func (s *SessionService) UpdateRole(ctx context.Context, credentialID string, role domain.Role) (domain.Credential, error) {
	if !role.Valid() {
		return domain.Credential{}, ErrInvalidRole
	}

	if err := s.Store.Credentials().UpdateRole(ctx, credentialID, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Credential{}, ErrNotFound
		}
		return domain.Credential{}, err
	}
	return s.Get(ctx, credentialID)
}

// SetActive activates or deactivates a credential. Deactivation also
// revokes the live refresh token so the account cannot mint new access
// tokens once the current one expires.
func (s *SessionService) SetActive(ctx context.Context, credentialID string, active bool) (domain.Credential, error) {
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Credentials().SetActive(ctx, credentialID, active); err != nil {
			return err
		}
		if !active {
			return tx.Credentials().ClearRefreshToken(ctx, credentialID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Credential{}, ErrNotFound
		}
		return domain.Credential{}, err
	}
	return s.Get(ctx, credentialID)
}

// issuePair mints an access/refresh pair for cred and returns the refresh
// token's fingerprint for storage.
func (s *SessionService) issuePair(cred domain.Credential) (*domain.TokenPair, string, error) {
	access, err := s.Issuer.IssueAccess(cred.ID, cred.Email, string(cred.Role))
	if err != nil {
		return nil, "", fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := s.Issuer.IssueRefresh(cred.ID, cred.Email, string(cred.Role))
	if err != nil {
		return nil, "", fmt.Errorf("issue refresh token: %w", err)
	}

	pair := &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.Issuer.AccessTTL(),
	}
	return pair, cryptox.FingerprintToken(refresh), nil
}

// notify runs fn detached from the request. Failures are logged, never
// propagated.
func (s *SessionService) notify(ctx context.Context, kind string, fn func(ctx context.Context) error) {
	if s.Notifier == nil {
		return
	}

	l := slogx.FromContext(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := fn(ctx); err != nil {
			l.Warn("notification failed", slog.String("kind", kind), slog.Any("error", err))
		}
	}()
}
