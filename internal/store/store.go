package store

import (
	"context"
	"errors"
	"time"

	"github.com/examforge/authd/internal/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today,
// postgres later) implement this. The credential table is the single shared
// mutable resource of the service, so every read-check-write that touches
// lockout counters or refresh fingerprints happens either inside a Tx or as
// one conditional statement inside the driver.
type Store interface {
	Credentials() Credentials

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST Commit() or Rollback().
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn inside a transaction, committing when fn returns nil
	// and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// LockoutState is what the conditional failure update reports back so the
// service can tell a plain failure from the one that tripped the lock.
type LockoutState struct {
	Attempts    int
	LockedUntil *time.Time
}

type Credentials interface {
	// Create inserts a new credential (id is assigned by the service via
	// ULID). A normalized-email collision surfaces as ErrAlreadyExists.
	Create(ctx context.Context, c domain.Credential) error

	// GetByID returns a credential by id.
	GetByID(ctx context.Context, id string) (domain.Credential, error)

	// GetByEmail looks up by normalized email.
	GetByEmail(ctx context.Context, email string) (domain.Credential, error)

	// RecordLoginFailure applies one failed password check as a single
	// atomic transition: attempts+1 below the threshold, or attempts reset
	// to zero with locked_until set to lockUntil when this failure reaches
	// it. Rows whose lock is still live at now are left untouched and
	// return ErrNotFound, so two racing failures cannot both read
	// attempts=4 and skip the lock.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (LockoutState, error)

	// RecordLoginSuccess resets the lockout state, stores the fresh refresh
	// fingerprint (revoking any prior session) and stamps last_login, all
	// in one update.
	RecordLoginSuccess(ctx context.Context, id, refreshFingerprint string, now time.Time) error

	// RotateRefreshToken swaps old for new only when old is still the
	// stored fingerprint. ErrNotFound means the presented token was
	// already rotated away, revoked, or never current.
	RotateRefreshToken(ctx context.Context, id, oldFingerprint, newFingerprint string) error

	// ClearRefreshToken revokes the live refresh token. Idempotent.
	ClearRefreshToken(ctx context.Context, id string) error

	// UpdatePasswordHash sets the password hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, id, newHash string) error

	// UpdateProfile applies a partial profile update. An email collision
	// with a different credential surfaces as ErrAlreadyExists.
	UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) error

	// UpdateRole mutates the role. Admin path only.
	UpdateRole(ctx context.Context, id string, role domain.Role) error

	// SetActive flips the active flag. Admin path only.
	SetActive(ctx context.Context, id string, active bool) error

	// SetResetToken stores a reset fingerprint and its expiry, replacing
	// any outstanding one.
	SetResetToken(ctx context.Context, id, fingerprint string, expiresAt time.Time) error

	// ConsumeResetToken finds the credential holding fingerprint with an
	// unexpired reset window and, in the same update, installs newHash,
	// clears both reset fields and clears the lockout state. ErrNotFound
	// covers unknown, expired and already-consumed tokens alike.
	ConsumeResetToken(ctx context.Context, fingerprint, newHash string, now time.Time) error

	// DeleteExpiredResetTokens clears reset fields whose expiry has
	// passed. Housekeeping.
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) error
}
