package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/examforge/authd/internal/domain"
	"github.com/examforge/authd/internal/store"
)

const credentialColumns = `id, email, name, password_hash, role, active,
	login_attempts, locked_until, refresh_fingerprint, reset_fingerprint,
	reset_expires_at, last_login_at, created_at, updated_at`

type credentialsRepo struct {
	db querier
}

func (r *credentialsRepo) Create(ctx context.Context, c domain.Credential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (id, email, name, password_hash, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Email, c.Name, c.PasswordHash, string(c.Role), c.Active,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *credentialsRepo) GetByID(ctx context.Context, id string) (domain.Credential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)

	c, err := scanCredential(row)
	if err != nil {
		return domain.Credential{}, mapNotFound(err)
	}
	return c, nil
}

func (r *credentialsRepo) GetByEmail(ctx context.Context, email string) (domain.Credential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE email = ?`, email)

	c, err := scanCredential(row)
	if err != nil {
		return domain.Credential{}, mapNotFound(err)
	}
	return c, nil
}

// RecordLoginFailure applies the whole lockout transition in one statement
// so two racing failures serialize on the row instead of both reading the
// same counter. The WHERE clause refuses rows whose lock is still live, and
// the CASE arms handle the three transitions: plain increment, increment
// that trips the lock (attempts back to zero, locked_until set), and lazy
// cleanup of an elapsed lock.
func (r *credentialsRepo) RecordLoginFailure(
	ctx context.Context,
	id string,
	threshold int,
	lockUntil, now time.Time,
) (store.LockoutState, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE credentials
		SET login_attempts = CASE
				WHEN login_attempts + 1 >= ?1 THEN 0
				ELSE login_attempts + 1
			END,
			locked_until = CASE
				WHEN login_attempts + 1 >= ?1 THEN ?2
				WHEN locked_until IS NOT NULL AND locked_until <= ?3 THEN NULL
				ELSE locked_until
			END,
			updated_at = ?3
		WHERE id = ?4 AND (locked_until IS NULL OR locked_until <= ?3)
		RETURNING login_attempts, locked_until`,
		threshold, lockUntil.UTC(), now.UTC(), id,
	)

	var (
		state       store.LockoutState
		lockedUntil sql.NullTime
	)
	if err := row.Scan(&state.Attempts, &lockedUntil); err != nil {
		return store.LockoutState{}, mapNotFound(err)
	}
	state.LockedUntil = mapNullTimePtr(lockedUntil)
	return state, nil
}

func (r *credentialsRepo) RecordLoginSuccess(
	ctx context.Context,
	id, refreshFingerprint string,
	now time.Time,
) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET login_attempts = 0,
			locked_until = NULL,
			refresh_fingerprint = ?,
			last_login_at = ?,
			updated_at = ?
		WHERE id = ?`,
		refreshFingerprint, now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *credentialsRepo) RotateRefreshToken(
	ctx context.Context,
	id, oldFingerprint, newFingerprint string,
) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET refresh_fingerprint = ?, updated_at = ?
		WHERE id = ? AND refresh_fingerprint = ?`,
		newFingerprint, time.Now().UTC(), id, oldFingerprint,
	)
	if err != nil {
		return err
	}
	// Zero rows means the presented token lost a rotation race or was
	// revoked in the meantime; either way it is no longer current.
	return requireRow(res)
}

func (r *credentialsRepo) ClearRefreshToken(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET refresh_fingerprint = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *credentialsRepo) UpdatePasswordHash(ctx context.Context, id, newHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET password_hash = ?, updated_at = ?
		WHERE id = ?`,
		newHash, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *credentialsRepo) UpdateProfile(
	ctx context.Context,
	id string,
	upd domain.ProfileUpdate,
) error {
	if upd.Empty() {
		return nil
	}

	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *credentialsRepo) UpdateRole(ctx context.Context, id string, role domain.Role) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *credentialsRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *credentialsRepo) SetResetToken(
	ctx context.Context,
	id, fingerprint string,
	expiresAt time.Time,
) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET reset_fingerprint = ?, reset_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		fingerprint, expiresAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ConsumeResetToken is the single-use guarantee: the password change, the
// clearing of both reset fields and the lockout reset all land in one
// update guarded by the expiry, so a replayed token finds zero rows.
func (r *credentialsRepo) ConsumeResetToken(
	ctx context.Context,
	fingerprint, newHash string,
	now time.Time,
) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET password_hash = ?,
			reset_fingerprint = NULL,
			reset_expires_at = NULL,
			login_attempts = 0,
			locked_until = NULL,
			updated_at = ?
		WHERE reset_fingerprint = ? AND reset_expires_at > ?`,
		newHash, now.UTC(), fingerprint, now.UTC(),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *credentialsRepo) DeleteExpiredResetTokens(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET reset_fingerprint = NULL, reset_expires_at = NULL, updated_at = ?
		WHERE reset_fingerprint IS NOT NULL AND reset_expires_at <= ?`,
		now.UTC(), now.UTC(),
	)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
