package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/examforge/authd/internal/domain"
	"github.com/examforge/authd/internal/store"
	"github.com/examforge/authd/internal/store/drivers/sqlite"
	"github.com/examforge/authd/pkg/cryptox"
	"github.com/examforge/authd/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

// testClock is a settable clock shared by the services under test.
type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time          { return c.current }
func (c *testClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestClock() *testClock {
	return &testClock{current: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "authd_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func newSessionService(t *testing.T, clock *testClock) *SessionService {
	t.Helper()

	hasher, err := cryptox.NewHasher(cryptox.Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1}, "test-pepper")
	require.NoError(t, err)

	issuer, err := jwtx.NewIssuer(jwtx.IssuerConfig{
		AccessSecret:  []byte("test-access-secret-0123456789abc"),
		RefreshSecret: []byte("test-refresh-secret-0123456789ab"),
		Issuer:        "authd-test",
		Audience:      []string{"examforge"},
		Now:           clock.Now,
	})
	require.NoError(t, err)

	return &SessionService{
		Store:  newTestStore(t),
		Hasher: hasher,
		Issuer: issuer,
		Now:    clock.Now,
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newSessionService(t, clock)
	ctx := context.Background()

	t.Run("creates a student credential and signs it in", func(t *testing.T) {
		cred, pair, err := svc.Register(ctx, "  Alice@Example.COM ", "Alice", "Aa1!aaaa")
		require.NoError(t, err)

		require.Equal(t, "alice@example.com", cred.Email, "email must be normalized")
		require.Equal(t, domain.RoleStudent, cred.Role)
		require.True(t, cred.Active)
		require.NotEmpty(t, cred.ID)
		require.NotEqual(t, "Aa1!aaaa", cred.PasswordHash)

		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
		require.Equal(t, "Bearer", pair.TokenType)

		stored, err := svc.Store.Credentials().GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.NotNil(t, stored.RefreshFingerprint)
		require.Equal(t, cryptox.FingerprintToken(pair.RefreshToken), *stored.RefreshFingerprint)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, _, err := svc.Register(ctx, "alice@example.com", "Alice Again", "Bb2!bbbb")
		require.ErrorIs(t, err, ErrDuplicateEmail)
	})
}

func TestLoginFlow(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newSessionService(t, clock)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "alice@example.com", "Alice", "Aa1!aaaa")
	require.NoError(t, err)

	t.Run("correct password succeeds and stamps last login", func(t *testing.T) {
		clock.Advance(time.Minute)

		cred, pair, err := svc.Login(ctx, "alice@example.com", "Aa1!aaaa")
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.NotNil(t, cred.LastLoginAt)
		require.True(t, cred.LastLoginAt.Equal(clock.Now()) || cred.LastLoginAt.Equal(clock.Now().UTC()))
		require.Zero(t, cred.LoginAttempts)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nobody@example.com", "whatever1")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "alice@example.com", "wrong-password")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("new login revokes the previous refresh token", func(t *testing.T) {
		_, first, err := svc.Login(ctx, "alice@example.com", "Aa1!aaaa")
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, _, err = svc.Login(ctx, "alice@example.com", "Aa1!aaaa")
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, first.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})
}

func TestLoginLockout(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newSessionService(t, clock)
	svc.LockoutThreshold = 5
	svc.LockoutDuration = 15 * time.Minute
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "alice@example.com", "Alice", "Aa1!aaaa")
	require.NoError(t, err)

	t.Run("failures below the threshold are invalid credentials", func(t *testing.T) {
		for range 4 {
			_, _, err := svc.Login(ctx, "alice@example.com", "wrong")
			require.ErrorIs(t, err, ErrInvalidCredentials)
		}
	})

	t.Run("the threshold failure reports the lock", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "alice@example.com", "wrong")

		var locked *AccountLockedError
		require.ErrorAs(t, err, &locked)
		require.Equal(t, 15, locked.RemainingMinutes())
	})

	t.Run("correct password is refused while locked", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "alice@example.com", "Aa1!aaaa")

		var locked *AccountLockedError
		require.ErrorAs(t, err, &locked)
		require.GreaterOrEqual(t, locked.RemainingMinutes(), 1)
	})

	t.Run("a locked attempt never touches the counter", func(t *testing.T) {
		stored, err := svc.Store.Credentials().GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.Zero(t, stored.LoginAttempts)
		require.NotNil(t, stored.LockedUntil)
	})

	t.Run("login succeeds once the lock elapses", func(t *testing.T) {
		clock.Advance(16 * time.Minute)

		cred, pair, err := svc.Login(ctx, "alice@example.com", "Aa1!aaaa")
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.Zero(t, cred.LoginAttempts)
		require.Nil(t, cred.LockedUntil)
	})
}

// Failure accounting must serialize on the row: no interleaving may let
// two attempts both read the same counter and skip past the threshold.
func TestLoginLockoutConcurrent(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newSessionService(t, clock)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "alice@example.com", "Alice", "Aa1!aaaa")
	require.NoError(t, err)

	const attempts = 10
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := range attempts {
		go func() {
			defer wg.Done()
			_, _, errs[i] = svc.Login(ctx, "alice@example.com", "wrong-password")
		}()
	}
	wg.Wait()

	var invalid, lockedOut int
	for _, err := range errs {
		var locked *AccountLockedError
		switch {
		case errors.As(err, &locked):
			lockedOut++
		case errors.Is(err, ErrInvalidCredentials):
			invalid++
		default:
			t.Fatalf("unexpected login error: %v", err)
		}
	}

	// Exactly threshold-1 attempts may pass as plain failures; everything
	// from the tripping attempt onward must report the lock.
	require.Equal(t, DefaultLockoutThreshold-1, invalid)
	require.Equal(t, attempts-(DefaultLockoutThreshold-1), lockedOut)

	stored, err := svc.Store.Credentials().GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Zero(t, stored.LoginAttempts)
	require.NotNil(t, stored.LockedUntil)

	_, _, err = svc.Login(ctx, "alice@example.com", "Aa1!aaaa")
	var locked *AccountLockedError
	require.ErrorAs(t, err, &locked)
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newSessionService(t, clock)
	ctx := context.Background()

	_, pair, err := svc.Register(ctx, "alice@example.com", "Alice", "Aa1!aaaa")
	require.NoError(t, err)

	t.Run("a refresh token works exactly once", func(t *testing.T) {
		clock.Advance(time.Minute)

		next, err := svc.Refresh(ctx, pair.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

		_, err = svc.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefresh)

		pair = next
	})

	t.Run("access tokens are rejected here", func(t *testing.T) {
		_, err := svc.Refresh(ctx, pair.AccessToken)
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})

	t.Run("expired refresh tokens are rejected", func(t *testing.T) {
		clock.Advance(jwtx.DefaultRefreshTokenTTL + time.Hour)
		_, err := svc.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})
}

func TestLogout(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newSessionService(t, clock)
	ctx := context.Background()

	cred, pair, err := svc.Register(ctx, "alice@example.com", "Alice", "Aa1!aaaa")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, cred.ID))

	t.Run("refresh after logout fails", func(t *testing.T) {
		_, err := svc.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})

	t.Run("logout is idempotent", func(t *testing.T) {
		require.NoError(t, svc.Logout(ctx, cred.ID))
		require.NoError(t, svc.Logout(ctx, "never-existed"))
	})
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newSessionService(t, clock)
	ctx := context.Background()

	cred, _, err := svc.Register(ctx, "alice@example.com", "Alice", "old-password")
	require.NoError(t, err)

	t.Run("wrong current password", func(t *testing.T) {
		err := svc.ChangePassword(ctx, cred.ID, "not-it", "new-password")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("changes the password", func(t *testing.T) {
		require.NoError(t, svc.ChangePassword(ctx, cred.ID, "old-password", "new-password"))

		_, _, err := svc.Login(ctx, "alice@example.com", "old-password")
		require.ErrorIs(t, err, ErrInvalidCredentials)

		_, _, err = svc.Login(ctx, "alice@example.com", "new-password")
		require.NoError(t, err)
	})

	t.Run("keeps the refresh token alive", func(t *testing.T) {
		// The session survives its own password change. Login above has
		// already rotated the stored fingerprint, so re-login first.
		clock.Advance(time.Second)
		_, fresh, err := svc.Login(ctx, "alice@example.com", "new-password")
		require.NoError(t, err)

		require.NoError(t, svc.ChangePassword(ctx, cred.ID, "new-password", "third-password"))

		_, err = svc.Refresh(ctx, fresh.RefreshToken)
		require.NoError(t, err)
	})
}

func TestInactiveCredential(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newSessionService(t, clock)
	ctx := context.Background()

	cred, pair, err := svc.Register(ctx, "alice@example.com", "Alice", "Aa1!aaaa")
	require.NoError(t, err)

	_, err = svc.SetActive(ctx, cred.ID, false)
	require.NoError(t, err)

	t.Run("login refused", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "alice@example.com", "Aa1!aaaa")
		require.ErrorIs(t, err, ErrAccountInactive)
	})

	t.Run("deactivation revoked the refresh token", func(t *testing.T) {
		_, err := svc.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})

	t.Run("reactivation allows login again", func(t *testing.T) {
		_, err := svc.SetActive(ctx, cred.ID, true)
		require.NoError(t, err)

		_, _, err = svc.Login(ctx, "alice@example.com", "Aa1!aaaa")
		require.NoError(t, err)
	})
}

func TestUpdateProfileAndRole(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newSessionService(t, clock)
	ctx := context.Background()

	alice, _, err := svc.Register(ctx, "alice@example.com", "Alice", "Aa1!aaaa")
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, "taken@example.com", "Taken", "Bb2!bbbb")
	require.NoError(t, err)

	t.Run("updates email and name", func(t *testing.T) {
		email := " Alice2@Example.com "
		name := "Alice Cooper"
		got, err := svc.UpdateProfile(ctx, alice.ID, domain.ProfileUpdate{Email: &email, Name: &name})
		require.NoError(t, err)
		require.Equal(t, "alice2@example.com", got.Email)
		require.Equal(t, "Alice Cooper", got.Name)
	})

	t.Run("email collision", func(t *testing.T) {
		email := "taken@example.com"
		_, err := svc.UpdateProfile(ctx, alice.ID, domain.ProfileUpdate{Email: &email})
		require.ErrorIs(t, err, ErrEmailInUse)
	})

	t.Run("role changes only through the admin path", func(t *testing.T) {
		got, err := svc.UpdateRole(ctx, alice.ID, domain.RoleInstructor)
		require.NoError(t, err)
		require.Equal(t, domain.RoleInstructor, got.Role)

		_, err = svc.UpdateRole(ctx, alice.ID, domain.Role("superuser"))
		require.ErrorIs(t, err, ErrInvalidRole)
	})
}
