package authd_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	httpapi "github.com/examforge/authd/internal/http"
	"github.com/examforge/authd/internal/service"
	"github.com/examforge/authd/internal/store/drivers/sqlite"
	"github.com/examforge/authd/pkg/authsdk"
	"github.com/examforge/authd/pkg/cryptox"
	"github.com/examforge/authd/pkg/httpx"
	"github.com/examforge/authd/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

// resetCapture hands reset tokens back to the test instead of sending mail.
type resetCapture struct {
	tokens chan string
}

func (n *resetCapture) SendWelcome(ctx context.Context, email, name string) error { return nil }

func (n *resetCapture) SendPasswordReset(ctx context.Context, email, token, baseURL string) error {
	n.tokens <- token
	return nil
}

// setupServer builds the whole service in-process against a throwaway
// database and returns its base URL.
func setupServer(t *testing.T) (string, *resetCapture) {
	t.Helper()

	generous := httpx.RateLimitConfig{RequestsPerWindow: 10000, Window: time.Minute, Burst: 10000}
	httpx.StrictLimit = generous
	httpx.ModerateLimit = generous
	httpx.LenientLimit = generous

	st, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "authd_e2e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	hasher, err := cryptox.NewHasher(cryptox.Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1}, "e2e-pepper")
	require.NoError(t, err)

	issuer, err := jwtx.NewIssuer(jwtx.IssuerConfig{
		AccessSecret:  []byte("e2e-access-secret-0123456789abcd"),
		RefreshSecret: []byte("e2e-refresh-secret-0123456789abc"),
		Issuer:        "authd-e2e",
		Audience:      []string{"examforge"},
	})
	require.NoError(t, err)

	capture := &resetCapture{tokens: make(chan string, 8)}

	sessions := &service.SessionService{
		Store:    st,
		Hasher:   hasher,
		Issuer:   issuer,
		Notifier: capture,
	}
	resets := &service.ResetService{
		Store:        st,
		Hasher:       hasher,
		Notifier:     capture,
		ResetBaseURL: "http://localhost:8080",
	}

	router := httpapi.NewRouter(issuer, "e2e", st, slog.New(slog.DiscardHandler))
	router.Sessions = sessions
	router.Resets = resets
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL, capture
}

func TestAccountLifecycle(t *testing.T) {
	baseURL, _ := setupServer(t)
	client := authsdk.NewClient(baseURL)
	ctx := context.Background()

	auth, err := client.Register(ctx, "alice@example.com", "Alice", "Aa1!aaaa")
	require.NoError(t, err)
	require.Equal(t, "student", auth.Credential.Role)
	require.NotEmpty(t, auth.RefreshToken)

	session, err := client.Login(ctx, "alice@example.com", "Aa1!aaaa")
	require.NoError(t, err)

	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", me.Email)
	require.NotNil(t, me.LastLoginAt)

	name := "Alice Cooper"
	updated, err := session.UpdateProfile(ctx, authsdk.UpdateProfileRequest{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Alice Cooper", updated.Name)

	require.NoError(t, session.ChangePassword(ctx, "Aa1!aaaa", "Bb2!bbbb"))

	// Old password is gone, new one works.
	_, err = client.Login(ctx, "alice@example.com", "Aa1!aaaa")
	var apiErr *authsdk.AuthError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, authsdk.ErrorCodeInvalidCredentials, apiErr.Code)

	session, err = client.Login(ctx, "alice@example.com", "Bb2!bbbb")
	require.NoError(t, err)

	require.NoError(t, session.Logout(ctx))
}

func TestRefreshRotationThroughSDK(t *testing.T) {
	baseURL, _ := setupServer(t)
	client := authsdk.NewClient(baseURL)
	ctx := context.Background()

	auth, err := client.Register(ctx, "bob@example.com", "Bob", "Aa1!aaaa")
	require.NoError(t, err)

	first := auth.RefreshToken
	next, err := client.Refresh(ctx, first)
	require.NoError(t, err)
	require.NotEqual(t, first, next.RefreshToken)

	// The rotated-away token is dead.
	_, err = client.Refresh(ctx, first)
	var apiErr *authsdk.AuthError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, authsdk.ErrorCodeInvalidRefreshToken, apiErr.Code)

	// The replacement still works.
	_, err = client.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err)
}

func TestLockoutThroughSDK(t *testing.T) {
	baseURL, _ := setupServer(t)
	client := authsdk.NewClient(baseURL)
	ctx := context.Background()

	_, err := client.Register(ctx, "carol@example.com", "Carol", "Aa1!aaaa")
	require.NoError(t, err)

	var apiErr *authsdk.AuthError
	for i := range 5 {
		_, err := client.Login(ctx, "carol@example.com", "wrong-password")
		require.ErrorAs(t, err, &apiErr)
		if i < 4 {
			require.Equal(t, authsdk.ErrorCodeInvalidCredentials, apiErr.Code, "failure %d", i+1)
		}
	}

	require.Equal(t, authsdk.ErrorCodeAccountLocked, apiErr.Code)
	require.GreaterOrEqual(t, apiErr.RetryAfterMinutes, 1)

	// Correct password makes no difference while locked.
	_, err = client.Login(ctx, "carol@example.com", "Aa1!aaaa")
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, authsdk.ErrorCodeAccountLocked, apiErr.Code)
}

func TestPasswordResetThroughSDK(t *testing.T) {
	baseURL, capture := setupServer(t)
	client := authsdk.NewClient(baseURL)
	ctx := context.Background()

	_, err := client.Register(ctx, "dave@example.com", "Dave", "Aa1!aaaa")
	require.NoError(t, err)

	require.NoError(t, client.ForgotPassword(ctx, "dave@example.com"))

	var token string
	select {
	case token = <-capture.tokens:
	case <-time.After(5 * time.Second):
		t.Fatal("no reset token arrived")
	}

	require.NoError(t, client.ResetPassword(ctx, token, "Cc3!cccc"))

	// The token is single-use.
	err = client.ResetPassword(ctx, token, "Dd4!dddd")
	var apiErr *authsdk.AuthError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, authsdk.ErrorCodeInvalidOrExpiredToken, apiErr.Code)

	_, err = client.Login(ctx, "dave@example.com", "Cc3!cccc")
	require.NoError(t, err)
}

func TestHealthThroughSDK(t *testing.T) {
	baseURL, _ := setupServer(t)
	client := authsdk.NewClient(baseURL)
	ctx := context.Background()

	require.NoError(t, client.Livez(ctx))
	require.NoError(t, client.Readyz(ctx))
}
