package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/examforge/authd/internal/store"
	"github.com/examforge/authd/pkg/cryptox"
	"github.com/examforge/authd/pkg/slogx"
)

// DefaultResetTokenTTL is how long a reset token stays usable.
const DefaultResetTokenTTL = time.Hour

// ErrInvalidOrExpiredToken covers unknown, expired and already-consumed
// reset tokens. The three cases are indistinguishable on purpose.
var ErrInvalidOrExpiredToken = errors.New("invalid_or_expired_token")

// ResetService runs the forgot-password flow: minting single-use reset
// tokens and consuming them. Only SHA-256 fingerprints of the tokens are
// stored; the raw value lives solely in the reset email.
type ResetService struct {
	Store    store.Store
	Hasher   *cryptox.Hasher
	Notifier Notifier

	// ResetBaseURL is where the emailed reset link points.
	ResetBaseURL string

	// TokenTTL defaults to one hour.
	TokenTTL time.Duration

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (s *ResetService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *ResetService) tokenTTL() time.Duration {
	if s.TokenTTL > 0 {
		return s.TokenTTL
	}
	return DefaultResetTokenTTL
}

// RequestReset starts a password reset for email. The caller gets the same
// nil result whether or not the email is registered, so the endpoint leaks
// nothing about which emails exist. For a registered email a fresh token
// replaces any outstanding one and goes out through the Notifier.
func (s *ResetService) RequestReset(ctx context.Context, email string) error {
	now := s.now()
	l := slogx.FromContext(ctx)

	cred, err := s.Store.Credentials().GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	expiresAt := now.Add(s.tokenTTL())
	if err := s.Store.Credentials().SetResetToken(ctx, cred.ID, cryptox.FingerprintToken(token), expiresAt); err != nil {
		return err
	}

	l.Info("password reset requested",
		slog.String("credential_id", cred.ID),
		slog.Time("expires_at", expiresAt),
	)

	if s.Notifier != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()

			if err := s.Notifier.SendPasswordReset(ctx, cred.Email, token, s.ResetBaseURL); err != nil {
				l.Warn("reset notification failed", slog.Any("error", err))
			}
		}()
	}

	return nil
}

// ResetPassword consumes a reset token and installs the new password. The
// consuming update also clears the lockout state, so a locked-out user who
// proves control of their email gets back in immediately. Each token works
// exactly once.
func (s *ResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	now := s.now()

	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.Store.Credentials().ConsumeResetToken(ctx, cryptox.FingerprintToken(token), hash, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}
	return nil
}
