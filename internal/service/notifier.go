package service

import "context"

// Notifier delivers account emails. Delivery runs off the request path;
// a failed send is logged by the caller and never fails the operation
// that triggered it.
type Notifier interface {
	// SendWelcome greets a freshly registered account.
	SendWelcome(ctx context.Context, email, name string) error

	// SendPasswordReset delivers a reset link built from baseURL and the
	// plaintext reset token.
	SendPasswordReset(ctx context.Context, email, token, baseURL string) error
}
