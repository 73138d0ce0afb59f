// Package notify holds Notifier implementations. The log notifier stands
// in until a real mail sender is wired up; it writes the would-be email to
// the structured log, including the reset link, which makes local testing
// of the forgot-password flow possible without an SMTP server.
package notify

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

// LogNotifier logs notifications instead of delivering them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) SendWelcome(ctx context.Context, email, name string) error {
	n.Logger.InfoContext(ctx, "welcome notification",
		slog.String("email", email),
		slog.String("name", name),
	)
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, email, token, baseURL string) error {
	link := strings.TrimSuffix(baseURL, "/") + "/reset?token=" + url.QueryEscape(token)
	n.Logger.InfoContext(ctx, "password reset notification",
		slog.String("email", email),
		slog.String("link", link),
	)
	return nil
}
