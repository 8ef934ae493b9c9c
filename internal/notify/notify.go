// Package notify delivers best-effort user notifications. Delivery is
// advisory: access decisions never depend on a notification reaching the
// user.
package notify

import "context"

// Notifier pushes a message to a single user. Implementations must be
// safe for concurrent use and must not block access-path callers for long.
type Notifier interface {
	Notify(ctx context.Context, userID string, message string) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }
