package service

import (
	"context"

	"github.com/vedran77/chatsync/internal/domain"
)

// Notifier dispatches a push for a new message. Implementations are
// fire-and-forget: the caller logs a failure and moves on.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}
