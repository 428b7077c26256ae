// Package store defines the session persistence contract shared by the
// in-memory and postgres backends.
package store

import (
	"context"
	"errors"
	"time"

	"sdabot/internal/domain"
)

// ErrNotFound is returned when no session exists for an account.
var ErrNotFound = errors.New("store: session not found")

// Store persists one web session per account.
type Store interface {
	SaveSession(ctx context.Context, account string, state domain.SessionState) error
	LoadSession(ctx context.Context, account string) (domain.SessionState, error)
	DeleteSession(ctx context.Context, account string) error
	LastUpdate(ctx context.Context, account string) (time.Time, error)
}
