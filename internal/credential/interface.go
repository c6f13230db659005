package credential

import (
	"context"
	"errors"
)

// ErrAuthNotReady means no usable session token is stored yet. Callers
// should defer the action and retry rather than treat it as a failure.
var ErrAuthNotReady = errors.New("session token not available")

// Store persists the admin session token under a name.
type Store interface {
	Load(ctx context.Context, name string) (string, error)
	Save(ctx context.Context, name, token string) error
	Delete(ctx context.Context, name string) error
	Close() error
}
