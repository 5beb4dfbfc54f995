package state

import (
	"context"
	"time"
)

// Store is the persistence contract behind the Manager. Implementations do
// not need to be safe for concurrent writes to one id; the Manager serializes
// those.
type Store interface {
	Load(ctx context.Context, callerID string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, callerID string) error
	// DeleteIdle removes sessions whose last interaction is before cutoff.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}
