package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager is the Context Store. Every operation on one caller id runs under
// that id's lock, so a request never sees another request's half-applied
// changes.
type Manager struct {
	store    Store
	locks    *keyedLocker
	defaults Defaults
	idleTTL  time.Duration
	now      func() time.Time
}

type ManagerOption func(*Manager)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIdleTTL enables expiry of sessions idle for longer than ttl. Zero keeps
// sessions forever.
func WithIdleTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.idleTTL = ttl
		}
	}
}

func NewManager(store Store, defaults Defaults, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}

	m := &Manager{
		store:    store,
		locks:    newKeyedLocker(),
		defaults: defaults.normalized(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Defaults returns the values new sessions start with.
func (m *Manager) Defaults() Defaults {
	return m.defaults
}

// GetOrCreate returns the caller's session, creating it with defaults on first
// contact. Existing sessions get their interaction time refreshed.
func (m *Manager) GetOrCreate(ctx context.Context, callerID string) (*Session, error) {
	var out *Session
	err := m.withLock(ctx, callerID, func(id string) error {
		now := m.now()
		sess, err := m.store.Load(ctx, id)
		switch {
		case errors.Is(err, ErrSessionNotFound):
			sess = NewSession(id, m.defaults, now)
			log.Ctx(ctx).Info().Str("caller_id", id).Msg("session created")
		case err != nil:
			return fmt.Errorf("load session: %w", err)
		default:
			sess.Touch(now)
		}

		if err := m.store.Save(ctx, sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		out = sess.Clone()
		return nil
	})
	return out, err
}

// Get returns an existing session and refreshes its interaction time.
func (m *Manager) Get(ctx context.Context, callerID string) (*Session, error) {
	var out *Session
	err := m.Modify(ctx, callerID, func(s *Session) error {
		out = s.Clone()
		return nil
	})
	return out, err
}

// Update merges patch into an existing session. Unknown ids fail with
// ErrSessionNotFound.
func (m *Manager) Update(ctx context.Context, callerID string, patch Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return m.Modify(ctx, callerID, func(s *Session) error {
		s.Apply(patch)
		return nil
	})
}

// Modify runs fn as one atomic read-modify-write on an existing session. If fn
// returns an error nothing is saved.
func (m *Manager) Modify(ctx context.Context, callerID string, fn func(*Session) error) error {
	return m.withLock(ctx, callerID, func(id string) error {
		sess, err := m.store.Load(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		if err := fn(sess); err != nil {
			return err
		}
		sess.Touch(m.now())
		if err := sess.Validate(); err != nil {
			return err
		}
		if err := m.store.Save(ctx, sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	})
}

func (m *Manager) Delete(ctx context.Context, callerID string) error {
	return m.withLock(ctx, callerID, func(id string) error {
		return m.store.Delete(ctx, id)
	})
}

// Sweep deletes sessions idle longer than the configured TTL.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	if m.idleTTL <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.idleTTL)
	n, err := m.store.DeleteIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep idle sessions: %w", err)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done. It returns nil
// immediately when expiry is disabled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if m.idleTTL <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	logger := log.With().Str("component", "session_sweeper").Logger()
	logger.Info().Dur("idle_ttl", m.idleTTL).Dur("interval", interval).Msg("session sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("session sweeper stopped")
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("deleted", n).Msg("expired idle sessions")
			}
		}
	}
}

func (m *Manager) withLock(ctx context.Context, callerID string, fn func(id string) error) error {
	id := strings.TrimSpace(callerID)
	if id == "" {
		return ErrInvalidSession
	}
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()
	return fn(id)
}
