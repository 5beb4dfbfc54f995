package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *MemoryStore, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	opts = append([]ManagerOption{WithClock(clock.Now)}, opts...)
	m, err := NewManager(store, Defaults{Language: "hi-IN", Crop: "wheat", LandSizeAcres: 2}, opts...)
	require.NoError(t, err)
	return m, store, clock
}

func TestGetOrCreatePopulatesDefaults(t *testing.T) {
	t.Parallel()

	m, store, clock := newTestManager(t)

	sess, err := m.GetOrCreate(context.Background(), "+911234567")
	require.NoError(t, err)

	assert.Equal(t, "+911234567", sess.ID)
	assert.Equal(t, "hi-IN", sess.Language)
	assert.Equal(t, LocationUnknown, sess.Location)
	assert.Equal(t, "wheat", sess.CurrentCrop)
	assert.Equal(t, 2.0, sess.LandSizeAcres)
	assert.Nil(t, sess.SowingDate)
	assert.Empty(t, sess.LastQuery)
	assert.True(t, sess.LastInteractionTime.Equal(clock.Now()))
	assert.Equal(t, 1, store.Len())
}

func TestGetOrCreateIsIdempotentAndRefreshesTime(t *testing.T) {
	t.Parallel()

	m, store, clock := newTestManager(t)
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "+911234567")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	second, err := m.GetOrCreate(ctx, "+911234567")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Language, second.Language)
	assert.Equal(t, first.Location, second.Location)
	assert.Equal(t, first.CurrentCrop, second.CurrentCrop)
	assert.True(t, second.LastInteractionTime.After(first.LastInteractionTime))
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.Equal(t, 1, store.Len())
}

func TestGetOrCreateMonotonicWithStalledClock(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	ctx := context.Background()

	prev, err := m.GetOrCreate(ctx, "a")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		next, err := m.GetOrCreate(ctx, "a")
		require.NoError(t, err)
		require.True(t, next.LastInteractionTime.After(prev.LastInteractionTime))
		prev = next
	}
}

func TestGetOrCreateRejectsEmptyID(t *testing.T) {
	t.Parallel()

	m, store, _ := newTestManager(t)
	_, err := m.GetOrCreate(context.Background(), "  ")
	require.ErrorIs(t, err, ErrInvalidSession)
	assert.Equal(t, 0, store.Len())
}

func TestUpdateMergesFields(t *testing.T) {
	t.Parallel()

	m, _, clock := newTestManager(t)
	ctx := context.Background()

	_, err := m.GetOrCreate(ctx, "+91999")
	require.NoError(t, err)

	sowing := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)
	clock.Advance(time.Second)
	require.NoError(t, m.Update(ctx, "+91999", Patch{
		Location:   Ptr("Jhansi"),
		SowingDate: &sowing,
		LastQuery:  Ptr("गेहूं में पानी कब देना है?"),
	}))

	got, err := m.Get(ctx, "+91999")
	require.NoError(t, err)
	assert.Equal(t, "Jhansi", got.Location)
	assert.Equal(t, "wheat", got.CurrentCrop)
	require.NotNil(t, got.SowingDate)
	assert.True(t, got.SowingDate.Equal(sowing))
	assert.Equal(t, "गेहूं में पानी कब देना है?", got.LastQuery)
	assert.True(t, got.HasLocation())
}

func TestUpdateUnknownCallerReturnsNotFound(t *testing.T) {
	t.Parallel()

	m, store, _ := newTestManager(t)
	err := m.Update(context.Background(), "ghost", Patch{LastQuery: Ptr("hello")})
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestUpdateRejectsInvalidPatch(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.GetOrCreate(ctx, "a")
	require.NoError(t, err)

	err = m.Update(ctx, "a", Patch{LandSizeAcres: Ptr(-1.0)})
	require.ErrorIs(t, err, ErrInvalidPatch)
}

func TestModifyErrorDoesNotPersist(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.GetOrCreate(ctx, "a")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.Modify(ctx, "a", func(s *Session) error {
		s.CurrentCrop = "paddy"
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "wheat", got.CurrentCrop)
}

func TestConcurrentModifyIsSerialized(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.GetOrCreate(ctx, "+911234567")
	require.NoError(t, err)

	const workers = 64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := m.Modify(ctx, "+911234567", func(s *Session) error {
				acres := s.LandSizeAcres
				time.Sleep(100 * time.Microsecond)
				s.LandSizeAcres = acres + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, "+911234567")
	require.NoError(t, err)
	assert.Equal(t, float64(2+workers), got.LandSizeAcres)
	assert.Equal(t, 0, m.locks.size())
}

func TestConcurrentPartialUpdatesAreNotLost(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.GetOrCreate(ctx, "caller")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.Update(ctx, "caller", Patch{Location: Ptr("Banda")}))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, m.Update(ctx, "caller", Patch{CurrentCrop: Ptr("pearl_millet")}))
	}()
	wg.Wait()

	got, err := m.Get(ctx, "caller")
	require.NoError(t, err)
	assert.Equal(t, "Banda", got.Location)
	assert.Equal(t, "pearl_millet", got.CurrentCrop)
}

func TestSweepDeletesIdleSessions(t *testing.T) {
	t.Parallel()

	m, store, clock := newTestManager(t, WithIdleTTL(time.Hour))
	ctx := context.Background()

	_, err := m.GetOrCreate(ctx, "old")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = m.GetOrCreate(ctx, "fresh")
	require.NoError(t, err)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Len())

	_, err = m.Get(ctx, "old")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweepDisabledByDefault(t *testing.T) {
	t.Parallel()

	m, store, clock := newTestManager(t)
	ctx := context.Background()
	_, err := m.GetOrCreate(ctx, "old")
	require.NoError(t, err)
	clock.Advance(365 * 24 * time.Hour)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.Len())
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	t.Parallel()

	m, store, clock := newTestManager(t, WithIdleTTL(time.Minute))
	_, err := m.GetOrCreate(context.Background(), "old")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.RunSweeper(ctx, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestLockHonoursContext(t *testing.T) {
	t.Parallel()

	l := newKeyedLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, l.size())
}
