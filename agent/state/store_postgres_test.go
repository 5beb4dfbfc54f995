package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRowMappingRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
	sowing := time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)
	sess := NewSession("+911234567", Defaults{Crop: "paddy", LandSizeAcres: 1.25}, now)
	sess.SowingDate = &sowing
	sess.LastQuery = "धान का भाव"

	row := toRow(sess, now.Add(time.Minute))
	assert.Equal(t, "+911234567", row.CallerID)
	assert.True(t, row.UpdatedAt.Equal(now.Add(time.Minute)))

	back := row.toSession()
	require.NotNil(t, back.SowingDate)
	assert.Equal(t, sess.ID, back.ID)
	assert.Equal(t, sess.CurrentCrop, back.CurrentCrop)
	assert.Equal(t, sess.LandSizeAcres, back.LandSizeAcres)
	assert.Equal(t, sess.LastQuery, back.LastQuery)
	assert.True(t, back.SowingDate.Equal(sowing))

	// the row must not alias the session's date
	*row.SowingDate = row.SowingDate.AddDate(0, 0, 1)
	assert.True(t, sess.SowingDate.Equal(sowing))
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresStore(t.Context(), " ")
	require.Error(t, err)
}

func TestOpenStoreSelectsBackend(t *testing.T) {
	t.Parallel()

	store, closer, err := OpenStore(t.Context(), Config{Backend: "memory"})
	require.NoError(t, err)
	require.NotNil(t, closer)
	assert.IsType(t, &MemoryStore{}, store)

	_, _, err = OpenStore(t.Context(), Config{Backend: "cassandra"})
	require.Error(t, err)
}
