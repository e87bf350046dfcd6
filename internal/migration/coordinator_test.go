package migration

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdash/termd/internal/session"
	"github.com/quantdash/termd/internal/store"
)

func record(id, projectID string) session.Record {
	now := time.Now().UTC()
	return session.Record{
		ID:               id,
		ProjectID:        projectID,
		Kind:             session.KindInteractive,
		WorkingDirectory: "/tmp",
		Status:           session.StatusActive,
		Cols:             80,
		Rows:             24,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastActivityAt:   now,
	}
}

func TestFlagsMode(t *testing.T) {
	assert.Equal(t, "legacy", Flags{}.Mode())
	assert.Equal(t, "modern", Flags{ModernCreate: true, ModernLookup: true, ModernDelete: true, ModernList: true}.Mode())
	assert.Equal(t, "mixed", Flags{ModernCreate: true}.Mode())
}

func TestLegacyRouting(t *testing.T) {
	legacy := store.NewMemory()
	modern := store.NewMemory()
	coord := NewCoordinator(Flags{}, legacy, modern)

	require.NoError(t, coord.Put(record("sess_a", "proj")))
	assert.Equal(t, 1, legacy.Len())
	assert.Equal(t, 0, modern.Len())

	got, ok, err := coord.Get("sess_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "proj", got.ProjectID)

	status := coord.Status()
	assert.Equal(t, "legacy", status.Mode)
	assert.NotZero(t, status.LegacyServed)
	assert.Zero(t, status.Errors)
}

func TestModernRouting(t *testing.T) {
	legacy := store.NewMemory()
	modern := store.NewMemory()
	flags := Flags{ModernCreate: true, ModernLookup: true, ModernDelete: true, ModernList: true}
	coord := NewCoordinator(flags, legacy, modern)

	require.NoError(t, coord.Put(record("sess_b", "proj")))
	assert.Equal(t, 0, legacy.Len())
	assert.Equal(t, 1, modern.Len())

	records, err := coord.List("proj")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "modern", coord.Status().Mode)
}

func TestMixedLookupFallsThrough(t *testing.T) {
	legacy := store.NewMemory()
	modern := store.NewMemory()

	// Writes land on the modern path but lookups are still flagged legacy.
	coord := NewCoordinator(Flags{ModernCreate: true}, legacy, modern)
	require.NoError(t, coord.Put(record("sess_c", "proj")))

	got, ok, err := coord.Get("sess_c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sess_c", got.ID)
	assert.Equal(t, "mixed", coord.Status().Mode)
}

func TestDeleteReachesBothBackends(t *testing.T) {
	legacy := store.NewMemory()
	modern := store.NewMemory()
	require.NoError(t, legacy.Put(record("sess_d", "proj")))
	require.NoError(t, modern.Put(record("sess_d", "proj")))

	coord := NewCoordinator(Flags{ModernDelete: true}, legacy, modern)
	require.NoError(t, coord.Delete("sess_d"))

	assert.Equal(t, 0, legacy.Len())
	assert.Equal(t, 0, modern.Len())
}

type failingStore struct{ session.Store }

func (f *failingStore) Put(session.Record) error {
	return errors.New("disk on fire")
}

func TestStatusRecommendsOnErrors(t *testing.T) {
	legacy := store.NewMemory()
	modern := &failingStore{Store: store.NewMemory()}
	coord := NewCoordinator(Flags{ModernCreate: true}, legacy, modern)

	for i := 0; i < 5; i++ {
		assert.Error(t, coord.Put(record("sess_e", "proj")))
	}

	status := coord.Status()
	assert.Equal(t, uint64(5), status.Errors)
	require.NotEmpty(t, status.Recommendations)
	assert.Contains(t, status.Recommendations[0], "error rate")
}

func TestStatusRecommendsDrainingLegacy(t *testing.T) {
	legacy := store.NewMemory()
	modern := store.NewMemory()
	coord := NewCoordinator(Flags{ModernCreate: true, ModernLookup: true, ModernList: true}, legacy, modern)

	require.NoError(t, coord.Put(record("sess_f", "proj")))
	for i := 0; i < 25; i++ {
		_, _, err := coord.Get("sess_f")
		require.NoError(t, err)
	}

	status := coord.Status()
	require.NotEmpty(t, status.Recommendations)
	assert.Contains(t, status.Recommendations[0], "legacy path nearly drained")
}
