package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/hbsportsdirector/rstse-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]*auth.ProfileRecord
}

func (m *memoryStore) FindProfile(_ context.Context, subjectID string) (*auth.ProfileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[subjectID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	return rec.Clone(), nil
}

func (m *memoryStore) InsertProfile(_ context.Context, record *auth.ProfileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = map[string]*auth.ProfileRecord{}
	}
	m.records[record.ID] = record.Clone()
	return nil
}

func TestLaggingStoreHidesRowsUntilLagElapsed(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := NewLaggingStore(&memoryStore{}, 2*time.Second, WithLaggingClock(clock))
	ctx := context.Background()

	require.NoError(t, store.InsertProfile(ctx, &auth.ProfileRecord{ID: "sub-1", Email: "a@example.com"}))

	_, err := store.FindProfile(ctx, "sub-1")
	assert.True(t, auth.IsProfileNotFound(err))

	now = now.Add(time.Second)
	_, err = store.FindProfile(ctx, "sub-1")
	assert.True(t, auth.IsProfileNotFound(err))

	now = now.Add(time.Second)
	rec, err := store.FindProfile(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", rec.Email)
}

func TestLaggingStoreWithoutLagPassesThrough(t *testing.T) {
	store := NewLaggingStore(&memoryStore{}, 0)
	ctx := context.Background()

	require.NoError(t, store.InsertProfile(ctx, &auth.ProfileRecord{ID: "sub-2"}))
	rec, err := store.FindProfile(ctx, "sub-2")
	require.NoError(t, err)
	assert.Equal(t, "sub-2", rec.ID)
}
