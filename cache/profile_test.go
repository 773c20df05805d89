package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	auth "github.com/hbsportsdirector/rstse-sub000"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	mu      sync.Mutex
	finds   int
	records map[string]*auth.ProfileRecord
}

func (s *countingStore) FindProfile(_ context.Context, subjectID string) (*auth.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	rec, ok := s.records[subjectID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	return rec.Clone(), nil
}

func (s *countingStore) InsertProfile(_ context.Context, record *auth.ProfileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = map[string]*auth.ProfileRecord{}
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *countingStore) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

func TestEncodeDecodeProfileKeepsOptionalFields(t *testing.T) {
	team := "u12"
	record := &auth.ProfileRecord{
		ID:        "sub-1",
		Email:     "a@example.com",
		FirstName: "Ann",
		LastName:  "Bee",
		Role:      auth.RoleParent,
		TeamID:    &team,
		CreatedAt: time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
	}

	raw, err := encodeProfile(record)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"team_id":"u12"`)
	assert.Contains(t, string(raw), `"profile_image_url":null`)

	decoded, err := decodeProfile(raw)
	require.NoError(t, err)
	assert.Equal(t, record.ID, decoded.ID)
	assert.Equal(t, auth.RoleParent, decoded.Role)
	require.NotNil(t, decoded.TeamID)
	assert.Equal(t, "u12", *decoded.TeamID)
	assert.Nil(t, decoded.ProfileImageURL)
	assert.True(t, record.CreatedAt.Equal(decoded.CreatedAt))
}

func TestEncodeProfileRejectsNil(t *testing.T) {
	_, err := encodeProfile(nil)
	require.Error(t, err)
}

func TestProfileKey(t *testing.T) {
	assert.Equal(t, "club:profile:abc", profileKey("abc"))
}

func TestProfileCacheFallsThroughWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	store := &countingStore{}
	c := NewProfileCache(store, client)
	ctx := context.Background()

	require.NoError(t, c.InsertProfile(ctx, &auth.ProfileRecord{ID: "sub-1", Email: "a@example.com"}))

	rec, err := c.FindProfile(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", rec.Email)

	_, err = c.FindProfile(ctx, "missing")
	assert.True(t, auth.IsProfileNotFound(err))
	assert.Equal(t, 2, store.findCount())
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func TestProfileCacheResolvesLoggerFromProvider(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	logger := &recordingLogger{}
	unused := &recordingLogger{}
	var names []string
	provider := auth.LoggerProviderFunc(func(name string) auth.Logger {
		names = append(names, name)
		return logger
	})

	c := NewProfileCache(&countingStore{}, client,
		WithLogger(unused),
		WithLoggerProvider(provider),
	)

	_, err := c.FindProfile(context.Background(), "missing")
	assert.True(t, auth.IsProfileNotFound(err))

	assert.Equal(t, []string{"auth.profile_cache"}, names)
	assert.Contains(t, logger.messages(), "profile cache read failed")
	assert.Empty(t, unused.messages())
}

func TestProfileCacheServesFoundRecordsFromRedis(t *testing.T) {
	url := os.Getenv("CLUB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CLUB_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := &countingStore{}
	c := NewProfileCache(store, client, WithTTL(time.Minute))

	id := uuid.NewString()
	t.Cleanup(func() { _ = c.Invalidate(ctx, id) })

	_, err = c.FindProfile(ctx, id)
	assert.True(t, auth.IsProfileNotFound(err))

	require.NoError(t, c.InsertProfile(ctx, &auth.ProfileRecord{ID: id, Email: "b@example.com"}))

	_, err = c.FindProfile(ctx, id)
	require.NoError(t, err)
	rec, err := c.FindProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", rec.Email)

	assert.Equal(t, 2, store.findCount(), "negative read is not cached, second positive read is served by redis")
}
