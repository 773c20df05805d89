package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	auth "github.com/hbsportsdirector/rstse-sub000"
	"github.com/redis/go-redis/v9"
)

const (
	profileKeyPrefix = "club:profile:"

	// DefaultProfileTTL is the TTL for cached profile records.
	DefaultProfileTTL = 10 * time.Minute
)

// ErrCacheMiss is returned by Get when no entry exists.
var ErrCacheMiss = errors.New("cache miss")

// ProfileCache decorates a ProfileStore with a read-through Redis cache.
// Only found records are cached; absence is never cached since a missing row
// is usually replication lag that resolves within seconds.
type ProfileCache struct {
	next   auth.ProfileStore
	client redis.Cmdable
	ttl    time.Duration

	loggerProvider auth.LoggerProvider
	logger         auth.Logger
}

var _ auth.ProfileStore = (*ProfileCache)(nil)

// Option customizes a ProfileCache.
type Option func(*ProfileCache)

// WithTTL overrides the entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *ProfileCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger overrides the cache logger.
func WithLogger(logger auth.Logger) Option {
	return func(c *ProfileCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLoggerProvider resolves the cache logger as "auth.profile_cache".
// It takes precedence over WithLogger.
func WithLoggerProvider(provider auth.LoggerProvider) Option {
	return func(c *ProfileCache) {
		if provider != nil {
			c.loggerProvider = provider
		}
	}
}

// NewProfileCache wraps next with client.
func NewProfileCache(next auth.ProfileStore, client redis.Cmdable, opts ...Option) *ProfileCache {
	c := &ProfileCache{
		next:   next,
		client: client,
		ttl:    DefaultProfileTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.loggerProvider, c.logger = auth.ResolveLogger("auth.profile_cache", c.loggerProvider, c.logger)
	return c
}

// Get returns the cached record or ErrCacheMiss.
func (c *ProfileCache) Get(ctx context.Context, subjectID string) (*auth.ProfileRecord, error) {
	raw, err := c.client.Get(ctx, profileKey(subjectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return decodeProfile(raw)
}

// Set stores record under its id.
func (c *ProfileCache) Set(ctx context.Context, record *auth.ProfileRecord) error {
	raw, err := encodeProfile(record)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, profileKey(record.ID), raw, c.ttl).Err()
}

// Invalidate drops the entry for subjectID.
func (c *ProfileCache) Invalidate(ctx context.Context, subjectID string) error {
	return c.client.Del(ctx, profileKey(subjectID)).Err()
}

// FindProfile implements auth.ProfileStore. Cache failures fall through to
// the wrapped store.
func (c *ProfileCache) FindProfile(ctx context.Context, subjectID string) (*auth.ProfileRecord, error) {
	record, err := c.Get(ctx, subjectID)
	switch {
	case err == nil:
		return record, nil
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("profile cache read failed", "subject_id", subjectID, "error", err)
	}

	record, err = c.next.FindProfile(ctx, subjectID)
	if err != nil || record == nil {
		return record, err
	}

	if serr := c.Set(ctx, record); serr != nil {
		c.logger.Warn("profile cache write failed", "subject_id", subjectID, "error", serr)
	}
	return record, nil
}

// InsertProfile implements auth.ProfileStore. A stale entry for the id is
// dropped once the wrapped insert succeeds.
func (c *ProfileCache) InsertProfile(ctx context.Context, record *auth.ProfileRecord) error {
	if err := c.next.InsertProfile(ctx, record); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, record.ID); err != nil {
		c.logger.Warn("profile cache invalidate failed", "subject_id", record.ID, "error", err)
	}
	return nil
}

func profileKey(subjectID string) string {
	return profileKeyPrefix + subjectID
}

func encodeProfile(record *auth.ProfileRecord) ([]byte, error) {
	if record == nil {
		return nil, errors.New("profile record is nil")
	}
	return json.Marshal(record)
}

func decodeProfile(raw []byte) (*auth.ProfileRecord, error) {
	var record auth.ProfileRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
