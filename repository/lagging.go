package repository

import (
	"context"
	"sync"
	"time"

	auth "github.com/hbsportsdirector/rstse-sub000"
)

// LaggingStore delays the visibility of inserted profiles by Lag, the way a
// read replica trails its primary. Reads of a hidden row report
// auth.ErrProfileNotFound.
type LaggingStore struct {
	next auth.ProfileStore
	lag  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	visible map[string]time.Time
}

var _ auth.ProfileStore = (*LaggingStore)(nil)

// LaggingOption customizes a LaggingStore.
type LaggingOption func(*LaggingStore)

// WithLaggingClock injects a custom clock (useful for tests).
func WithLaggingClock(clock func() time.Time) LaggingOption {
	return func(s *LaggingStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewLaggingStore wraps next.
func NewLaggingStore(next auth.ProfileStore, lag time.Duration, opts ...LaggingOption) *LaggingStore {
	s := &LaggingStore{
		next:    next,
		lag:     lag,
		now:     time.Now,
		visible: map[string]time.Time{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// FindProfile implements auth.ProfileStore.
func (s *LaggingStore) FindProfile(ctx context.Context, subjectID string) (*auth.ProfileRecord, error) {
	s.mu.Lock()
	at, pending := s.visible[subjectID]
	if pending && !s.now().Before(at) {
		delete(s.visible, subjectID)
		pending = false
	}
	s.mu.Unlock()

	if pending {
		return nil, auth.ErrProfileNotFound
	}
	return s.next.FindProfile(ctx, subjectID)
}

// InsertProfile implements auth.ProfileStore.
func (s *LaggingStore) InsertProfile(ctx context.Context, record *auth.ProfileRecord) error {
	if err := s.next.InsertProfile(ctx, record); err != nil {
		return err
	}
	if s.lag <= 0 || record == nil {
		return nil
	}
	s.mu.Lock()
	s.visible[record.ID] = s.now().Add(s.lag)
	s.mu.Unlock()
	return nil
}
