package auth

import (
	"context"
	"sort"
	"sync"
)

// Snapshot is the consumer view of the session: the published user and
// whether the first reconciliation is still pending.
type Snapshot struct {
	User    *User
	Loading bool
	State   State
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.User = s.User.Clone()
	out.State = s.State.clone()
	return out
}

// SnapshotListener is called after every committed publish. Listeners run
// serialized in publish order and must not call Login, Register, Logout or
// Close synchronously.
type SnapshotListener func(Snapshot)

// sessionState is the single owned cell behind the reconciler. Every write
// goes through publish, which drops results for stale epochs.
type sessionState struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	machine *SessionStateMachine

	epoch        uint64
	observations uint64
	target       string
	observed     bool
	closed       bool

	snapshot      Snapshot
	resolvedEpoch uint64

	listeners    map[uint64]SnapshotListener
	nextListener uint64

	ready     chan struct{}
	readyDone bool
}

func newSessionState(machine *SessionStateMachine) *sessionState {
	if machine == nil {
		machine = NewSessionStateMachine()
	}
	return &sessionState{
		machine:   machine,
		snapshot:  Snapshot{Loading: true, State: State{Kind: StateIdle}},
		listeners: map[uint64]SnapshotListener{},
		ready:     make(chan struct{}),
	}
}

// observe records subject as the most recent session target. The epoch only
// moves when the target changes.
func (s *sessionState) observe(subject string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observeLocked(subject)
}

// observeIfUnchanged observes subject only if no other observation happened
// since the observation count was read.
func (s *sessionState) observeIfUnchanged(since uint64, subject string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observations != since {
		return 0, false
	}
	return s.observeLocked(subject)
}

// observeIfTarget observes subject only while expected is still the latest
// observed subject.
func (s *sessionState) observeIfTarget(expected, subject string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.observed || s.target != expected {
		return 0, false
	}
	return s.observeLocked(subject)
}

func (s *sessionState) observeLocked(subject string) (uint64, bool) {
	if s.closed {
		return 0, false
	}
	s.observations++
	if !s.observed || s.target != subject {
		s.epoch++
		s.target = subject
		s.observed = true
	}
	return s.epoch, true
}

func (s *sessionState) observationCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observations
}

func (s *sessionState) isCurrent(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.epoch == epoch
}

// current returns the epoch and subject of the latest observation.
func (s *sessionState) current() (uint64, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch, s.target, s.observed && !s.closed
}

// publish commits next if epoch is still current. Resolving and Failed are
// ignored once the same epoch already resolved a user, so re-syncs never
// retract a published profile.
func (s *sessionState) publish(ctx context.Context, epoch uint64, next State) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		return wrapError(ErrSessionSuperseded, nil, map[string]any{
			"subject_id": next.SubjectID,
			"state":      string(next.Kind),
		})
	}
	if next.Kind == StateResolved && next.User == nil {
		s.mu.Unlock()
		return wrapError(ErrInvalidStateTransition, nil, map[string]any{"reason": "resolved state without user"})
	}

	prev := s.snapshot.State
	if prev.Kind == StateResolved && s.resolvedEpoch == epoch &&
		(next.Kind == StateResolving || next.Kind == StateFailed) {
		s.mu.Unlock()
		return nil
	}

	committed, err := s.machine.Transition(prev, next)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.snapshot.State = committed
	if committed.Kind.Terminal() {
		s.snapshot.User = committed.User
		s.snapshot.Loading = false
		if !s.readyDone {
			s.readyDone = true
			close(s.ready)
		}
	}
	if committed.Kind == StateResolved {
		s.resolvedEpoch = epoch
	}

	snap := s.snapshot.clone()
	listeners := s.sortedListenersLocked()
	s.mu.Unlock()

	s.machine.Record(ctx, prev, committed)
	for _, listener := range listeners {
		listener(snap.clone())
	}
	return nil
}

func (s *sessionState) sortedListenersLocked() []SnapshotListener {
	if len(s.listeners) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]SnapshotListener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}

// close invalidates every epoch. Later publishes are discarded.
func (s *sessionState) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.epoch++
	s.listeners = map[uint64]SnapshotListener{}
	if !s.readyDone {
		s.readyDone = true
		close(s.ready)
	}
}

func (s *sessionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

func (s *sessionState) Subscribe(listener SnapshotListener) func() {
	if listener == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Ready is closed once Loading flips to false, or on close.
func (s *sessionState) Ready() <-chan struct{} {
	return s.ready
}
