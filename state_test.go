package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateStartsLoading(t *testing.T) {
	s := newSessionState(nil)

	snap := s.Snapshot()
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.User)
	assert.Equal(t, StateIdle, snap.State.Kind)

	select {
	case <-s.Ready():
		t.Fatal("ready closed before first publish")
	default:
	}
}

func TestSessionStateObserveMovesEpochOnlyOnChange(t *testing.T) {
	s := newSessionState(nil)

	first, ok := s.observe("sub-1")
	require.True(t, ok)
	again, ok := s.observe("sub-1")
	require.True(t, ok)
	assert.Equal(t, first, again)

	next, ok := s.observe("sub-2")
	require.True(t, ok)
	assert.Greater(t, next, first)

	out, ok := s.observe("")
	require.True(t, ok)
	assert.Greater(t, out, next)
	assert.Equal(t, uint64(4), s.observationCount())
}

func TestSessionStateObserveIfUnchanged(t *testing.T) {
	s := newSessionState(nil)
	since := s.observationCount()

	_, ok := s.observe("sub-2")
	require.True(t, ok)

	_, ok = s.observeIfUnchanged(since, "sub-1")
	assert.False(t, ok)

	_, target, _ := s.current()
	assert.Equal(t, "sub-2", target)
}

func TestSessionStateObserveIfTarget(t *testing.T) {
	s := newSessionState(nil)

	_, ok := s.observeIfTarget("sub-1", "")
	assert.False(t, ok, "nothing observed yet")

	first, ok := s.observe("sub-1")
	require.True(t, ok)
	_, ok = s.observe("sub-2")
	require.True(t, ok)

	_, ok = s.observeIfTarget("sub-1", "")
	assert.False(t, ok)
	_, target, _ := s.current()
	assert.Equal(t, "sub-2", target)

	out, ok := s.observeIfTarget("sub-2", "")
	require.True(t, ok)
	assert.Greater(t, out, first)
	_, target, _ = s.current()
	assert.Empty(t, target)
}

func TestSessionStatePublishDropsStaleEpoch(t *testing.T) {
	s := newSessionState(nil)
	ctx := context.Background()

	stale, _ := s.observe("sub-1")
	_, _ = s.observe("sub-2")

	user := NewUserFromProfile(testProfile("sub-1", "one@example.com"))
	err := s.publish(ctx, stale, ResolvedState(user))
	require.Error(t, err)
	assert.True(t, IsSessionSuperseded(err))

	snap := s.Snapshot()
	assert.Nil(t, snap.User)
	assert.True(t, snap.Loading)
}

func TestSessionStateLoadingFlipsOnce(t *testing.T) {
	s := newSessionState(nil)
	ctx := context.Background()

	epoch, _ := s.observe("sub-1")
	require.NoError(t, s.publish(ctx, epoch, ResolvingState(ReconciliationAttempt{SubjectID: "sub-1", AttemptNumber: 1})))
	assert.True(t, s.Snapshot().Loading)

	user := NewUserFromProfile(testProfile("sub-1", "one@example.com"))
	require.NoError(t, s.publish(ctx, epoch, ResolvedState(user)))
	assert.False(t, s.Snapshot().Loading)
	<-s.Ready()

	next, _ := s.observe("sub-2")
	require.NoError(t, s.publish(ctx, next, ResolvingState(ReconciliationAttempt{SubjectID: "sub-2", AttemptNumber: 1})))

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, StateResolving, snap.State.Kind)
	require.NotNil(t, snap.User)
	assert.Equal(t, "sub-1", snap.User.ID)
}

func TestSessionStateResolvedIsNotRetractedBySameEpoch(t *testing.T) {
	s := newSessionState(nil)
	ctx := context.Background()

	epoch, _ := s.observe("sub-1")
	user := NewUserFromProfile(testProfile("sub-1", "one@example.com"))
	require.NoError(t, s.publish(ctx, epoch, ResolvedState(user)))

	require.NoError(t, s.publish(ctx, epoch, ResolvingState(ReconciliationAttempt{SubjectID: "sub-1", AttemptNumber: 1})))
	require.NoError(t, s.publish(ctx, epoch, FailedState("sub-1", ErrReconciliationExhausted)))

	snap := s.Snapshot()
	assert.Equal(t, StateResolved, snap.State.Kind)
	assert.True(t, user.Equal(snap.User))
}

func TestSessionStateRejectsResolvedWithoutUser(t *testing.T) {
	s := newSessionState(nil)
	epoch, _ := s.observe("sub-1")

	err := s.publish(context.Background(), epoch, ResolvedState(nil))
	assert.True(t, hasTextCode(err, TextCodeInvalidStateTransition))
}

func TestSessionStateListenersRunInOrder(t *testing.T) {
	s := newSessionState(nil)
	ctx := context.Background()

	var order []string
	unsubscribeFirst := s.Subscribe(func(Snapshot) { order = append(order, "first") })
	s.Subscribe(func(snap Snapshot) {
		order = append(order, "second:"+string(snap.State.Kind))
		snap.State.Kind = StateFailed
	})

	epoch, _ := s.observe("")
	require.NoError(t, s.publish(ctx, epoch, NoSessionState()))
	assert.Equal(t, []string{"first", "second:no_session"}, order)
	assert.Equal(t, StateNoSession, s.Snapshot().State.Kind)

	unsubscribeFirst()
	unsubscribeFirst()
	require.NoError(t, s.publish(ctx, epoch, NoSessionState()))
	assert.Equal(t, []string{"first", "second:no_session", "second:no_session"}, order)
}

func TestSessionStateCloseDiscardsPublishes(t *testing.T) {
	s := newSessionState(nil)
	epoch, _ := s.observe("sub-1")

	s.close()
	<-s.Ready()

	user := NewUserFromProfile(testProfile("sub-1", "one@example.com"))
	err := s.publish(context.Background(), epoch, ResolvedState(user))
	assert.True(t, IsSessionSuperseded(err))
	assert.Nil(t, s.Snapshot().User)

	_, ok := s.observe("sub-2")
	assert.False(t, ok)
	assert.False(t, s.isCurrent(epoch))
	s.close()
}

func TestSessionStateSnapshotIsACopy(t *testing.T) {
	s := newSessionState(nil)
	epoch, _ := s.observe("sub-1")
	require.NoError(t, s.publish(context.Background(), epoch, ResolvedState(NewUserFromProfile(testProfile("sub-1", "one@example.com")))))

	snap := s.Snapshot()
	snap.User.Email = "mutated@example.com"
	assert.Equal(t, "one@example.com", s.Snapshot().User.Email)
}
