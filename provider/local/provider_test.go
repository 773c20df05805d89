package local

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/hbsportsdirector/rstse-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordedEvent struct {
	event   auth.SessionEvent
	subject string
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) listen(event auth.SessionEvent, session *auth.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subject := ""
	if session != nil {
		subject = session.SubjectID
	}
	r.events = append(r.events, recordedEvent{event: event, subject: subject})
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func newTestProvider(t *testing.T, opts ...Option) *IdentityProvider {
	t.Helper()
	opts = append([]Option{WithBcryptCost(bcrypt.MinCost)}, opts...)
	p, err := NewIdentityProvider([]byte("test-signing-key"), opts...)
	require.NoError(t, err)
	return p
}

func TestNewIdentityProviderRequiresKey(t *testing.T) {
	_, err := NewIdentityProvider(nil)
	require.Error(t, err)
}

func TestSignUpAndSignIn(t *testing.T) {
	p := newTestProvider(t, WithAutoSignIn(false))
	ctx := context.Background()

	subject, err := p.SignUp(ctx, "Jane@Example.com", "supersecret", map[string]any{"role": "player"})
	require.NoError(t, err)
	assert.NotEmpty(t, subject)

	current, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	session, err := p.SignIn(ctx, "jane@example.com", "supersecret")
	require.NoError(t, err)
	assert.Equal(t, subject, session.SubjectID)
	assert.NotEmpty(t, session.AccessToken)

	current, err = p.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, subject, current.SubjectID)
}

func TestSignUpErrors(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "not-an-email", "supersecret", nil)
	assert.ErrorIs(t, err, auth.ErrInvalidEmail)

	_, err = p.SignUp(ctx, "short@example.com", "short", nil)
	assert.ErrorIs(t, err, auth.ErrWeakPassword)

	_, err = p.SignUp(ctx, "dup@example.com", "supersecret", nil)
	require.NoError(t, err)
	_, err = p.SignUp(ctx, "DUP@example.com", "supersecret", nil)
	assert.ErrorIs(t, err, auth.ErrDuplicateEmail)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "sam@example.com", "supersecret", nil)
	require.NoError(t, err)

	_, err = p.SignIn(ctx, "sam@example.com", "wrong-password")
	assert.True(t, auth.IsCredentialError(err))

	_, err = p.SignIn(ctx, "nobody@example.com", "supersecret")
	assert.True(t, auth.IsCredentialError(err))
}

func TestSessionNotifications(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	rec := &eventRecorder{}
	unsubscribe := p.OnSessionChange(rec.listen)

	subject, err := p.SignUp(ctx, "kim@example.com", "supersecret", nil)
	require.NoError(t, err)
	_, err = p.RefreshSession(ctx)
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))
	require.NoError(t, p.SignOut(ctx))

	unsubscribe()
	_, err = p.SignIn(ctx, "kim@example.com", "supersecret")
	require.NoError(t, err)

	assert.Equal(t, []recordedEvent{
		{event: auth.SessionEventSignedIn, subject: subject},
		{event: auth.SessionEventTokenRefreshed, subject: subject},
		{event: auth.SessionEventSignedOut, subject: ""},
	}, rec.all())
}

func TestRestoreSessionValidatesToken(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	issuer := newTestProvider(t, WithClock(clock))
	ctx := context.Background()
	subject, err := issuer.SignUp(ctx, "lee@example.com", "supersecret", nil)
	require.NoError(t, err)
	session, err := issuer.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)

	other := newTestProvider(t, WithClock(clock))
	restored, err := other.RestoreSession(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, subject, restored.SubjectID)

	_, err = other.RestoreSession(ctx, "garbage")
	assert.True(t, auth.IsCredentialError(err))

	now = now.Add(2 * DefaultTokenTTL)
	current, err := other.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, current, "expired tokens read as no session")
}
