package auth

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockIdentityProvider implements IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	args := m.Called(ctx, email, password)
	session, _ := args.Get(0).(*Session)
	return session, args.Error(1)
}

func (m *MockIdentityProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (string, error) {
	args := m.Called(ctx, email, password, metadata)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityProvider) CurrentSession(ctx context.Context) (*Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*Session)
	return session, args.Error(1)
}

func (m *MockIdentityProvider) OnSessionChange(listener SessionListener) func() {
	args := m.Called(listener)
	if fn, ok := args.Get(0).(func()); ok {
		return fn
	}
	return func() {}
}

// MockProfileStore implements ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) FindProfile(ctx context.Context, subjectID string) (*ProfileRecord, error) {
	args := m.Called(ctx, subjectID)
	record, _ := args.Get(0).(*ProfileRecord)
	return record, args.Error(1)
}

func (m *MockProfileStore) InsertProfile(ctx context.Context, record *ProfileRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// fakeProvider is a scriptable IdentityProvider that can push notifications.
type fakeProvider struct {
	mu           sync.Mutex
	session      *Session
	listeners    map[int]SessionListener
	nextListener int

	signIn        func(ctx context.Context, email, password string) (*Session, error)
	signUp        func(ctx context.Context, email, password string, metadata map[string]any) (string, error)
	signOutErr    error
	currentErr    error
	beforeCurrent func()
	notify        bool

	signInCalls  int
	signUpCalls  int
	signOutCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: map[int]SessionListener{}}
}

func (p *fakeProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	p.mu.Lock()
	p.signInCalls++
	fn := p.signIn
	p.mu.Unlock()

	if fn == nil {
		return nil, ErrInvalidCredentials
	}
	session, err := fn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	p.setSession(SessionEventSignedIn, session)
	return session, nil
}

func (p *fakeProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (string, error) {
	p.mu.Lock()
	p.signUpCalls++
	fn := p.signUp
	p.mu.Unlock()

	if fn == nil {
		return "", ErrDuplicateEmail
	}
	subject, err := fn(ctx, email, password, metadata)
	if err != nil {
		return "", err
	}
	p.setSession(SessionEventSignedIn, &Session{SubjectID: subject, IssuedAt: time.Now()})
	return subject, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOutCalls++
	err := p.signOutErr
	p.mu.Unlock()

	p.setSession(SessionEventSignedOut, nil)
	return err
}

func (p *fakeProvider) CurrentSession(context.Context) (*Session, error) {
	p.mu.Lock()
	hook := p.beforeCurrent
	p.mu.Unlock()
	if hook != nil {
		hook()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentErr != nil {
		return nil, p.currentErr
	}
	if p.session == nil {
		return nil, nil
	}
	out := *p.session
	return &out, nil
}

func (p *fakeProvider) OnSessionChange(listener SessionListener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextListener++
	id := p.nextListener
	p.listeners[id] = listener
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// setSession stores session and, when notify is on, pushes the event.
func (p *fakeProvider) setSession(event SessionEvent, session *Session) {
	p.mu.Lock()
	p.session = session
	notify := p.notify
	p.mu.Unlock()
	if notify {
		p.emit(event, session)
	}
}

// emit pushes a notification to every listener.
func (p *fakeProvider) emit(event SessionEvent, session *Session) {
	p.mu.Lock()
	listeners := make([]SessionListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()
	for _, l := range listeners {
		l(event, session)
	}
}

func (p *fakeProvider) setCurrent(session *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = session
}

func (p *fakeProvider) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

func (p *fakeProvider) counts() (signIn, signUp, signOut int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signInCalls, p.signUpCalls, p.signOutCalls
}

// scriptedStore answers FindProfile through findFn and counts calls per subject.
type scriptedStore struct {
	mu        sync.Mutex
	findFn    func(ctx context.Context, subjectID string, call int) (*ProfileRecord, error)
	calls     map[string]int
	inserted  []*ProfileRecord
	insertErr error
}

func newScriptedStore(fn func(ctx context.Context, subjectID string, call int) (*ProfileRecord, error)) *scriptedStore {
	return &scriptedStore{findFn: fn, calls: map[string]int{}}
}

func (s *scriptedStore) FindProfile(ctx context.Context, subjectID string) (*ProfileRecord, error) {
	s.mu.Lock()
	s.calls[subjectID]++
	call := s.calls[subjectID]
	fn := s.findFn
	s.mu.Unlock()
	if fn == nil {
		return nil, ErrProfileNotFound
	}
	return fn(ctx, subjectID, call)
}

func (s *scriptedStore) InsertProfile(_ context.Context, record *ProfileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, record.Clone())
	return nil
}

func (s *scriptedStore) setFind(fn func(ctx context.Context, subjectID string, call int) (*ProfileRecord, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findFn = fn
}

func (s *scriptedStore) callCount(subjectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[subjectID]
}

func alwaysFound(records ...*ProfileRecord) func(context.Context, string, int) (*ProfileRecord, error) {
	byID := map[string]*ProfileRecord{}
	for _, r := range records {
		byID[r.ID] = r
	}
	return func(_ context.Context, subjectID string, _ int) (*ProfileRecord, error) {
		if r, ok := byID[subjectID]; ok {
			return r.Clone(), nil
		}
		return nil, ErrProfileNotFound
	}
}

// recordingSleeper returns immediately and records every requested delay.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// gatedSleeper reports each sleep on calls and blocks until release.
type gatedSleeper struct {
	calls   chan time.Duration
	release chan struct{}
}

func newGatedSleeper() *gatedSleeper {
	return &gatedSleeper{
		calls:   make(chan time.Duration, 16),
		release: make(chan struct{}),
	}
}

func (s *gatedSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.calls <- d
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.release:
		return nil
	}
}

// activityRecorder collects activity events.
type activityRecorder struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) types() []ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func testProfile(id, email string) *ProfileRecord {
	return &ProfileRecord{
		ID:        id,
		Email:     email,
		FirstName: "Test",
		LastName:  "Member",
		Role:      RolePlayer,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testPolicy() BackoffPolicy {
	return BackoffPolicy{
		SettleDelay: 10 * time.Millisecond,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		MaxAttempts: DefaultMaxAttempts,
	}
}
