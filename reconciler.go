package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"
)

// Reconciler owns the current user state. It turns identity provider
// sessions into published users by reading the profile store with bounded
// retries, and discards results from superseded cycles.
type Reconciler struct {
	provider IdentityProvider
	store    ProfileStore

	fetcher *ProfileFetcher
	backoff *Backoff
	machine *SessionStateMachine
	state   *sessionState
	loops   singleflight.Group

	config         Config
	policy         *BackoffPolicy
	sleeper        Sleeper
	now            func() time.Time
	activitySink   ActivitySink
	logger         Logger
	loggerProvider LoggerProvider

	mu          sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()
	lifetime    context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithConfig reads the backoff policy from cfg.
func WithConfig(cfg Config) ReconcilerOption {
	return func(r *Reconciler) {
		r.config = cfg
	}
}

// WithBackoffPolicy sets the policy directly, overriding WithConfig.
func WithBackoffPolicy(policy BackoffPolicy) ReconcilerOption {
	return func(r *Reconciler) {
		r.policy = &policy
	}
}

// WithSleeper replaces the timer used for settle and backoff waits.
func WithSleeper(sleeper Sleeper) ReconcilerOption {
	return func(r *Reconciler) {
		if sleeper != nil {
			r.sleeper = sleeper
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithActivitySink sets the sink receiving reconcile and credential events.
func WithActivitySink(sink ActivitySink) ReconcilerOption {
	return func(r *Reconciler) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

// WithLogger overrides the reconciler logger.
func WithLogger(logger Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLoggerProvider sets the provider used for every component logger.
func WithLoggerProvider(provider LoggerProvider) ReconcilerOption {
	return func(r *Reconciler) {
		if provider != nil {
			r.loggerProvider = provider
		}
	}
}

// NewReconciler wires the reconciler. Call Start to begin observing the provider.
func NewReconciler(provider IdentityProvider, store ProfileStore, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		provider:     provider,
		store:        store,
		now:          time.Now,
		activitySink: noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	r.loggerProvider, r.logger = ResolveLogger("auth.reconciler", r.loggerProvider, r.logger)

	policy := BackoffPolicyFromConfig(r.config)
	if r.policy != nil {
		policy = *r.policy
	}
	r.backoff = NewBackoff(policy, r.sleeper)
	r.fetcher = NewProfileFetcher(store, WithProfileFetcherLoggerProvider(r.loggerProvider))
	r.machine = NewSessionStateMachine(
		WithStateMachineClock(r.now),
		WithStateMachineActivitySink(r.activitySink),
		WithStateMachineLoggerProvider(r.loggerProvider),
	)
	r.state = newSessionState(r.machine)
	r.lifetime, r.cancel = context.WithCancel(context.Background())
	return r
}

// Start subscribes to provider notifications and reconciles the current
// session. A missing session is published before Start returns; a present
// one is resolved in the background.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrReconcilerClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	since := r.state.observationCount()
	unsubscribe := r.provider.OnSessionChange(r.handleSessionChange)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return ErrReconcilerClosed
	}
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	session, err := r.provider.CurrentSession(ctx)
	if err != nil {
		r.logger.Warn("current session read failed", "error", err)
		session = nil
	}

	subject := sessionSubject(session)
	epoch, ok := r.state.observeIfUnchanged(since, subject)
	if !ok {
		r.logger.Debug("initial session read superseded by notification", "subject_id", subject)
		return nil
	}

	if subject == "" {
		if perr := r.state.publish(ctx, epoch, NoSessionState()); perr != nil && !IsSessionSuperseded(perr) {
			return perr
		}
		if err != nil {
			return classifyProviderError(err, ErrNetwork)
		}
		return nil
	}

	r.spawn(func(lifetime context.Context) {
		if _, err := r.reconcile(lifetime, epoch, subject, false); err != nil {
			r.logReconcileError("initial reconciliation ended", subject, err)
		}
	})
	return nil
}

// handleSessionChange observes the new target synchronously and defers
// the fetch to its own goroutine.
func (r *Reconciler) handleSessionChange(event SessionEvent, session *Session) {
	subject := sessionSubject(session)
	epoch, ok := r.state.observe(subject)
	if !ok {
		return
	}
	r.logger.Debug("session change observed", "event", event, "subject_id", subject, "epoch", epoch)

	r.spawn(func(lifetime context.Context) {
		if _, err := r.reconcile(lifetime, epoch, subject, false); err != nil {
			r.logReconcileError("notification reconciliation ended", subject, err)
		}
	})
}

func (r *Reconciler) logReconcileError(msg, subject string, err error) {
	if IsSessionSuperseded(err) {
		r.logger.Debug(msg, "subject_id", subject, "error", err)
		return
	}
	r.logger.Warn(msg, "subject_id", subject, "error", err)
}

// acquire registers a background task unless the reconciler is closed.
func (r *Reconciler) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	return true
}

func (r *Reconciler) spawn(fn func(context.Context)) bool {
	if !r.acquire() {
		return false
	}
	go func() {
		defer r.wg.Done()
		fn(r.lifetime)
	}()
	return true
}

func (r *Reconciler) reconcile(ctx context.Context, epoch uint64, subject string, settle bool) (*User, error) {
	if subject == "" {
		return nil, r.state.publish(ctx, epoch, NoSessionState())
	}
	return r.resolveShared(ctx, epoch, subject, settle)
}

// resolveShared joins the fetch loop for (epoch, subject), starting it if
// none is running. The loop runs on the reconciler lifetime so a caller
// giving up does not cancel it for the others.
func (r *Reconciler) resolveShared(ctx context.Context, epoch uint64, subject string, settle bool) (*User, error) {
	key := strconv.FormatUint(epoch, 10) + ":" + subject
	ch := r.loops.DoChan(key, func() (any, error) {
		if !r.acquire() {
			return nil, ErrReconcilerClosed
		}
		defer r.wg.Done()
		return r.fetchLoop(r.lifetime, epoch, subject, settle)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		user, _ := res.Val.(*User)
		if res.Err != nil {
			return nil, res.Err
		}
		return user.Clone(), nil
	}
}

func (r *Reconciler) fetchLoop(ctx context.Context, epoch uint64, subject string, settle bool) (*User, error) {
	cycleID := ulid.Make().String()
	maxAttempts := r.backoff.MaxAttempts()
	meta := func() map[string]any {
		return map[string]any{"subject_id": subject, "cycle_id": cycleID}
	}

	if settle {
		if err := r.backoff.Settle(ctx); err != nil {
			return nil, wrapError(ErrSessionSuperseded, err, meta())
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !r.state.isCurrent(epoch) {
			return nil, wrapError(ErrSessionSuperseded, nil, meta())
		}

		current := ReconciliationAttempt{
			CycleID:       cycleID,
			SubjectID:     subject,
			AttemptNumber: attempt + 1,
			StartedAt:     r.now().UTC(),
		}
		if err := r.state.publish(ctx, epoch, ResolvingState(current)); err != nil {
			return nil, err
		}

		result := r.fetcher.Fetch(ctx, subject)
		if result.Found() {
			user := NewUserFromProfile(result.Record)
			if err := r.state.publish(ctx, epoch, ResolvedState(user)); err != nil {
				return nil, err
			}
			r.logger.Info("profile reconciled",
				"subject_id", subject,
				"cycle_id", cycleID,
				"attempt", current.AttemptNumber,
			)
			return user, nil
		}

		lastErr = result.Err
		if lastErr == nil {
			lastErr = wrapError(ErrProfileNotFound, nil, meta())
		}
		r.logger.Info("profile not available",
			"subject_id", subject,
			"cycle_id", cycleID,
			"attempt", current.AttemptNumber,
			"max_attempts", maxAttempts,
			"started_at", current.StartedAt,
			"outcome", result.Outcome.String(),
		)

		if r.backoff.Exhausted(attempt + 1) {
			break
		}
		if err := r.backoff.Wait(ctx, attempt); err != nil {
			return nil, wrapError(ErrSessionSuperseded, err, meta())
		}
	}

	exhaustedMeta := meta()
	exhaustedMeta["attempts"] = maxAttempts
	exhausted := wrapError(ErrReconciliationExhausted, lastErr, exhaustedMeta)
	if err := r.state.publish(ctx, epoch, FailedState(subject, exhausted)); err != nil {
		return nil, err
	}
	r.logger.Warn("profile reconciliation exhausted",
		"subject_id", subject,
		"cycle_id", cycleID,
		"attempts", maxAttempts,
		"error", lastErr,
	)
	return nil, exhausted
}

// Reconcile re-runs the fetch loop for the most recently observed session.
// It returns nil, nil when there is no session.
func (r *Reconciler) Reconcile(ctx context.Context) (*User, error) {
	epoch, subject, ok := r.state.current()
	if !ok {
		if r.isClosed() {
			return nil, ErrReconcilerClosed
		}
		return nil, nil
	}
	if subject == "" {
		return nil, nil
	}
	return r.resolveShared(ctx, epoch, subject, false)
}

// Refresh reads the provider session again and reconciles it. Loading is
// not re-entered.
func (r *Reconciler) Refresh(ctx context.Context) (*User, error) {
	if r.isClosed() {
		return nil, ErrReconcilerClosed
	}
	session, err := r.provider.CurrentSession(ctx)
	if err != nil {
		return nil, classifyProviderError(err, ErrNetwork)
	}
	subject := sessionSubject(session)
	epoch, ok := r.state.observe(subject)
	if !ok {
		return nil, ErrReconcilerClosed
	}
	return r.reconcile(ctx, epoch, subject, false)
}

// Snapshot returns a copy of the current consumer view.
func (r *Reconciler) Snapshot() Snapshot {
	return r.state.Snapshot()
}

// CurrentUser returns the published user, if any.
func (r *Reconciler) CurrentUser() *User {
	return r.state.Snapshot().User
}

// Loading reports whether the first reconciliation is still pending.
func (r *Reconciler) Loading() bool {
	return r.state.Snapshot().Loading
}

// Subscribe registers listener for every committed publish.
func (r *Reconciler) Subscribe(listener SnapshotListener) func() {
	return r.state.Subscribe(listener)
}

// Ready is closed once the first reconciliation completed, or on Close.
func (r *Reconciler) Ready() <-chan struct{} {
	return r.state.Ready()
}

// WaitReady blocks until Ready is closed or ctx is done. It returns
// ErrReconcilerClosed when Ready closed because of Close while the
// snapshot was still loading.
func (r *Reconciler) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.state.Ready():
	}
	if r.isClosed() && r.state.Snapshot().Loading {
		return ErrReconcilerClosed
	}
	return nil
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close unsubscribes from the provider, invalidates in-flight cycles and
// waits for background work to stop. It is safe to call more than once.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.state.close()
	r.cancel()
	r.wg.Wait()
	return nil
}
