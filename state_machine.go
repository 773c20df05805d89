package auth

import (
	"context"
	"fmt"
	"time"
)

// StateKind tags the variants of the published session state.
type StateKind string

const (
	StateIdle      StateKind = "idle"
	StateNoSession StateKind = "no_session"
	StateResolving StateKind = "resolving"
	StateResolved  StateKind = "resolved"
	StateFailed    StateKind = "failed"
)

// Terminal reports whether k completes a reconciliation cycle.
func (k StateKind) Terminal() bool {
	switch k {
	case StateNoSession, StateResolved, StateFailed:
		return true
	default:
		return false
	}
}

// State is one variant of the reconciliation state machine. Only the fields
// relevant to Kind are set.
type State struct {
	Kind      StateKind
	SubjectID string
	Attempt   *ReconciliationAttempt
	User      *User
	Err       error
	EnteredAt time.Time
}

// NoSessionState is published when there is no authenticated subject.
func NoSessionState() State {
	return State{Kind: StateNoSession}
}

// ResolvingState is published before each fetch attempt.
func ResolvingState(attempt ReconciliationAttempt) State {
	return State{Kind: StateResolving, SubjectID: attempt.SubjectID, Attempt: &attempt}
}

// ResolvedState carries the reconciled user.
func ResolvedState(user *User) State {
	state := State{Kind: StateResolved, User: user}
	if user != nil {
		state.SubjectID = user.ID
	}
	return state
}

// FailedState is published when retries were exhausted for subjectID.
func FailedState(subjectID string, err error) State {
	return State{Kind: StateFailed, SubjectID: subjectID, Err: err}
}

func (s State) clone() State {
	out := s
	out.User = s.User.Clone()
	if s.Attempt != nil {
		attempt := *s.Attempt
		out.Attempt = &attempt
	}
	return out
}

// SessionStateMachine validates transitions between state kinds and reports
// committed transitions to the activity sink.
type SessionStateMachine struct {
	transitions    map[StateKind]map[StateKind]struct{}
	now            func() time.Time
	activitySink   ActivitySink
	logger         Logger
	loggerProvider LoggerProvider
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*SessionStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish reconcile events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *SessionStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineLoggerProvider overrides the logger provider.
func WithStateMachineLoggerProvider(provider LoggerProvider) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if provider != nil {
			sm.loggerProvider = provider
		}
	}
}

// NewSessionStateMachine returns the default transition table.
func NewSessionStateMachine(opts ...StateMachineOption) *SessionStateMachine {
	sm := &SessionStateMachine{
		transitions: map[StateKind]map[StateKind]struct{}{
			StateIdle: {
				StateNoSession: {},
				StateResolving: {},
				StateResolved:  {},
			},
			StateNoSession: {
				StateNoSession: {},
				StateResolving: {},
				StateResolved:  {},
			},
			StateResolving: {
				StateResolving: {},
				StateResolved:  {},
				StateFailed:    {},
				StateNoSession: {},
			},
			StateResolved: {
				StateResolving: {},
				StateResolved:  {},
				StateNoSession: {},
			},
			StateFailed: {
				StateResolving: {},
				StateResolved:  {},
				StateNoSession: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	sm.loggerProvider, sm.logger = ResolveLogger("auth.state_machine", sm.loggerProvider, sm.logger)
	return sm
}

// CanTransition reports whether from -> to is allowed.
func (sm *SessionStateMachine) CanTransition(from, to StateKind) bool {
	next, ok := sm.transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Transition validates from -> to and stamps the entered time.
func (sm *SessionStateMachine) Transition(from State, to State) (State, error) {
	if !sm.CanTransition(from.Kind, to.Kind) {
		return from, wrapError(ErrInvalidStateTransition, nil, map[string]any{
			"from":       string(from.Kind),
			"to":         string(to.Kind),
			"subject_id": to.SubjectID,
		})
	}
	if to.Kind == StateFailed && to.Err == nil {
		to.Err = ErrReconciliationExhausted
	}
	to.EnteredAt = sm.now().UTC()
	return to, nil
}

// Record reports a committed transition to the activity sink.
func (sm *SessionStateMachine) Record(ctx context.Context, from, to State) {
	eventType, ok := reconcileEventType(to.Kind)
	if !ok {
		return
	}
	event := ActivityEvent{
		EventType:  eventType,
		SubjectID:  to.SubjectID,
		FromState:  from.Kind,
		ToState:    to.Kind,
		OccurredAt: to.EnteredAt,
		Metadata:   map[string]any{},
	}
	if to.Attempt != nil {
		event.CycleID = to.Attempt.CycleID
		event.Metadata["attempt"] = to.Attempt.AttemptNumber
	}
	if to.Err != nil {
		event.Metadata["error"] = to.Err.Error()
	}
	emitActivity(ctx, sm.activitySink, sm.logger, event)
}

func reconcileEventType(kind StateKind) (ActivityEventType, bool) {
	switch kind {
	case StateResolving:
		return ActivityEventReconcileResolving, true
	case StateResolved:
		return ActivityEventReconcileResolved, true
	case StateFailed:
		return ActivityEventReconcileFailed, true
	case StateNoSession:
		return ActivityEventReconcileNoSession, true
	default:
		return "", false
	}
}

func (s State) String() string {
	if s.SubjectID == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.SubjectID)
}
