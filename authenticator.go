package auth

import (
	"context"
	"strings"
)

// Login signs in with the identity provider and waits for the profile to
// reconcile. Credential and network failures return before any profile read.
// When retries are exhausted the session is signed back out and
// ErrAccountSetupInProgress is returned.
func (r *Reconciler) Login(ctx context.Context, email, password string) (*User, error) {
	if r.isClosed() {
		return nil, ErrReconcilerClosed
	}
	email = strings.ToLower(strings.TrimSpace(email))

	session, err := r.provider.SignIn(ctx, email, password)
	if err != nil {
		classified := classifyProviderError(err, ErrLoginFailed)
		r.logger.Info("sign in rejected", "email", email, "error", classified)
		r.recordCredentialEvent(ctx, ActivityEventLoginFailure, "", map[string]any{
			"email":  email,
			"reason": UserMessage(classified),
		})
		return nil, classified
	}

	subject := sessionSubject(session)
	if subject == "" {
		return nil, wrapError(ErrLoginFailed, nil, map[string]any{"reason": "provider returned empty session"})
	}

	epoch, ok := r.state.observe(subject)
	if !ok {
		return nil, ErrReconcilerClosed
	}

	user, err := r.resolveShared(ctx, epoch, subject, true)
	if err == nil {
		r.logger.Info("login completed", "subject_id", subject)
		r.recordCredentialEvent(ctx, ActivityEventLoginSuccess, subject, map[string]any{"email": email})
		return user, nil
	}

	if IsReconciliationExhausted(err) {
		r.abandonSession(ctx, subject)
		err = wrapError(ErrAccountSetupInProgress, err, map[string]any{
			"subject_id": subject,
			"email":      email,
		})
	}
	r.logger.Warn("login failed after sign in", "subject_id", subject, "error", err)
	r.recordCredentialEvent(ctx, ActivityEventLoginFailure, subject, map[string]any{
		"email":  email,
		"reason": UserMessage(err),
	})
	return nil, err
}

// abandonSession signs out a session whose profile never became visible,
// unless a newer session replaced it in the meantime. Both the reconciler
// and the provider are asked for the active subject right before SignOut.
// SignOut itself is not conditional: a sign-in completing between that last
// check and SignOut is still signed out, and its signed-out notification
// then publishes NoSession.
func (r *Reconciler) abandonSession(ctx context.Context, subject string) {
	if _, target, ok := r.state.current(); !ok || target != subject {
		return
	}

	session, err := r.provider.CurrentSession(ctx)
	if active := sessionSubject(session); err == nil && active != "" && active != subject {
		r.logger.Info("newer session active, skipping sign out", "subject_id", subject, "active_subject_id", active)
		return
	}
	if _, target, ok := r.state.current(); !ok || target != subject {
		return
	}

	if err := r.provider.SignOut(ctx); err != nil {
		r.logger.Warn("sign out after exhausted reconciliation failed", "subject_id", subject, "error", err)
	}
	if epoch, ok := r.state.observeIfTarget(subject, ""); ok {
		if err := r.state.publish(ctx, epoch, NoSessionState()); err != nil && !IsSessionSuperseded(err) {
			r.logger.Warn("publish no session failed", "subject_id", subject, "error", err)
		}
	}
}

// Register validates input, creates the identity account and writes the
// profile record once. The user is published directly from the written
// record. A failed write returns ErrRegistrationWrite and leaves the new
// account signed in.
func (r *Reconciler) Register(ctx context.Context, input RegisterInput) (*User, error) {
	if r.isClosed() {
		return nil, ErrReconcilerClosed
	}

	input = input.Normalize()
	if err := input.Validate(); err != nil {
		classified := classifyValidationError(err)
		r.recordCredentialEvent(ctx, ActivityEventRegisterFailure, "", map[string]any{
			"email":  input.Email,
			"reason": UserMessage(classified),
		})
		return nil, classified
	}

	subjectID, err := r.provider.SignUp(ctx, input.Email, input.Password, input.Metadata())
	if err != nil {
		classified := classifyProviderError(err, ErrSignUpFailed)
		r.logger.Info("sign up rejected", "email", input.Email, "error", classified)
		r.recordCredentialEvent(ctx, ActivityEventRegisterFailure, "", map[string]any{
			"email":  input.Email,
			"reason": UserMessage(classified),
		})
		return nil, classified
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, wrapError(ErrSignUpFailed, nil, map[string]any{"reason": "provider returned empty subject id"})
	}

	record := input.ProfileRecord(subjectID, r.now())
	if err := r.store.InsertProfile(ctx, record); err != nil {
		werr := wrapError(ErrRegistrationWrite, err, map[string]any{
			"subject_id": subjectID,
			"email":      input.Email,
		})
		r.logger.Error("profile insert failed after sign up", "subject_id", subjectID, "error", err)
		r.recordCredentialEvent(ctx, ActivityEventRegisterFailure, subjectID, map[string]any{
			"email":  input.Email,
			"reason": UserMessage(werr),
		})
		return nil, werr
	}

	user := NewUserFromProfile(record)
	if epoch, ok := r.state.observe(subjectID); ok {
		if err := r.state.publish(ctx, epoch, ResolvedState(user.Clone())); err != nil {
			r.logger.Warn("publish registered user failed", "subject_id", subjectID, "error", err)
		}
	}

	r.logger.Info("registration completed", "subject_id", subjectID, "role", user.Role)
	r.recordCredentialEvent(ctx, ActivityEventRegisterSuccess, subjectID, map[string]any{
		"email": input.Email,
		"role":  string(user.Role),
	})
	return user, nil
}

// Logout signs out with the provider and publishes NoSession. Local state is
// cleared even when the provider call fails. Safe when already logged out.
func (r *Reconciler) Logout(ctx context.Context) error {
	if r.isClosed() {
		return ErrReconcilerClosed
	}

	_, previous, _ := r.state.current()
	signOutErr := r.provider.SignOut(ctx)

	if epoch, ok := r.state.observe(""); ok {
		if err := r.state.publish(ctx, epoch, NoSessionState()); err != nil && !IsSessionSuperseded(err) {
			r.logger.Warn("publish no session failed", "error", err)
		}
	}

	r.recordCredentialEvent(ctx, ActivityEventLogout, previous, nil)
	if signOutErr != nil {
		classified := classifyProviderError(signOutErr, ErrSignOutFailed)
		r.logger.Warn("provider sign out failed", "subject_id", previous, "error", classified)
		return classified
	}
	return nil
}

func (r *Reconciler) recordCredentialEvent(ctx context.Context, eventType ActivityEventType, subject string, meta map[string]any) {
	emitActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType:  eventType,
		SubjectID:  subject,
		Metadata:   meta,
		OccurredAt: r.now().UTC(),
	})
}
