package auth

import (
	"context"
	"errors"
	"net"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	TextCodeNetwork                 = "NETWORK_ERROR"
	TextCodeDuplicateEmail          = "DUPLICATE_EMAIL"
	TextCodeWeakPassword            = "WEAK_PASSWORD"
	TextCodeInvalidEmail            = "INVALID_EMAIL"
	TextCodeInvalidRegistration     = "INVALID_REGISTRATION"
	TextCodeProfileNotFound         = "PROFILE_NOT_FOUND"
	TextCodeTransientStore          = "TRANSIENT_STORE_ERROR"
	TextCodeReconciliationExhausted = "RECONCILIATION_EXHAUSTED"
	TextCodeAccountSetupInProgress  = "ACCOUNT_SETUP_IN_PROGRESS"
	TextCodeRegistrationWrite       = "REGISTRATION_WRITE_FAILED"
	TextCodeSessionSuperseded       = "SESSION_SUPERSEDED"
	TextCodeReconcilerClosed        = "RECONCILER_CLOSED"
	TextCodeLoginFailed             = "LOGIN_FAILED"
	TextCodeSignUpFailed            = "SIGN_UP_FAILED"
	TextCodeSignOutFailed           = "SIGN_OUT_FAILED"
	TextCodeInvalidStateTransition  = "INVALID_SESSION_STATE_TRANSITION"
)

// ErrInvalidCredentials is returned when the identity provider rejects the
// email/password pair. Never retried.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrNetwork is returned when the identity provider could not be reached.
var ErrNetwork = goerrors.New("identity provider unreachable", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetwork)

// ErrDuplicateEmail is returned by sign-up when the email is already taken.
var ErrDuplicateEmail = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeConflict)

// ErrWeakPassword is returned by sign-up when the password is rejected.
var ErrWeakPassword = goerrors.New("password does not meet strength requirements", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidEmail is returned by sign-up when the email is malformed.
var ErrInvalidEmail = goerrors.New("invalid email address", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRegistration is returned when registration input fails validation.
var ErrInvalidRegistration = goerrors.New("invalid registration input", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRegistration).
	WithCode(goerrors.CodeBadRequest)

// ErrProfileNotFound signals that the profile row is not (yet) visible.
// Expected right after sign-up while the store catches up.
var ErrProfileNotFound = goerrors.New("profile record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTransientStore wraps profile reads that failed for reasons other than absence.
var ErrTransientStore = goerrors.New("profile store read failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeTransientStore)

// ErrReconciliationExhausted is returned when the fetch loop ran out of attempts.
var ErrReconciliationExhausted = goerrors.New("profile reconciliation exhausted retries", goerrors.CategoryOperation).
	WithTextCode(TextCodeReconciliationExhausted)

// ErrAccountSetupInProgress is the Login failure after exhaustion. The
// session has been signed back out.
var ErrAccountSetupInProgress = goerrors.New("account setup in progress, try again in a few moments", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountSetupInProgress).
	WithCode(goerrors.CodeUnauthorized)

// ErrRegistrationWrite is returned when the identity account was created but
// the profile insert failed. The account exists without a profile.
var ErrRegistrationWrite = goerrors.New("failed to create profile for registered account", goerrors.CategoryInternal).
	WithTextCode(TextCodeRegistrationWrite)

// ErrSessionSuperseded is returned when a newer session observation or a
// teardown invalidated the cycle before it could publish.
var ErrSessionSuperseded = goerrors.New("session superseded before reconciliation completed", goerrors.CategoryConflict).
	WithTextCode(TextCodeSessionSuperseded).
	WithCode(goerrors.CodeConflict)

// ErrReconcilerClosed is returned by operations issued after Close.
var ErrReconcilerClosed = goerrors.New("session reconciler is closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeReconcilerClosed)

// ErrLoginFailed is the generic Login failure.
var ErrLoginFailed = goerrors.New("login failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeLoginFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrSignUpFailed is the generic Register failure raised by the provider.
var ErrSignUpFailed = goerrors.New("sign up failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeSignUpFailed)

// ErrSignOutFailed is returned when the provider sign-out call failed.
// Local state is cleared regardless.
var ErrSignOutFailed = goerrors.New("sign out failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeSignOutFailed)

// ErrInvalidStateTransition is returned when the session state machine
// rejects a transition.
var ErrInvalidStateTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidStateTransition).
	WithCode(goerrors.CodeBadRequest)

const (
	MessageInvalidCredentials = "Invalid email or password."
	MessageNetwork            = "Network error. Please check your connection and try again."
	MessageAccountSetup       = "Your account setup is still in progress. Please try again in a few moments."
	MessageDuplicateEmail     = "An account with this email already exists."
	MessageWeakPassword       = "Password must be at least 8 characters long."
	MessageInvalidEmail       = "Please enter a valid email address."
	MessageRegistrationWrite  = "Your account was created but your profile could not be saved. Please contact your club administrator."
	MessageGeneric            = "Something went wrong. Please try again."
)

// UserMessage maps Login/Register/Logout failures onto the human readable
// messages shown by the UI.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCredentialError(err):
		return MessageInvalidCredentials
	case hasTextCode(err, TextCodeAccountSetupInProgress), IsReconciliationExhausted(err):
		return MessageAccountSetup
	case IsNetworkError(err):
		return MessageNetwork
	case hasTextCode(err, TextCodeDuplicateEmail):
		return MessageDuplicateEmail
	case hasTextCode(err, TextCodeWeakPassword):
		return MessageWeakPassword
	case hasTextCode(err, TextCodeInvalidEmail):
		return MessageInvalidEmail
	case hasTextCode(err, TextCodeRegistrationWrite):
		return MessageRegistrationWrite
	default:
		return MessageGeneric
	}
}

// IsCredentialError reports whether err is an invalid credentials failure.
func IsCredentialError(err error) bool {
	return hasTextCode(err, TextCodeInvalidCredentials)
}

// IsNetworkError reports whether err is a provider connectivity failure.
func IsNetworkError(err error) bool {
	if hasTextCode(err, TextCodeNetwork) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsProfileNotFound reports whether err signals a missing profile row.
func IsProfileNotFound(err error) bool {
	return hasTextCode(err, TextCodeProfileNotFound)
}

// IsReconciliationExhausted reports whether the fetch loop ran out of attempts.
func IsReconciliationExhausted(err error) bool {
	return hasTextCode(err, TextCodeReconciliationExhausted)
}

// IsRegistrationWriteError reports whether sign-up succeeded but the profile
// insert failed.
func IsRegistrationWriteError(err error) bool {
	return hasTextCode(err, TextCodeRegistrationWrite)
}

// IsSessionSuperseded reports whether a cycle was invalidated before publishing.
func IsSessionSuperseded(err error) bool {
	return hasTextCode(err, TextCodeSessionSuperseded)
}

// hasTextCode walks the chain of rich errors (through Source) looking for code.
func hasTextCode(err error, code string) bool {
	for err != nil {
		var richErr *goerrors.Error
		if !errors.As(err, &richErr) || richErr == nil {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = richErr.Source
	}
	return false
}

// wrapError clones base, records err as its source and merges metadata.
func wrapError(base *goerrors.Error, err error, meta map[string]any) error {
	if base == nil {
		return err
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["error"]; !ok {
			meta["error"] = err.Error()
		}
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// classifyProviderError maps a raw provider failure onto the taxonomy.
// Known sentinels pass through untouched; fallback is used otherwise.
func classifyProviderError(err error, fallback *goerrors.Error) error {
	switch {
	case err == nil:
		return nil
	case IsCredentialError(err),
		hasTextCode(err, TextCodeDuplicateEmail),
		hasTextCode(err, TextCodeWeakPassword),
		hasTextCode(err, TextCodeInvalidEmail):
		return err
	case hasTextCode(err, TextCodeNetwork):
		return err
	case IsNetworkError(err), errors.Is(err, context.DeadlineExceeded):
		return wrapError(ErrNetwork, err, nil)
	default:
		return wrapError(fallback, err, nil)
	}
}
