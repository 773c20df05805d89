package auth

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the structured logger contract used across the package.
// Messages are constant strings, args are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers, e.g. "auth.reconciler".
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function to the LoggerProvider interface.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return nil
	}
	return f(name)
}

var _ Logger = (*slog.Logger)(nil)

// NewSlogProvider returns a LoggerProvider that scopes the given slog logger
// with a "logger" attribute per name. A nil base uses slog.Default().
func NewSlogProvider(base *slog.Logger) LoggerProvider {
	return slogProvider{base: base}
}

type slogProvider struct {
	base *slog.Logger
}

func (p slogProvider) GetLogger(name string) Logger {
	base := p.base
	if base == nil {
		base = slog.Default()
	}
	if name == "" {
		return base
	}
	return base.With("logger", name)
}

type staticProvider struct {
	logger Logger
}

func (p staticProvider) GetLogger(string) Logger {
	return p.logger
}

// ResolveLogger returns the provider and the scoped logger for name.
// An explicit logger is used when the provider is missing or yields nil.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider == nil {
		if logger != nil {
			return staticProvider{logger: logger}, logger
		}
		provider = NewSlogProvider(nil)
	}

	resolved := provider.GetLogger(name)
	if resolved == nil {
		if logger == nil {
			logger = defaultLogger(name)
		}
		return staticProvider{logger: logger}, logger
	}

	return provider, resolved
}

func defaultLogger(name string) Logger {
	return NewSlogProvider(nil).GetLogger(name)
}

// Config holds the reconciliation retry options.
type Config interface {
	GetMaxAttempts() int
	GetBaseDelay() time.Duration
	GetMaxDelay() time.Duration
	GetSettleDelay() time.Duration
}

// SessionEvent names an identity-state change pushed by the provider.
type SessionEvent string

const (
	SessionEventInitial        SessionEvent = "INITIAL_SESSION"
	SessionEventSignedIn       SessionEvent = "SIGNED_IN"
	SessionEventSignedOut      SessionEvent = "SIGNED_OUT"
	SessionEventTokenRefreshed SessionEvent = "TOKEN_REFRESHED"
	SessionEventUserUpdated    SessionEvent = "USER_UPDATED"
)

// SessionListener receives provider notifications. A nil session means
// the subject signed out.
type SessionListener func(event SessionEvent, session *Session)

// IdentityProvider is the external service that verifies credentials and
// issues sessions. Implementations report failures with the package
// sentinels (ErrInvalidCredentials, ErrNetwork, ErrDuplicateEmail,
// ErrWeakPassword, ErrInvalidEmail) so callers can classify them.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (string, error)
	SignOut(ctx context.Context) error
	CurrentSession(ctx context.Context) (*Session, error)
	OnSessionChange(listener SessionListener) (unsubscribe func())
}

// ProfileStore is the application store holding profile records keyed by
// subject id. FindProfile reports a missing row with ErrProfileNotFound.
type ProfileStore interface {
	FindProfile(ctx context.Context, subjectID string) (*ProfileRecord, error)
	InsertProfile(ctx context.Context, record *ProfileRecord) error
}
