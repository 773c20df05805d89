// Package local implements an in-process identity provider for development
// and tests. Passwords are bcrypt hashed and sessions carry HS256 JWTs.
package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	auth "github.com/hbsportsdirector/rstse-sub000"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultIssuer     = "clubsession"
	DefaultTokenTTL   = time.Hour
	MinPasswordLength = 8
)

// IdentityProvider implements auth.IdentityProvider.
type IdentityProvider struct {
	accounts   AccountStore
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
	bcryptCost int
	autoSignIn bool
	now        func() time.Time

	mu           sync.Mutex
	session      *auth.Session
	listeners    map[uint64]auth.SessionListener
	nextListener uint64
}

var _ auth.IdentityProvider = (*IdentityProvider)(nil)

// Option customizes the provider.
type Option func(*IdentityProvider)

// WithAccountStore replaces the in-memory account store.
func WithAccountStore(store AccountStore) Option {
	return func(p *IdentityProvider) {
		if store != nil {
			p.accounts = store
		}
	}
}

// WithIssuer sets the JWT issuer.
func WithIssuer(issuer string) Option {
	return func(p *IdentityProvider) {
		if issuer != "" {
			p.issuer = issuer
		}
	}
}

// WithTokenTTL sets the access token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(p *IdentityProvider) {
		if ttl > 0 {
			p.tokenTTL = ttl
		}
	}
}

// WithBcryptCost overrides the hashing cost (use bcrypt.MinCost in tests).
func WithBcryptCost(cost int) Option {
	return func(p *IdentityProvider) {
		p.bcryptCost = cost
	}
}

// WithAutoSignIn controls whether SignUp starts a session.
func WithAutoSignIn(enabled bool) Option {
	return func(p *IdentityProvider) {
		p.autoSignIn = enabled
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(p *IdentityProvider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// NewIdentityProvider builds a provider signing tokens with signingKey.
func NewIdentityProvider(signingKey []byte, opts ...Option) (*IdentityProvider, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("local provider: signing key is required")
	}
	p := &IdentityProvider{
		accounts:   NewMemoryAccounts(),
		signingKey: signingKey,
		issuer:     DefaultIssuer,
		tokenTTL:   DefaultTokenTTL,
		bcryptCost: bcrypt.DefaultCost,
		autoSignIn: true,
		now:        time.Now,
		listeners:  map[uint64]auth.SessionListener{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// SignIn implements auth.IdentityProvider.
func (p *IdentityProvider) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	account, err := p.accounts.FindAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("local provider: find account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("local provider: compare password: %w", err)
	}

	session, err := p.issueSession(account.SubjectID)
	if err != nil {
		return nil, err
	}
	p.setSession(auth.SessionEventSignedIn, session)
	return copySession(session), nil
}

// SignUp implements auth.IdentityProvider.
func (p *IdentityProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (string, error) {
	email = normalizeEmail(email)
	if email == "" || is.Email.Validate(email) != nil {
		return "", auth.ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return "", auth.ErrWeakPassword
	}

	if _, err := p.accounts.FindAccountByEmail(ctx, email); err == nil {
		return "", auth.ErrDuplicateEmail
	} else if !errors.Is(err, ErrAccountNotFound) {
		return "", fmt.Errorf("local provider: find account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("local provider: hash password: %w", err)
	}

	account := &Account{
		SubjectID:    uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Metadata:     metadata,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			return "", auth.ErrDuplicateEmail
		}
		return "", fmt.Errorf("local provider: create account: %w", err)
	}

	if p.autoSignIn {
		session, err := p.issueSession(account.SubjectID)
		if err != nil {
			return "", err
		}
		p.setSession(auth.SessionEventSignedIn, session)
	}
	return account.SubjectID, nil
}

// SignOut implements auth.IdentityProvider. Signing out without a session is a no-op.
func (p *IdentityProvider) SignOut(context.Context) error {
	p.mu.Lock()
	had := p.session != nil
	p.mu.Unlock()
	if !had {
		return nil
	}
	p.setSession(auth.SessionEventSignedOut, nil)
	return nil
}

// CurrentSession implements auth.IdentityProvider. Expired sessions read as absent.
func (p *IdentityProvider) CurrentSession(context.Context) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, nil
	}
	if _, err := p.subjectFromToken(p.session.AccessToken); err != nil {
		return nil, nil
	}
	return copySession(p.session), nil
}

// OnSessionChange implements auth.IdentityProvider.
func (p *IdentityProvider) OnSessionChange(listener auth.SessionListener) func() {
	if listener == nil {
		return func() {}
	}
	p.mu.Lock()
	p.nextListener++
	id := p.nextListener
	p.listeners[id] = listener
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// RestoreSession adopts a previously issued access token as the current
// session and announces it as the initial session.
func (p *IdentityProvider) RestoreSession(_ context.Context, token string) (*auth.Session, error) {
	subject, err := p.subjectFromToken(strings.TrimSpace(token))
	if err != nil {
		return nil, auth.ErrInvalidCredentials
	}
	session := &auth.Session{SubjectID: subject, IssuedAt: p.now().UTC(), AccessToken: strings.TrimSpace(token)}
	p.setSession(auth.SessionEventInitial, session)
	return copySession(session), nil
}

// RefreshSession issues a new token for the current subject.
func (p *IdentityProvider) RefreshSession(context.Context) (*auth.Session, error) {
	p.mu.Lock()
	current := copySession(p.session)
	p.mu.Unlock()
	if current == nil {
		return nil, auth.ErrInvalidCredentials
	}
	session, err := p.issueSession(current.SubjectID)
	if err != nil {
		return nil, err
	}
	p.setSession(auth.SessionEventTokenRefreshed, session)
	return copySession(session), nil
}

func (p *IdentityProvider) issueSession(subject string) (*auth.Session, error) {
	issuedAt := p.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    p.issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(p.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return nil, fmt.Errorf("local provider: sign token: %w", err)
	}
	return &auth.Session{SubjectID: subject, IssuedAt: issuedAt, AccessToken: token}, nil
}

func (p *IdentityProvider) subjectFromToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// setSession swaps the current session and notifies listeners outside the lock.
func (p *IdentityProvider) setSession(event auth.SessionEvent, session *auth.Session) {
	p.mu.Lock()
	p.session = copySession(session)
	ids := make([]uint64, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]auth.SessionListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, p.listeners[id])
	}
	p.mu.Unlock()

	for _, listener := range listeners {
		listener(event, copySession(session))
	}
}

func copySession(s *auth.Session) *auth.Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
