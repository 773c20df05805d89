package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

// Account is an identity held by the local provider.
type Account struct {
	SubjectID    string
	Email        string
	PasswordHash string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// AccountStore persists local accounts.
type AccountStore interface {
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
}

// MemoryAccounts is an in-process AccountStore.
type MemoryAccounts struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

var _ AccountStore = (*MemoryAccounts)(nil)

// NewMemoryAccounts returns an empty store.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{accounts: map[string]*Account{}}
}

func (m *MemoryAccounts) FindAccountByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[normalizeEmail(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

func (m *MemoryAccounts) CreateAccount(_ context.Context, account *Account) error {
	if account == nil {
		return errors.New("account is nil")
	}
	key := normalizeEmail(account.Email)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[key]; ok {
		return ErrAccountExists
	}
	out := *account
	out.Email = key
	m.accounts[key] = &out
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
