package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/hbsportsdirector/rstse-sub000/provider/local"
	"github.com/uptrace/bun"
)

// IdentityModel is the Bun model for local provider accounts.
type IdentityModel struct {
	bun.BaseModel `bun:"table:identities,alias:idt"`

	SubjectID    string         `bun:"subject_id,pk"`
	Email        string         `bun:"email,notnull,unique"`
	PasswordHash string         `bun:"password_hash,notnull"`
	Metadata     map[string]any `bun:"metadata"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// IdentityRepository implements local.AccountStore using bun so local
// accounts survive process restarts.
type IdentityRepository struct {
	db bun.IDB
}

var _ local.AccountStore = (*IdentityRepository)(nil)

// NewIdentityRepository creates a new repository.
func NewIdentityRepository(db bun.IDB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// FindAccountByEmail implements local.AccountStore.
func (r *IdentityRepository) FindAccountByEmail(ctx context.Context, email string) (*local.Account, error) {
	model := &IdentityModel{}
	err := r.db.NewSelect().
		Model(model).
		Where("?TableAlias.email = ?", strings.ToLower(strings.TrimSpace(email))).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, local.ErrAccountNotFound
		}
		return nil, err
	}
	return toAccount(model), nil
}

// CreateAccount implements local.AccountStore.
func (r *IdentityRepository) CreateAccount(ctx context.Context, account *local.Account) error {
	if account == nil {
		return fmt.Errorf("account is nil")
	}
	model := &IdentityModel{
		SubjectID:    account.SubjectID,
		Email:        strings.ToLower(strings.TrimSpace(account.Email)),
		PasswordHash: account.PasswordHash,
		Metadata:     account.Metadata,
		CreatedAt:    account.CreatedAt,
	}
	if model.Metadata == nil {
		model.Metadata = map[string]any{}
	}
	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return local.ErrAccountExists
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

func toAccount(model *IdentityModel) *local.Account {
	return &local.Account{
		SubjectID:    model.SubjectID,
		Email:        model.Email,
		PasswordHash: model.PasswordHash,
		Metadata:     model.Metadata,
		CreatedAt:    model.CreatedAt,
	}
}

// isUniqueViolation matches sqlite and PostgreSQL (23505) unique errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "23505") || strings.Contains(msg, "unique")
}
