package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	auth "github.com/hbsportsdirector/rstse-sub000"
	"github.com/uptrace/bun"
)

// ProfileRepository implements auth.ProfileStore using bun.
type ProfileRepository struct {
	db  bun.IDB
	now func() time.Time
}

var _ auth.ProfileStore = (*ProfileRepository)(nil)

// NewProfileRepository creates a new repository.
func NewProfileRepository(db bun.IDB) *ProfileRepository {
	return &ProfileRepository{db: db, now: time.Now}
}

// FindProfile implements auth.ProfileStore.
func (r *ProfileRepository) FindProfile(ctx context.Context, subjectID string) (*auth.ProfileRecord, error) {
	record := &auth.ProfileRecord{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(subjectID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, goerrors.Wrap(repository.ErrRecordNotFound, goerrors.CategoryNotFound, "profile not found").WithMetadata(map[string]any{
				"subject_id": subjectID,
				"table":      "profiles",
			})
		}
		return nil, err
	}
	return record, nil
}

// InsertProfile implements auth.ProfileStore.
func (r *ProfileRepository) InsertProfile(ctx context.Context, record *auth.ProfileRecord) error {
	if record == nil {
		return fmt.Errorf("profile record is nil")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}
	if record.Role == "" {
		record.Role = auth.DefaultRole
	}
	if _, err := r.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert profile %s: %w", record.ID, err)
	}
	return nil
}
