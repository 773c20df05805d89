// Package pgstore implements the profile store over a pgx connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	auth "github.com/hbsportsdirector/rstse-sub000"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProfileExists is returned when a profile id or email is already taken.
var ErrProfileExists = errors.New("profile already exists")

// Store provides profile access over pgxpool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ auth.ProfileStore = (*Store)(nil)

// New creates a Store with its own connection pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// FindProfile implements auth.ProfileStore.
func (s *Store) FindProfile(ctx context.Context, subjectID string) (*auth.ProfileRecord, error) {
	query := `
		SELECT id, email, first_name, last_name, role, team_id, profile_image_url, created_at
		FROM profiles
		WHERE id = $1
	`

	var (
		record auth.ProfileRecord
		role   string
	)
	err := s.pool.QueryRow(ctx, query, strings.TrimSpace(subjectID)).Scan(
		&record.ID,
		&record.Email,
		&record.FirstName,
		&record.LastName,
		&role,
		&record.TeamID,
		&record.ProfileImageURL,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	record.Role = auth.UserRole(role)
	return &record, nil
}

// InsertProfile implements auth.ProfileStore.
func (s *Store) InsertProfile(ctx context.Context, record *auth.ProfileRecord) error {
	if record == nil {
		return fmt.Errorf("profile record is nil")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	if record.Role == "" {
		record.Role = auth.DefaultRole
	}

	query := `
		INSERT INTO profiles (id, email, first_name, last_name, role, team_id, profile_image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		record.ID,
		record.Email,
		record.FirstName,
		record.LastName,
		string(record.Role),
		record.TeamID,
		record.ProfileImageURL,
		record.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrProfileExists, record.ID)
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// isUniqueViolation checks for PostgreSQL error code 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
