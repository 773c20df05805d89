package auth

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Session is the identity provider artifact proving an authenticated subject.
// The reconciler only reads its presence and SubjectID.
type Session struct {
	SubjectID   string    `json:"subject_id"`
	IssuedAt    time.Time `json:"issued_at"`
	AccessToken string    `json:"access_token,omitempty"`
}

// Present reports whether s identifies a subject.
func (s *Session) Present() bool {
	return s != nil && strings.TrimSpace(s.SubjectID) != ""
}

func sessionSubject(s *Session) string {
	if !s.Present() {
		return ""
	}
	return strings.TrimSpace(s.SubjectID)
}

// ProfileRecord is the application owned row keyed by subject id.
type ProfileRecord struct {
	bun.BaseModel   `bun:"table:profiles,alias:prf"`
	ID              string    `bun:"id,pk" json:"id"`
	Email           string    `bun:"email,notnull,unique" json:"email"`
	FirstName       string    `bun:"first_name,notnull" json:"first_name"`
	LastName        string    `bun:"last_name,notnull" json:"last_name"`
	Role            UserRole  `bun:"role,notnull" json:"role"`
	TeamID          *string   `bun:"team_id" json:"team_id"`
	ProfileImageURL *string   `bun:"profile_image_url" json:"profile_image_url"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Clone returns a deep copy of the record.
func (p *ProfileRecord) Clone() *ProfileRecord {
	if p == nil {
		return nil
	}
	out := *p
	out.TeamID = cloneString(p.TeamID)
	out.ProfileImageURL = cloneString(p.ProfileImageURL)
	return &out
}

// User is the reconciled view handed to consumers. Values are replaced
// wholesale, never mutated after publication.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Role            UserRole  `json:"role"`
	TeamID          *string   `json:"teamId"`
	ProfileImageURL *string   `json:"profileImageUrl"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewUserFromProfile maps a stored record onto a User.
func NewUserFromProfile(record *ProfileRecord) *User {
	if record == nil {
		return nil
	}
	return &User{
		ID:              record.ID,
		Email:           record.Email,
		FirstName:       record.FirstName,
		LastName:        record.LastName,
		Role:            record.Role,
		TeamID:          cloneString(record.TeamID),
		ProfileImageURL: cloneString(record.ProfileImageURL),
		CreatedAt:       record.CreatedAt,
	}
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.TeamID = cloneString(u.TeamID)
	out.ProfileImageURL = cloneString(u.ProfileImageURL)
	return &out
}

// Equal compares two users field by field.
func (u *User) Equal(other *User) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.ID == other.ID &&
		u.Email == other.Email &&
		u.FirstName == other.FirstName &&
		u.LastName == other.LastName &&
		u.Role == other.Role &&
		equalStringPtr(u.TeamID, other.TeamID) &&
		equalStringPtr(u.ProfileImageURL, other.ProfileImageURL) &&
		u.CreatedAt.Equal(other.CreatedAt)
}

// HasRole is a plain equality check; callers enforce authorization.
func (u *User) HasRole(role UserRole) bool {
	return u != nil && u.Role == role
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// DisplayInitials returns the upper case initials used by avatar placeholders.
func (u *User) DisplayInitials() string {
	if u == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range []string{u.FirstName, u.LastName} {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(string([]rune(part)[:1])))
	}
	return b.String()
}

// ReconciliationAttempt describes one try of a fetch-retry loop.
type ReconciliationAttempt struct {
	CycleID       string    `json:"cycle_id"`
	SubjectID     string    `json:"subject_id"`
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
