package auth

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	MinPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	MaxPasswordLength = 72
)

// RegisterInput is the payload accepted by Register.
type RegisterInput struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Role      UserRole `json:"role"`
	TeamID    *string  `json:"team_id"`
}

// Normalize trims fields, lower cases the email and applies the default role.
func (r RegisterInput) Normalize() RegisterInput {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	if role, ok := ParseRole(string(r.Role)); ok {
		r.Role = role
	}
	if r.TeamID != nil {
		team := strings.TrimSpace(*r.TeamID)
		if team == "" {
			r.TeamID = nil
		} else {
			r.TeamID = &team
		}
	}
	return r
}

// Validate checks the registration payload.
func (r RegisterInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLength, MaxPasswordLength)),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Role, validation.Required, validation.In(RolePlayer, RoleCoach, RoleParent, RoleAdmin)),
	)
}

// Metadata is the sign-up metadata forwarded to the identity provider.
func (r RegisterInput) Metadata() map[string]any {
	return map[string]any{
		"first_name": r.FirstName,
		"last_name":  r.LastName,
		"role":       string(r.Role),
	}
}

// ProfileRecord builds the row inserted for subjectID.
func (r RegisterInput) ProfileRecord(subjectID string, createdAt time.Time) *ProfileRecord {
	return &ProfileRecord{
		ID:        subjectID,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Role:      r.Role,
		TeamID:    cloneString(r.TeamID),
		CreatedAt: createdAt.UTC(),
	}
}

// classifyValidationError maps ozzo field errors onto the sign-up sentinels.
func classifyValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return wrapError(ErrInvalidRegistration, err, nil)
	}

	meta := make(map[string]any, len(fieldErrs))
	for field, ferr := range fieldErrs {
		if ferr != nil {
			meta[field] = ferr.Error()
		}
	}

	switch {
	case fieldErrs["email"] != nil:
		return wrapError(ErrInvalidEmail, err, meta)
	case fieldErrs["password"] != nil:
		return wrapError(ErrWeakPassword, err, meta)
	default:
		return wrapError(ErrInvalidRegistration, err, meta)
	}
}
