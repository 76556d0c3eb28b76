package application

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ksti/meeting-room/internal/persistence"
)

// SessionRevoker revokes every credential of a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// UserService serves profile reads and account administration.
type UserService struct {
	users    persistence.UserRepository
	sessions SessionRevoker
	now      func() time.Time
}

// NewUserService wires dependencies for the user service. sessions may be nil
// when credentials need not be revoked on disable.
func NewUserService(users persistence.UserRepository, sessions SessionRevoker, now func() time.Time) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{users: users, sessions: sessions, now: now}
}

// GetProfile returns the principal's own account.
func (s *UserService) GetProfile(ctx context.Context, principal Principal) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}
	if principal.UserID == "" {
		return User{}, ErrUnauthorized
	}

	record, err := s.users.GetUser(ctx, principal.UserID)
	if err != nil {
		return User{}, mapUserRepoError(err)
	}
	return userFromRecord(record), nil
}

// ListUsers returns all users for administrators, ordered by email.
func (s *UserService) ListUsers(ctx context.Context, principal Principal) ([]User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin {
		return nil, ErrUnauthorized
	}
	if s.users == nil {
		return nil, nil
	}

	records, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]User, 0, len(records))
	for _, r := range records {
		out = append(out, userFromRecord(r))
	}

	sort.Slice(out, func(i, j int) bool {
		if strings.EqualFold(out[i].Email, out[j].Email) {
			return out[i].ID < out[j].ID
		}
		return strings.ToLower(out[i].Email) < strings.ToLower(out[j].Email)
	})

	return out, nil
}

// SetUserDisabled blocks or unblocks an account. Disabling revokes every
// credential of the account. Administrators cannot disable themselves.
func (s *UserService) SetUserDisabled(ctx context.Context, principal Principal, userID string, disabled bool) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin {
		return User{}, ErrUnauthorized
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}
	if disabled && principal.UserID == userID {
		vErr := &ValidationError{}
		vErr.add("user_id", "administrators cannot disable their own account")
		return User{}, vErr
	}

	record, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return User{}, mapUserRepoError(err)
	}
	if record.Disabled != disabled {
		record.Disabled = disabled
		record.UpdatedAt = s.now()
		if err := s.users.UpdateUser(ctx, record); err != nil {
			return User{}, mapUserRepoError(err)
		}
	}

	if disabled && s.sessions != nil {
		if _, err := s.sessions.RevokeAll(ctx, record.ID); err != nil {
			return User{}, err
		}
	}
	return userFromRecord(record), nil
}

// DeleteUser removes an account for administrators and revokes its credentials.
func (s *UserService) DeleteUser(ctx context.Context, principal Principal, userID string) error {
	if s == nil {
		return fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin {
		return ErrUnauthorized
	}
	if s.users == nil {
		return fmt.Errorf("user repository not configured")
	}

	if s.sessions != nil {
		if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
			return err
		}
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return mapUserRepoError(err)
	}
	return nil
}

func userFromRecord(r persistence.User) User {
	return User{
		ID:          r.ID,
		Email:       r.Email,
		UserName:    r.UserName,
		DisplayName: r.DisplayName,
		IsAdmin:     r.IsAdmin,
		Disabled:    r.Disabled,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func mapUserRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string, vErr *ValidationError) {
	if email == "" {
		vErr.add("email", "email is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		vErr.add("email", "email is invalid")
	}
}

// validateUserName accepts an empty name. Names may not look like an email
// address because login treats anything with "@" as one.
func validateUserName(name string, vErr *ValidationError) {
	if name == "" {
		return
	}
	if len(name) > 64 {
		vErr.add("user_name", "user name must be at most 64 characters")
		return
	}
	for _, r := range name {
		if r == '@' || unicode.IsSpace(r) {
			vErr.add("user_name", "user name must not contain spaces or @")
			return
		}
	}
}
