package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/persistence/sqlstore/dialect"
)

var _ persistence.UserRepository = (*Store)(nil)

const userColumns = `id, email, user_name, display_name, password_hash, is_admin, disabled, created_at, updated_at, deleted_at`

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" || strings.TrimSpace(user.Email) == "" {
		return persistence.ErrConstraintViolation
	}
	query := s.rebind(`
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.UserName,
		user.DisplayName,
		user.PasswordHash,
		user.IsAdmin,
		user.Disabled,
		s.dialect.Time(user.CreatedAt),
		s.dialect.Time(user.UpdatedAt),
		s.dialect.NullTime(user.DeletedAt),
	)
	return s.mapper.MapError(err)
}

// UpdateUser replaces the mutable fields of a live user.
func (s *Store) UpdateUser(ctx context.Context, user persistence.User) error {
	query := s.rebind(`
		UPDATE users
		SET email = ?, user_name = ?, display_name = ?, password_hash = ?, is_admin = ?, disabled = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`)
	res, err := s.db.ExecContext(ctx, query,
		user.Email,
		user.UserName,
		user.DisplayName,
		user.PasswordHash,
		user.IsAdmin,
		user.Disabled,
		s.dialect.Time(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return s.mapper.MapError(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetUser retrieves a live user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (persistence.User, error) {
	return s.getUser(ctx, `id = ?`, id)
}

// GetUserByEmail retrieves a live user by email, ignoring case.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	return s.getUser(ctx, `lower(email) = lower(?)`, strings.TrimSpace(email))
}

// GetUserByUserName retrieves a live user by user name, ignoring case.
func (s *Store) GetUserByUserName(ctx context.Context, userName string) (persistence.User, error) {
	if strings.TrimSpace(userName) == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	return s.getUser(ctx, `lower(user_name) = lower(?)`, strings.TrimSpace(userName))
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (persistence.User, error) {
	query := s.rebind(`SELECT ` + userColumns + ` FROM users WHERE ` + where + ` AND deleted_at IS NULL`)
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return persistence.User{}, s.mapper.MapError(err)
	}
	return user, nil
}

// ListUsers returns all live users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]persistence.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted_at IS NULL ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var users []persistence.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return users, nil
}

// DeleteUser marks a live user deleted.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := s.rebind(`UPDATE users SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`)
	res, err := s.db.ExecContext(ctx, query, s.dialect.Time(now), s.dialect.Time(now), id)
	if err != nil {
		return s.mapper.MapError(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (persistence.User, error) {
	var (
		u                             persistence.User
		createdAt, updatedAt, deleted dialect.Timestamp
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.UserName,
		&u.DisplayName,
		&u.PasswordHash,
		&u.IsAdmin,
		&u.Disabled,
		&createdAt,
		&updatedAt,
		&deleted,
	)
	if err != nil {
		return persistence.User{}, err
	}
	u.CreatedAt = createdAt.Time
	u.UpdatedAt = updatedAt.Time
	u.DeletedAt = deleted.Ptr()
	return u, nil
}
