package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/persistence"
)

var _ persistence.UserRepository = (*Store)(nil)

// CreateUser stores a new user.
func (s *Store) CreateUser(ctx context.Context, user persistence.User) error {
	return s.run(ctx, func(st *state) error {
		if _, ok := st.users[user.ID]; ok {
			return persistence.ErrDuplicate
		}
		if err := st.ensureUniqueUserLocked(user); err != nil {
			return err
		}
		st.users[user.ID] = cloneUser(user)
		return nil
	})
}

// UpdateUser replaces an existing user.
func (s *Store) UpdateUser(ctx context.Context, user persistence.User) error {
	return s.run(ctx, func(st *state) error {
		if _, ok := st.liveUser(user.ID); !ok {
			return persistence.ErrNotFound
		}
		if err := st.ensureUniqueUserLocked(user); err != nil {
			return err
		}
		st.users[user.ID] = cloneUser(user)
		return nil
	})
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (persistence.User, error) {
	var user persistence.User
	err := s.read(ctx, func(st *state) error {
		u, ok := st.liveUser(id)
		if !ok {
			return persistence.ErrNotFound
		}
		user = cloneUser(u)
		return nil
	})
	return user, err
}

// GetUserByEmail retrieves a user by email address, ignoring case.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	return s.findUser(ctx, func(u persistence.User) bool { return strings.EqualFold(u.Email, email) })
}

// GetUserByUserName retrieves a user by user name, ignoring case.
func (s *Store) GetUserByUserName(ctx context.Context, userName string) (persistence.User, error) {
	if strings.TrimSpace(userName) == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	return s.findUser(ctx, func(u persistence.User) bool { return strings.EqualFold(u.UserName, userName) })
}

// ListUsers returns all live users ordered by CreatedAt ascending.
func (s *Store) ListUsers(ctx context.Context) ([]persistence.User, error) {
	var users []persistence.User
	err := s.read(ctx, func(st *state) error {
		users = make([]persistence.User, 0, len(st.users))
		for _, u := range st.users {
			if u.DeletedAt == nil {
				users = append(users, cloneUser(u))
			}
		}
		return nil
	})
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, err
}

// DeleteUser marks a user deleted.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.run(ctx, func(st *state) error {
		u, ok := st.liveUser(id)
		if !ok {
			return persistence.ErrNotFound
		}
		now := time.Now().UTC()
		u.DeletedAt = &now
		st.users[id] = u
		return nil
	})
}

func (s *Store) findUser(ctx context.Context, match func(persistence.User) bool) (persistence.User, error) {
	var user persistence.User
	err := s.read(ctx, func(st *state) error {
		for _, u := range st.users {
			if u.DeletedAt == nil && match(u) {
				user = cloneUser(u)
				return nil
			}
		}
		return persistence.ErrNotFound
	})
	return user, err
}

func (st *state) liveUser(id string) (persistence.User, bool) {
	u, ok := st.users[id]
	if !ok || u.DeletedAt != nil {
		return persistence.User{}, false
	}
	return u, true
}

func (st *state) ensureUniqueUserLocked(user persistence.User) error {
	for id, existing := range st.users {
		if id == user.ID || existing.DeletedAt != nil {
			continue
		}
		if strings.EqualFold(existing.Email, user.Email) {
			return persistence.ErrDuplicate
		}
		if user.UserName != "" && strings.EqualFold(existing.UserName, user.UserName) {
			return persistence.ErrDuplicate
		}
	}
	return nil
}
