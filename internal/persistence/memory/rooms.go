package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ksti/meeting-room/internal/persistence"
)

var _ persistence.RoomRepository = (*Store)(nil)

// CreateRoom stores a new meeting room.
func (s *Store) CreateRoom(ctx context.Context, room persistence.Room) error {
	return s.run(ctx, func(st *state) error {
		if _, ok := st.rooms[room.ID]; ok {
			return persistence.ErrDuplicate
		}
		st.rooms[room.ID] = cloneRoom(room)
		return nil
	})
}

// UpdateRoom replaces an existing meeting room.
func (s *Store) UpdateRoom(ctx context.Context, room persistence.Room) error {
	return s.run(ctx, func(st *state) error {
		if _, ok := st.liveRoom(room.ID); !ok {
			return persistence.ErrNotFound
		}
		st.rooms[room.ID] = cloneRoom(room)
		return nil
	})
}

// GetRoom retrieves a room by ID.
func (s *Store) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	var room persistence.Room
	err := s.read(ctx, func(st *state) error {
		r, ok := st.liveRoom(id)
		if !ok {
			return persistence.ErrNotFound
		}
		room = cloneRoom(r)
		return nil
	})
	return room, err
}

// ListRooms returns all live rooms ordered by name, then id.
func (s *Store) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	var rooms []persistence.Room
	err := s.read(ctx, func(st *state) error {
		rooms = make([]persistence.Room, 0, len(st.rooms))
		for _, r := range st.rooms {
			if r.DeletedAt == nil {
				rooms = append(rooms, cloneRoom(r))
			}
		}
		return nil
	})
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name == rooms[j].Name {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Name < rooms[j].Name
	})
	return rooms, err
}

// DeleteRoom marks a room deleted.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	return s.run(ctx, func(st *state) error {
		r, ok := st.liveRoom(id)
		if !ok {
			return persistence.ErrNotFound
		}
		now := time.Now().UTC()
		r.DeletedAt = &now
		st.rooms[id] = r
		return nil
	})
}

func (st *state) liveRoom(id string) (persistence.Room, bool) {
	r, ok := st.rooms[id]
	if !ok || r.DeletedAt != nil {
		return persistence.Room{}, false
	}
	return r, true
}
