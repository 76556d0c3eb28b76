package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/persistence/sqlstore/dialect"
)

var _ persistence.RoomRepository = (*Store)(nil)

const roomColumns = `id, name, location, capacity, status, facilities, created_at, updated_at, deleted_at`

// CreateRoom inserts a new room. An empty status is stored as idle.
func (s *Store) CreateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if room.Status == "" {
		room.Status = "idle"
	}
	query := s.rebind(`
		INSERT INTO rooms (` + roomColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		room.ID,
		room.Name,
		room.Location,
		room.Capacity,
		room.Status,
		nullString(room.Facilities),
		s.dialect.Time(room.CreatedAt),
		s.dialect.Time(room.UpdatedAt),
		s.dialect.NullTime(room.DeletedAt),
	)
	return s.mapper.MapError(err)
}

// UpdateRoom replaces the mutable fields of a live room.
func (s *Store) UpdateRoom(ctx context.Context, room persistence.Room) error {
	if room.Status == "" {
		room.Status = "idle"
	}
	query := s.rebind(`
		UPDATE rooms
		SET name = ?, location = ?, capacity = ?, status = ?, facilities = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`)
	res, err := s.db.ExecContext(ctx, query,
		room.Name,
		room.Location,
		room.Capacity,
		room.Status,
		nullString(room.Facilities),
		s.dialect.Time(room.UpdatedAt),
		room.ID,
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

// GetRoom retrieves a live room by ID.
func (s *Store) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	query := s.rebind(`SELECT ` + roomColumns + ` FROM rooms WHERE id = ? AND deleted_at IS NULL`)
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return persistence.Room{}, s.mapper.MapError(err)
	}
	return room, nil
}

// ListRooms returns live rooms ordered by name.
func (s *Store) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE deleted_at IS NULL ORDER BY name ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var rooms []persistence.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return rooms, nil
}

// DeleteRoom marks a live room deleted.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := s.rebind(`UPDATE rooms SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`)
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

func scanRoom(row rowScanner) (persistence.Room, error) {
	var (
		r                             persistence.Room
		facilities                    sql.NullString
		createdAt, updatedAt, deleted dialect.Timestamp
	)
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Location,
		&r.Capacity,
		&r.Status,
		&facilities,
		&createdAt,
		&updatedAt,
		&deleted,
	)
	if err != nil {
		return persistence.Room{}, err
	}
	if facilities.Valid {
		f := facilities.String
		r.Facilities = &f
	}
	r.CreatedAt = createdAt.Time
	r.UpdatedAt = updatedAt.Time
	r.DeletedAt = deleted.Ptr()
	return r, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
