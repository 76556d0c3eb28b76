package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ksti/meeting-room/internal/persistence/sqlstore/dialect"
	"github.com/ksti/meeting-room/internal/scheduler"
)

type bookingStore struct{ s *Store }

// WithinRoom runs fn in a transaction that first takes the write lock on the
// room row. A missing room takes no lock and is reported by FindRoom.
func (b bookingStore) WithinRoom(ctx context.Context, roomID string, fn func(tx scheduler.Tx) error) error {
	return b.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, b.s.dialect.LockRow("rooms"), roomID); err != nil {
			return fmt.Errorf("lock room %s: %w", roomID, b.s.mapper.MapError(err))
		}
		return fn(bookingTx{s: b.s, q: tx})
	})
}

func (b bookingStore) Within(ctx context.Context, fn func(tx scheduler.Tx) error) error {
	return b.s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(bookingTx{s: b.s, q: tx})
	})
}

type bookingTx struct {
	s *Store
	q querier
}

const meetingColumns = `id, room_id, organizer_id, title, description, capacity, start_at, end_at, status, created_at, updated_at, cancelled_at`

func (tx bookingTx) FindRoom(ctx context.Context, roomID string) (scheduler.Room, error) {
	query := tx.s.rebind(`SELECT id, name, capacity, status FROM rooms WHERE id = ? AND deleted_at IS NULL`)
	var (
		r      scheduler.Room
		status string
	)
	if err := tx.q.QueryRowContext(ctx, query, roomID).Scan(&r.ID, &r.Name, &r.Capacity, &status); err != nil {
		return scheduler.Room{}, tx.s.mapper.MapError(err)
	}
	r.Status = roomStatus(status)
	return r, nil
}

func (tx bookingTx) ListRooms(ctx context.Context, minCapacity int) ([]scheduler.Room, error) {
	query := tx.s.rebind(`SELECT id, name, capacity, status FROM rooms WHERE deleted_at IS NULL AND capacity >= ? ORDER BY id ASC`)
	rows, err := tx.q.QueryContext(ctx, query, minCapacity)
	if err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	defer rows.Close()

	var rooms []scheduler.Room
	for rows.Next() {
		var (
			r      scheduler.Room
			status string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Capacity, &status); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		r.Status = roomStatus(status)
		rooms = append(rooms, r)
	}
	return rooms, tx.s.mapper.MapError(rows.Err())
}

func (tx bookingTx) MissingUserIDs(ctx context.Context, ids []string) ([]string, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(unique)+1)
	args = append(args, false)
	for _, id := range unique {
		args = append(args, id)
	}
	query := tx.s.rebind(`SELECT id FROM users WHERE deleted_at IS NULL AND disabled = ? AND id IN (` + placeholders(len(unique)) + `)`)
	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(unique))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, tx.s.mapper.MapError(err)
	}

	var missing []string
	for _, id := range unique {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (tx bookingTx) FindMeeting(ctx context.Context, id string) (*scheduler.Meeting, error) {
	query := tx.s.rebind(`SELECT ` + meetingColumns + ` FROM meetings WHERE id = ? AND deleted_at IS NULL` + tx.s.dialect.ForUpdate())
	snap, err := scanMeeting(tx.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	meetings, err := tx.restore(ctx, []scheduler.MeetingSnapshot{snap})
	if err != nil {
		return nil, err
	}
	return meetings[0], nil
}

func (tx bookingTx) FindOverlapping(ctx context.Context, roomID string, interval scheduler.TimeInterval, excludeID string) ([]*scheduler.Meeting, error) {
	d := tx.s.dialect
	query := tx.s.rebind(`SELECT ` + meetingColumns + ` FROM meetings
		WHERE room_id = ? AND status <> ? AND deleted_at IS NULL AND id <> ?
		AND start_at < ? AND end_at > ?
		ORDER BY start_at ASC, id ASC`)
	return tx.queryMeetings(ctx, query,
		roomID, string(scheduler.StatusCancelled), excludeID, d.Time(interval.End()), d.Time(interval.Start()))
}

func (tx bookingTx) FindMeetingsByStatus(ctx context.Context, statuses ...scheduler.Status) ([]*scheduler.Meeting, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	query := tx.s.rebind(`SELECT ` + meetingColumns + ` FROM meetings
		WHERE deleted_at IS NULL AND status IN (` + placeholders(len(statuses)) + `)
		ORDER BY start_at ASC, id ASC` + tx.s.dialect.ForUpdate())
	return tx.queryMeetings(ctx, query, args...)
}

func (tx bookingTx) ListMeetings(ctx context.Context, filter scheduler.MeetingFilter) ([]*scheduler.Meeting, error) {
	d := tx.s.dialect
	where := []string{"deleted_at IS NULL"}
	var args []any
	if filter.RoomID != "" {
		where = append(where, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.OrganizerID != "" {
		where = append(where, "organizer_id = ?")
		args = append(args, filter.OrganizerID)
	}
	if filter.ParticipantID != "" {
		where = append(where, "(organizer_id = ? OR id IN (SELECT meeting_id FROM meeting_participants WHERE user_id = ?))")
		args = append(args, filter.ParticipantID, filter.ParticipantID)
	}
	if !filter.From.IsZero() {
		where = append(where, "end_at > ?")
		args = append(args, d.Time(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "start_at < ?")
		args = append(args, d.Time(filter.To))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query := tx.s.rebind(`SELECT ` + meetingColumns + ` FROM meetings
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY start_at ASC, id ASC`)
	return tx.queryMeetings(ctx, query, args...)
}

// SaveMeeting upserts the meeting row and replaces its participant rows.
func (tx bookingTx) SaveMeeting(ctx context.Context, meeting *scheduler.Meeting) error {
	d := tx.s.dialect
	snap := meeting.Snapshot()
	upsert := tx.s.rebind(`
		INSERT INTO meetings (` + meetingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			room_id = excluded.room_id,
			title = excluded.title,
			description = excluded.description,
			capacity = excluded.capacity,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			status = excluded.status,
			updated_at = excluded.updated_at,
			cancelled_at = excluded.cancelled_at`)
	_, err := tx.q.ExecContext(ctx, upsert,
		snap.ID,
		snap.RoomID,
		snap.OrganizerID,
		snap.Title,
		snap.Description,
		snap.Capacity,
		d.Time(snap.Start),
		d.Time(snap.End),
		string(snap.Status),
		d.Time(snap.CreatedAt),
		d.Time(snap.UpdatedAt),
		d.NullTime(snap.CancelledAt),
	)
	if err != nil {
		return tx.s.mapper.MapError(err)
	}

	if _, err := tx.q.ExecContext(ctx, tx.s.rebind(`DELETE FROM meeting_participants WHERE meeting_id = ?`), snap.ID); err != nil {
		return tx.s.mapper.MapError(err)
	}
	insert := tx.s.rebind(`INSERT INTO meeting_participants (meeting_id, user_id, position) VALUES (?, ?, ?)`)
	for i, userID := range snap.ParticipantIDs {
		if _, err := tx.q.ExecContext(ctx, insert, snap.ID, userID, i); err != nil {
			return tx.s.mapper.MapError(err)
		}
	}
	return nil
}

func (tx bookingTx) queryMeetings(ctx context.Context, query string, args ...any) ([]*scheduler.Meeting, error) {
	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	var snaps []scheduler.MeetingSnapshot
	for rows.Next() {
		snap, err := scanMeeting(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, tx.s.mapper.MapError(err)
	}
	rows.Close()
	return tx.restore(ctx, snaps)
}

// restore loads participants for snaps and rebuilds the aggregates. Rows
// must be closed first because SQLite runs on a single connection.
func (tx bookingTx) restore(ctx context.Context, snaps []scheduler.MeetingSnapshot) ([]*scheduler.Meeting, error) {
	if len(snaps) == 0 {
		return nil, nil
	}
	args := make([]any, len(snaps))
	index := make(map[string]int, len(snaps))
	for i, s := range snaps {
		args[i] = s.ID
		index[s.ID] = i
	}
	query := tx.s.rebind(`SELECT meeting_id, user_id FROM meeting_participants
		WHERE meeting_id IN (` + placeholders(len(snaps)) + `)
		ORDER BY meeting_id ASC, position ASC`)
	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, tx.s.mapper.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var meetingID, userID string
		if err := rows.Scan(&meetingID, &userID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		i := index[meetingID]
		snaps[i].ParticipantIDs = append(snaps[i].ParticipantIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, tx.s.mapper.MapError(err)
	}

	meetings := make([]*scheduler.Meeting, 0, len(snaps))
	for _, s := range snaps {
		m, err := scheduler.RestoreMeeting(s)
		if err != nil {
			return nil, fmt.Errorf("restore meeting %s: %w", s.ID, err)
		}
		meetings = append(meetings, m)
	}
	return meetings, nil
}

func scanMeeting(row rowScanner) (scheduler.MeetingSnapshot, error) {
	var (
		s                                        scheduler.MeetingSnapshot
		status                                   string
		start, end, createdAt, updatedAt, cancel dialect.Timestamp
	)
	err := row.Scan(
		&s.ID,
		&s.RoomID,
		&s.OrganizerID,
		&s.Title,
		&s.Description,
		&s.Capacity,
		&start,
		&end,
		&status,
		&createdAt,
		&updatedAt,
		&cancel,
	)
	if err != nil {
		return scheduler.MeetingSnapshot{}, err
	}
	s.Status = scheduler.Status(status)
	s.Start = start.Time
	s.End = end.Time
	s.CreatedAt = createdAt.Time
	s.UpdatedAt = updatedAt.Time
	s.CancelledAt = cancel.Ptr()
	return s, nil
}

func roomStatus(s string) scheduler.RoomStatus {
	if s == "" {
		return scheduler.RoomIdle
	}
	return scheduler.RoomStatus(s)
}
