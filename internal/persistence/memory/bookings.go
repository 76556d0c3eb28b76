package memory

import (
	"context"
	"sort"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/scheduler"
)

type bookingStore struct{ s *Store }

// WithinRoom runs fn under the store mutex, which covers every room.
func (b bookingStore) WithinRoom(ctx context.Context, _ string, fn func(tx scheduler.Tx) error) error {
	return b.Within(ctx, fn)
}

func (b bookingStore) Within(ctx context.Context, fn func(tx scheduler.Tx) error) error {
	return b.s.run(ctx, func(st *state) error {
		return fn(bookingTx{st: st})
	})
}

type bookingTx struct{ st *state }

func (tx bookingTx) FindRoom(_ context.Context, roomID string) (scheduler.Room, error) {
	r, ok := tx.st.liveRoom(roomID)
	if !ok {
		return scheduler.Room{}, persistence.ErrNotFound
	}
	return toSchedulerRoom(r), nil
}

func (tx bookingTx) ListRooms(_ context.Context, minCapacity int) ([]scheduler.Room, error) {
	rooms := make([]scheduler.Room, 0, len(tx.st.rooms))
	for _, r := range tx.st.rooms {
		if r.DeletedAt != nil || r.Capacity < minCapacity {
			continue
		}
		rooms = append(rooms, toSchedulerRoom(r))
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (tx bookingTx) MissingUserIDs(_ context.Context, ids []string) ([]string, error) {
	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		u, ok := tx.st.liveUser(id)
		if !ok || u.Disabled {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (tx bookingTx) FindMeeting(_ context.Context, id string) (*scheduler.Meeting, error) {
	snap, ok := tx.st.meetings[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return scheduler.RestoreMeeting(cloneMeeting(snap))
}

func (tx bookingTx) FindOverlapping(_ context.Context, roomID string, interval scheduler.TimeInterval, excludeID string) ([]*scheduler.Meeting, error) {
	var out []*scheduler.Meeting
	for id, snap := range tx.st.meetings {
		if snap.RoomID != roomID || id == excludeID || snap.Status == scheduler.StatusCancelled {
			continue
		}
		if !(snap.Start.Before(interval.End()) && interval.Start().Before(snap.End)) {
			continue
		}
		m, err := scheduler.RestoreMeeting(cloneMeeting(snap))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sortMeetings(out)
	return out, nil
}

func (tx bookingTx) FindMeetingsByStatus(_ context.Context, statuses ...scheduler.Status) ([]*scheduler.Meeting, error) {
	wanted := make(map[scheduler.Status]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}
	var out []*scheduler.Meeting
	for _, snap := range tx.st.meetings {
		if _, ok := wanted[snap.Status]; !ok {
			continue
		}
		m, err := scheduler.RestoreMeeting(cloneMeeting(snap))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sortMeetings(out)
	return out, nil
}

func (tx bookingTx) ListMeetings(_ context.Context, filter scheduler.MeetingFilter) ([]*scheduler.Meeting, error) {
	var out []*scheduler.Meeting
	for _, snap := range tx.st.meetings {
		m, err := scheduler.RestoreMeeting(cloneMeeting(snap))
		if err != nil {
			return nil, err
		}
		if filter.Matches(m) {
			out = append(out, m)
		}
	}
	sortMeetings(out)
	return out, nil
}

func (tx bookingTx) SaveMeeting(_ context.Context, meeting *scheduler.Meeting) error {
	if _, ok := tx.st.liveRoom(meeting.RoomID()); !ok {
		return persistence.ErrForeignKeyViolation
	}
	tx.st.meetings[meeting.ID()] = meeting.Snapshot()
	return nil
}

func toSchedulerRoom(r persistence.Room) scheduler.Room {
	status := scheduler.RoomStatus(r.Status)
	if status == "" {
		status = scheduler.RoomIdle
	}
	return scheduler.Room{ID: r.ID, Name: r.Name, Capacity: r.Capacity, Status: status}
}

func sortMeetings(ms []*scheduler.Meeting) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i].Interval().Start(), ms[j].Interval().Start()
		if a.Equal(b) {
			return ms[i].ID() < ms[j].ID()
		}
		return a.Before(b)
	})
}
