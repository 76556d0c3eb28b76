package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/persistence"
)

// Tx is the store view available inside one unit of work. Implementations
// return persistence.ErrNotFound for absent rooms and meetings and never
// return soft-deleted records.
type Tx interface {
	FindRoom(ctx context.Context, roomID string) (Room, error)
	ListRooms(ctx context.Context, minCapacity int) ([]Room, error)
	// MissingUserIDs returns the ids among ids that do not resolve to an
	// active user.
	MissingUserIDs(ctx context.Context, ids []string) ([]string, error)
	FindMeeting(ctx context.Context, id string) (*Meeting, error)
	// FindOverlapping returns the non-cancelled meetings of roomID whose
	// interval overlaps interval, skipping excludeID when non-empty.
	FindOverlapping(ctx context.Context, roomID string, interval TimeInterval, excludeID string) ([]*Meeting, error)
	FindMeetingsByStatus(ctx context.Context, statuses ...Status) ([]*Meeting, error)
	// ListMeetings returns the meetings matching filter ordered by start
	// time, then id.
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]*Meeting, error)
	SaveMeeting(ctx context.Context, meeting *Meeting) error
}

// Store runs units of work. WithinRoom must hold an exclusive lock on the room
// for the duration of fn so that the conflict check and the write it guards
// are atomic. Both commit only when fn returns nil.
type Store interface {
	WithinRoom(ctx context.Context, roomID string, fn func(tx Tx) error) error
	Within(ctx context.Context, fn func(tx Tx) error) error
}

// CreateMeetingRequest carries the caller supplied fields of a new meeting.
type CreateMeetingRequest struct {
	Title          string
	Description    string
	Capacity       int
	Start          time.Time
	End            time.Time
	RoomID         string
	ParticipantIDs []string
}

// BookingScheduler admits meetings into rooms and drives their lifecycle.
type BookingScheduler struct {
	store       Store
	idGenerator func() string
	now         func() time.Time
}

// NewBookingScheduler wires the scheduler to its store, id source and clock.
func NewBookingScheduler(store Store, idGenerator func() string, now func() time.Time) *BookingScheduler {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &BookingScheduler{store: store, idGenerator: idGenerator, now: now}
}

// IsRoomAvailable reports whether roomID is free for interval, ignoring
// excludeMeetingID. Rooms under maintenance or disabled are never available.
func (s *BookingScheduler) IsRoomAvailable(ctx context.Context, roomID string, interval TimeInterval, excludeMeetingID string) (bool, error) {
	if s == nil || s.store == nil {
		return false, fmt.Errorf("scheduler store not configured")
	}
	available := false
	err := s.store.Within(ctx, func(tx Tx) error {
		_, err := admit(ctx, tx, roomID, interval, excludeMeetingID)
		switch {
		case err == nil:
			available = true
		case errors.Is(err, ErrRoomOutOfService), errors.Is(err, ErrRoomUnavailable):
		default:
			return err
		}
		return nil
	})
	return available, err
}

// CreateMeeting books a new meeting organised by requesterID. The conflict
// check and the insert share one room-locked unit of work, and the requested
// participants are resolved all at once so no partial list is ever stored.
func (s *BookingScheduler) CreateMeeting(ctx context.Context, req CreateMeetingRequest, requesterID string) (*Meeting, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("scheduler store not configured")
	}

	// An invalid interval stays zero and NewMeeting reports it with the other fields.
	interval, _ := NewTimeInterval(req.Start, req.End)
	now := s.now()
	meeting, err := NewMeeting(MeetingParams{
		ID:          s.idGenerator(),
		Title:       req.Title,
		Description: req.Description,
		Capacity:    req.Capacity,
		Interval:    interval,
		OrganizerID: requesterID,
		RoomID:      req.RoomID,
	}, now)
	if err != nil {
		return nil, err
	}

	participants := uniqueIDs(req.ParticipantIDs, requesterID)

	err = s.store.WithinRoom(ctx, req.RoomID, func(tx Tx) error {
		room, err := admit(ctx, tx, req.RoomID, interval, "")
		if err != nil {
			return err
		}
		if err := fitsRoom(room, req.Capacity); err != nil {
			return err
		}

		missing, err := tx.MissingUserIDs(ctx, append([]string{requesterID}, participants...))
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return ErrParticipantNotFound.WithRefs(RefUserIDs, missing...)
		}

		for _, id := range participants {
			if err := meeting.AddParticipant(id, now); err != nil {
				return err
			}
		}

		return tx.SaveMeeting(ctx, meeting)
	})
	if err != nil {
		return nil, err
	}
	return meeting, nil
}

// RescheduleMeeting moves a meeting to interval within its room.
func (s *BookingScheduler) RescheduleMeeting(ctx context.Context, meetingID string, interval TimeInterval, requesterID string) (*Meeting, error) {
	if interval.IsZero() {
		return nil, ErrInvalidInterval.WithField("time", "start must be before end")
	}
	return s.mutate(ctx, meetingID, requesterID, func(tx Tx, m *Meeting, now time.Time) error {
		if m.Status().Closed() {
			return ErrMeetingClosed.WithRefs(RefMeetingID, m.ID())
		}
		if _, err := admit(ctx, tx, m.RoomID(), interval, m.ID()); err != nil {
			return err
		}
		return m.Reschedule(interval, now)
	})
}

// CancelMeeting cancels a meeting. The slot is released immediately.
func (s *BookingScheduler) CancelMeeting(ctx context.Context, meetingID, requesterID string) (*Meeting, error) {
	return s.mutate(ctx, meetingID, requesterID, func(_ Tx, m *Meeting, now time.Time) error {
		return m.Cancel(now)
	})
}

// UpdateMeeting changes the descriptive fields of a meeting.
func (s *BookingScheduler) UpdateMeeting(ctx context.Context, meetingID string, update MeetingUpdate, requesterID string) (*Meeting, error) {
	return s.mutate(ctx, meetingID, requesterID, func(tx Tx, m *Meeting, now time.Time) error {
		if update.Capacity != nil {
			room, err := findRoom(ctx, tx, m.RoomID())
			if err != nil {
				return err
			}
			if err := fitsRoom(room, *update.Capacity); err != nil {
				return err
			}
		}
		return m.Update(update, now)
	})
}

// AddParticipant adds an existing user to a meeting.
func (s *BookingScheduler) AddParticipant(ctx context.Context, meetingID, userID, requesterID string) (*Meeting, error) {
	return s.mutate(ctx, meetingID, requesterID, func(tx Tx, m *Meeting, now time.Time) error {
		if m.Status().Closed() {
			return ErrMeetingClosed.WithRefs(RefMeetingID, m.ID())
		}
		missing, err := tx.MissingUserIDs(ctx, []string{userID})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return ErrParticipantNotFound.WithRefs(RefUserIDs, missing...)
		}
		return m.AddParticipant(userID, now)
	})
}

// RemoveParticipant removes a user from a meeting.
func (s *BookingScheduler) RemoveParticipant(ctx context.Context, meetingID, userID, requesterID string) (*Meeting, error) {
	return s.mutate(ctx, meetingID, requesterID, func(_ Tx, m *Meeting, now time.Time) error {
		return m.RemoveParticipant(userID, now)
	})
}

// GetMeeting loads a meeting by id.
func (s *BookingScheduler) GetMeeting(ctx context.Context, meetingID string) (*Meeting, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("scheduler store not configured")
	}
	var meeting *Meeting
	err := s.store.Within(ctx, func(tx Tx) error {
		m, err := findMeeting(ctx, tx, meetingID)
		if err != nil {
			return err
		}
		meeting = m
		return nil
	})
	return meeting, err
}

// ListMeetings returns the meetings matching filter ordered by start time,
// then id.
func (s *BookingScheduler) ListMeetings(ctx context.Context, filter MeetingFilter) ([]*Meeting, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("scheduler store not configured")
	}
	filter = filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	var meetings []*Meeting
	err := s.store.Within(ctx, func(tx Tx) error {
		found, err := tx.ListMeetings(ctx, filter)
		if err != nil {
			return err
		}
		meetings = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meetings, nil
}

// AvailableRooms lists the bookable rooms with at least requiredCapacity
// seats that are free for interval, ordered by id.
func (s *BookingScheduler) AvailableRooms(ctx context.Context, interval TimeInterval, requiredCapacity int) ([]Room, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("scheduler store not configured")
	}
	if interval.IsZero() {
		return nil, ErrInvalidInterval.WithField("time", "start must be before end")
	}
	var available []Room
	err := s.store.Within(ctx, func(tx Tx) error {
		rooms, err := tx.ListRooms(ctx, requiredCapacity)
		if err != nil {
			return err
		}
		for _, room := range rooms {
			if !room.Status.Bookable() || room.Capacity < requiredCapacity {
				continue
			}
			conflicts, err := conflictsFor(ctx, tx, room.ID, interval, "")
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				available = append(available, room)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })
	return available, nil
}

// AdvanceStatuses starts scheduled meetings whose interval contains now and
// completes in-progress meetings that ended before now. Scheduled meetings
// that ended before now pass through both transitions. It returns the number
// of meetings changed; a second run with the same now changes nothing.
func (s *BookingScheduler) AdvanceStatuses(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("scheduler store not configured")
	}
	count := 0
	err := s.store.Within(ctx, func(tx Tx) error {
		count = 0
		scheduled, err := tx.FindMeetingsByStatus(ctx, StatusScheduled)
		if err != nil {
			return err
		}
		for _, m := range scheduled {
			iv := m.Interval()
			switch {
			case iv.Contains(now):
				if err := m.Start(now); err != nil {
					return err
				}
			case iv.End().Before(now):
				if err := m.Start(now); err != nil {
					return err
				}
				if err := m.Complete(now); err != nil {
					return err
				}
			default:
				continue
			}
			if err := tx.SaveMeeting(ctx, m); err != nil {
				return err
			}
			count++
		}

		running, err := tx.FindMeetingsByStatus(ctx, StatusInProgress)
		if err != nil {
			return err
		}
		for _, m := range running {
			if !m.Interval().End().Before(now) {
				continue
			}
			if err := m.Complete(now); err != nil {
				return err
			}
			if err := tx.SaveMeeting(ctx, m); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// mutate loads a meeting under its room lock, checks that requesterID
// organises it, applies fn and saves the result.
func (s *BookingScheduler) mutate(ctx context.Context, meetingID, requesterID string, fn func(tx Tx, m *Meeting, now time.Time) error) (*Meeting, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("scheduler store not configured")
	}

	var roomID string
	err := s.store.Within(ctx, func(tx Tx) error {
		m, err := findMeeting(ctx, tx, meetingID)
		if err != nil {
			return err
		}
		roomID = m.RoomID()
		return nil
	})
	if err != nil {
		return nil, err
	}

	var meeting *Meeting
	err = s.store.WithinRoom(ctx, roomID, func(tx Tx) error {
		m, err := findMeeting(ctx, tx, meetingID)
		if err != nil {
			return err
		}
		if !m.IsOrganizer(requesterID) {
			return ErrNotOrganizer.WithRefs(RefMeetingID, m.ID())
		}
		if err := fn(tx, m, s.now()); err != nil {
			return err
		}
		if err := tx.SaveMeeting(ctx, m); err != nil {
			return err
		}
		meeting = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meeting, nil
}

// conflictsFor is the single conflict rule shared by every admission path.
func conflictsFor(ctx context.Context, tx Tx, roomID string, interval TimeInterval, excludeID string) ([]Conflict, error) {
	candidates, err := tx.FindOverlapping(ctx, roomID, interval, excludeID)
	if err != nil {
		return nil, err
	}
	return DetectConflicts(candidates, roomID, interval, excludeID), nil
}

// admit checks that roomID exists, is bookable and has no live meeting
// overlapping interval other than excludeID. Creation, rescheduling and
// availability queries all go through it.
func admit(ctx context.Context, tx Tx, roomID string, interval TimeInterval, excludeID string) (Room, error) {
	room, err := findRoom(ctx, tx, roomID)
	if err != nil {
		return Room{}, err
	}
	if !room.Status.Bookable() {
		return room, ErrRoomOutOfService.WithRefs(RefRoomID, room.ID)
	}
	if err := ensureRoomFree(ctx, tx, room.ID, interval, excludeID); err != nil {
		return room, err
	}
	return room, nil
}

func fitsRoom(room Room, capacity int) error {
	if room.Capacity > 0 && capacity > room.Capacity {
		return ErrCapacityExceeded.
			WithRefs(RefRoomID, room.ID).
			WithField("capacity", fmt.Sprintf("capacity exceeds room capacity of %d", room.Capacity))
	}
	return nil
}

func ensureRoomFree(ctx context.Context, tx Tx, roomID string, interval TimeInterval, excludeID string) error {
	conflicts, err := conflictsFor(ctx, tx, roomID, interval, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return ErrRoomUnavailable.
			WithRefs(RefRoomID, roomID).
			WithRefs(RefConflictingIDs, conflictIDs(conflicts)...)
	}
	return nil
}

func findRoom(ctx context.Context, tx Tx, roomID string) (Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return Room{}, ErrRoomNotFound
	}
	room, err := tx.FindRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Room{}, ErrRoomNotFound.WithRefs(RefRoomID, roomID)
		}
		return Room{}, err
	}
	return room, nil
}

func findMeeting(ctx context.Context, tx Tx, meetingID string) (*Meeting, error) {
	if strings.TrimSpace(meetingID) == "" {
		return nil, ErrMeetingNotFound
	}
	m, err := tx.FindMeeting(ctx, meetingID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrMeetingNotFound.WithRefs(RefMeetingID, meetingID)
		}
		return nil, err
	}
	return m, nil
}

// uniqueIDs drops blanks, duplicates and skip while keeping input order.
func uniqueIDs(ids []string, skip string) []string {
	seen := map[string]struct{}{skip: {}}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
