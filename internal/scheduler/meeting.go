package scheduler

import (
	"sort"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/domain"
)

// Status is the lifecycle state of a meeting.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Closed reports whether no further mutation is accepted in this state.
func (s Status) Closed() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// MeetingParams carries the inputs of the Meeting factory.
type MeetingParams struct {
	ID          string
	Title       string
	Description string
	Capacity    int
	Interval    TimeInterval
	OrganizerID string
	RoomID      string
}

// MeetingUpdate lists the descriptive fields Update may change. Nil means keep.
type MeetingUpdate struct {
	Title       *string
	Description *string
	Capacity    *int
}

// Meeting is the booking aggregate. State changes only through its methods so
// the capacity, organizer and status invariants hold at all times.
type Meeting struct {
	id           string
	title        string
	description  string
	capacity     int
	interval     TimeInterval
	organizerID  string
	roomID       string
	status       Status
	participants map[string]struct{}
	createdAt    time.Time
	updatedAt    time.Time
	cancelledAt  *time.Time
}

// NewMeeting validates params and returns a scheduled meeting whose
// participant set already contains the organizer.
func NewMeeting(params MeetingParams, now time.Time) (*Meeting, error) {
	v := newMeetingValidation()
	title := strings.TrimSpace(params.Title)
	if title == "" {
		v.Add("title", "title is required")
	}
	if params.Capacity <= 0 {
		v.Add("capacity", "capacity must be positive")
	}
	if params.Interval.IsZero() {
		v.Add("time", "start must be before end")
	} else if _, err := NewTimeInterval(params.Interval.Start(), params.Interval.End()); err != nil {
		v.Add("time", "start must be before end")
	}
	if strings.TrimSpace(params.OrganizerID) == "" {
		v.Add("organizer_id", "organizer is required")
	}
	if strings.TrimSpace(params.RoomID) == "" {
		v.Add("room_id", "room is required")
	}
	if strings.TrimSpace(params.ID) == "" {
		v.Add("id", "id is required")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	return &Meeting{
		id:           params.ID,
		title:        title,
		description:  strings.TrimSpace(params.Description),
		capacity:     params.Capacity,
		interval:     params.Interval,
		organizerID:  params.OrganizerID,
		roomID:       params.RoomID,
		status:       StatusScheduled,
		participants: map[string]struct{}{params.OrganizerID: {}},
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

func (m *Meeting) ID() string             { return m.id }
func (m *Meeting) Title() string          { return m.title }
func (m *Meeting) Description() string    { return m.description }
func (m *Meeting) Capacity() int          { return m.capacity }
func (m *Meeting) Interval() TimeInterval { return m.interval }
func (m *Meeting) OrganizerID() string    { return m.organizerID }
func (m *Meeting) RoomID() string         { return m.roomID }
func (m *Meeting) Status() Status         { return m.status }
func (m *Meeting) CreatedAt() time.Time   { return m.createdAt }
func (m *Meeting) UpdatedAt() time.Time   { return m.updatedAt }

// CancelledAt returns the cancellation instant, if any.
func (m *Meeting) CancelledAt() (time.Time, bool) {
	if m.cancelledAt == nil {
		return time.Time{}, false
	}
	return *m.cancelledAt, true
}

// Participants returns the participant ids in ascending order.
func (m *Meeting) Participants() []string {
	ids := make([]string, 0, len(m.participants))
	for id := range m.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Meeting) ParticipantCount() int { return len(m.participants) }

func (m *Meeting) IsParticipant(userID string) bool {
	_, ok := m.participants[userID]
	return ok
}

func (m *Meeting) IsOrganizer(userID string) bool { return userID != "" && userID == m.organizerID }

func (m *Meeting) IsFull() bool { return len(m.participants) >= m.capacity }

func (m *Meeting) RemainingCapacity() int {
	if rest := m.capacity - len(m.participants); rest > 0 {
		return rest
	}
	return 0
}

// AddParticipant is a no-op when the user is already a participant.
func (m *Meeting) AddParticipant(userID string, now time.Time) error {
	if m.status.Closed() {
		return ErrMeetingClosed.WithRefs(RefMeetingID, m.id)
	}
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidMeeting.WithField("user_id", "user id is required")
	}
	if m.IsParticipant(userID) {
		return nil
	}
	if m.IsFull() {
		return ErrCapacityExceeded.WithRefs(RefMeetingID, m.id)
	}
	m.participants[userID] = struct{}{}
	m.updatedAt = now
	return nil
}

// RemoveParticipant is a no-op when the user is not a participant.
func (m *Meeting) RemoveParticipant(userID string, now time.Time) error {
	if m.status.Closed() {
		return ErrMeetingClosed.WithRefs(RefMeetingID, m.id)
	}
	if userID == m.organizerID {
		return ErrCannotRemoveOrganizer.WithRefs(RefMeetingID, m.id)
	}
	if !m.IsParticipant(userID) {
		return nil
	}
	delete(m.participants, userID)
	m.updatedAt = now
	return nil
}

// Reschedule moves the meeting. Room availability is the scheduler's concern.
func (m *Meeting) Reschedule(interval TimeInterval, now time.Time) error {
	if m.status.Closed() {
		return ErrMeetingClosed.WithRefs(RefMeetingID, m.id)
	}
	if interval.IsZero() {
		return ErrInvalidInterval.WithField("time", "start must be before end")
	}
	m.interval = interval
	m.updatedAt = now
	return nil
}

// Update changes descriptive fields. Capacity may not drop below the current
// participant count.
func (m *Meeting) Update(update MeetingUpdate, now time.Time) error {
	if m.status.Closed() {
		return ErrMeetingClosed.WithRefs(RefMeetingID, m.id)
	}
	v := newMeetingValidation()
	title := m.title
	if update.Title != nil {
		title = strings.TrimSpace(*update.Title)
		if title == "" {
			v.Add("title", "title is required")
		}
	}
	capacity := m.capacity
	if update.Capacity != nil {
		capacity = *update.Capacity
		if capacity <= 0 {
			v.Add("capacity", "capacity must be positive")
		}
	}
	if err := v.Err(); err != nil {
		return err
	}
	if capacity < len(m.participants) {
		return ErrCapacityExceeded.WithRefs(RefMeetingID, m.id).
			WithField("capacity", "capacity is below the current participant count")
	}

	m.title = title
	m.capacity = capacity
	if update.Description != nil {
		m.description = strings.TrimSpace(*update.Description)
	}
	m.updatedAt = now
	return nil
}

// Cancel is idempotent for cancelled meetings and fails for completed ones.
func (m *Meeting) Cancel(now time.Time) error {
	switch m.status {
	case StatusCancelled:
		return nil
	case StatusScheduled, StatusInProgress:
		m.status = StatusCancelled
		cancelledAt := now
		m.cancelledAt = &cancelledAt
		m.updatedAt = now
		return nil
	default:
		return m.transitionError(StatusCancelled)
	}
}

// Start moves a scheduled meeting to in progress.
func (m *Meeting) Start(now time.Time) error {
	if m.status != StatusScheduled {
		return m.transitionError(StatusInProgress)
	}
	m.status = StatusInProgress
	m.updatedAt = now
	return nil
}

// Complete moves an in-progress meeting to completed.
func (m *Meeting) Complete(now time.Time) error {
	if m.status != StatusInProgress {
		return m.transitionError(StatusCompleted)
	}
	m.status = StatusCompleted
	m.updatedAt = now
	return nil
}

// OverlapsWith is always false for cancelled meetings.
func (m *Meeting) OverlapsWith(interval TimeInterval) bool {
	if m.status == StatusCancelled {
		return false
	}
	return m.interval.Overlaps(interval)
}

func (m *Meeting) transitionError(to Status) error {
	return ErrInvalidTransition.WithRefs(RefMeetingID, m.id).
		WithField("status", string(m.status)+" -> "+string(to))
}

func newMeetingValidation() *domain.Validation {
	return domain.NewValidation(ErrInvalidMeeting)
}

// MeetingSnapshot is the flat form stores persist.
type MeetingSnapshot struct {
	ID             string
	Title          string
	Description    string
	Capacity       int
	Start          time.Time
	End            time.Time
	OrganizerID    string
	RoomID         string
	Status         Status
	ParticipantIDs []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CancelledAt    *time.Time
}

// Snapshot returns a detached copy of the aggregate state.
func (m *Meeting) Snapshot() MeetingSnapshot {
	s := MeetingSnapshot{
		ID:             m.id,
		Title:          m.title,
		Description:    m.description,
		Capacity:       m.capacity,
		Start:          m.interval.Start(),
		End:            m.interval.End(),
		OrganizerID:    m.organizerID,
		RoomID:         m.roomID,
		Status:         m.status,
		ParticipantIDs: m.Participants(),
		CreatedAt:      m.createdAt,
		UpdatedAt:      m.updatedAt,
	}
	if m.cancelledAt != nil {
		c := *m.cancelledAt
		s.CancelledAt = &c
	}
	return s
}

// RestoreMeeting rebuilds an aggregate from stored state, rejecting records
// that break the aggregate invariants.
func RestoreMeeting(s MeetingSnapshot) (*Meeting, error) {
	interval, err := NewTimeInterval(s.Start, s.End)
	if err != nil {
		return nil, err
	}
	if !s.Status.Valid() {
		return nil, ErrInvalidMeeting.WithField("status", "unknown status "+string(s.Status))
	}
	participants := make(map[string]struct{}, len(s.ParticipantIDs)+1)
	participants[s.OrganizerID] = struct{}{}
	for _, id := range s.ParticipantIDs {
		if id != "" {
			participants[id] = struct{}{}
		}
	}
	if s.Capacity <= 0 || len(participants) > s.Capacity {
		return nil, ErrInvalidMeeting.WithRefs(RefMeetingID, s.ID).
			WithField("capacity", "stored participants exceed capacity")
	}
	m := &Meeting{
		id:           s.ID,
		title:        s.Title,
		description:  s.Description,
		capacity:     s.Capacity,
		interval:     interval,
		organizerID:  s.OrganizerID,
		roomID:       s.RoomID,
		status:       s.Status,
		participants: participants,
		createdAt:    s.CreatedAt,
		updatedAt:    s.UpdatedAt,
	}
	if s.CancelledAt != nil {
		c := *s.CancelledAt
		m.cancelledAt = &c
	}
	return m, nil
}
