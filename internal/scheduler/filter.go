package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// MeetingFilter narrows a meeting listing. Zero fields match every meeting.
type MeetingFilter struct {
	RoomID      string
	OrganizerID string
	// ParticipantID matches meetings the user organises or attends.
	ParticipantID string
	// From and To keep meetings that overlap [From, To). Either bound may be
	// left zero.
	From     time.Time
	To       time.Time
	Statuses []Status
}

// Validate checks the window and the statuses.
func (f MeetingFilter) Validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return ErrInvalidInterval.WithField("time", "from must be before to")
	}
	for _, status := range f.Statuses {
		if !status.Valid() {
			return ErrInvalidFilter.WithField("status", fmt.Sprintf("unknown meeting status %q", string(status)))
		}
	}
	return nil
}

// Normalize trims ids and drops duplicate statuses.
func (f MeetingFilter) Normalize() MeetingFilter {
	f.RoomID = strings.TrimSpace(f.RoomID)
	f.OrganizerID = strings.TrimSpace(f.OrganizerID)
	f.ParticipantID = strings.TrimSpace(f.ParticipantID)
	if len(f.Statuses) > 0 {
		seen := make(map[Status]struct{}, len(f.Statuses))
		statuses := make([]Status, 0, len(f.Statuses))
		for _, status := range f.Statuses {
			if _, ok := seen[status]; ok {
				continue
			}
			seen[status] = struct{}{}
			statuses = append(statuses, status)
		}
		f.Statuses = statuses
	}
	return f
}

// Matches reports whether m passes every criterion set on f.
func (f MeetingFilter) Matches(m *Meeting) bool {
	if m == nil {
		return false
	}
	if f.RoomID != "" && m.RoomID() != f.RoomID {
		return false
	}
	if f.OrganizerID != "" && m.OrganizerID() != f.OrganizerID {
		return false
	}
	if f.ParticipantID != "" && !m.IsOrganizer(f.ParticipantID) && !m.IsParticipant(f.ParticipantID) {
		return false
	}
	iv := m.Interval()
	if !f.From.IsZero() && !iv.End().After(f.From) {
		return false
	}
	if !f.To.IsZero() && !iv.Start().Before(f.To) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, status := range f.Statuses {
			if m.Status() == status {
				return true
			}
		}
		return false
	}
	return true
}
