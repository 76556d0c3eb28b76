package scheduler

import "github.com/ksti/meeting-room/internal/domain"

// Ref keys attached to scheduler errors.
const (
	RefRoomID         = "room_id"
	RefMeetingID      = "meeting_id"
	RefUserIDs        = "user_ids"
	RefConflictingIDs = "conflicting_meeting_ids"
)

var (
	ErrInvalidInterval       = domain.New(domain.KindValidation, "invalid_interval", "invalid time interval")
	ErrInvalidMeeting        = domain.New(domain.KindValidation, "invalid_meeting", "invalid meeting")
	ErrInvalidFilter         = domain.New(domain.KindValidation, "invalid_filter", "invalid meeting filter")
	ErrInvalidTransition     = domain.New(domain.KindInvalidState, "invalid_transition", "status transition not allowed")
	ErrMeetingClosed         = domain.New(domain.KindInvalidState, "meeting_closed", "meeting is cancelled or completed")
	ErrCapacityExceeded      = domain.New(domain.KindConflict, "capacity_exceeded", "meeting capacity exceeded")
	ErrCannotRemoveOrganizer = domain.New(domain.KindInvalidState, "cannot_remove_organizer", "organizer cannot be removed")
	ErrRoomNotFound          = domain.New(domain.KindNotFound, "room_not_found", "room not found")
	ErrRoomUnavailable       = domain.New(domain.KindConflict, "room_unavailable", "room is already booked for the requested time")
	ErrRoomOutOfService      = domain.New(domain.KindConflict, "room_out_of_service", "room is under maintenance or disabled")
	ErrMeetingNotFound       = domain.New(domain.KindNotFound, "meeting_not_found", "meeting not found")
	ErrParticipantNotFound   = domain.New(domain.KindNotFound, "participant_not_found", "participant not found")
	ErrNotOrganizer          = domain.New(domain.KindForbidden, "not_organizer", "only the organizer can manage this meeting")
)
