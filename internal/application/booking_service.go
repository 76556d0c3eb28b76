package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/domain"
	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/scheduler"
)

// BookingMetrics receives booking outcomes. *obs.Metrics satisfies it.
type BookingMetrics interface {
	ObserveBooking(operation, kind string)
	ObserveTransitions(n int)
}

// BookingService exposes meeting operations to transports. It adds
// authentication checks, logging and metrics around the scheduler.
type BookingService struct {
	scheduler *scheduler.BookingScheduler
	metrics   BookingMetrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewBookingService constructs a booking service over store.
func NewBookingService(store scheduler.Store, idGenerator func() string, now func() time.Time, metrics BookingMetrics) *BookingService {
	return NewBookingServiceWithLogger(store, idGenerator, now, metrics, nil)
}

// NewBookingServiceWithLogger constructs a booking service with a specified logger.
func NewBookingServiceWithLogger(store scheduler.Store, idGenerator func() string, now func() time.Time, metrics BookingMetrics, logger *slog.Logger) *BookingService {
	if now == nil {
		now = time.Now
	}
	svc := &BookingService{metrics: metrics, now: now, logger: defaultLogger(logger)}
	if store != nil {
		svc.scheduler = scheduler.NewBookingScheduler(store, idGenerator, now)
	}
	return svc
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

func (s *BookingService) ready(principal Principal) error {
	if s == nil {
		return fmt.Errorf("BookingService is nil")
	}
	if s.scheduler == nil {
		return fmt.Errorf("booking store not configured")
	}
	if strings.TrimSpace(principal.UserID) == "" {
		return ErrUnauthorized
	}
	return nil
}

// finish maps err, records the outcome and logs once. It returns the mapped error.
func (s *BookingService) finish(ctx context.Context, logger *slog.Logger, operation string, err error, meeting *Meeting) error {
	err = mapBookingError(err)
	if s.metrics != nil {
		s.metrics.ObserveBooking(operation, ErrorKind(err))
	}
	if err != nil {
		logger.ErrorContext(ctx, "booking operation failed", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	if meeting != nil {
		logger = logger.With("meeting_id", meeting.ID, "status", string(meeting.Status))
	}
	logger.InfoContext(ctx, "booking operation succeeded")
	return nil
}

// CreateMeeting books a meeting organised by the principal.
func (s *BookingService) CreateMeeting(ctx context.Context, params CreateMeetingParams) (meeting Meeting, err error) {
	if err = s.ready(params.Principal); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateMeeting",
		"principal_id", params.Principal.UserID,
		"room_id", params.Input.RoomID,
	)
	defer func() { err = s.finish(ctx, logger, "create", err, &meeting) }()

	var created *scheduler.Meeting
	created, err = s.scheduler.CreateMeeting(ctx, scheduler.CreateMeetingRequest{
		Title:          params.Input.Title,
		Description:    params.Input.Description,
		Capacity:       params.Input.Capacity,
		Start:          params.Input.Start,
		End:            params.Input.End,
		RoomID:         strings.TrimSpace(params.Input.RoomID),
		ParticipantIDs: params.Input.ParticipantIDs,
	}, params.Principal.UserID)
	if err != nil {
		return
	}
	meeting = meetingFromAggregate(created)
	return
}

// GetMeeting returns a meeting to any authenticated user.
func (s *BookingService) GetMeeting(ctx context.Context, principal Principal, meetingID string) (meeting Meeting, err error) {
	if err = s.ready(principal); err != nil {
		return
	}

	var found *scheduler.Meeting
	found, err = s.scheduler.GetMeeting(ctx, strings.TrimSpace(meetingID))
	if err != nil {
		err = mapBookingError(err)
		s.loggerWith(ctx, "GetMeeting", "principal_id", principal.UserID, "meeting_id", meetingID).
			ErrorContext(ctx, "failed to get meeting", "error", err, "error_kind", ErrorKind(err))
		return
	}
	return meetingFromAggregate(found), nil
}

// ListMeetings returns the meetings matching params ordered by start time.
func (s *BookingService) ListMeetings(ctx context.Context, params ListMeetingsParams) (meetings []Meeting, err error) {
	if err = s.ready(params.Principal); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ListMeetings",
		"principal_id", params.Principal.UserID,
		"room_id", params.RoomID,
		"participant_id", params.ParticipantID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list meetings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(meetings)).InfoContext(ctx, "meetings listed")
	}()

	var found []*scheduler.Meeting
	found, err = s.scheduler.ListMeetings(ctx, scheduler.MeetingFilter{
		RoomID:        params.RoomID,
		OrganizerID:   params.OrganizerID,
		ParticipantID: params.ParticipantID,
		From:          params.From,
		To:            params.To,
		Statuses:      params.Statuses,
	})
	if err != nil {
		err = mapBookingError(err)
		return
	}
	meetings = make([]Meeting, 0, len(found))
	for _, m := range found {
		meetings = append(meetings, meetingFromAggregate(m))
	}
	return
}

// UpdateMeeting changes title, description or capacity. Only the organizer may do so.
func (s *BookingService) UpdateMeeting(ctx context.Context, params UpdateMeetingParams) (meeting Meeting, err error) {
	if err = s.ready(params.Principal); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdateMeeting",
		"principal_id", params.Principal.UserID,
		"meeting_id", params.MeetingID,
	)
	defer func() { err = s.finish(ctx, logger, "update", err, &meeting) }()

	var updated *scheduler.Meeting
	updated, err = s.scheduler.UpdateMeeting(ctx, params.MeetingID, scheduler.MeetingUpdate{
		Title:       params.Title,
		Description: params.Description,
		Capacity:    params.Capacity,
	}, params.Principal.UserID)
	if err != nil {
		return
	}
	meeting = meetingFromAggregate(updated)
	return
}

// RescheduleMeeting moves a meeting, keeping its room.
func (s *BookingService) RescheduleMeeting(ctx context.Context, params RescheduleMeetingParams) (meeting Meeting, err error) {
	if err = s.ready(params.Principal); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "RescheduleMeeting",
		"principal_id", params.Principal.UserID,
		"meeting_id", params.MeetingID,
	)
	defer func() { err = s.finish(ctx, logger, "reschedule", err, &meeting) }()

	var interval scheduler.TimeInterval
	interval, err = scheduler.NewTimeInterval(params.Start, params.End)
	if err != nil {
		return
	}

	var moved *scheduler.Meeting
	moved, err = s.scheduler.RescheduleMeeting(ctx, params.MeetingID, interval, params.Principal.UserID)
	if err != nil {
		return
	}
	meeting = meetingFromAggregate(moved)
	return
}

// CancelMeeting cancels a meeting and frees its slot.
func (s *BookingService) CancelMeeting(ctx context.Context, principal Principal, meetingID string) (meeting Meeting, err error) {
	if err = s.ready(principal); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CancelMeeting",
		"principal_id", principal.UserID,
		"meeting_id", meetingID,
	)
	defer func() { err = s.finish(ctx, logger, "cancel", err, &meeting) }()

	var cancelled *scheduler.Meeting
	cancelled, err = s.scheduler.CancelMeeting(ctx, meetingID, principal.UserID)
	if err != nil {
		return
	}
	meeting = meetingFromAggregate(cancelled)
	return
}

// AddParticipant adds a user to a meeting when a seat is free.
func (s *BookingService) AddParticipant(ctx context.Context, params ParticipantParams) (meeting Meeting, err error) {
	if err = s.ready(params.Principal); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "AddParticipant",
		"principal_id", params.Principal.UserID,
		"meeting_id", params.MeetingID,
		"user_id", params.UserID,
	)
	defer func() { err = s.finish(ctx, logger, "add_participant", err, &meeting) }()

	var updated *scheduler.Meeting
	updated, err = s.scheduler.AddParticipant(ctx, params.MeetingID, strings.TrimSpace(params.UserID), params.Principal.UserID)
	if err != nil {
		return
	}
	meeting = meetingFromAggregate(updated)
	return
}

// RemoveParticipant removes a user other than the organizer from a meeting.
func (s *BookingService) RemoveParticipant(ctx context.Context, params ParticipantParams) (meeting Meeting, err error) {
	if err = s.ready(params.Principal); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "RemoveParticipant",
		"principal_id", params.Principal.UserID,
		"meeting_id", params.MeetingID,
		"user_id", params.UserID,
	)
	defer func() { err = s.finish(ctx, logger, "remove_participant", err, &meeting) }()

	var updated *scheduler.Meeting
	updated, err = s.scheduler.RemoveParticipant(ctx, params.MeetingID, strings.TrimSpace(params.UserID), params.Principal.UserID)
	if err != nil {
		return
	}
	meeting = meetingFromAggregate(updated)
	return
}

// IsRoomAvailable reports whether roomID is free between start and end.
func (s *BookingService) IsRoomAvailable(ctx context.Context, principal Principal, roomID string, start, end time.Time) (available bool, err error) {
	if err = s.ready(principal); err != nil {
		return
	}

	var interval scheduler.TimeInterval
	if interval, err = scheduler.NewTimeInterval(start, end); err != nil {
		return
	}
	available, err = s.scheduler.IsRoomAvailable(ctx, strings.TrimSpace(roomID), interval, "")
	err = mapBookingError(err)
	return
}

// AvailableRooms lists rooms that can host capacity people between start and end.
func (s *BookingService) AvailableRooms(ctx context.Context, params AvailableRoomsParams) (rooms []Room, err error) {
	if err = s.ready(params.Principal); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "AvailableRooms",
		"principal_id", params.Principal.UserID,
		"capacity", params.Capacity,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to search rooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(rooms)).InfoContext(ctx, "rooms searched")
	}()

	if params.Capacity < 0 {
		vErr := &ValidationError{}
		vErr.add("capacity", "capacity must not be negative")
		err = vErr
		return
	}

	var interval scheduler.TimeInterval
	if interval, err = scheduler.NewTimeInterval(params.Start, params.End); err != nil {
		return
	}

	var free []scheduler.Room
	free, err = s.scheduler.AvailableRooms(ctx, interval, params.Capacity)
	if err != nil {
		err = mapBookingError(err)
		return
	}
	rooms = make([]Room, 0, len(free))
	for _, r := range free {
		rooms = append(rooms, Room{ID: r.ID, Name: r.Name, Capacity: r.Capacity, Status: r.Status})
	}
	return
}

// AdvanceStatuses runs one sweep of the meeting lifecycle at now.
func (s *BookingService) AdvanceStatuses(ctx context.Context, now time.Time) (changed int, err error) {
	if s == nil || s.scheduler == nil {
		return 0, fmt.Errorf("booking store not configured")
	}
	if now.IsZero() {
		now = s.now()
	}

	logger := s.loggerWith(ctx, "AdvanceStatuses")
	changed, err = s.scheduler.AdvanceStatuses(ctx, now)
	if err != nil {
		err = mapBookingError(err)
		logger.ErrorContext(ctx, "status sweep failed", "error", err, "error_kind", ErrorKind(err))
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.ObserveTransitions(changed)
	}
	if changed > 0 {
		logger.With("changed", changed).InfoContext(ctx, "meeting statuses advanced")
	}
	return changed, nil
}

func mapBookingError(err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		vErr := &ValidationError{}
		vErr.add("reference", "referenced user or room does not exist")
		return vErr
	case errors.Is(err, persistence.ErrConstraintViolation):
		vErr := &ValidationError{}
		vErr.add("meeting", "meeting violates a storage constraint")
		return vErr
	}
	return err
}
