package application

import (
	"time"

	"github.com/ksti/meeting-room/internal/scheduler"
	"github.com/ksti/meeting-room/internal/session"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID   string
	DeviceID string
	IsAdmin  bool
}

// User represents an account exposed by the application services.
type User struct {
	ID          string
	Email       string
	UserName    string
	DisplayName string
	IsAdmin     bool
	Disabled    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RegisterParams captures the data required to create an account.
type RegisterParams struct {
	Email       string
	UserName    string
	DisplayName string
	Password    string
}

// LoginParams captures the data required to authenticate a user on a device.
// Login accepts either the email address or the user name.
type LoginParams struct {
	Login       string
	Password    string
	Device      session.DeviceInfo
	ForceRotate bool
}

// Session is the credential pair handed to clients.
type Session struct {
	UserID           string
	DeviceID         string
	AccessToken      string
	RefreshToken     string
	TokenType        string
	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult captures the outcome of a successful login.
type LoginResult struct {
	User            User
	Session         Session
	Rotated         bool
	EvictedDeviceID string
}

// ChangePasswordParams captures the data required to replace a password.
type ChangePasswordParams struct {
	Principal       Principal
	CurrentPassword string
	NewPassword     string
}

// Device is the client facing view of a registered device.
type Device struct {
	ID             string
	Identifier     string
	Name           string
	Platform       string
	OS             string
	OSVersion      string
	Status         string
	CreatedAt      time.Time
	LastActivityAt time.Time
	Current        bool
}

// RoomInput captures caller provided room fields.
type RoomInput struct {
	Name       string
	Location   string
	Capacity   int
	Facilities *string
}

// Room represents a catalog entry for a physical meeting room.
type Room struct {
	ID         string
	Name       string
	Location   string
	Capacity   int
	Status     scheduler.RoomStatus
	Facilities *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateRoomParams wraps the data required to create a room.
type CreateRoomParams struct {
	Principal Principal
	Input     RoomInput
}

// UpdateRoomParams wraps the data required to update a room.
type UpdateRoomParams struct {
	Principal Principal
	RoomID    string
	Input     RoomInput
}

// SetRoomStatusParams wraps the data required to change a room's status.
type SetRoomStatusParams struct {
	Principal Principal
	RoomID    string
	Status    scheduler.RoomStatus
}

// AvailableRoomsParams describes a free-room search.
type AvailableRoomsParams struct {
	Principal Principal
	Start     time.Time
	End       time.Time
	Capacity  int
}

// ListMeetingsParams filters a meeting listing. Zero fields match everything.
type ListMeetingsParams struct {
	Principal     Principal
	RoomID        string
	OrganizerID   string
	ParticipantID string
	From          time.Time
	To            time.Time
	Statuses      []scheduler.Status
}

// MeetingInput captures caller provided meeting fields.
type MeetingInput struct {
	Title          string
	Description    string
	Capacity       int
	Start          time.Time
	End            time.Time
	RoomID         string
	ParticipantIDs []string
}

// Meeting is the read model of a booking.
type Meeting struct {
	ID             string
	Title          string
	Description    string
	Capacity       int
	Start          time.Time
	End            time.Time
	OrganizerID    string
	RoomID         string
	Status         scheduler.Status
	ParticipantIDs []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CancelledAt    *time.Time
}

// CreateMeetingParams wraps the data required to book a meeting.
type CreateMeetingParams struct {
	Principal Principal
	Input     MeetingInput
}

// UpdateMeetingParams changes the descriptive fields of a meeting. Nil keeps
// the current value.
type UpdateMeetingParams struct {
	Principal   Principal
	MeetingID   string
	Title       *string
	Description *string
	Capacity    *int
}

// RescheduleMeetingParams moves a meeting to a new interval.
type RescheduleMeetingParams struct {
	Principal Principal
	MeetingID string
	Start     time.Time
	End       time.Time
}

// ParticipantParams identifies a participant change on a meeting.
type ParticipantParams struct {
	Principal Principal
	MeetingID string
	UserID    string
}

func meetingFromAggregate(m *scheduler.Meeting) Meeting {
	s := m.Snapshot()
	return Meeting{
		ID:             s.ID,
		Title:          s.Title,
		Description:    s.Description,
		Capacity:       s.Capacity,
		Start:          s.Start,
		End:            s.End,
		OrganizerID:    s.OrganizerID,
		RoomID:         s.RoomID,
		Status:         s.Status,
		ParticipantIDs: s.ParticipantIDs,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		CancelledAt:    s.CancelledAt,
	}
}

func sessionFromCredential(c session.Credential) Session {
	return Session{
		UserID:           c.UserID(),
		DeviceID:         c.DeviceID(),
		AccessToken:      c.AccessToken(),
		RefreshToken:     c.RefreshToken(),
		TokenType:        c.TokenType(),
		IssuedAt:         c.IssuedAt(),
		AccessExpiresAt:  c.AccessExpiresAt(),
		RefreshExpiresAt: c.RefreshExpiresAt(),
	}
}

func deviceFromSession(d *session.Device, currentID string) Device {
	info := d.Info()
	return Device{
		ID:             d.ID(),
		Identifier:     info.Identifier,
		Name:           info.Name,
		Platform:       info.Platform,
		OS:             info.OS,
		OSVersion:      info.OSVersion,
		Status:         string(d.Status()),
		CreatedAt:      d.CreatedAt(),
		LastActivityAt: d.LastActivityAt(),
		Current:        d.ID() == currentID,
	}
}
