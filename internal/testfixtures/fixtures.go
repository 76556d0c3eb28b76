package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ksti/meeting-room/internal/application"
	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/scheduler"
)

var (
	userCounter    uint64
	roomCounter    uint64
	meetingCounter uint64
)

var referenceTime = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures. It
// is a Monday morning.
func ReferenceTime() time.Time {
	return referenceTime
}

// Interval builds an interval from literals known to be valid and panics
// otherwise.
func Interval(start, end time.Time) scheduler.TimeInterval {
	iv, err := scheduler.NewTimeInterval(start, end)
	if err != nil {
		panic(err)
	}
	return iv
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic user record.
type UserFixture struct {
	ID           string
	Email        string
	UserName     string
	DisplayName  string
	PasswordHash string
	IsAdmin      bool
	Disabled     bool
	CreatedAt    time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	fixture := UserFixture{
		ID:           id,
		Email:        id + "@example.com",
		UserName:     id,
		DisplayName:  fmt.Sprintf("User %03d", idx),
		PasswordHash: fmt.Sprintf("hash-%03d", idx),
		CreatedAt:    referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID, email and user name.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
		f.Email = id + "@example.com"
		f.UserName = id
	}
}

// WithUserPasswordHash overrides the generated password hash.
func WithUserPasswordHash(hash string) UserOption {
	return func(f *UserFixture) {
		f.PasswordHash = hash
	}
}

// WithUserAdmin sets the admin flag on the generated fixture.
func WithUserAdmin(isAdmin bool) UserOption {
	return func(f *UserFixture) {
		f.IsAdmin = isAdmin
	}
}

// WithUserDisabled marks the account as disabled.
func WithUserDisabled() UserOption {
	return func(f *UserFixture) {
		f.Disabled = true
	}
}

// Principal returns an application.Principal derived from the fixture.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, IsAdmin: f.IsAdmin}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:           f.ID,
		Email:        f.Email,
		UserName:     f.UserName,
		DisplayName:  f.DisplayName,
		PasswordHash: f.PasswordHash,
		IsAdmin:      f.IsAdmin,
		Disabled:     f.Disabled,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.CreatedAt,
	}
}

// ----------------------------- Room fixtures -----------------------------

// RoomFixture represents a deterministic meeting room.
type RoomFixture struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	Status    scheduler.RoomStatus
	CreatedAt time.Time
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns an idle room with eight seats unless overridden.
func NewRoomFixture(opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	fixture := RoomFixture{
		ID:        fmt.Sprintf("room-%03d", idx),
		Name:      fmt.Sprintf("Room %03d", idx),
		Location:  fmt.Sprintf("Floor %d", idx%10+1),
		Capacity:  8,
		Status:    scheduler.RoomIdle,
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) {
		f.ID = id
	}
}

// WithRoomCapacity overrides the seat count.
func WithRoomCapacity(capacity int) RoomOption {
	return func(f *RoomFixture) {
		f.Capacity = capacity
	}
}

// WithRoomStatus overrides the operational status.
func WithRoomStatus(status scheduler.RoomStatus) RoomOption {
	return func(f *RoomFixture) {
		f.Status = status
	}
}

// Persistence returns the fixture as a persistence.Room value.
func (f RoomFixture) Persistence() persistence.Room {
	return persistence.Room{
		ID:        f.ID,
		Name:      f.Name,
		Location:  f.Location,
		Capacity:  f.Capacity,
		Status:    string(f.Status),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.CreatedAt,
	}
}

// Input returns the fixture as application.RoomInput.
func (f RoomFixture) Input() application.RoomInput {
	return application.RoomInput{Name: f.Name, Location: f.Location, Capacity: f.Capacity}
}

// ---------------------------- Meeting fixtures ----------------------------

// MeetingFixture describes a meeting request one day after ReferenceTime.
type MeetingFixture struct {
	Title          string
	Capacity       int
	Start          time.Time
	End            time.Time
	RoomID         string
	ParticipantIDs []string
}

// MeetingOption configures the generated meeting fixture.
type MeetingOption func(*MeetingFixture)

// NewMeetingFixture returns a one hour meeting in roomID. Successive fixtures
// start an hour apart so they never overlap by accident.
func NewMeetingFixture(roomID string, opts ...MeetingOption) MeetingFixture {
	idx := atomic.AddUint64(&meetingCounter, 1)
	start := referenceTime.Add(24*time.Hour + time.Duration(idx)*time.Hour)
	fixture := MeetingFixture{
		Title:    fmt.Sprintf("Meeting %03d", idx),
		Capacity: 4,
		Start:    start,
		End:      start.Add(time.Hour),
		RoomID:   roomID,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithMeetingInterval overrides start and end.
func WithMeetingInterval(start, end time.Time) MeetingOption {
	return func(f *MeetingFixture) {
		f.Start = start
		f.End = end
	}
}

// WithMeetingParticipants sets the invited users.
func WithMeetingParticipants(ids ...string) MeetingOption {
	return func(f *MeetingFixture) {
		f.ParticipantIDs = append([]string(nil), ids...)
	}
}

// WithMeetingCapacity overrides the seat count.
func WithMeetingCapacity(capacity int) MeetingOption {
	return func(f *MeetingFixture) {
		f.Capacity = capacity
	}
}

// Request returns the fixture as a scheduler request.
func (f MeetingFixture) Request() scheduler.CreateMeetingRequest {
	return scheduler.CreateMeetingRequest{
		Title:          f.Title,
		Capacity:       f.Capacity,
		Start:          f.Start,
		End:            f.End,
		RoomID:         f.RoomID,
		ParticipantIDs: f.ParticipantIDs,
	}
}

// Input returns the fixture as application.MeetingInput.
func (f MeetingFixture) Input() application.MeetingInput {
	return application.MeetingInput{
		Title:          f.Title,
		Capacity:       f.Capacity,
		Start:          f.Start,
		End:            f.End,
		RoomID:         f.RoomID,
		ParticipantIDs: f.ParticipantIDs,
	}
}

// Seed stores users and rooms in h, failing the test on the first error.
func (h *StoreHarness) Seed(tb testing.TB, users []UserFixture, rooms []RoomFixture) {
	tb.Helper()

	ctx := context.Background()
	for _, u := range users {
		if err := h.Users.CreateUser(ctx, u.Persistence()); err != nil {
			tb.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	for _, r := range rooms {
		if err := h.Rooms.CreateRoom(ctx, r.Persistence()); err != nil {
			tb.Fatalf("seed room %s: %v", r.ID, err)
		}
	}
}
