package scheduler

// RoomStatus mirrors the operational state of a room.
type RoomStatus string

const (
	RoomIdle        RoomStatus = "idle"
	RoomOccupied    RoomStatus = "occupied"
	RoomMaintenance RoomStatus = "maintenance"
	RoomDisabled    RoomStatus = "disabled"
)

// Valid reports whether s is a known room status.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomIdle, RoomOccupied, RoomMaintenance, RoomDisabled:
		return true
	}
	return false
}

// Bookable reports whether new meetings may be placed in a room in this state.
func (s RoomStatus) Bookable() bool {
	return s == RoomIdle || s == RoomOccupied
}

// Room is the lookup view of a room the scheduler needs.
type Room struct {
	ID       string
	Name     string
	Capacity int
	Status   RoomStatus
}
