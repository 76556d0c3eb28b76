package persistence

import "time"

// User represents an account that can organise or join meetings.
type User struct {
	ID           string
	Email        string
	UserName     string
	DisplayName  string
	PasswordHash string
	IsAdmin      bool
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Room represents a bookable meeting room.
type Room struct {
	ID         string
	Name       string
	Location   string
	Capacity   int
	Status     string
	Facilities *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}
