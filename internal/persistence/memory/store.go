// Package memory provides a process-local store for tests and single node
// deployments. Every unit of work runs under one mutex against a copy of the
// state that replaces the live state only when the unit succeeds.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/scheduler"
	"github.com/ksti/meeting-room/internal/session"
)

// Store holds users, rooms, meetings, devices and credentials.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	users       map[string]persistence.User
	rooms       map[string]persistence.Room
	meetings    map[string]scheduler.MeetingSnapshot
	devices     map[string]session.DeviceRecord
	credentials map[string]session.CredentialRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{state: &state{
		users:       make(map[string]persistence.User),
		rooms:       make(map[string]persistence.Room),
		meetings:    make(map[string]scheduler.MeetingSnapshot),
		devices:     make(map[string]session.DeviceRecord),
		credentials: make(map[string]session.CredentialRecord),
	}}
}

// Close is a no-op kept for parity with the SQL store.
func (s *Store) Close() error { return nil }

// Bookings exposes the store to the booking scheduler.
func (s *Store) Bookings() scheduler.Store { return bookingStore{s: s} }

// Sessions exposes the store to the session manager.
func (s *Store) Sessions() session.Store { return sessionStore{s: s} }

// run applies fn to a private copy of the state and publishes it on success.
func (s *Store) run(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.state = work
	return nil
}

// read applies fn to the live state without copying it.
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (st *state) clone() *state {
	c := &state{
		users:       make(map[string]persistence.User, len(st.users)),
		rooms:       make(map[string]persistence.Room, len(st.rooms)),
		meetings:    make(map[string]scheduler.MeetingSnapshot, len(st.meetings)),
		devices:     make(map[string]session.DeviceRecord, len(st.devices)),
		credentials: make(map[string]session.CredentialRecord, len(st.credentials)),
	}
	for k, v := range st.users {
		c.users[k] = cloneUser(v)
	}
	for k, v := range st.rooms {
		c.rooms[k] = cloneRoom(v)
	}
	for k, v := range st.meetings {
		c.meetings[k] = cloneMeeting(v)
	}
	for k, v := range st.devices {
		c.devices[k] = v
	}
	for k, v := range st.credentials {
		c.credentials[k] = cloneCredential(v)
	}
	return c
}

func cloneUser(u persistence.User) persistence.User {
	u.DeletedAt = copyTime(u.DeletedAt)
	return u
}

func cloneRoom(r persistence.Room) persistence.Room {
	if r.Facilities != nil {
		f := *r.Facilities
		r.Facilities = &f
	}
	r.DeletedAt = copyTime(r.DeletedAt)
	return r
}

func cloneMeeting(m scheduler.MeetingSnapshot) scheduler.MeetingSnapshot {
	m.ParticipantIDs = append([]string(nil), m.ParticipantIDs...)
	m.CancelledAt = copyTime(m.CancelledAt)
	return m
}

func cloneCredential(c session.CredentialRecord) session.CredentialRecord {
	c.RevokedAt = copyTime(c.RevokedAt)
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
