package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/scheduler"
)

var base = time.Date(2024, time.January, 2, 9, 0, 0, 0, time.UTC)

func mustInterval(start, end time.Time) scheduler.TimeInterval {
	iv, err := scheduler.NewTimeInterval(start, end)
	if err != nil {
		panic(err)
	}
	return iv
}

func seed(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := New()
	for _, u := range []persistence.User{
		{ID: "u1", Email: "alice@example.com", UserName: "alice", CreatedAt: base},
		{ID: "u2", Email: "bob@example.com", UserName: "bob", CreatedAt: base.Add(time.Minute)},
	} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}
	if err := s.CreateRoom(ctx, persistence.Room{ID: "r1", Name: "Blue", Capacity: 6, Status: "idle"}); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	return s
}

func TestUserRepositorySemantics(t *testing.T) {
	t.Parallel()

	t.Run("rejects duplicate email ignoring case", func(t *testing.T) {
		t.Parallel()
		s := seed(t)
		err := s.CreateUser(context.Background(), persistence.User{ID: "u3", Email: "ALICE@example.com"})
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("soft deleted users disappear from reads", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s := seed(t)
		if err := s.DeleteUser(ctx, "u1"); err != nil {
			t.Fatalf("DeleteUser failed: %v", err)
		}
		if _, err := s.GetUser(ctx, "u1"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetUserByUserName(ctx, "ALICE"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound by user name, got %v", err)
		}
		users, err := s.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 1 || users[0].ID != "u2" {
			t.Fatalf("expected only u2, got %#v", users)
		}
		if err := s.DeleteUser(ctx, "u1"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected second delete to report ErrNotFound, got %v", err)
		}
	})
}

func TestUnitOfWorkRollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := seed(t)
	interval := mustInterval(base, base.Add(time.Hour))
	meeting, err := scheduler.NewMeeting(scheduler.MeetingParams{
		ID: "m1", Title: "Sync", Capacity: 4, Interval: interval, OrganizerID: "u1", RoomID: "r1",
	}, base)
	if err != nil {
		t.Fatalf("NewMeeting failed: %v", err)
	}

	boom := errors.New("boom")
	err = s.Bookings().WithinRoom(ctx, "r1", func(tx scheduler.Tx) error {
		if err := tx.SaveMeeting(ctx, meeting); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = s.Bookings().Within(ctx, func(tx scheduler.Tx) error {
		_, err := tx.FindMeeting(ctx, "m1")
		return err
	})
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected rolled back meeting to be absent, got %v", err)
	}
}

func TestBookingTxQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := seed(t)
	save := func(id string, start time.Time, status string) {
		t.Helper()
		m, err := scheduler.NewMeeting(scheduler.MeetingParams{
			ID: id, Title: id, Capacity: 4,
			Interval:    mustInterval(start, start.Add(time.Hour)),
			OrganizerID: "u1", RoomID: "r1",
		}, base)
		if err != nil {
			t.Fatalf("NewMeeting failed: %v", err)
		}
		if status == "cancelled" {
			if err := m.Cancel(base); err != nil {
				t.Fatalf("Cancel failed: %v", err)
			}
		}
		err = s.Bookings().Within(ctx, func(tx scheduler.Tx) error { return tx.SaveMeeting(ctx, m) })
		if err != nil {
			t.Fatalf("SaveMeeting failed: %v", err)
		}
	}
	save("m1", base, "scheduled")
	save("m2", base.Add(time.Hour), "scheduled")
	save("m3", base, "cancelled")

	err := s.Bookings().Within(ctx, func(tx scheduler.Tx) error {
		overlapping, err := tx.FindOverlapping(ctx, "r1", mustInterval(base.Add(30*time.Minute), base.Add(time.Hour)), "")
		if err != nil {
			return err
		}
		if len(overlapping) != 1 || overlapping[0].ID() != "m1" {
			t.Fatalf("expected only m1 to overlap, got %d meetings", len(overlapping))
		}

		missing, err := tx.MissingUserIDs(ctx, []string{"u1", "ghost", "ghost"})
		if err != nil {
			return err
		}
		if len(missing) != 1 || missing[0] != "ghost" {
			t.Fatalf("expected [ghost], got %v", missing)
		}

		rooms, err := tx.ListRooms(ctx, 10)
		if err != nil {
			return err
		}
		if len(rooms) != 0 {
			t.Fatalf("expected no room with capacity 10, got %v", rooms)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSaveMeetingRequiresRoom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := seed(t)
	m, err := scheduler.NewMeeting(scheduler.MeetingParams{
		ID: "m1", Title: "Ghost", Capacity: 2,
		Interval:    mustInterval(base, base.Add(time.Hour)),
		OrganizerID: "u1", RoomID: "nowhere",
	}, base)
	if err != nil {
		t.Fatalf("NewMeeting failed: %v", err)
	}
	err = s.Bookings().Within(ctx, func(tx scheduler.Tx) error { return tx.SaveMeeting(ctx, m) })
	if !errors.Is(err, persistence.ErrForeignKeyViolation) {
		t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
	}
}
