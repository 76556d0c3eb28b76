package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/persistence/sqlstore/dialect"
	"github.com/ksti/meeting-room/internal/scheduler"
)

func mustInterval(start, end time.Time) scheduler.TimeInterval {
	iv, err := scheduler.NewTimeInterval(start, end)
	if err != nil {
		panic(err)
	}
	return iv
}

func newPostgresMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, dialect.Postgres), mock
}

func TestPostgres_UpdateRoomNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $7 AND deleted_at IS NULL")).
		WithArgs("Board", "", 10, "idle", nil, sqlmock.AnyArg(), "room-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateRoom(context.Background(), persistence.Room{ID: "room-x", Name: "Board", Capacity: 10, UpdatedAt: time.Now()})
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_WithinRoomLocksRow(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT id FROM rooms WHERE id = $1 FOR UPDATE")).
		WithArgs("room-r").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, capacity, status FROM rooms WHERE id = $1")).
		WithArgs("room-r").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "capacity", "status"}).AddRow("room-r", "R", 8, "idle"))
	mock.ExpectCommit()

	var room scheduler.Room
	err := store.Bookings().WithinRoom(context.Background(), "room-r", func(tx scheduler.Tx) error {
		var err error
		room, err = tx.FindRoom(context.Background(), "room-r")
		return err
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if room.Capacity != 8 || room.Status != scheduler.RoomIdle {
		t.Fatalf("unexpected room: %+v", room)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_ExclusionViolationRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	meeting, err := scheduler.NewMeeting(scheduler.MeetingParams{
		ID:          "m-1",
		Title:       "Sync",
		Capacity:    2,
		Interval:    mustInterval(start, start.Add(time.Hour)),
		OrganizerID: "alice",
		RoomID:      "room-r",
	}, start.Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewMeeting failed: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO meetings")).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "meetings_no_overlap"})
	mock.ExpectRollback()

	err = store.Bookings().Within(context.Background(), func(tx scheduler.Tx) error {
		return tx.SaveMeeting(context.Background(), meeting)
	})
	if !errors.Is(err, scheduler.ErrRoomUnavailable) {
		t.Fatalf("expected ErrRoomUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_ListMeetingsSkipsDeletedRows(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	from := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE deleted_at IS NULL AND room_id = $1 AND (organizer_id = $2 OR id IN (SELECT meeting_id FROM meeting_participants WHERE user_id = $3)) AND end_at > $4 AND start_at < $5 AND status IN ($6)`)).
		WithArgs("room-r", "bob", "bob", sqlmock.AnyArg(), sqlmock.AnyArg(), "scheduled").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "room_id", "organizer_id", "title", "description", "capacity",
			"start_at", "end_at", "status", "created_at", "updated_at", "cancelled_at",
		}))
	mock.ExpectCommit()

	err := store.Bookings().Within(context.Background(), func(tx scheduler.Tx) error {
		found, err := tx.ListMeetings(context.Background(), scheduler.MeetingFilter{
			RoomID:        "room-r",
			ParticipantID: "bob",
			From:          from,
			To:            from.Add(8 * time.Hour),
			Statuses:      []scheduler.Status{scheduler.StatusScheduled},
		})
		if err != nil {
			return err
		}
		if len(found) != 0 {
			t.Errorf("expected no meetings, got %d", len(found))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
