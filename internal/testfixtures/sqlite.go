package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/persistence/memory"
	"github.com/ksti/meeting-room/internal/persistence/sqlstore"
	"github.com/ksti/meeting-room/internal/scheduler"
	"github.com/ksti/meeting-room/internal/session"
)

// StoreHarness exposes one storage back end through every interface the
// services consume.
type StoreHarness struct {
	Name     string
	Users    persistence.UserRepository
	Rooms    persistence.RoomRepository
	Bookings scheduler.Store
	Sessions session.Store

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *StoreHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewMemoryHarness returns a harness over a fresh in-memory store.
func NewMemoryHarness(tb testing.TB) *StoreHarness {
	tb.Helper()

	store := memory.New()
	return &StoreHarness{
		Name:     "memory",
		Users:    store,
		Rooms:    store,
		Bookings: store.Bookings(),
		Sessions: store.Sessions(),
		cleanup:  func() { _ = store.Close() },
	}
}

// NewSQLiteHarness opens a SQLite database in a temporary directory and runs
// the embedded migrations. The database is closed when the test ends.
func NewSQLiteHarness(tb testing.TB) *StoreHarness {
	tb.Helper()

	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "booking.db")
	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite", DSN: path})
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if _, err := store.Migrate(ctx, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &StoreHarness{
		Name:     "sqlite",
		Users:    store,
		Rooms:    store,
		Bookings: store.Bookings(),
		Sessions: store.Sessions(),
		cleanup:  func() { _ = store.Close() },
	}
	tb.Cleanup(harness.Close)
	return harness
}

// ForEachStore runs fn as a subtest against every back end, each with its
// own empty store.
func ForEachStore(t *testing.T, fn func(t *testing.T, h *StoreHarness)) {
	t.Helper()

	backends := []struct {
		name  string
		build func(testing.TB) *StoreHarness
	}{
		{"memory", NewMemoryHarness},
		{"sqlite", NewSQLiteHarness},
	}
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.build(t))
		})
	}
}
