package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ksti/meeting-room/internal/config"
	"github.com/ksti/meeting-room/internal/persistence/memory"
	"github.com/ksti/meeting-room/internal/persistence/sqlstore"
	"github.com/ksti/meeting-room/internal/testfixtures"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("BOOKING_CONFIG", "")

	opts, err := parseFlags([]string{"-c", "booking.yaml", "--addr", "127.0.0.1:9999", "--migrate-only"})
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}
	if opts.configPath != "booking.yaml" || opts.addr != "127.0.0.1:9999" || !opts.migrateOnly {
		t.Fatalf("unexpected options: %+v", opts)
	}

	if _, err := parseFlags([]string{"--unknown"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if _, err := parseFlags([]string{"extra"}); err == nil {
		t.Fatal("expected error for positional arguments")
	}
}

func TestRun_MigrateOnly(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "booking.db")
	t.Setenv("BOOKING_CONFIG", "")
	t.Setenv("BOOKING_SESSION_SECRET", "secret")
	t.Setenv("BOOKING_DB_DRIVER", "sqlite")
	t.Setenv("BOOKING_DB_DSN", dbPath)

	var logs bytes.Buffer
	if err := run(context.Background(), []string{"--migrate-only"}, &logs); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if !strings.Contains(logs.String(), "database ready") {
		t.Fatalf("expected readiness log, got %s", logs.String())
	}

	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite", DSN: dbPath})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	status, err := store.MigrationStatus(ctx, nil)
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if len(status.Pending) != 0 {
		t.Fatalf("expected all migrations applied, pending %v", status.Pending)
	}
}

func TestRun_InvalidConfiguration(t *testing.T) {
	t.Setenv("BOOKING_SESSION_SECRET", "")
	t.Setenv("BOOKING_CONFIG", "")

	if err := run(context.Background(), nil, io.Discard); err == nil {
		t.Fatal("expected error without a session secret")
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: "memory"}
	cfg.Session.Secret = "test-secret"
	cfg.Admin = config.AdminConfig{Email: "admin@example.com", Password: "admin-password"}
	return cfg
}

func TestNewApp_ServesAuthenticatedRoutes(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testfixtures.NewClock(time.Time{})
	a, err := newApp(context.Background(), testConfig(), memory.New(), logger, clock.NowFunc())
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}

	body, _ := json.Marshal(map[string]any{
		"login":    "admin@example.com",
		"password": "admin-password",
		"device":   map[string]string{"identifier": "cli", "name": "CLI"},
	})
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected admin login to succeed, got %d %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Data struct {
			User struct {
				IsAdmin bool `json:"is_admin"`
			} `json:"user"`
			Session struct {
				DeviceID string `json:"device_id"`
			} `json:"session"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("failed to decode login: %v", err)
	}
	if !login.Data.User.IsAdmin {
		t.Fatal("expected bootstrap administrator")
	}
	if !strings.HasPrefix(login.Data.Session.DeviceID, "dev_") {
		t.Fatalf("expected a dev_ device id, got %q", login.Data.Session.DeviceID)
	}

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("expected request metrics, got %d", rec.Code)
	}

	a.tick(context.Background())
}

func TestNewApp_RejectsInvalidAdmin(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Admin.Password = "short"
	if _, err := newApp(context.Background(), cfg, memory.New(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil); err == nil {
		t.Fatal("expected error for an invalid administrator password")
	}
}
