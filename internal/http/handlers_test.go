package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ksti/meeting-room/internal/application"
	"github.com/ksti/meeting-room/internal/session"
	"github.com/ksti/meeting-room/internal/testfixtures"
)

type apiHarness struct {
	t        *testing.T
	router   http.Handler
	services testfixtures.Services
	clock    *testfixtures.Clock
}

type apiResponse struct {
	Status  int
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testfixtures.NewClock(time.Time{})
	store := testfixtures.NewMemoryHarness(t)
	services := testfixtures.NewServiceFactory(
		testfixtures.WithClock(clock),
		testfixtures.WithLogger(logger),
	).Build(t, store, session.DefaultConfig())

	router := NewRouter(RouterConfig{
		Auth:     NewAuthHandler(services.Auth, logger),
		Users:    NewUserHandler(services.Users, logger),
		Rooms:    NewRoomHandler(services.Rooms, services.Booking, logger),
		Meetings: NewMeetingHandler(services.Booking, logger),
		Session:  RequireSession(services.Auth, logger),
		Middleware: []func(http.Handler) http.Handler{
			RequestLogger(logger),
		},
	})
	return &apiHarness{t: t, router: router, services: services, clock: clock}
}

func (h *apiHarness) do(method, path, token string, body any) apiResponse {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	resp := apiResponse{Status: rec.Code}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			h.t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return resp
}

func (h *apiHarness) decode(resp apiResponse, out any) {
	h.t.Helper()
	if err := json.Unmarshal(resp.Data, out); err != nil {
		h.t.Fatalf("failed to decode data %s: %v", resp.Data, err)
	}
}

func (h *apiHarness) register(email, password string) userDTO {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/users", "", map[string]string{"email": email, "password": password})
	if resp.Status != http.StatusCreated || !resp.Success {
		h.t.Fatalf("expected registration to succeed, got %d %+v", resp.Status, resp)
	}
	var user userDTO
	h.decode(resp, &user)
	return user
}

func (h *apiHarness) login(loginName, password, device string) sessionDTO {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/sessions", "", map[string]any{
		"login":    loginName,
		"password": password,
		"device":   map[string]string{"identifier": device, "name": device},
	})
	if resp.Status != http.StatusCreated {
		h.t.Fatalf("expected login to succeed, got %d %+v", resp.Status, resp)
	}
	var out loginResponse
	h.decode(resp, &out)
	return out.Session
}

func (h *apiHarness) adminToken() string {
	h.t.Helper()
	_, err := h.services.Auth.EnsureAdmin(context.Background(), application.RegisterParams{
		Email:    "admin@example.com",
		Password: "admin-password",
	})
	if err != nil {
		h.t.Fatalf("EnsureAdmin failed: %v", err)
	}
	return h.login("admin@example.com", "admin-password", "admin-laptop").AccessToken
}

func TestAuthHandlers(t *testing.T) {
	t.Parallel()

	t.Run("register, login and logout", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)

		user := h.register("alice@example.com", "correct-horse")
		if user.Email != "alice@example.com" || user.IsAdmin {
			t.Fatalf("unexpected user: %+v", user)
		}

		sess := h.login("alice@example.com", "correct-horse", "laptop")
		if sess.TokenType != session.TokenTypeBearer || sess.AccessToken == "" || sess.RefreshToken == "" {
			t.Fatalf("unexpected session: %+v", sess)
		}

		resp := h.do(http.MethodGet, "/devices", sess.AccessToken, nil)
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200 listing devices, got %d", resp.Status)
		}
		var devices listDevicesResponse
		h.decode(resp, &devices)
		if len(devices.Devices) != 1 || !devices.Devices[0].Current {
			t.Fatalf("expected the current device, got %+v", devices.Devices)
		}

		if resp := h.do(http.MethodDelete, "/sessions/current", sess.AccessToken, nil); resp.Status != http.StatusNoContent {
			t.Fatalf("expected 204 on logout, got %d", resp.Status)
		}
		resp = h.do(http.MethodGet, "/devices", sess.AccessToken, nil)
		if resp.Status != http.StatusUnauthorized || resp.Code != "token_revoked" {
			t.Fatalf("expected revoked token to be rejected, got %d %q", resp.Status, resp.Code)
		}
	})

	t.Run("rejects bad credentials and duplicate registration", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.register("bob@example.com", "correct-horse")

		resp := h.do(http.MethodPost, "/sessions", "", map[string]any{
			"login":    "bob@example.com",
			"password": "wrong-password",
			"device":   map[string]string{"identifier": "phone", "name": "Phone"},
		})
		if resp.Status != http.StatusUnauthorized || resp.Code != "invalid_credentials" {
			t.Fatalf("expected 401 invalid_credentials, got %d %q", resp.Status, resp.Code)
		}

		resp = h.do(http.MethodPost, "/users", "", map[string]string{"email": "BOB@example.com", "password": "another-pass"})
		if resp.Status != http.StatusConflict || resp.Code != "already_exists" {
			t.Fatalf("expected 409 already_exists, got %d %q", resp.Status, resp.Code)
		}

		resp = h.do(http.MethodPost, "/users", "", map[string]string{"email": "not-an-email", "password": "short"})
		if resp.Status != http.StatusUnprocessableEntity || resp.Code != "validation" {
			t.Fatalf("expected 422 validation, got %d %q", resp.Status, resp.Code)
		}
	})

	t.Run("refresh rotates the token pair", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.register("carol@example.com", "correct-horse")
		sess := h.login("carol@example.com", "correct-horse", "laptop")

		resp := h.do(http.MethodPost, "/sessions/refresh", "", map[string]string{"refresh_token": sess.RefreshToken})
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200 on refresh, got %d %+v", resp.Status, resp)
		}
		var refreshed sessionDTO
		h.decode(resp, &refreshed)
		if refreshed.AccessToken == sess.AccessToken {
			t.Fatal("expected a new access token")
		}

		resp = h.do(http.MethodPost, "/sessions/refresh", "", map[string]string{"refresh_token": sess.RefreshToken})
		if resp.Status != http.StatusUnauthorized {
			t.Fatalf("expected reused refresh token to be rejected, got %d", resp.Status)
		}
	})

	t.Run("logout everywhere", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.register("dave@example.com", "correct-horse")
		first := h.login("dave@example.com", "correct-horse", "laptop")
		second := h.login("dave@example.com", "correct-horse", "phone")

		resp := h.do(http.MethodDelete, "/sessions", first.AccessToken, nil)
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Status)
		}
		var revoked revokedResponse
		h.decode(resp, &revoked)
		if revoked.Revoked != 2 {
			t.Fatalf("expected 2 revoked, got %d", revoked.Revoked)
		}
		if resp := h.do(http.MethodGet, "/users/me", second.AccessToken, nil); resp.Status != http.StatusUnauthorized {
			t.Fatalf("expected 401 for the other device, got %d", resp.Status)
		}
	})
}

func TestRoomHandlers(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	admin := h.adminToken()
	h.register("erin@example.com", "correct-horse")
	member := h.login("erin@example.com", "correct-horse", "laptop").AccessToken

	t.Run("require admin role for mutations", func(t *testing.T) {
		resp := h.do(http.MethodPost, "/rooms", member, map[string]any{"name": "Blue", "capacity": 6})
		if resp.Status != http.StatusForbidden {
			t.Fatalf("expected 403 for non-admin, got %d", resp.Status)
		}
	})

	var room roomDTO
	t.Run("admin creates and updates status", func(t *testing.T) {
		resp := h.do(http.MethodPost, "/rooms", admin, map[string]any{"name": "Blue", "location": "3F", "capacity": 6})
		if resp.Status != http.StatusCreated {
			t.Fatalf("expected 201, got %d %+v", resp.Status, resp)
		}
		h.decode(resp, &room)
		if room.Status != "idle" {
			t.Fatalf("expected idle room, got %q", room.Status)
		}

		resp = h.do(http.MethodPut, "/rooms/"+room.ID+"/status", admin, map[string]string{"status": "bogus"})
		if resp.Status != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for unknown status, got %d", resp.Status)
		}
	})

	t.Run("allow non-admins to list and read rooms", func(t *testing.T) {
		resp := h.do(http.MethodGet, "/rooms", member, nil)
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Status)
		}
		var list listRoomsResponse
		h.decode(resp, &list)
		if len(list.Rooms) != 1 {
			t.Fatalf("expected 1 room, got %d", len(list.Rooms))
		}
		if resp := h.do(http.MethodGet, "/rooms/"+room.ID, member, nil); resp.Status != http.StatusOK {
			t.Fatalf("expected 200 reading room, got %d", resp.Status)
		}
		if resp := h.do(http.MethodGet, "/rooms/missing", member, nil); resp.Status != http.StatusNotFound {
			t.Fatalf("expected 404 for missing room, got %d", resp.Status)
		}
	})

	t.Run("requires a session", func(t *testing.T) {
		if resp := h.do(http.MethodGet, "/rooms", "", nil); resp.Status != http.StatusUnauthorized {
			t.Fatalf("expected 401 without token, got %d", resp.Status)
		}
	})

	t.Run("rejects malformed availability query", func(t *testing.T) {
		if resp := h.do(http.MethodGet, "/rooms/available?start=yesterday", member, nil); resp.Status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.Status)
		}
	})
}

func TestMeetingHandlers(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	admin := h.adminToken()
	organizer := h.register("frank@example.com", "correct-horse")
	guest := h.register("grace@example.com", "correct-horse")
	organizerToken := h.login("frank@example.com", "correct-horse", "laptop").AccessToken
	guestToken := h.login("grace@example.com", "correct-horse", "laptop").AccessToken

	resp := h.do(http.MethodPost, "/rooms", admin, map[string]any{"name": "Green", "capacity": 4})
	var room roomDTO
	h.decode(resp, &room)

	start := testfixtures.ReferenceTime().Add(24 * time.Hour)
	end := start.Add(time.Hour)

	resp = h.do(http.MethodPost, "/meetings", organizerToken, map[string]any{
		"title":           "Planning",
		"capacity":        3,
		"start":           start,
		"end":             end,
		"room_id":         room.ID,
		"participant_ids": []string{guest.ID},
	})
	if resp.Status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %+v", resp.Status, resp)
	}
	var meeting meetingDTO
	h.decode(resp, &meeting)
	if meeting.OrganizerID != organizer.ID || meeting.Status != "scheduled" || len(meeting.ParticipantIDs) != 2 {
		t.Fatalf("unexpected meeting: %+v", meeting)
	}

	t.Run("overlapping booking conflicts", func(t *testing.T) {
		resp := h.do(http.MethodPost, "/meetings", guestToken, map[string]any{
			"title":    "Clash",
			"capacity": 2,
			"start":    start.Add(30 * time.Minute),
			"end":      end.Add(30 * time.Minute),
			"room_id":  room.ID,
		})
		if resp.Status != http.StatusConflict || resp.Code != "room_unavailable" {
			t.Fatalf("expected 409 room_unavailable, got %d %q", resp.Status, resp.Code)
		}
		var details errorDetails
		h.decode(resp, &details)
		if ids := details.Refs["conflicting_meeting_ids"]; len(ids) != 1 || ids[0] != meeting.ID {
			t.Fatalf("expected conflicting id %s, got %v", meeting.ID, details.Refs)
		}
	})

	t.Run("available rooms exclude the booked room", func(t *testing.T) {
		q := url.Values{}
		q.Set("start", start.Format(time.RFC3339))
		q.Set("end", end.Format(time.RFC3339))
		resp := h.do(http.MethodGet, "/rooms/available?"+q.Encode(), guestToken, nil)
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Status)
		}
		var list listRoomsResponse
		h.decode(resp, &list)
		if len(list.Rooms) != 0 {
			t.Fatalf("expected no free rooms, got %+v", list.Rooms)
		}

		resp = h.do(http.MethodGet, "/rooms/"+room.ID+"/availability?"+q.Encode(), guestToken, nil)
		var availability availabilityResponse
		h.decode(resp, &availability)
		if availability.Available {
			t.Fatal("expected the room to be busy")
		}
	})

	t.Run("only the organizer manages the meeting", func(t *testing.T) {
		resp := h.do(http.MethodPost, "/meetings/"+meeting.ID+"/cancel", guestToken, nil)
		if resp.Status != http.StatusForbidden || resp.Code != "not_organizer" {
			t.Fatalf("expected 403 not_organizer, got %d %q", resp.Status, resp.Code)
		}
	})

	t.Run("lists meetings for the caller", func(t *testing.T) {
		q := url.Values{}
		q.Set("participant_id", "me")
		q.Set("from", start.Add(-time.Hour).Format(time.RFC3339))
		q.Set("to", end.Format(time.RFC3339))
		q.Set("status", "scheduled,in_progress")
		resp := h.do(http.MethodGet, "/meetings?"+q.Encode(), guestToken, nil)
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200, got %d %+v", resp.Status, resp)
		}
		var list listMeetingsResponse
		h.decode(resp, &list)
		if len(list.Meetings) != 1 || list.Meetings[0].ID != meeting.ID {
			t.Fatalf("expected the planning meeting, got %+v", list.Meetings)
		}

		q.Set("room_id", "some-other-room")
		resp = h.do(http.MethodGet, "/meetings?"+q.Encode(), guestToken, nil)
		h.decode(resp, &list)
		if len(list.Meetings) != 0 {
			t.Fatalf("expected no meetings in another room, got %+v", list.Meetings)
		}

		resp = h.do(http.MethodGet, "/meetings?from=yesterday", guestToken, nil)
		if resp.Status != http.StatusBadRequest {
			t.Fatalf("expected 400 for malformed from, got %d", resp.Status)
		}
		resp = h.do(http.MethodGet, "/meetings?status=postponed", guestToken, nil)
		if resp.Status != http.StatusUnprocessableEntity || resp.Code != "invalid_filter" {
			t.Fatalf("expected 422 invalid_filter, got %d %q", resp.Status, resp.Code)
		}
	})

	t.Run("update, participants and cancel", func(t *testing.T) {
		resp := h.do(http.MethodPut, "/meetings/"+meeting.ID, organizerToken, map[string]any{"title": "Planning v2"})
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200 on update, got %d %+v", resp.Status, resp)
		}

		resp = h.do(http.MethodDelete, "/meetings/"+meeting.ID+"/participants/"+guest.ID, organizerToken, nil)
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200 removing participant, got %d", resp.Status)
		}
		resp = h.do(http.MethodDelete, "/meetings/"+meeting.ID+"/participants/"+organizer.ID, organizerToken, nil)
		if resp.Status != http.StatusConflict || resp.Code != "cannot_remove_organizer" {
			t.Fatalf("expected 409 cannot_remove_organizer, got %d %q", resp.Status, resp.Code)
		}

		resp = h.do(http.MethodPost, "/meetings/"+meeting.ID+"/cancel", organizerToken, nil)
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200 on cancel, got %d", resp.Status)
		}
		var cancelled meetingDTO
		h.decode(resp, &cancelled)
		if cancelled.Status != "cancelled" || cancelled.CancelledAt == "" {
			t.Fatalf("unexpected cancelled meeting: %+v", cancelled)
		}
		if cancelled.Title != "Planning v2" {
			t.Fatalf("expected updated title kept, got %q", cancelled.Title)
		}
	})

	t.Run("missing meeting maps to 404", func(t *testing.T) {
		resp := h.do(http.MethodGet, "/meetings/does-not-exist", organizerToken, nil)
		if resp.Status != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", resp.Status)
		}
	})

	t.Run("backwards interval maps to 422", func(t *testing.T) {
		resp := h.do(http.MethodPost, "/meetings", organizerToken, map[string]any{
			"title":    "Backwards",
			"capacity": 2,
			"start":    end.Add(24 * time.Hour),
			"end":      start.Add(24 * time.Hour),
			"room_id":  room.ID,
		})
		if resp.Status != http.StatusUnprocessableEntity || resp.Code != "invalid_meeting" {
			t.Fatalf("expected 422 invalid_meeting, got %d %q", resp.Status, resp.Code)
		}
	})
}

func TestRouterMethodAndPathHandling(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed},
		{http.MethodGet, "/sessions", http.StatusMethodNotAllowed},
		{http.MethodPatch, "/meetings", http.StatusMethodNotAllowed},
		{http.MethodGet, "/meetings/m-1/unknown", http.StatusNotFound},
		{http.MethodGet, "/rooms/", http.StatusNotFound},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rec.Code)
		}
	}
}
