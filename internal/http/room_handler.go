package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/application"
	"github.com/ksti/meeting-room/internal/scheduler"
)

type roomService interface {
	CreateRoom(ctx context.Context, params application.CreateRoomParams) (application.Room, error)
	UpdateRoom(ctx context.Context, params application.UpdateRoomParams) (application.Room, error)
	SetRoomStatus(ctx context.Context, params application.SetRoomStatusParams) (application.Room, error)
	GetRoom(ctx context.Context, principal application.Principal, roomID string) (application.Room, error)
	DeleteRoom(ctx context.Context, principal application.Principal, roomID string) error
	ListRooms(ctx context.Context, principal application.Principal) ([]application.Room, error)
}

type roomAvailability interface {
	AvailableRooms(ctx context.Context, params application.AvailableRoomsParams) ([]application.Room, error)
	IsRoomAvailable(ctx context.Context, principal application.Principal, roomID string, start, end time.Time) (bool, error)
}

// RoomHandler serves the room catalogue and the availability queries.
type RoomHandler struct {
	service      roomService
	availability roomAvailability
	responder    responder
	logger       *slog.Logger
}

func NewRoomHandler(service roomService, availability roomAvailability, logger *slog.Logger) *RoomHandler {
	base := defaultLogger(logger)
	return &RoomHandler{service: service, availability: availability, responder: newResponder(base), logger: base}
}

func (h *RoomHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "RoomHandler", operation, attrs...)
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode room request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	room, err := h.service.CreateRoom(r.Context(), application.CreateRoomParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusCreated, "会議室を登録しました。", toRoomDTO(room))
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := h.roomID(w, r, "Get")
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	room, err := h.service.GetRoom(r.Context(), principal, roomID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", toRoomDTO(room))
}

func (h *RoomHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := h.roomID(w, r, "Update")
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Update", "room_id", roomID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode room update", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	room, err := h.service.UpdateRoom(r.Context(), application.UpdateRoomParams{
		Principal: principal,
		RoomID:    roomID,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", toRoomDTO(room))
}

// SetStatus handles PUT /rooms/{id}/status.
func (h *RoomHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := h.roomID(w, r, "SetStatus")
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	var req roomStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "SetStatus", "room_id", roomID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode room status", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	room, err := h.service.SetRoomStatus(r.Context(), application.SetRoomStatusParams{
		Principal: principal,
		RoomID:    roomID,
		Status:    scheduler.RoomStatus(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", toRoomDTO(room))
}

func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := h.roomID(w, r, "Delete")
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteRoom(r.Context(), principal, roomID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, ok := PrincipalFromContext(r.Context())
	if !ok || strings.TrimSpace(principal.UserID) == "" {
		h.log(r.Context(), "List", "error_kind", "unauthorized").ErrorContext(r.Context(), "missing authenticated principal")
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingSessionToken)
		return
	}
	rooms, err := h.service.ListRooms(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", listRoomsResponse{Rooms: toRoomDTOs(rooms)})
}

// Available handles GET /rooms/available?start=&end=&capacity=.
func (h *RoomHandler) Available(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.availability == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	start, end, err := parseWindow(query)
	if err != nil {
		h.log(r.Context(), "Available", "error_kind", "bad_request").ErrorContext(r.Context(), "invalid availability query", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
		return
	}
	capacity := 0
	if raw := strings.TrimSpace(query.Get("capacity")); raw != "" {
		if capacity, err = strconv.Atoi(raw); err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
			return
		}
	}

	principal, _ := PrincipalFromContext(r.Context())
	rooms, err := h.availability.AvailableRooms(r.Context(), application.AvailableRoomsParams{
		Principal: principal,
		Start:     start,
		End:       end,
		Capacity:  capacity,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", listRoomsResponse{Rooms: toRoomDTOs(rooms)})
}

// Availability handles GET /rooms/{id}/availability?start=&end=.
func (h *RoomHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.availability == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := h.roomID(w, r, "Availability")
	if !ok {
		return
	}
	start, end, err := parseWindow(r.URL.Query())
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	available, err := h.availability.IsRoomAvailable(r.Context(), principal, roomID, start, end)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", availabilityResponse{RoomID: roomID, Available: available})
}

func (h *RoomHandler) roomID(w http.ResponseWriter, r *http.Request, operation string) (string, bool) {
	roomID, ok := RoomIDFromContext(r.Context())
	if !ok || strings.TrimSpace(roomID) == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "missing room id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidRoomID)
		return "", false
	}
	return roomID, true
}

func parseWindow(values url.Values) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(values.Get("start")))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(values.Get("end")))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

type roomRequest struct {
	Name       string  `json:"name"`
	Location   string  `json:"location"`
	Capacity   int     `json:"capacity"`
	Facilities *string `json:"facilities"`
}

func (r roomRequest) toInput() application.RoomInput {
	var facilities *string
	if r.Facilities != nil {
		trimmed := strings.TrimSpace(*r.Facilities)
		facilities = &trimmed
	}
	return application.RoomInput{
		Name:       strings.TrimSpace(r.Name),
		Location:   strings.TrimSpace(r.Location),
		Capacity:   r.Capacity,
		Facilities: facilities,
	}
}

type roomStatusRequest struct {
	Status string `json:"status"`
}

type listRoomsResponse struct {
	Rooms []roomDTO `json:"rooms"`
}

type availabilityResponse struct {
	RoomID    string `json:"room_id"`
	Available bool   `json:"available"`
}

type roomDTO struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Location   string  `json:"location"`
	Capacity   int     `json:"capacity"`
	Status     string  `json:"status"`
	Facilities *string `json:"facilities,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

func toRoomDTO(room application.Room) roomDTO {
	return roomDTO{
		ID:         room.ID,
		Name:       room.Name,
		Location:   room.Location,
		Capacity:   room.Capacity,
		Status:     string(room.Status),
		Facilities: room.Facilities,
		CreatedAt:  formatTime(room.CreatedAt),
		UpdatedAt:  formatTime(room.UpdatedAt),
	}
}

func toRoomDTOs(rooms []application.Room) []roomDTO {
	out := make([]roomDTO, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, toRoomDTO(room))
	}
	return out
}
