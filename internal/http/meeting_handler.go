package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/application"
	"github.com/ksti/meeting-room/internal/scheduler"
)

type meetingService interface {
	CreateMeeting(ctx context.Context, params application.CreateMeetingParams) (application.Meeting, error)
	GetMeeting(ctx context.Context, principal application.Principal, meetingID string) (application.Meeting, error)
	ListMeetings(ctx context.Context, params application.ListMeetingsParams) ([]application.Meeting, error)
	UpdateMeeting(ctx context.Context, params application.UpdateMeetingParams) (application.Meeting, error)
	RescheduleMeeting(ctx context.Context, params application.RescheduleMeetingParams) (application.Meeting, error)
	CancelMeeting(ctx context.Context, principal application.Principal, meetingID string) (application.Meeting, error)
	AddParticipant(ctx context.Context, params application.ParticipantParams) (application.Meeting, error)
	RemoveParticipant(ctx context.Context, params application.ParticipantParams) (application.Meeting, error)
}

// MeetingHandler serves bookings. The service logs every outcome, so the
// handler only logs requests it cannot decode.
type MeetingHandler struct {
	service   meetingService
	responder responder
	logger    *slog.Logger
}

func NewMeetingHandler(service meetingService, logger *slog.Logger) *MeetingHandler {
	base := defaultLogger(logger)
	return &MeetingHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *MeetingHandler) badRequest(w http.ResponseWriter, r *http.Request, operation string, err error, reply error) {
	handlerLogger(r.Context(), h.logger, "MeetingHandler", operation, "error_kind", "bad_request").
		ErrorContext(r.Context(), "invalid meeting request", "error", err)
	h.responder.writeError(r.Context(), w, http.StatusBadRequest, reply)
}

func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req meetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, "Create", err, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := h.service.CreateMeeting(r.Context(), application.CreateMeetingParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusCreated, "会議を予約しました。", toMeetingDTO(meeting))
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	meetingID, ok := MeetingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(meetingID) == "" {
		h.badRequest(w, r, "Get", nil, errInvalidMeetingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := h.service.GetMeeting(r.Context(), principal, meetingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", toMeetingDTO(meeting))
}

// List handles GET /meetings?room_id=&organizer_id=&participant_id=&from=&to=&status=.
// participant_id=me selects the caller. status may repeat or hold a comma
// separated list.
func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params, err := listMeetingsParams(r.URL.Query(), principal)
	if err != nil {
		h.badRequest(w, r, "List", err, errInvalidQuery)
		return
	}
	meetings, err := h.service.ListMeetings(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	dtos := make([]meetingDTO, 0, len(meetings))
	for _, m := range meetings {
		dtos = append(dtos, toMeetingDTO(m))
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", listMeetingsResponse{Meetings: dtos})
}

func listMeetingsParams(query url.Values, principal application.Principal) (application.ListMeetingsParams, error) {
	params := application.ListMeetingsParams{
		Principal:     principal,
		RoomID:        strings.TrimSpace(query.Get("room_id")),
		OrganizerID:   strings.TrimSpace(query.Get("organizer_id")),
		ParticipantID: strings.TrimSpace(query.Get("participant_id")),
	}
	if params.ParticipantID == "me" {
		params.ParticipantID = principal.UserID
	}
	var err error
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		if params.From, err = time.Parse(time.RFC3339, raw); err != nil {
			return params, err
		}
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		if params.To, err = time.Parse(time.RFC3339, raw); err != nil {
			return params, err
		}
	}
	for _, value := range query["status"] {
		for _, status := range strings.Split(value, ",") {
			if status = strings.TrimSpace(status); status != "" {
				params.Statuses = append(params.Statuses, scheduler.Status(status))
			}
		}
	}
	return params, nil
}

// Update handles PUT /meetings/{id}. Omitted fields keep their value.
func (h *MeetingHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	meetingID, ok := MeetingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(meetingID) == "" {
		h.badRequest(w, r, "Update", nil, errInvalidMeetingID)
		return
	}

	var req meetingUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, "Update", err, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := h.service.UpdateMeeting(r.Context(), application.UpdateMeetingParams{
		Principal:   principal,
		MeetingID:   meetingID,
		Title:       req.Title,
		Description: req.Description,
		Capacity:    req.Capacity,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", toMeetingDTO(meeting))
}

// Reschedule handles PUT /meetings/{id}/schedule.
func (h *MeetingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	meetingID, ok := MeetingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(meetingID) == "" {
		h.badRequest(w, r, "Reschedule", nil, errInvalidMeetingID)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, "Reschedule", err, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := h.service.RescheduleMeeting(r.Context(), application.RescheduleMeetingParams{
		Principal: principal,
		MeetingID: meetingID,
		Start:     req.Start,
		End:       req.End,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", toMeetingDTO(meeting))
}

// Cancel handles POST /meetings/{id}/cancel.
func (h *MeetingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	meetingID, ok := MeetingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(meetingID) == "" {
		h.badRequest(w, r, "Cancel", nil, errInvalidMeetingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := h.service.CancelMeeting(r.Context(), principal, meetingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "会議をキャンセルしました。", toMeetingDTO(meeting))
}

// AddParticipant handles POST /meetings/{id}/participants/{userId}.
func (h *MeetingHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.changeParticipant(w, r, "AddParticipant", h.service.AddParticipant)
}

// RemoveParticipant handles DELETE /meetings/{id}/participants/{userId}.
func (h *MeetingHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.changeParticipant(w, r, "RemoveParticipant", h.service.RemoveParticipant)
}

func (h *MeetingHandler) changeParticipant(w http.ResponseWriter, r *http.Request, operation string, change func(context.Context, application.ParticipantParams) (application.Meeting, error)) {
	meetingID, ok := MeetingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(meetingID) == "" {
		h.badRequest(w, r, operation, nil, errInvalidMeetingID)
		return
	}
	userID, ok := UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		h.badRequest(w, r, operation, nil, errInvalidUserID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := change(r.Context(), application.ParticipantParams{
		Principal: principal,
		MeetingID: meetingID,
		UserID:    userID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", toMeetingDTO(meeting))
}

type meetingRequest struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Capacity       int       `json:"capacity"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	RoomID         string    `json:"room_id"`
	ParticipantIDs []string  `json:"participant_ids"`
}

func (r meetingRequest) toInput() application.MeetingInput {
	return application.MeetingInput{
		Title:          strings.TrimSpace(r.Title),
		Description:    r.Description,
		Capacity:       r.Capacity,
		Start:          r.Start,
		End:            r.End,
		RoomID:         strings.TrimSpace(r.RoomID),
		ParticipantIDs: append([]string(nil), r.ParticipantIDs...),
	}
}

type meetingUpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Capacity    *int    `json:"capacity"`
}

type listMeetingsResponse struct {
	Meetings []meetingDTO `json:"meetings"`
}

type rescheduleRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type meetingDTO struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Capacity       int      `json:"capacity"`
	Start          string   `json:"start"`
	End            string   `json:"end"`
	OrganizerID    string   `json:"organizer_id"`
	RoomID         string   `json:"room_id"`
	Status         string   `json:"status"`
	ParticipantIDs []string `json:"participant_ids"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	CancelledAt    string   `json:"cancelled_at,omitempty"`
}

func toMeetingDTO(meeting application.Meeting) meetingDTO {
	dto := meetingDTO{
		ID:             meeting.ID,
		Title:          meeting.Title,
		Description:    meeting.Description,
		Capacity:       meeting.Capacity,
		Start:          formatTime(meeting.Start),
		End:            formatTime(meeting.End),
		OrganizerID:    meeting.OrganizerID,
		RoomID:         meeting.RoomID,
		Status:         string(meeting.Status),
		ParticipantIDs: append([]string{}, meeting.ParticipantIDs...),
		CreatedAt:      formatTime(meeting.CreatedAt),
		UpdatedAt:      formatTime(meeting.UpdatedAt),
	}
	if meeting.CancelledAt != nil {
		dto.CancelledAt = formatTime(*meeting.CancelledAt)
	}
	return dto
}
