package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/application"
	"github.com/ksti/meeting-room/internal/session"
)

type authService interface {
	Register(ctx context.Context, params application.RegisterParams) (application.User, error)
	Login(ctx context.Context, params application.LoginParams) (application.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (application.Session, error)
	Logout(ctx context.Context, accessToken string) error
	LogoutAll(ctx context.Context, principal application.Principal) (int, error)
	ChangePassword(ctx context.Context, params application.ChangePasswordParams) error
	ListDevices(ctx context.Context, principal application.Principal) ([]application.Device, error)
	RevokeDevice(ctx context.Context, principal application.Principal, deviceID string) error
	DisableDevice(ctx context.Context, principal application.Principal, deviceID string) error
}

// AuthHandler serves registration, the session endpoints and device management.
type AuthHandler struct {
	service   authService
	responder responder
	logger    *slog.Logger
}

func NewAuthHandler(service authService, logger *slog.Logger) *AuthHandler {
	base := defaultLogger(logger)
	return &AuthHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AuthHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AuthHandler", operation, attrs...)
}

func (h *AuthHandler) ok() bool { return h != nil && h.service != nil }

// Register handles POST /users.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.ok() {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Register", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode registration", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	user, err := h.service.Register(r.Context(), application.RegisterParams{
		Email:       req.Email,
		UserName:    req.UserName,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusCreated, "ユーザーを登録しました。", toUserDTO(user))
}

// CreateSession handles POST /sessions.
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if !h.ok() {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "CreateSession", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode session request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	result, err := h.service.Login(r.Context(), application.LoginParams{
		Login:       req.login(),
		Password:    req.Password,
		Device:      req.Device.toInfo(),
		ForceRotate: req.ForceRotate,
	})
	if err != nil {
		h.responder.handleAuthError(r.Context(), w, err)
		return
	}

	setSessionCookie(w, result.Session.AccessToken, result.Session.AccessExpiresAt)
	h.responder.writeData(r.Context(), w, http.StatusCreated, "ログインしました。", loginResponse{
		User:            toUserDTO(result.User),
		Session:         toSessionDTO(result.Session),
		Rotated:         result.Rotated,
		EvictedDeviceID: result.EvictedDeviceID,
	})
}

// RefreshSession handles POST /sessions/refresh.
func (h *AuthHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	if !h.ok() {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "RefreshSession", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode refresh request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	sess, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.responder.handleAuthError(r.Context(), w, err)
		return
	}

	setSessionCookie(w, sess.AccessToken, sess.AccessExpiresAt)
	h.responder.writeData(r.Context(), w, http.StatusOK, "トークンを更新しました。", toSessionDTO(sess))
}

// DeleteCurrentSession handles DELETE /sessions/current.
func (h *AuthHandler) DeleteCurrentSession(w http.ResponseWriter, r *http.Request) {
	if !h.ok() {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token, ok := AccessTokenFromContext(r.Context())
	if !ok {
		token = extractTokenFromRequest(r)
	}
	if token == "" {
		h.log(r.Context(), "DeleteCurrentSession", "error_kind", "unauthorized").ErrorContext(r.Context(), "missing session token for current session revocation")
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingSessionToken)
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		h.responder.handleAuthError(r.Context(), w, err)
		return
	}

	clearSessionCookie(w)
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// DeleteAllSessions handles DELETE /sessions and signs the principal out everywhere.
func (h *AuthHandler) DeleteAllSessions(w http.ResponseWriter, r *http.Request) {
	if !h.ok() {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	revoked, err := h.service.LogoutAll(r.Context(), principal)
	if err != nil {
		h.responder.handleAuthError(r.Context(), w, err)
		return
	}

	clearSessionCookie(w)
	h.responder.writeData(r.Context(), w, http.StatusOK, "すべての端末からログアウトしました。", revokedResponse{Revoked: revoked})
}

// ChangePassword handles PUT /users/me/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if !h.ok() {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "ChangePassword", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode password change", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	err := h.service.ChangePassword(r.Context(), application.ChangePasswordParams{
		Principal:       principal,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		h.responder.handleAuthError(r.Context(), w, err)
		return
	}

	clearSessionCookie(w)
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// ListDevices handles GET /devices.
func (h *AuthHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	if !h.ok() {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	devices, err := h.service.ListDevices(r.Context(), principal)
	if err != nil {
		h.responder.handleAuthError(r.Context(), w, err)
		return
	}

	out := make([]deviceDTO, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceDTO(d))
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, "", listDevicesResponse{Devices: out})
}

// RevokeDevice handles DELETE /devices/{id}.
func (h *AuthHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	if !h.ok() {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.deviceAction(w, r, "RevokeDevice", h.service.RevokeDevice)
}

// DisableDevice handles POST /devices/{id}/disable.
func (h *AuthHandler) DisableDevice(w http.ResponseWriter, r *http.Request) {
	if !h.ok() {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.deviceAction(w, r, "DisableDevice", h.service.DisableDevice)
}

func (h *AuthHandler) deviceAction(w http.ResponseWriter, r *http.Request, operation string, action func(context.Context, application.Principal, string) error) {
	deviceID, ok := DeviceIDFromContext(r.Context())
	if !ok || strings.TrimSpace(deviceID) == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "missing device id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDeviceID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := action(r.Context(), principal, deviceID); err != nil {
		h.responder.handleAuthError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type registerRequest struct {
	Email       string `json:"email"`
	UserName    string `json:"user_name"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Login       string        `json:"login"`
	Email       string        `json:"email"`
	UserName    string        `json:"user_name"`
	Password    string        `json:"password"`
	Device      deviceRequest `json:"device"`
	ForceRotate bool          `json:"force_rotate"`
}

// login accepts the generic field or either specific one.
func (r loginRequest) login() string {
	for _, candidate := range []string{r.Login, r.Email, r.UserName} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type deviceRequest struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Platform   string `json:"platform"`
	OS         string `json:"os"`
	OSVersion  string `json:"os_version"`
}

func (d deviceRequest) toInfo() session.DeviceInfo {
	return session.DeviceInfo{
		Identifier: d.Identifier,
		Name:       d.Name,
		Platform:   d.Platform,
		OS:         d.OS,
		OSVersion:  d.OSVersion,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type loginResponse struct {
	User            userDTO    `json:"user"`
	Session         sessionDTO `json:"session"`
	Rotated         bool       `json:"rotated"`
	EvictedDeviceID string     `json:"evicted_device_id,omitempty"`
}

type revokedResponse struct {
	Revoked int `json:"revoked"`
}

type sessionDTO struct {
	UserID           string `json:"user_id"`
	DeviceID         string `json:"device_id"`
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	IssuedAt         string `json:"issued_at"`
	AccessExpiresAt  string `json:"access_expires_at"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

func toSessionDTO(s application.Session) sessionDTO {
	return sessionDTO{
		UserID:           s.UserID,
		DeviceID:         s.DeviceID,
		AccessToken:      s.AccessToken,
		RefreshToken:     s.RefreshToken,
		TokenType:        s.TokenType,
		IssuedAt:         formatTime(s.IssuedAt),
		AccessExpiresAt:  formatTime(s.AccessExpiresAt),
		RefreshExpiresAt: formatTime(s.RefreshExpiresAt),
	}
}

type listDevicesResponse struct {
	Devices []deviceDTO `json:"devices"`
}

type deviceDTO struct {
	ID             string `json:"id"`
	Identifier     string `json:"identifier"`
	Name           string `json:"name"`
	Platform       string `json:"platform,omitempty"`
	OS             string `json:"os,omitempty"`
	OSVersion      string `json:"os_version,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
	Current        bool   `json:"current"`
}

func toDeviceDTO(d application.Device) deviceDTO {
	return deviceDTO{
		ID:             d.ID,
		Identifier:     d.Identifier,
		Name:           d.Name,
		Platform:       d.Platform,
		OS:             d.OS,
		OSVersion:      d.OSVersion,
		Status:         d.Status,
		CreatedAt:      formatTime(d.CreatedAt),
		LastActivityAt: formatTime(d.LastActivityAt),
		Current:        d.Current,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	cookie := &http.Cookie{
		Name:     "session_token",
		Value:    token,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	}
	if !expires.IsZero() {
		cookie.Expires = expires.UTC()
	}
	http.SetCookie(w, cookie)
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "session_token",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func extractTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, session.TokenTypeBearer) {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie("session_token"); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
