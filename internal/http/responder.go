package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ksti/meeting-room/internal/application"
	"github.com/ksti/meeting-room/internal/domain"
)

var (
	errBadRequestBody      = errors.New("無効なリクエスト形式です。")
	errInvalidMeetingID    = errors.New("無効な会議 ID です。")
	errInvalidUserID       = errors.New("無効なユーザー ID です。")
	errInvalidRoomID       = errors.New("無効な会議室 ID です。")
	errInvalidDeviceID     = errors.New("無効な端末 ID です。")
	errInvalidQuery        = errors.New("クエリパラメータが正しくありません。")
	errMissingSessionToken = errors.New("認証トークンを指定してください")
	errRateLimited         = errors.New("リクエストが多すぎます。しばらくしてから再度お試しください。")
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Code    string `json:"code,omitempty"`
}

// errorDetails is carried in Data when a failure has field or reference
// information.
type errorDetails struct {
	Fields map[string]string   `json:"fields,omitempty"`
	Refs   map[string][]string `json:"refs,omitempty"`
}

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeData(ctx context.Context, w http.ResponseWriter, status int, message string, data any) {
	r.writeJSON(ctx, w, status, envelope{Success: true, Message: message, Data: data})
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
	}
	r.writeJSON(ctx, w, status, envelope{Message: message, Code: statusCode(status)})
}

// handleServiceError renders err with the status its kind maps to. Callers
// have already logged it.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status, body := describeError(err)
	r.writeJSON(ctx, w, status, body)
}

// handleAuthError is handleServiceError for credential endpoints, where a
// missing permission means the caller is not signed in.
func (r responder) handleAuthError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, application.ErrUnauthorized) {
		r.writeJSON(ctx, w, http.StatusUnauthorized, envelope{
			Message: "セッションが無効です。再度ログインしてください。",
			Code:    "unauthorized",
		})
		return
	}
	r.handleServiceError(ctx, w, err)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func describeError(err error) (int, envelope) {
	if err == nil {
		return http.StatusInternalServerError, envelope{Message: localizedStatusMessage(http.StatusInternalServerError), Code: "internal"}
	}

	switch {
	case errors.Is(err, application.ErrUnauthorized):
		return http.StatusForbidden, envelope{Message: "この操作を実行する権限がありません。", Code: "forbidden"}
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, envelope{Message: "指定されたリソースが見つかりません。", Code: "not_found"}
	case errors.Is(err, application.ErrAlreadyExists):
		return http.StatusConflict, envelope{Message: "既に登録されています。", Code: "already_exists"}
	case errors.Is(err, application.ErrInvalidCredentials):
		return http.StatusUnauthorized, envelope{Message: "ログイン情報が正しくありません。", Code: "invalid_credentials"}
	case errors.Is(err, application.ErrAccountDisabled):
		return http.StatusUnauthorized, envelope{Message: "このアカウントは無効化されています。", Code: "account_disabled"}
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusUnprocessableEntity, envelope{
			Message: "入力内容に誤りがあります。",
			Data:    errorDetails{Fields: localizeValidationErrors(vErr.FieldErrors)},
			Code:    "validation",
		}
	}

	if de, ok := domain.As(err); ok {
		status := statusForKind(de.Kind)
		body := envelope{Message: localizedDomainMessage(de), Code: de.Code}
		if len(de.Fields) > 0 || len(de.Refs) > 0 {
			body.Data = errorDetails{Fields: localizeValidationErrors(de.Fields), Refs: de.Refs}
		}
		return status, body
	}

	return http.StatusInternalServerError, envelope{Message: localizedStatusMessage(http.StatusInternalServerError), Code: "internal"}
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindExpired, domain.KindRevoked, domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal"
	default:
		return ""
	}
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusTooManyRequests:
		return errRateLimited.Error()
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizedDomainMessage(de *domain.Error) string {
	switch de.Code {
	case "room_unavailable":
		return "指定された時間帯の会議室は既に予約されています。"
	case "room_out_of_service":
		return "この会議室は現在利用できません。"
	case "capacity_exceeded":
		return "参加人数が定員を超えています。"
	case "not_organizer":
		return "会議の主催者のみが操作できます。"
	case "token_expired":
		return "トークンの有効期限が切れています。"
	case "token_revoked":
		return "トークンは失効しています。"
	}
	switch de.Kind {
	case domain.KindValidation:
		return "入力内容に誤りがあります。"
	case domain.KindNotFound:
		return "指定されたリソースが見つかりません。"
	case domain.KindConflict, domain.KindInvalidState:
		return "要求はリソースの現在の状態と競合しています。"
	case domain.KindExpired, domain.KindRevoked, domain.KindUnauthorized:
		return "認証が必要です。"
	case domain.KindForbidden:
		return "この操作を実行する権限がありません。"
	}
	return de.Message
}

func localizeValidationErrors(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}

	translated := make(map[string]string, len(fields))
	for field, msg := range fields {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "email is required":
		return "メールアドレスは必須です。"
	case "email is invalid":
		return "メールアドレスの形式が不正です。"
	case "name is required":
		return "会議室名は必須です。"
	case "capacity must be positive":
		return "収容人数は正の整数で指定してください。"
	case "title is required":
		return "タイトルは必須です。"
	case "start must be before end":
		return "終了日時は開始日時より後である必要があります。"
	case "room does not exist":
		return "指定された会議室は存在しません。"
	default:
		return message
	}
}
