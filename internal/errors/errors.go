// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход он принимает ошибку сервиса (sentinel из internal/service),
// а на выход даёт:
//   - корректный HTTP-статус;
//   - короткий стабильный код и безопасное message без утечки деталей.
//
// Источник истинности по классам ошибок: internal/service.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pribylovaa/go-auth-core/internal/pkg/log"
	"github.com/pribylovaa/go-auth-core/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ValidationError — ошибка разбора/проверки запроса на уровне транспорта.
// Msg отдаётся клиенту как есть.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return service.ErrValidation }

// Invalid оборачивает ошибку проверки запроса в ValidationError.
func Invalid(err error) error {
	if err == nil {
		return &ValidationError{Msg: "invalid argument"}
	}

	return &ValidationError{Msg: err.Error()}
}

// Точные сообщения, которые безопасно показывать клиенту.
var validationMessages = []error{
	service.ErrInvalidEmail,
	service.ErrEmptyPassword,
	service.ErrWeakPassword,
	service.ErrLongPassword,
}

// ToHTTP конвертирует ошибку сервиса в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500/internal;
//   - неаутентифицирован (неверные учётные данные, токен недействителен,
//     истёк или отозван) — 401/unauthenticated, причина не раскрывается;
//   - ошибка проверки ввода — 400/invalid_argument с точным сообщением;
//   - ErrInvalidOrExpiredToken — 400/invalid_or_expired_token;
//   - ErrForbidden — 403/permission_denied;
//   - ErrEmailTaken — 409/already_exists;
//   - ErrNotConfigured — 409/not_configured;
//   - дедлайн — 504, отмена клиентом — 499;
//   - прочее — 500/internal.
func ToHTTP(err error) (int, ErrorResponse) {
	status, code, msg := classify(err)

	return status, ErrorResponse{
		Error: APIError{
			Code:    code,
			Message: msg,
		},
	}
}

func classify(err error) (int, string, string) {
	var ve *ValidationError

	switch {
	case err == nil:
		return http.StatusInternalServerError, "internal", "internal error"
	case service.IsUnauthorized(err):
		return http.StatusUnauthorized, "unauthenticated", "unauthenticated"
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "invalid_or_expired_token", "invalid or expired token"
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid_argument", ve.Msg
	case errors.Is(err, service.ErrValidation):
		for _, v := range validationMessages {
			if errors.Is(err, v) {
				return http.StatusBadRequest, "invalid_argument", v.Error()
			}
		}
		return http.StatusBadRequest, "invalid_argument", "invalid argument"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "permission_denied", "permission denied"
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, "already_exists", "email already registered"
	case errors.Is(err, service.ErrNotConfigured):
		return http.StatusConflict, "not_configured", "not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "canceled"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
// Внутренние ошибки логируются с деталями, клиент их не видит.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if status >= http.StatusInternalServerError && err != nil {
		log.From(r.Context()).Error("http_request_failed",
			slog.Int("status", status),
			slog.String("err", err.Error()),
		)
	}

	// Прокидываем request_id для фронта, чтобы он мог репортить баги с привязкой.
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
