package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-core/internal/config"
	"github.com/pribylovaa/go-auth-core/internal/models"
)

// maxBodyBytes ограничивает размер JSON-тела запроса.
const maxBodyBytes = 64 << 10

// AuthService — операции ядра, которые публикует HTTP-слой.
type AuthService interface {
	Register(ctx context.Context, email, password string, rememberMe bool, meta models.ClientMeta) (*models.TokenPair, error)
	Login(ctx context.Context, email, password string, rememberMe bool, meta models.ClientMeta) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, rememberMe bool, meta models.ClientMeta) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConsumePasswordReset(ctx context.Context, token, newPassword string) error
	SupportResetPassword(ctx context.Context, key, newPassword string) error
}

// Handlers агрегирует зависимости HTTP-обработчиков.
type Handlers struct {
	svc    AuthService
	cookie config.CookieConfig
	now    func() time.Time
}

func New(svc AuthService, cookie config.CookieConfig) *Handlers {
	return &Handlers{svc: svc, cookie: cookie, now: time.Now}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// decodeOptional — как decodeStrict, но пустое тело допустимо.
func decodeOptional(r *http.Request, value any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}

	if err := decodeStrict(r, value); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// clientMeta собирает аудиторские данные клиента.
func clientMeta(r *http.Request) models.ClientMeta {
	const maxUA = 512

	ua := r.UserAgent()
	if len(ua) > maxUA {
		ua = ua[:maxUA]
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	return models.ClientMeta{UserAgent: ua, ClientIP: ip}
}
