package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-core/internal/mail"
	"github.com/pribylovaa/go-auth-core/internal/models"
	"github.com/pribylovaa/go-auth-core/internal/pkg/log"
	"github.com/pribylovaa/go-auth-core/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-core/internal/storage"
)

const resetSubject = "Reset your password"

var resetMailTmpl = template.Must(template.New("reset").Parse(`<!doctype html>
<html>
<body>
<p>We received a request to reset the password for your account.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>The link is valid for {{.Minutes}} minutes and can be used once.
If you did not request a reset, ignore this e-mail.</p>
</body>
</html>
`))

// RequestPasswordReset запускает отправку письма со ссылкой сброса.
//
// Всегда возвращает nil: ответ не зависит от того, существует ли учётная
// запись, а поиск, выпуск токена и отправка выполняются в фоне.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	normEmail, err := validateEmail(email)
	if err != nil {
		log.From(ctx).Debug("password_reset_bad_email")
		return nil
	}

	queued := s.goBackground(ctx, "password_reset", func(ctx context.Context) {
		s.processResetRequest(ctx, normEmail)
	})
	if !queued {
		s.metrics.Reset("request", "dropped")
	}

	return nil
}

// processResetRequest — фоновая часть запроса сброса. Ошибки только логируются.
func (s *Service) processResetRequest(ctx context.Context, email string) {
	const op = "service.reset.processResetRequest"

	lg := log.From(ctx).With(slog.String("email", redact.Email(email)))

	user, err := s.storage.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Reset("request", "unknown")
			lg.Info("password_reset_unknown_email")
			return
		}

		s.metrics.Reset("request", "error")
		lg.Error("password_reset_lookup_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return
	}

	if !s.allowed(user.Email) {
		s.metrics.Reset("request", "forbidden")
		lg.Info("password_reset_not_allowed")
		return
	}

	if s.reset.Cooldown > 0 {
		ok, err := s.limiter.Allow(ctx, "reset:"+user.ID.String(), s.reset.Cooldown)
		if err != nil {
			// Лимитер недоступен: письмо важнее ограничения частоты.
			lg.Warn("password_reset_limiter_failed",
				slog.String("err", err.Error()),
			)
		} else if !ok {
			s.metrics.Reset("request", "throttled")
			lg.Info("password_reset_throttled",
				slog.String("user_id", user.ID.String()),
			)
			return
		}
	}

	plain, err := s.issueResetToken(ctx, user.ID)
	if err != nil {
		s.metrics.Reset("request", "error")
		lg.Error("password_reset_issue_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return
	}

	msg, err := s.resetMessage(user.Email, plain)
	if err != nil {
		s.metrics.Reset("request", "error")
		lg.Error("password_reset_render_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		s.metrics.MailFailed()
		s.metrics.Reset("request", "mail_failed")
		lg.Error("password_reset_mail_failed",
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
		return
	}

	s.metrics.Reset("request", "sent")
	lg.Info("password_reset_sent",
		slog.String("user_id", user.ID.String()),
	)
}

// issueResetToken сохраняет хэш нового токена сброса и возвращает сырой токен.
func (s *Service) issueResetToken(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "service.reset.issueResetToken"

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		plain, err := newSecret()
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		now := s.now()
		token := &models.PasswordResetToken{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: s.hashToken(plain),
			CreatedAt: now,
			ExpiresAt: now.Add(s.reset.TokenTTL),
		}

		if err := s.storage.SaveResetToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}

			return "", fmt.Errorf("%s: %w", op, err)
		}

		return plain, nil
	}

	return "", fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// resetLink строит ссылку на форму сброса во фронтенде.
func (s *Service) resetLink(token string) string {
	base := strings.TrimRight(s.reset.LinkBaseURL, "/")

	return base + "/reset-password?token=" + url.QueryEscape(token)
}

func (s *Service) resetMessage(to, token string) (mail.Message, error) {
	var buf bytes.Buffer
	err := resetMailTmpl.Execute(&buf, struct {
		Link    string
		Minutes int
	}{
		Link:    s.resetLink(token),
		Minutes: int(s.reset.TokenTTL.Minutes()),
	})
	if err != nil {
		return mail.Message{}, err
	}

	return mail.Message{To: to, Subject: resetSubject, HTML: buf.String()}, nil
}

// ConsumePasswordReset устанавливает новый пароль по одноразовому токену
// и отзывает все сессии владельца. Неизвестный, использованный и истёкший
// токены неразличимы: ErrInvalidOrExpiredToken.
func (s *Service) ConsumePasswordReset(ctx context.Context, token, newPassword string) error {
	const op = "service.reset.ConsumePasswordReset"

	if token == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
	}

	hash := s.hashToken(token)
	now := s.now()

	rec, err := s.storage.ResetTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Reset("consume", "invalid")
			return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if !rec.Usable(now) {
		s.metrics.Reset("consume", "invalid")
		return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
	}

	user, err := s.storage.UserByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	// Проверка до погашения: слабый пароль не сжигает токен.
	if err := validatePassword(newPassword, s.minPasswordLen(user.Email)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	pwHash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	uid, revoked, err := s.storage.CompletePasswordReset(ctx, hash, pwHash, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Reset("consume", "invalid")
			return fmt.Errorf("%s: %w", op, ErrInvalidOrExpiredToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Reset("consume", "success")
	s.metrics.SessionsRevoked(revoked)
	log.From(ctx).Info("password_reset_completed",
		slog.String("user_id", uid.String()),
		slog.Int64("sessions_revoked", revoked),
	)

	return nil
}
