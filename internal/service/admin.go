package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-core/internal/models"
	"github.com/pribylovaa/go-auth-core/internal/pkg/log"
	"github.com/pribylovaa/go-auth-core/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-core/internal/storage"
)

// Bootstrap приводит учётную запись администратора к конфигурации:
//   - admin.email пуст — ничего не делает;
//   - администратора нет и задан admin.initial_password — создаёт его;
//   - задан admin.reset_password и администратор есть — принудительно меняет
//     пароль и отзывает все его сессии.
//
// Повторный запуск безопасен. Возвращаются только ошибки хранилища;
// некорректная конфигурация пропускается с записью в лог.
func (s *Service) Bootstrap(ctx context.Context) error {
	const op = "service.admin.Bootstrap"

	lg := log.From(ctx)

	if s.adminEmail == "" {
		lg.Info("admin_bootstrap_skipped", slog.String("reason", "admin email not configured"))
		return nil
	}

	if _, err := validateEmail(s.adminEmail); err != nil {
		lg.Warn("admin_bootstrap_skipped", slog.String("reason", "admin email is invalid"))
		return nil
	}

	lg = lg.With(slog.String("email", redact.Email(s.adminEmail)))
	minLen := s.adminMinPasswordLen()

	user, err := s.storage.UserByEmail(ctx, s.adminEmail)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	if user == nil {
		user, err = s.createAdmin(ctx, lg, minLen)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if s.admin.ResetPassword == "" {
		return nil
	}

	if user == nil {
		lg.Warn("admin_reset_skipped", slog.String("reason", "admin account does not exist"))
		return nil
	}

	if err := validatePassword(s.admin.ResetPassword, minLen); err != nil {
		lg.Warn("admin_reset_skipped", slog.String("reason", err.Error()))
		return nil
	}

	if checkPassword(user.PasswordHash, s.admin.ResetPassword) {
		// Пароль уже установлен; сессии не трогаем, чтобы рестарт не разлогинивал.
		lg.Debug("admin_reset_unchanged")
		return nil
	}

	revoked, err := s.setPassword(ctx, user.ID, s.admin.ResetPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	lg.Warn("admin_password_reset",
		slog.String("user_id", user.ID.String()),
		slog.Int64("sessions_revoked", revoked),
	)

	return nil
}

// createAdmin создаёт администратора с admin.initial_password.
// Возвращает (nil, nil), если создавать нечего.
func (s *Service) createAdmin(ctx context.Context, lg *slog.Logger, minLen int) (*models.User, error) {
	const op = "service.admin.createAdmin"

	if s.admin.InitialPassword == "" {
		lg.Info("admin_create_skipped", slog.String("reason", "initial password not configured"))
		return nil, nil
	}

	if err := validatePassword(s.admin.InitialPassword, minLen); err != nil {
		lg.Warn("admin_create_skipped", slog.String("reason", err.Error()))
		return nil, nil
	}

	hash, err := hashPassword(s.admin.InitialPassword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        s.adminEmail,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		// Администратора создала соседняя реплика.
		existing, err := s.storage.UserByEmail(ctx, s.adminEmail)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		return existing, nil
	}

	lg.Info("admin_created", slog.String("user_id", user.ID.String()))

	return user, nil
}

// SupportResetPassword — аварийный сброс пароля администратора по
// support-ключу. Пароль берётся из newPassword, иначе из admin.reset_password.
func (s *Service) SupportResetPassword(ctx context.Context, key, newPassword string) error {
	const op = "service.admin.SupportResetPassword"

	lg := log.From(ctx)

	if s.admin.SupportResetKey == "" {
		return fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	if !keysEqual(key, s.admin.SupportResetKey) {
		lg.Warn("support_reset_forbidden")
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	if s.adminEmail == "" {
		return fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	password := newPassword
	if password == "" {
		password = s.admin.ResetPassword
	}

	if err := validatePassword(password, s.adminMinPasswordLen()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByEmail(ctx, s.adminEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrNotConfigured)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	revoked, err := s.setPassword(ctx, user.ID, password)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	lg.Warn("support_reset_completed",
		slog.String("user_id", user.ID.String()),
		slog.Int64("sessions_revoked", revoked),
	)

	return nil
}

// setPassword хэширует пароль и сохраняет его, отзывая все сессии.
func (s *Service) setPassword(ctx context.Context, userID uuid.UUID, password string) (int64, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return 0, err
	}

	revoked, err := s.storage.SetPasswordHash(ctx, userID, hash, s.now())
	if err != nil {
		return 0, err
	}

	s.metrics.SessionsRevoked(revoked)

	return revoked, nil
}

// keysEqual сравнивает ключи за время, не зависящее ни от длины,
// ни от позиции первого расхождения.
func keysEqual(got, want string) bool {
	a := sha256.Sum256([]byte(got))
	b := sha256.Sum256([]byte(want))

	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
