package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-core/internal/models"
	"github.com/pribylovaa/go-auth-core/internal/pkg/log"
	"github.com/pribylovaa/go-auth-core/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-core/internal/storage"
)

// maxTokenAttempts — число попыток сгенерировать токен с уникальным хэшем.
const maxTokenAttempts = 5

// refreshTTL возвращает срок жизни refresh-сессии.
func (s *Service) refreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return s.auth.RefreshRememberTTL
	}

	return s.auth.RefreshTokenTTL
}

// newRefreshRecord генерирует сырой секрет и незаписанную запись под него.
func (s *Service) newRefreshRecord(userID uuid.UUID, rememberMe bool, meta models.ClientMeta, now time.Time) (string, *models.RefreshToken, error) {
	plain, err := newSecret()
	if err != nil {
		return "", nil, err
	}

	return plain, &models.RefreshToken{
		ID:         uuid.New(),
		UserID:     userID,
		TokenHash:  s.hashToken(plain),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.refreshTTL(rememberMe)),
		RememberMe: rememberMe,
		UserAgent:  meta.UserAgent,
		ClientIP:   meta.ClientIP,
	}, nil
}

// issueRefreshToken создаёт новую активную refresh-сессию.
func (s *Service) issueRefreshToken(ctx context.Context, userID uuid.UUID, rememberMe bool, meta models.ClientMeta) (string, *models.RefreshToken, error) {
	const op = "service.refresh.issueRefreshToken"

	lg := log.From(ctx)

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		plain, rec, err := s.newRefreshRecord(userID, rememberMe, meta, s.now())
		if err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", nil, fmt.Errorf("%s: %w", op, err)
		}

		if err := s.storage.SaveRefreshToken(ctx, rec); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", nil, fmt.Errorf("%s: %w", op, err)
		}

		return plain, rec, nil
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return "", nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// rotateRefreshToken атомарно гасит предъявленный токен и выпускает преемника
// с новым полным сроком. Возвращает сырой секрет и запись преемника.
func (s *Service) rotateRefreshToken(ctx context.Context, plain string, rememberMe bool, meta models.ClientMeta) (string, *models.RefreshToken, error) {
	const op = "service.refresh.rotateRefreshToken"

	lg := log.From(ctx)
	hash := s.hashToken(plain)

	// Чтение только для выбора срока: remember-me «липкий» и не теряется,
	// если клиент при ротации его не передал. Атомарность обеспечивает
	// RotateRefreshToken.
	cur, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Refresh("invalid")
			return "", nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	rememberMe = rememberMe || cur.RememberMe

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		now := s.now()

		nextPlain, next, err := s.newRefreshRecord(uuid.Nil, rememberMe, meta, now)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", op, err)
		}

		old, err := s.storage.RotateRefreshToken(ctx, hash, next, now)
		switch {
		case err == nil:
			s.metrics.Refresh("rotated")
			lg.Debug("refresh_rotated",
				slog.String("user_id", old.UserID.String()),
				slog.String("token", redact.HashPrefix(old.TokenHash)),
			)
			return nextPlain, next, nil

		case errors.Is(err, storage.ErrAlreadyExists):
			continue

		case errors.Is(err, storage.ErrNotFound):
			s.metrics.Refresh("invalid")
			return "", nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)

		case errors.Is(err, storage.ErrRevoked):
			if old != nil && old.ReplacedBy != nil {
				s.metrics.Refresh("replayed")
				lg.Warn("refresh_replay_detected",
					slog.String("user_id", old.UserID.String()),
					slog.String("replaced_by", old.ReplacedBy.String()),
					slog.String("token", redact.HashPrefix(old.TokenHash)),
				)
			} else {
				s.metrics.Refresh("revoked")
			}
			return "", nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)

		case errors.Is(err, storage.ErrExpired):
			s.metrics.Refresh("expired")
			return "", nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)

		default:
			lg.Error("refresh_rotate_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return "", nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// Logout отзывает refresh-токен. Неизвестный или уже отозванный токен — не ошибка.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	const op = "service.refresh.Logout"

	if refreshToken == "" {
		return nil
	}

	revoked, err := s.storage.RevokeRefreshToken(ctx, s.hashToken(refreshToken), s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if revoked {
		s.metrics.SessionsRevoked(1)
	}

	return nil
}

// LogoutAll отзывает все активные сессии пользователя.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.refresh.LogoutAll"

	n, err := s.storage.RevokeUserRefreshTokens(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.SessionsRevoked(n)
	log.From(ctx).Info("sessions_revoked",
		slog.String("user_id", userID.String()),
		slog.Int64("count", n),
	)

	return n, nil
}

// PurgeExpired удаляет просроченные refresh-токены и отработавшие токены сброса.
func (s *Service) PurgeExpired(ctx context.Context) (int64, int64, error) {
	const op = "service.refresh.PurgeExpired"

	now := s.now()

	refresh, err := s.storage.DeleteExpiredTokens(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.Purged("refresh", refresh)

	reset, err := s.storage.DeleteExpiredResetTokens(ctx, now)
	if err != nil {
		return refresh, 0, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.Purged("reset", reset)

	return refresh, reset, nil
}
