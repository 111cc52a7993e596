package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-core/internal/models"
	"github.com/pribylovaa/go-auth-core/internal/pkg/log"
	"github.com/pribylovaa/go-auth-core/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-core/internal/storage"
)

// Login выполняет вход по email+пароль и открывает новую refresh-сессию.
// Неизвестный email и неверный пароль неразличимы: ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string, rememberMe bool, meta models.ClientMeta) (*models.TokenPair, error) {
	const op = "service.auth.Login"

	lg := log.From(ctx)

	normEmail, err := validateEmail(email)
	if err != nil || password == "" {
		s.metrics.Login("invalid_credentials")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !s.allowed(normEmail) {
		burnPasswordCheck(password)
		s.metrics.Login("invalid_credentials")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			burnPasswordCheck(password)
			s.metrics.Login("invalid_credentials")
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		s.metrics.Login("error")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, password) {
		s.metrics.Login("invalid_credentials")
		lg.Info("login_failed",
			slog.String("email", redact.Email(normEmail)),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	plain, rec, err := s.issueRefreshToken(ctx, user.ID, rememberMe, meta)
	if err != nil {
		s.metrics.Login("error")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issueTokenPair(ctx, user, plain, rec)
	if err != nil {
		s.metrics.Login("error")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Login("success")
	lg.Info("login_succeeded",
		slog.String("user_id", user.ID.String()),
		slog.Bool("remember_me", rememberMe),
	)

	return pair, nil
}

// Register создаёт пользователя и сразу открывает ему сессию.
// В режиме единственного администратора регистрация закрыта: ErrForbidden.
func (s *Service) Register(ctx context.Context, email, password string, rememberMe bool, meta models.ClientMeta) (*models.TokenPair, error) {
	const op = "service.auth.Register"

	if s.auth.SingleAdmin {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validatePassword(password, s.minPasswordLen(normEmail)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        normEmail,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_registered",
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(normEmail)),
	)

	plain, rec, err := s.issueRefreshToken(ctx, user.ID, rememberMe, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issueTokenPair(ctx, user, plain, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// Refresh обменивает refresh-токен на новую пару. Предъявленный токен
// гасится атомарно: из конкурентных запросов с одним токеном успешен один.
// Сессия длинная, если remember-me запрошен сейчас или при входе.
func (s *Service) Refresh(ctx context.Context, refreshToken string, rememberMe bool, meta models.ClientMeta) (*models.TokenPair, error) {
	const op = "service.auth.Refresh"

	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if s.auth.SingleAdmin {
		if err := s.checkRefreshOwner(ctx, refreshToken); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	plain, rec, err := s.rotateRefreshToken(ctx, refreshToken, rememberMe, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByID(ctx, rec.UserID)
	if err != nil {
		s.dropSession(ctx, rec)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !s.allowed(user.Email) {
		s.dropSession(ctx, rec)
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	pair, err := s.issueTokenPair(ctx, user, plain, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// ChangePassword меняет пароль по текущему паролю и отзывает все сессии.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	const op = "service.auth.ChangePassword"

	if current == "" || next == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if !s.allowed(user.Email) {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	if err := validatePassword(next, s.minPasswordLen(user.Email)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, current) {
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	hash, err := hashPassword(next)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	revoked, err := s.storage.SetPasswordHash(ctx, user.ID, hash, s.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.SessionsRevoked(revoked)
	log.From(ctx).Info("password_changed",
		slog.String("user_id", user.ID.String()),
		slog.Int64("sessions_revoked", revoked),
	)

	return nil
}

// Authenticate проверяет access-токен и возвращает principal.
// Хранилище не затрагивается, пока подпись и срок токена не проверены.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.Principal, error) {
	const op = "service.auth.Authenticate"

	uid, _, err := s.validateAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !s.allowed(user.Email) {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	return &models.Principal{UserID: user.ID, Email: user.Email}, nil
}

// issueTokenPair дополняет выпущенную refresh-сессию access-токеном.
func (s *Service) issueTokenPair(ctx context.Context, user *models.User, plain string, rec *models.RefreshToken) (*models.TokenPair, error) {
	const op = "service.auth.issueTokenPair"

	accessToken, accessExp, err := s.generateAccessToken(ctx, user, s.now())
	if err != nil {
		s.dropSession(ctx, rec)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		UserID:           user.ID,
		AccessToken:      accessToken,
		AccessTTL:        s.auth.AccessTokenTTL,
		AccessExpiresAt:  accessExp,
		RefreshToken:     plain,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// dropSession отзывает только что выпущенную сессию, которую нельзя отдать клиенту.
func (s *Service) dropSession(ctx context.Context, rec *models.RefreshToken) {
	if _, err := s.storage.RevokeRefreshToken(ctx, rec.TokenHash, s.now()); err != nil {
		log.From(ctx).Error("refresh_drop_failed",
			slog.String("user_id", rec.UserID.String()),
			slog.String("err", err.Error()),
		)
	}
}

// checkRefreshOwner проверяет владельца токена до ротации. Токен чужого
// пользователя отзывается без выпуска преемника, поэтому повторное
// предъявление не выглядит как replay. Прочие состояния записи оценивает
// rotateRefreshToken.
func (s *Service) checkRefreshOwner(ctx context.Context, plain string) error {
	const op = "service.auth.checkRefreshOwner"

	hash := s.hashToken(plain)
	now := s.now()

	cur, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}
	if !cur.Usable(now) {
		return nil
	}

	user, err := s.storage.UserByID(ctx, cur.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}
	if s.allowed(user.Email) {
		return nil
	}

	if _, err := s.storage.RevokeRefreshToken(ctx, hash, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Refresh("forbidden")
	log.From(ctx).Info("refresh_forbidden",
		slog.String("user_id", user.ID.String()),
		slog.String("token", redact.HashPrefix(hash)),
	)

	return ErrForbidden
}

// isAdmin сообщает, совпадает ли email с настроенным администратором.
func (s *Service) isAdmin(email string) bool {
	return s.adminEmail != "" && normalizeEmail(email) == s.adminEmail
}

// allowed — в режиме единственного администратора сессии есть только у него.
func (s *Service) allowed(email string) bool {
	return !s.auth.SingleAdmin || s.isAdmin(email)
}
