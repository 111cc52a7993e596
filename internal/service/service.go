// service содержит ядро жизненного цикла учётных данных и сессий:
// проверку паролей, выпуск access-токенов (JWT), ротацию refresh-токенов
// с обнаружением повторного предъявления, отзыв сессий, одноразовые токены
// сброса пароля, bootstrap администратора и аварийный сброс пароля.
//
// Основные аспекты:
//   - Service не хранит состояние запроса; экземпляр безопасен для
//     конкурентного использования при потокобезопасном storage.Storage;
//   - сырые refresh/reset-токены и пароли никогда не сохраняются и не логируются;
//   - ошибки возвращаются sentinel-значениями ниже и маппятся транспортом
//     на HTTP-статусы (см. комментарии к переменным).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pribylovaa/go-auth-core/internal/cache"
	"github.com/pribylovaa/go-auth-core/internal/config"
	"github.com/pribylovaa/go-auth-core/internal/mail"
	"github.com/pribylovaa/go-auth-core/internal/metrics"
	"github.com/pribylovaa/go-auth-core/internal/pkg/log"
	"github.com/pribylovaa/go-auth-core/internal/storage"
)

var (
	// ErrInvalidCredentials — пара email/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — токен (access/refresh) некорректен по формату/подписи
	// или отсутствует в хранилище. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия токена истёк. Транспорт: HTTP 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked — токен отозван (logout/ротация/смена пароля).
	// Транспорт: HTTP 401.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный токен.
	// Транспорт: HTTP 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")

	// ErrValidation — входные данные не прошли проверку. Транспорт: HTTP 400.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidEmail — e-mail имеет некорректный формат.
	ErrInvalidEmail = fmt.Errorf("%w: invalid email format", ErrValidation)

	// ErrEmptyPassword — пароль пустой.
	ErrEmptyPassword = fmt.Errorf("%w: password is empty", ErrValidation)

	// ErrWeakPassword — пароль короче минимальной длины.
	ErrWeakPassword = fmt.Errorf("%w: password is too short", ErrValidation)

	// ErrLongPassword — пароль длиннее 72 байт (предел bcrypt).
	ErrLongPassword = fmt.Errorf("%w: password is too long", ErrValidation)

	// ErrEmailTaken — пользователь с таким email уже существует.
	// Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already registered")

	// ErrForbidden — запрос аутентифицирован, но не разрешён
	// (неверный support-ключ, principal не администратор). Транспорт: HTTP 403.
	ErrForbidden = errors.New("forbidden")

	// ErrNotConfigured — функция требует конфигурации, которой нет.
	// Транспорт: HTTP 409.
	ErrNotConfigured = errors.New("not configured")

	// ErrInvalidOrExpiredToken — токен сброса пароля неизвестен, использован
	// или истёк; случаи намеренно неразличимы. Транспорт: HTTP 400.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrSigningKeyTooShort — ключ подписи короче 256 бит; процесс не стартует.
	ErrSigningKeyTooShort = errors.New("signing key must be at least 256 bits")
)

// IsUnauthorized сообщает, относится ли ошибка к классу «не аутентифицирован».
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked)
}

// maxBackground — предел одновременно выполняемых фоновых задач (письма сброса).
const maxBackground = 16

// Service описывает бизнес-логику сервиса.
type Service struct {
	storage storage.Storage
	auth    config.AuthConfig
	admin   config.AdminConfig
	reset   config.ResetConfig
	timeout time.Duration

	adminEmail string
	secret     []byte
	pepper     []byte

	limiter cache.Limiter
	mailer  mail.Sender
	metrics *metrics.Metrics
	now     func() time.Time

	bg  sync.WaitGroup
	sem chan struct{}
}

// Option настраивает необязательные зависимости Service.
type Option func(*Service)

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLimiter задаёт ограничитель частоты писем сброса.
func WithLimiter(l cache.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithMailer задаёт транспорт писем.
func WithMailer(m mail.Sender) Option {
	return func(s *Service) { s.mailer = m }
}

// WithMetrics задаёт счётчики Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New создаёт новый экземпляр Service.
// Ключ подписи короче 32 байт — фатальная ошибка конфигурации.
func New(st storage.Storage, cfg *config.Config, opts ...Option) (*Service, error) {
	const op = "service.New"

	if len(cfg.Auth.JWTSecret) < config.MinSecretLen {
		return nil, fmt.Errorf("%s: %w", op, ErrSigningKeyTooShort)
	}

	adminEmail := cfg.Admin.NormalizedEmail()
	if cfg.Auth.SingleAdmin && adminEmail == "" {
		return nil, fmt.Errorf("%s: %w", op, config.ErrAdminEmailRequired)
	}

	s := &Service{
		storage:    st,
		auth:       cfg.Auth,
		admin:      cfg.Admin,
		reset:      cfg.Reset,
		timeout:    cfg.Timeouts.Service,
		adminEmail: adminEmail,
		secret:     []byte(cfg.Auth.JWTSecret),
		limiter:    cache.NewMemoryLimiter(nil),
		mailer:     mail.LogSender{},
		now:        func() time.Time { return time.Now().UTC() },
		sem:        make(chan struct{}, maxBackground),
	}

	if cfg.Auth.RefreshPepper != "" {
		s.pepper = []byte(cfg.Auth.RefreshPepper)
	}

	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Close дожидается завершения фоновых задач (graceful shutdown).
func (s *Service) Close() {
	s.bg.Wait()
}

// goBackground выполняет fn вне жизненного цикла запроса: контекст не
// отменяется вместе с запросом, но ограничен таймаутом сервиса.
// Слот занимается до запуска горутины; если все maxBackground слотов заняты,
// задача отбрасывается и возвращается false.
func (s *Service) goBackground(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	lg := log.From(ctx).With(slog.String("task", name))

	select {
	case s.sem <- struct{}{}:
	default:
		lg.Warn("background_dropped", slog.Int("limit", cap(s.sem)))
		return false
	}

	bctx := log.Into(context.WithoutCancel(ctx), lg)

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer func() { <-s.sem }()

		defer func() {
			if r := recover(); r != nil {
				lg.Error("background_panic", slog.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(bctx, s.timeout)
		defer cancel()

		fn(ctx)
	}()

	return true
}
