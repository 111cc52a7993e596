// storage описывает контракт персистентного хранилища учётных записей,
// refresh-токенов и токенов сброса пароля. Реализации: postgres и memory.
package storage

//go:generate mockgen -source=storage.go -destination=../../mocks/storage_mock.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-core/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/хэш токена).
	ErrAlreadyExists = errors.New("already exists")
	// ErrExpired — сущность просрочена (refresh-token).
	ErrExpired = errors.New("expired")
	// ErrRevoked — сущность отозвана (refresh-token).
	ErrRevoked = errors.New("revoked")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по нормализованному email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// SetPasswordHash заменяет хэш пароля и в той же транзакции отзывает
	// все активные refresh-токены пользователя. Возвращает число отозванных.
	SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string, now time.Time) (int64, error)
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новую запись; дубликат хэша — ErrAlreadyExists.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит запись по хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RotateRefreshToken атомарно заменяет активную запись с хэшем hash на next.
	//
	// next.UserID заполняется из старой записи. Возвращает старую запись.
	// Ошибки:
	//	ErrNotFound — записи нет;
	//	ErrRevoked  — запись уже отозвана (старая запись возвращается для аудита);
	//	ErrExpired  — срок истёк (старая запись возвращается).
	// Из двух конкурентных вызовов с одним hash успешен ровно один.
	RotateRefreshToken(ctx context.Context, hash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error)
	// RevokeRefreshToken отзывает запись, если она ещё активна.
	//
	//	(true, nil)  — запись была активна и отозвана сейчас;
	//	(false, nil) — запись уже была отозвана;
	//	(false, ErrNotFound) — запись не найдена.
	RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error)
	// RevokeUserRefreshTokens отзывает все активные записи пользователя.
	RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	// DeleteExpiredTokens удаляет все просроченные записи.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// ResetTokenStorage выполняет операции над токенами сброса пароля.
type ResetTokenStorage interface {
	// SaveResetToken сохраняет новый токен; дубликат хэша — ErrAlreadyExists.
	SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error
	// ResetTokenByHash находит токен по хэшу.
	ResetTokenByHash(ctx context.Context, hash string) (*models.PasswordResetToken, error)
	// CompletePasswordReset в одной транзакции помечает токен использованным
	// (только если он не использован и не истёк), меняет хэш пароля владельца
	// и отзывает все его refresh-токены. Непригодный токен — ErrNotFound.
	CompletePasswordReset(ctx context.Context, tokenHash, passwordHash string, now time.Time) (uuid.UUID, int64, error)
	// DeleteExpiredResetTokens удаляет истёкшие и использованные токены.
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// Storage задает контракт работы с хранилищем.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	ResetTokenStorage
	// Ping проверяет доступность хранилища (readiness).
	Ping(ctx context.Context) error
	Close()
}
