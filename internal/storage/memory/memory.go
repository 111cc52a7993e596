// memory — потокобезопасная реализация storage.Storage в памяти процесса.
//
// Используется в env=local без PostgreSQL и в тестах сервиса. Все операции
// выполняются под одним мьютексом, поэтому составные операции (ротация,
// завершение сброса пароля) атомарны по построению. Наружу отдаются копии
// записей: изменение результата не влияет на хранилище.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-core/internal/models"
	"github.com/pribylovaa/go-auth-core/internal/storage"
)

type Storage struct {
	mu sync.Mutex

	users        map[uuid.UUID]*models.User
	usersByEmail map[string]uuid.UUID

	refresh map[string]*models.RefreshToken // token_hash -> запись
	resets  map[string]*models.PasswordResetToken
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		users:        make(map[uuid.UUID]*models.User),
		usersByEmail: make(map[string]uuid.UUID),
		refresh:      make(map[string]*models.RefreshToken),
		resets:       make(map[string]*models.PasswordResetToken),
	}
}

// SaveUser создает нового пользователя.
func (s *Storage) SaveUser(_ context.Context, user *models.User) error {
	const op = "storage.memory.SaveUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, ok := s.usersByEmail[key]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	u := *user
	s.users[u.ID] = &u
	s.usersByEmail[key] = u.ID

	return nil
}

// UserByEmail находит пользователя по email (без учёта регистра).
func (s *Storage) UserByEmail(_ context.Context, email string) (*models.User, error) {
	const op = "storage.memory.UserByEmail"

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	u := *s.users[id]
	return &u, nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.memory.UserByID"

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	cp := *u
	return &cp, nil
}

// SetPasswordHash меняет хэш пароля и отзывает все активные сессии пользователя.
func (s *Storage) SetPasswordHash(_ context.Context, userID uuid.UUID, hash string, now time.Time) (int64, error) {
	const op = "storage.memory.SetPasswordHash"

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	u.PasswordHash = hash
	u.UpdatedAt = now

	return s.revokeUserLocked(userID, now), nil
}

// SaveRefreshToken сохраняет новый refresh-токен.
func (s *Storage) SaveRefreshToken(_ context.Context, token *models.RefreshToken) error {
	const op = "storage.memory.SaveRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertRefreshLocked(token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByHash находит refresh-токен по хэшу.
func (s *Storage) RefreshTokenByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.memory.RefreshTokenByHash"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refresh[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return copyRefresh(t), nil
}

// RotateRefreshToken атомарно заменяет активный токен новым.
func (s *Storage) RotateRefreshToken(_ context.Context, hash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.memory.RotateRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.refresh[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	switch old.State(now) {
	case models.TokenRotated, models.TokenRevoked:
		return copyRefresh(old), fmt.Errorf("%s: %w", op, storage.ErrRevoked)
	case models.TokenExpired:
		return copyRefresh(old), fmt.Errorf("%s: %w", op, storage.ErrExpired)
	}

	next.UserID = old.UserID
	if err := s.insertRefreshLocked(next); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	revokedAt, replacedBy := now, next.ID
	old.RevokedAt = &revokedAt
	old.ReplacedBy = &replacedBy

	return copyRefresh(old), nil
}

// RevokeRefreshToken отзывает refresh-токен, если он ещё активен.
func (s *Storage) RevokeRefreshToken(_ context.Context, hash string, now time.Time) (bool, error) {
	const op = "storage.memory.RevokeRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refresh[hash]
	if !ok {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	if t.RevokedAt != nil {
		return false, nil
	}

	at := now
	t.RevokedAt = &at

	return true, nil
}

// RevokeUserRefreshTokens отзывает все активные токены пользователя.
func (s *Storage) RevokeUserRefreshTokens(_ context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeUserLocked(userID, now), nil
}

// DeleteExpiredTokens удаляет просроченные refresh-токены.
func (s *Storage) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.refresh {
		if !now.Before(t.ExpiresAt) {
			delete(s.refresh, hash)
			n++
		}
	}

	return n, nil
}

// SaveResetToken сохраняет токен сброса пароля.
func (s *Storage) SaveResetToken(_ context.Context, token *models.PasswordResetToken) error {
	const op = "storage.memory.SaveResetToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resets[token.TokenHash]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("%s: unknown user %s", op, token.UserID)
	}

	cp := *token
	s.resets[cp.TokenHash] = &cp

	return nil
}

// ResetTokenByHash находит токен сброса по хэшу.
func (s *Storage) ResetTokenByHash(_ context.Context, hash string) (*models.PasswordResetToken, error) {
	const op = "storage.memory.ResetTokenByHash"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.resets[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	cp := *t
	if t.UsedAt != nil {
		at := *t.UsedAt
		cp.UsedAt = &at
	}

	return &cp, nil
}

// CompletePasswordReset помечает токен использованным, меняет пароль и отзывает сессии.
func (s *Storage) CompletePasswordReset(_ context.Context, tokenHash, passwordHash string, now time.Time) (uuid.UUID, int64, error) {
	const op = "storage.memory.CompletePasswordReset"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.resets[tokenHash]
	if !ok || !t.Usable(now) {
		return uuid.Nil, 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	u, ok := s.users[t.UserID]
	if !ok {
		return uuid.Nil, 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	used := now
	t.UsedAt = &used
	u.PasswordHash = passwordHash
	u.UpdatedAt = now

	return u.ID, s.revokeUserLocked(u.ID, now), nil
}

// DeleteExpiredResetTokens удаляет истёкшие и использованные токены сброса.
func (s *Storage) DeleteExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.resets {
		if !t.Usable(now) {
			delete(s.resets, hash)
			n++
		}
	}

	return n, nil
}

// Ping всегда успешен.
func (s *Storage) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Storage) Close() {}

func (s *Storage) insertRefreshLocked(token *models.RefreshToken) error {
	if _, ok := s.refresh[token.TokenHash]; ok {
		return storage.ErrAlreadyExists
	}
	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("unknown user %s", token.UserID)
	}

	s.refresh[token.TokenHash] = copyRefresh(token)
	return nil
}

func (s *Storage) revokeUserLocked(userID uuid.UUID, now time.Time) int64 {
	var n int64
	for _, t := range s.refresh {
		if t.UserID == userID && t.RevokedAt == nil {
			at := now
			t.RevokedAt = &at
			n++
		}
	}

	return n
}

func copyRefresh(t *models.RefreshToken) *models.RefreshToken {
	cp := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		cp.RevokedAt = &at
	}
	if t.ReplacedBy != nil {
		id := *t.ReplacedBy
		cp.ReplacedBy = &id
	}

	return &cp
}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)
