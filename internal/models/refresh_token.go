package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenState — производное состояние refresh-записи в момент времени now.
type TokenState int

const (
	// TokenActive — не отозван и не истёк.
	TokenActive TokenState = iota
	// TokenRotated — отозван при ротации; ReplacedBy указывает на преемника.
	TokenRotated
	// TokenRevoked — отозван явно (logout, смена пароля, revoke-all).
	TokenRevoked
	// TokenExpired — срок истёк, запись не отозвана.
	TokenExpired
)

// String возвращает имя состояния для логов.
func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenRotated:
		return "rotated"
	case TokenRevoked:
		return "revoked"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// RefreshToken — серверная запись refresh-токена.
//
// Сырой секрет никогда не хранится: только TokenHash.
// Запись «usable» тогда и только тогда, когда RevokedAt == nil и now < ExpiresAt.
type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
	RememberMe bool
	UserAgent  string
	ClientIP   string
}

// Usable сообщает, может ли запись быть предъявлена для ротации.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// State вычисляет состояние записи на момент now.
// Отзыв имеет приоритет над истечением срока.
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.RevokedAt != nil && t.ReplacedBy != nil:
		return TokenRotated
	case t.RevokedAt != nil:
		return TokenRevoked
	case !now.Before(t.ExpiresAt):
		return TokenExpired
	default:
		return TokenActive
	}
}

// ClientMeta — аудиторские данные клиента, сопровождающие выпуск сессии.
type ClientMeta struct {
	UserAgent string
	ClientIP  string
}
