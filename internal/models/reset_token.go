package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetToken — одноразовый токен сброса пароля (хранится только хэш).
type PasswordResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Usable сообщает, не использован ли токен и не истёк ли он на момент now.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
