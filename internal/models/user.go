package models

import (
	"time"

	"github.com/google/uuid"
)

// User — учётная запись (principal), которой принадлежат сессии.
// Email хранится нормализованным (trim + lower-case).
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal — результат успешной аутентификации access-токена.
type Principal struct {
	UserID uuid.UUID
	Email  string
}
