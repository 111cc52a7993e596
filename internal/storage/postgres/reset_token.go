package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pribylovaa/go-auth-core/internal/models"
	"github.com/pribylovaa/go-auth-core/internal/storage"
)

const resetColumns = `id, user_id, token_hash, created_at, expires_at, used_at`

// SaveResetToken сохраняет токен сброса пароля.
func (s *Storage) SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	const op = "storage.postgres.SaveResetToken"

	query := `
		INSERT INTO password_reset_tokens(` + resetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.CreatedAt,
		token.ExpiresAt,
		token.UsedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ResetTokenByHash находит токен сброса по хэшу.
func (s *Storage) ResetTokenByHash(ctx context.Context, hash string) (*models.PasswordResetToken, error) {
	const op = "storage.postgres.ResetTokenByHash"

	query := `SELECT ` + resetColumns + ` FROM password_reset_tokens WHERE token_hash = $1`

	var token models.PasswordResetToken
	err := s.db.QueryRow(ctx, query, hash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.UsedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &token, nil
}

// CompletePasswordReset помечает токен использованным, меняет пароль владельца
// и отзывает его сессии. Условный UPDATE гарантирует одноразовость токена.
func (s *Storage) CompletePasswordReset(ctx context.Context, tokenHash, passwordHash string, now time.Time) (uuid.UUID, int64, error) {
	const op = "storage.postgres.CompletePasswordReset"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const claim = `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id
	`

	var userID uuid.UUID
	if err := tx.QueryRow(ctx, claim, tokenHash, now).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return uuid.Nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := updatePasswordHash(ctx, tx, userID, passwordHash, now); err != nil {
		return uuid.Nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	revoked, err := revokeUserTokens(ctx, tx, userID, now)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	return userID, revoked, nil
}

// DeleteExpiredResetTokens удаляет истёкшие и уже использованные токены.
func (s *Storage) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredResetTokens"

	query := `
		DELETE FROM password_reset_tokens
		WHERE expires_at <= $1 OR used_at IS NOT NULL
	`

	tag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
