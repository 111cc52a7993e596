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

const refreshColumns = `id, user_id, token_hash, created_at, expires_at,
	revoked_at, replaced_by, remember_me, user_agent, client_ip`

// SaveRefreshToken сохраняет новый refresh-токен в БД.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	if err := insertRefreshToken(ctx, s.db, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByHash находит refresh-токен по его хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByHash"

	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	token, err := scanRefreshToken(s.db.QueryRow(ctx, query, hash))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

// RotateRefreshToken заменяет активный токен новым в одной транзакции.
//
// Порядок: строка старого токена блокируется (FOR UPDATE), затем вставляется
// новая запись и только после этого старая помечается revoked_at/replaced_by
// условным UPDATE. Конкурентная ротация того же хэша ждёт блокировку и
// после коммита первой видит revoked_at — получает ErrRevoked.
func (s *Storage) RotateRefreshToken(ctx context.Context, hash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.postgres.RotateRefreshToken"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`

	old, err := scanRefreshToken(tx.QueryRow(ctx, query, hash))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch old.State(now) {
	case models.TokenRotated, models.TokenRevoked:
		return old, fmt.Errorf("%s: %w", op, storage.ErrRevoked)
	case models.TokenExpired:
		return old, fmt.Errorf("%s: %w", op, storage.ErrExpired)
	}

	next.UserID = old.UserID
	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	const upd = `
		UPDATE refresh_tokens
		SET revoked_at = $2, replaced_by = $3
		WHERE id = $1 AND revoked_at IS NULL
	`

	tag, err := tx.Exec(ctx, upd, old.ID, now, next.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() != 1 {
		return old, fmt.Errorf("%s: %w", op, storage.ErrRevoked)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	revokedAt, replacedBy := now, next.ID
	old.RevokedAt = &revokedAt
	old.ReplacedBy = &replacedBy

	return old, nil
}

// RevokeRefreshToken отзывает refresh-токен, если он ещё не был отозван.
// Возвращает:
//
//	(true, nil)  — токен был активен и успешно отозван сейчас;
//	(false, nil) — токен существует, но уже был отозван;
//	(false, ErrNotFound) — токен не найден.
func (s *Storage) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error) {
	const op = "storage.postgres.RevokeRefreshToken"

	const upd = `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL
		RETURNING id
	`

	var id uuid.UUID
	err := s.db.QueryRow(ctx, upd, hash, now).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	const sel = `SELECT id FROM refresh_tokens WHERE token_hash = $1`

	err = s.db.QueryRow(ctx, sel, hash).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return false, nil
}

// RevokeUserRefreshTokens отзывает все активные refresh-токены пользователя.
func (s *Storage) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	const op = "storage.postgres.RevokeUserRefreshTokens"

	n, err := revokeUserTokens(ctx, s.db, userID, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// DeleteExpiredTokens удаляет все просроченные токены.
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredTokens"

	query := `
        DELETE FROM refresh_tokens
        WHERE expires_at <= $1
    `

	tag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func insertRefreshToken(ctx context.Context, q querier, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens(` + refreshColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := q.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.CreatedAt,
		token.ExpiresAt,
		token.RevokedAt,
		token.ReplacedBy,
		token.RememberMe,
		token.UserAgent,
		token.ClientIP,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}

		return err
	}

	return nil
}

func revokeUserTokens(ctx context.Context, q querier, userID uuid.UUID, now time.Time) (int64, error) {
	const query = `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`

	tag, err := q.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func scanRefreshToken(row pgx.Row) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.ReplacedBy,
		&token.RememberMe,
		&token.UserAgent,
		&token.ClientIP,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return &token, nil
}
