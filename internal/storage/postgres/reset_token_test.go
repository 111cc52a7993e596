package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-core/internal/models"
	"github.com/pribylovaa/go-auth-core/internal/storage"
)

func newReset(userID uuid.UUID, hash string, now time.Time, ttl time.Duration) *models.PasswordResetToken {
	return &models.PasswordResetToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestIntegration_CompletePasswordReset_SingleUse(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	uid := seedUser(t, st, "user@example.com")
	now := time.Now().UTC()

	require.NoError(t, st.SaveResetToken(ctx, newReset(uid, "reset-1", now, 30*time.Minute)))
	require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(uid, "session", now, time.Hour)))

	got, revoked, err := st.CompletePasswordReset(ctx, "reset-1", "new-hash", now)
	require.NoError(t, err)
	require.Equal(t, uid, got)
	require.EqualValues(t, 1, revoked)

	u, err := st.UserByID(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, "new-hash", u.PasswordHash)

	session, err := st.RefreshTokenByHash(ctx, "session")
	require.NoError(t, err)
	require.NotNil(t, session.RevokedAt)

	tok, err := st.ResetTokenByHash(ctx, "reset-1")
	require.NoError(t, err)
	require.NotNil(t, tok.UsedAt)

	_, _, err = st.CompletePasswordReset(ctx, "reset-1", "again", now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	u, err = st.UserByID(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, "new-hash", u.PasswordHash)
}

func TestIntegration_CompletePasswordReset_Expired(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	uid := seedUser(t, st, "user@example.com")
	now := time.Now().UTC()

	require.NoError(t, st.SaveResetToken(ctx, newReset(uid, "stale", now.Add(-time.Hour), 30*time.Minute)))

	_, _, err := st.CompletePasswordReset(ctx, "stale", "new-hash", now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	deleted, err := st.DeleteExpiredResetTokens(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}
