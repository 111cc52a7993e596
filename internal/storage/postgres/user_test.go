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

func TestIntegration_SaveUser_And_Lookup_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Email:        "admin@example.com",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.SaveUser(ctx, u))

	byEmail, err := st.UserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)
	require.Equal(t, "hash", byEmail.PasswordHash)

	byID, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, byID.Email)
	require.WithinDuration(t, now, byID.CreatedAt, time.Second)
}

func TestIntegration_SaveUser_UniqueEmail_CaseInsensitive(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	seedUser(t, st, "user@example.com")

	now := time.Now().UTC()
	err := st.SaveUser(context.Background(), &models.User{
		ID:           uuid.New(),
		Email:        "USER@example.com",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestIntegration_UserLookup_NotFound(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	_, err := st.UserByEmail(context.Background(), "missing@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.UserByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_SetPasswordHash_RevokesSessions(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	uid := seedUser(t, st, "user@example.com")
	now := time.Now().UTC()

	for _, h := range []string{"h1", "h2"} {
		require.NoError(t, st.SaveRefreshToken(ctx, newRefresh(uid, h, now, time.Hour)))
	}

	revoked, err := st.SetPasswordHash(ctx, uid, "new-hash", now)
	require.NoError(t, err)
	require.EqualValues(t, 2, revoked)

	u, err := st.UserByID(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, "new-hash", u.PasswordHash)

	tok, err := st.RefreshTokenByHash(ctx, "h1")
	require.NoError(t, err)
	require.False(t, tok.Usable(now))

	_, err = st.SetPasswordHash(ctx, uuid.New(), "x", now)
	require.ErrorIs(t, err, storage.ErrNotFound)
}
