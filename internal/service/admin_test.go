package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-core/internal/config"
	"github.com/pribylovaa/go-auth-core/internal/models"
	"github.com/pribylovaa/go-auth-core/internal/storage"
)

const supportKey = "support-key-0123456789"

func withAdmin(c *config.Config) {
	c.Admin.Email = testAdmin
	c.Admin.InitialPassword = "initial-password"
}

func TestKeysEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  string
		want bool
	}{
		{"equal", supportKey, true},
		{"empty", "", false},
		{"prefix", supportKey[:len(supportKey)-1], false},
		{"longer", supportKey + "x", false},
		{"first byte differs", "X" + supportKey[1:], false},
		{"last byte differs", supportKey[:len(supportKey)-1] + "X", false},
		{"case differs", strings.ToUpper(supportKey), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, keysEqual(tc.got, supportKey))
		})
	}
}

func TestSupportResetPassword_NotConfigured(t *testing.T) {
	t.Parallel()

	// Без ключа хранилище не трогается.
	svc, _, _ := newMockService(t, func(c *config.Config) { c.Admin.Email = testAdmin })

	err := svc.SupportResetPassword(context.Background(), "anything", "new-admin-password")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSupportResetPassword_WrongKeyIsForbidden(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMockService(t, func(c *config.Config) {
		withAdmin(c)
		c.Admin.SupportResetKey = supportKey
	})

	for _, key := range []string{"", "wrong", "X" + supportKey[1:], supportKey[:len(supportKey)-1] + "X", supportKey + supportKey} {
		err := svc.SupportResetPassword(context.Background(), key, "new-admin-password")
		require.ErrorIs(t, err, ErrForbidden)
	}
}

func TestSupportResetPassword_OK(t *testing.T) {
	t.Parallel()

	env := newMemService(t, func(c *config.Config) {
		withAdmin(c)
		c.Admin.SupportResetKey = supportKey
	})
	ctx := context.Background()
	admin := seedUser(t, env, testAdmin, "old-admin-password")

	pair, err := env.svc.Login(ctx, testAdmin, "old-admin-password", false, models.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, env.svc.SupportResetPassword(ctx, supportKey, "new-admin-password"))

	_, err = env.svc.Refresh(ctx, pair.RefreshToken, false, models.ClientMeta{})
	require.ErrorIs(t, err, ErrTokenRevoked)

	p, err := env.svc.Login(ctx, testAdmin, "new-admin-password", false, models.ClientMeta{})
	require.NoError(t, err)
	require.Equal(t, admin.ID, p.UserID)
}

func TestSupportResetPassword_FallsBackToConfiguredPassword(t *testing.T) {
	t.Parallel()

	env := newMemService(t, func(c *config.Config) {
		withAdmin(c)
		c.Admin.SupportResetKey = supportKey
		c.Admin.ResetPassword = "configured-reset-pw"
	})
	ctx := context.Background()
	seedUser(t, env, testAdmin, "old-admin-password")

	require.NoError(t, env.svc.SupportResetPassword(ctx, supportKey, ""))

	_, err := env.svc.Login(ctx, testAdmin, "configured-reset-pw", false, models.ClientMeta{})
	require.NoError(t, err)
}

func TestSupportResetPassword_Errors(t *testing.T) {
	t.Parallel()

	t.Run("no admin email", func(t *testing.T) {
		svc, _, _ := newMockService(t, func(c *config.Config) { c.Admin.SupportResetKey = supportKey })
		require.ErrorIs(t, svc.SupportResetPassword(context.Background(), supportKey, "new-admin-password"), ErrNotConfigured)
	})

	t.Run("no password anywhere", func(t *testing.T) {
		svc, _, _ := newMockService(t, func(c *config.Config) {
			withAdmin(c)
			c.Admin.SupportResetKey = supportKey
		})
		require.ErrorIs(t, svc.SupportResetPassword(context.Background(), supportKey, ""), ErrEmptyPassword)
	})

	t.Run("below admin minimum", func(t *testing.T) {
		svc, _, _ := newMockService(t, func(c *config.Config) {
			withAdmin(c)
			c.Admin.SupportResetKey = supportKey
		})
		require.ErrorIs(t, svc.SupportResetPassword(context.Background(), supportKey, "nine-char"), ErrWeakPassword)
	})

	t.Run("admin missing", func(t *testing.T) {
		svc, st, _ := newMockService(t, func(c *config.Config) {
			withAdmin(c)
			c.Admin.SupportResetKey = supportKey
		})
		st.EXPECT().UserByEmail(gomock.Any(), testAdmin).Return(nil, storage.ErrNotFound)
		require.ErrorIs(t, svc.SupportResetPassword(context.Background(), supportKey, "new-admin-password"), ErrNotConfigured)
	})
}

func TestBootstrap_NoAdminEmailIsNoop(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMockService(t, nil)
	require.NoError(t, svc.Bootstrap(context.Background()))
}

func TestBootstrap_CreatesAdminOnce(t *testing.T) {
	t.Parallel()

	env := newMemService(t, withAdmin)
	ctx := context.Background()

	require.NoError(t, env.svc.Bootstrap(ctx))

	admin, err := env.st.UserByEmail(ctx, testAdmin)
	require.NoError(t, err)

	pair, err := env.svc.Login(ctx, testAdmin, "initial-password", false, models.ClientMeta{})
	require.NoError(t, err)

	// Повторный запуск ничего не меняет и не разлогинивает.
	require.NoError(t, env.svc.Bootstrap(ctx))

	again, err := env.st.UserByEmail(ctx, testAdmin)
	require.NoError(t, err)
	require.Equal(t, admin.ID, again.ID)
	require.Equal(t, admin.PasswordHash, again.PasswordHash)

	_, err = env.svc.Refresh(ctx, pair.RefreshToken, false, models.ClientMeta{})
	require.NoError(t, err)
}

func TestBootstrap_SkipsWeakOrMissingInitialPassword(t *testing.T) {
	t.Parallel()

	for name, pw := range map[string]string{"missing": "", "weak": "short"} {
		t.Run(name, func(t *testing.T) {
			env := newMemService(t, func(c *config.Config) {
				c.Admin.Email = testAdmin
				c.Admin.InitialPassword = pw
			})

			require.NoError(t, env.svc.Bootstrap(context.Background()))

			_, err := env.st.UserByEmail(context.Background(), testAdmin)
			require.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestBootstrap_ResetPasswordRevokesSessions(t *testing.T) {
	t.Parallel()

	env := newMemService(t, func(c *config.Config) {
		c.Admin.Email = testAdmin
		c.Admin.ResetPassword = "forced-reset-pw"
	})
	ctx := context.Background()
	seedUser(t, env, testAdmin, "old-admin-password")

	pair, err := env.svc.Login(ctx, testAdmin, "old-admin-password", false, models.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, env.svc.Bootstrap(ctx))

	_, err = env.svc.Refresh(ctx, pair.RefreshToken, false, models.ClientMeta{})
	require.ErrorIs(t, err, ErrTokenRevoked)

	second, err := env.svc.Login(ctx, testAdmin, "forced-reset-pw", false, models.ClientMeta{})
	require.NoError(t, err)

	// Пароль уже совпадает: повторный bootstrap сессии не трогает.
	require.NoError(t, env.svc.Bootstrap(ctx))
	_, err = env.svc.Refresh(ctx, second.RefreshToken, false, models.ClientMeta{})
	require.NoError(t, err)
}

func TestBootstrap_ResetWithoutAdminIsSkipped(t *testing.T) {
	t.Parallel()

	env := newMemService(t, func(c *config.Config) {
		c.Admin.Email = testAdmin
		c.Admin.ResetPassword = "forced-reset-pw"
	})

	require.NoError(t, env.svc.Bootstrap(context.Background()))

	_, err := env.st.UserByEmail(context.Background(), testAdmin)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBootstrap_LostCreateRace(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockService(t, withAdmin)
	existing := &models.User{ID: uuid.New(), Email: testAdmin}

	gomock.InOrder(
		st.EXPECT().UserByEmail(gomock.Any(), testAdmin).Return(nil, storage.ErrNotFound),
		st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists),
		st.EXPECT().UserByEmail(gomock.Any(), testAdmin).Return(existing, nil),
	)

	require.NoError(t, svc.Bootstrap(context.Background()))
}

func TestBootstrap_StorageErrorPropagated(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockService(t, withAdmin)
	boom := errors.New("db down")

	st.EXPECT().UserByEmail(gomock.Any(), testAdmin).Return(nil, boom)

	require.ErrorIs(t, svc.Bootstrap(context.Background()), boom)
}
