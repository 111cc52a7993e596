package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-core/internal/models"
	"github.com/pribylovaa/go-auth-core/internal/pkg/log"
)

// secretBytes — энтропия refresh- и reset-токенов (256 бит).
const secretBytes = 32

type accessClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// generateAccessToken подписывает access-токен HS256 на s.auth.AccessTokenTTL.
func (s *Service) generateAccessToken(ctx context.Context, user *models.User, now time.Time) (string, time.Time, error) {
	const op = "service.token.generateAccessToken"

	exp := now.Add(s.auth.AccessTokenTTL)
	claims := accessClaims{
		UserID: user.ID.String(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.auth.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings(s.auth.Audience),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		log.From(ctx).Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	// exp в JWT хранится с точностью до секунды.
	return signed, exp.Truncate(time.Second), nil
}

// validateAccessToken проверяет подпись, алгоритм, issuer/audience и срок.
// Токен действителен строго до exp: в момент exp он уже просрочен.
func (s *Service) validateAccessToken(tokenStr string) (uuid.UUID, string, error) {
	const op = "service.token.validateAccessToken"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.auth.ClockSkew),
		jwt.WithTimeFunc(s.now),
	}
	if s.auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.auth.Issuer))
	}
	if len(s.auth.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(s.auth.Audience...))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return s.secret, nil
		},
		opts...,
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil || claims.Subject != claims.UserID {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return uid, claims.Email, nil
}

// newSecret генерирует случайный непрозрачный токен (base64url, без padding).
func newSecret() (string, error) {
	const op = "service.token.newSecret"

	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashToken — детерминированный хэш сырого токена для хранения и поиска.
// С pepper это HMAC-SHA256(pepper, raw), без него — SHA-256(raw).
func (s *Service) hashToken(raw string) string {
	var sum []byte
	if len(s.pepper) > 0 {
		mac := hmac.New(sha256.New, s.pepper)
		mac.Write([]byte(raw))
		sum = mac.Sum(nil)
	} else {
		h := sha256.Sum256([]byte(raw))
		sum = h[:]
	}

	return base64.RawURLEncoding.EncodeToString(sum)
}
