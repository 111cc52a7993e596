package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"
	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes — bcrypt игнорирует всё после 72 байт.
const maxPasswordBytes = 72

// hashPassword хэширует пароль с помощью bcrypt.
func hashPassword(password string) (string, error) {
	const op = "service.password.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// burnPasswordCheck выполняет bcrypt-сравнение с заведомо чужим хэшем, чтобы
// вход для неизвестного email занимал столько же времени, сколько для известного.
func burnPasswordCheck(password string) {
	dummyOnce.Do(func() {
		b := make([]byte, 16)
		_, _ = rand.Read(b)
		dummyHash, _ = bcrypt.GenerateFromPassword(b, bcrypt.DefaultCost)
	})

	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// normalizeEmail обрезает пробелы и приводит email к нижнему регистру.
func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// validateEmail нормализует email и проверяет его формат.
func validateEmail(raw string) (string, error) {
	const op = "service.password.validateEmail"

	email := normalizeEmail(raw)
	err := validation.Validate(email,
		validation.Required,
		validation.Length(3, 254),
		validation.By(func(v interface{}) error {
			addr, err := mail.ParseAddress(v.(string))
			if err != nil || addr.Address != v.(string) {
				return errors.New("must be a valid email address")
			}
			return nil
		}),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return email, nil
}

// validatePassword проверяет длину пароля: не пустой, не короче minLen рун
// и не длиннее 72 байт.
func validatePassword(pw string, minLen int) error {
	const op = "service.password.validatePassword"

	if pw == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if err := validation.Validate(pw, validation.RuneLength(minLen, 0)); err != nil {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	if len(pw) > maxPasswordBytes {
		return fmt.Errorf("%s: %w", op, ErrLongPassword)
	}

	return nil
}

// minPasswordLen возвращает минимальную длину пароля для учётной записи:
// для администратора действует более строгий минимум.
func (s *Service) minPasswordLen(email string) int {
	general := s.auth.MinPasswordLen
	if general <= 0 {
		general = 8
	}

	if s.isAdmin(email) {
		return max(general, s.admin.MinPasswordLen)
	}

	return general
}

// adminMinPasswordLen — минимум для bootstrap и support reset.
func (s *Service) adminMinPasswordLen() int {
	return max(s.admin.MinPasswordLen, s.auth.MinPasswordLen, 1)
}
