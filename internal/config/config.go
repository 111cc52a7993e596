// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// MinSecretLen — минимальная длина ключа подписи access-токенов (256 бит).
const MinSecretLen = 32

var (
	// ErrSecretTooShort — ключ подписи короче MinSecretLen байт.
	ErrSecretTooShort = errors.New("jwt secret must be at least 32 bytes")
	// ErrAdminEmailRequired — режим единственного администратора без admin.email.
	ErrAdminEmailRequired = errors.New("admin email is required in single-admin mode")
	// ErrUnknownDriver — неизвестный драйвер хранилища.
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	GRPC     GRPCConfig    `yaml:"grpc"`
	Auth     AuthConfig    `yaml:"auth"`
	Admin    AdminConfig   `yaml:"admin"`
	Reset    ResetConfig   `yaml:"reset"`
	Cookie   CookieConfig  `yaml:"cookie"`
	Mail     MailConfig    `yaml:"mail"`
	DB       DBConfig      `yaml:"db"`
	Redis    RedisConfig   `yaml:"redis"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig — таймауты и периоды фоновых задач.
type TimeoutConfig struct {
	Service  time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	Janitor  time.Duration `yaml:"janitor" env:"JANITOR_PERIOD" env-default:"30m"`
}

// HTTPConfig — сетевые настройки HTTP API.
type HTTPConfig struct {
	Host     string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	OpsPort  string `yaml:"ops_port" env:"HTTP_OPS_PORT" env-default:"50081"`
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api"`
}

// GRPCConfig описывает сетевые настройки gRPC health-сервера.
type GRPCConfig struct {
	Host string `yaml:"host" env:"GRPC_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"GRPC_PORT" env-default:"50051"`
}

// Addr возвращает адрес в формате host:port.
func (g HTTPConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// OpsAddr возвращает адрес служебного mux (/livez, /healthz, /metrics).
func (g HTTPConfig) OpsAddr() string {
	return net.JoinHostPort(g.Host, g.OpsPort)
}

// Addr возвращает адрес в формате host:port.
func (g GRPCConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов.
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	RefreshRememberTTL time.Duration `yaml:"refresh_remember_ttl" env:"REFRESH_REMEMBER_TTL" env-default:"720h"`
	RefreshPepper      string        `yaml:"refresh_pepper" env:"REFRESH_PEPPER"`
	Issuer             string        `yaml:"issuer" env:"ISSUER" env-default:"auth-core"`
	Audience           []string      `yaml:"audience" env:"AUDIENCE" env-default:"auth-core"`
	ClockSkew          time.Duration `yaml:"clock_skew" env:"CLOCK_SKEW" env-default:"0s"`
	MinPasswordLen     int           `yaml:"min_password_len" env:"MIN_PASSWORD_LEN" env-default:"8"`
	SingleAdmin        bool          `yaml:"single_admin" env:"SINGLE_ADMIN" env-default:"false"`
}

// AdminConfig — фиксированная учётная запись администратора.
// Все поля, кроме минимальной длины пароля, необязательны.
type AdminConfig struct {
	Email           string `yaml:"email" env:"ADMIN_EMAIL"`
	InitialPassword string `yaml:"initial_password" env:"ADMIN_INITIAL_PASSWORD"`
	ResetPassword   string `yaml:"reset_password" env:"ADMIN_RESET_PASSWORD"`
	SupportResetKey string `yaml:"support_reset_key" env:"ADMIN_SUPPORT_RESET_KEY"`
	MinPasswordLen  int    `yaml:"min_password_len" env:"ADMIN_MIN_PASSWORD_LEN" env-default:"10"`
}

// NormalizedEmail возвращает email администратора в каноничной форме.
func (a AdminConfig) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(a.Email))
}

// ResetConfig — параметры сброса пароля по e-mail.
type ResetConfig struct {
	TokenTTL    time.Duration `yaml:"token_ttl" env:"RESET_TOKEN_TTL" env-default:"30m"`
	LinkBaseURL string        `yaml:"link_base_url" env:"RESET_LINK_BASE_URL" env-default:"http://localhost:4200"`
	Cooldown    time.Duration `yaml:"cooldown" env:"RESET_COOLDOWN" env-default:"1m"`
}

// CookieConfig — атрибуты cookie с refresh-токеном.
type CookieConfig struct {
	Name     string `yaml:"name" env:"COOKIE_NAME" env-default:"refresh_token"`
	Path     string `yaml:"path" env:"COOKIE_PATH" env-default:"/api"`
	Domain   string `yaml:"domain" env:"COOKIE_DOMAIN"`
	Secure   bool   `yaml:"secure" env:"COOKIE_SECURE" env-default:"false"`
	SameSite string `yaml:"same_site" env:"COOKIE_SAME_SITE" env-default:"Strict"`
}

// MailConfig — SMTP-транспорт. Пустой Host включает log-only отправитель.
type MailConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"MAIL_FROM" env-default:"no-reply@localhost"`
}

// Addr возвращает адрес SMTP-сервера.
func (m MailConfig) Addr() string {
	return net.JoinHostPort(m.Host, m.Port)
}

// DBConfig — настройки хранилища.
type DBConfig struct {
	Driver      string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
	SkipMigrate bool   `yaml:"skip_migrate" env:"DB_SKIP_MIGRATE"`
}

// RedisConfig — необязательный Redis для ограничения частоты писем сброса.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"auth:"`
}

// Validate проверяет значения, без которых процесс не должен стартовать.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if len(c.Auth.JWTSecret) < MinSecretLen {
		return fmt.Errorf("%s: %w", op, ErrSecretTooShort)
	}

	if c.Auth.SingleAdmin && c.Admin.NormalizedEmail() == "" {
		return fmt.Errorf("%s: %w", op, ErrAdminEmailRequired)
	}

	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DatabaseURL == "" {
			return fmt.Errorf("%s: db_url is required for driver %q", op, c.DB.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%s: %w: %q", op, ErrUnknownDriver, c.DB.Driver)
	}

	return nil
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла ENV-переменные накладываются поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
