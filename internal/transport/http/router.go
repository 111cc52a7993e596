package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-auth-core/internal/config"
	"github.com/pribylovaa/go-auth-core/internal/transport/http/handlers"
	"github.com/pribylovaa/go-auth-core/internal/transport/http/middleware"
)

// Service — всё, что HTTP-слою нужно от ядра.
type Service interface {
	handlers.AuthService
	middleware.Authenticator
}

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой — роуты регистрируются на корне.
	Cookie   config.CookieConfig
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),
		middleware.RequestID(), // до логирования!
		middleware.Logging(opts.Logger),
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout))
	}

	h := handlers.New(svc, opts.Cookie)
	requireAuth := middleware.RequireAuth(svc)

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, requireAuth)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, requireAuth)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, requireAuth middleware.Middleware) {
	// auth
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
	r.Post("/auth/password/forgot", h.ForgotPassword)
	r.Post("/auth/password/reset", h.ResetPassword)

	// break-glass: аутентификация по pre-shared ключу, без access-токена.
	r.Post("/account/support-reset-password", h.SupportResetPassword)

	// account
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/account/me", h.Me)
		r.Post("/account/change-password", h.ChangePassword)
		r.Post("/account/logout-all", h.LogoutAll)
	})
}
