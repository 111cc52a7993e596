package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-auth-core/internal/cache"
	"github.com/pribylovaa/go-auth-core/internal/config"
	"github.com/pribylovaa/go-auth-core/internal/mail"
	"github.com/pribylovaa/go-auth-core/internal/metrics"
	"github.com/pribylovaa/go-auth-core/internal/service"
	"github.com/pribylovaa/go-auth-core/internal/storage"
	"github.com/pribylovaa/go-auth-core/internal/storage/memory"
	"github.com/pribylovaa/go-auth-core/internal/storage/postgres"
	grpctransport "github.com/pribylovaa/go-auth-core/internal/transport/grpc"
	httptransport "github.com/pribylovaa/go-auth-core/internal/transport/http"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// healthPeriod — период проверки хранилища для gRPC health.
const healthPeriod = 5 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("config_invalid", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	str, err := openStorage(rootCtx, cfg, log)
	if err != nil {
		log.Error("storage_open_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	limiter, err := openLimiter(rootCtx, cfg, log)
	if err != nil {
		log.Error("redis_connect_failed", slog.String("err", err.Error()))
		str.Close()
		os.Exit(1)
	}

	var mailer mail.Sender = mail.LogSender{}
	if cfg.Mail.Host != "" {
		mailer = mail.NewSMTPSender(cfg.Mail)
		log.Info("smtp_mailer_enabled", slog.String("addr", cfg.Mail.Addr()))
	} else {
		log.Warn("smtp_not_configured", slog.String("hint", "reset e-mails are dropped"))
	}

	srvc, err := service.New(str, cfg,
		service.WithLimiter(limiter),
		service.WithMailer(mailer),
		service.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
	)
	if err != nil {
		log.Error("service_init_failed", slog.String("err", err.Error()))
		_ = limiter.Close()
		str.Close()
		os.Exit(1)
	}
	log.Info("service_initialized")

	if err := srvc.Bootstrap(rootCtx); err != nil {
		log.Error("admin_bootstrap_failed", slog.String("err", err.Error()))
		_ = limiter.Close()
		str.Close()
		os.Exit(1)
	}

	// Фоновая очистка просроченных refresh- и reset-токенов.
	startJanitor(rootCtx, srvc, log, cfg.Timeouts.Janitor)

	var ready int32 // 0 — not ready; 1 — ready

	// Служебный mux: /livez, /healthz, /metrics.
	opsSrv := &http.Server{
		Addr:              cfg.HTTP.OpsAddr(),
		Handler:           opsMux(&ready, str),
		ReadHeaderTimeout: 5 * time.Second,
	}

	apiSrv := &http.Server{
		Addr: cfg.HTTP.Addr(),
		Handler: httptransport.NewRouter(srvc, httptransport.Options{
			Logger:   log,
			Timeout:  cfg.Timeouts.Service,
			BasePath: cfg.HTTP.BasePath,
			Cookie:   cfg.Cookie,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	grpcSrv := grpctransport.NewServer(str, grpctransport.Options{
		Logger:     log,
		Timeout:    cfg.Timeouts.Service,
		Reflection: cfg.Env == envLocal || cfg.Env == envDev,
	})

	addr := cfg.GRPC.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("grpc_listen_failed",
			slog.String("addr", addr),
			slog.String("err", err.Error()),
		)
		srvc.Close()
		_ = limiter.Close()
		str.Close()
		os.Exit(1)
	}

	serveErrCh := make(chan error, 3)

	go serveHTTP(log, "ops", opsSrv, serveErrCh)
	go serveHTTP(log, "api", apiSrv, serveErrCh)
	go func() {
		log.Info("grpc_listen_start", slog.String("addr", addr))
		if err := grpcSrv.Serve(listener); err != nil {
			serveErrCh <- err
		}
	}()

	// Сервис готов: health -> SERVING и readiness=1.
	grpcSrv.Check(rootCtx, cfg.Timeouts.Service)
	go grpcSrv.Watch(rootCtx, healthPeriod, cfg.Timeouts.Service)
	atomic.StoreInt32(&ready, 1)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		log.Error("serve_failed", slog.String("err", err.Error()))
	}

	atomic.StoreInt32(&ready, 0)

	// Graceful stop с таймаутом.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_failed", slog.String("err", err.Error()))
	}

	grpcSrv.Shutdown(shutdownCtx)

	// Дожидаемся отправки писем сброса, уже поставленных в работу.
	srvc.Close()

	_ = opsSrv.Shutdown(shutdownCtx)

	if err := limiter.Close(); err != nil {
		log.Warn("limiter_close_failed", slog.String("err", err.Error()))
	}
	str.Close()

	log.Info("service_stopped")
}

// openStorage выбирает драйвер хранилища и при необходимости применяет миграции.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	if cfg.DB.Driver == config.DriverMemory {
		log.Warn("memory_storage_enabled", slog.String("hint", "data is lost on restart"))
		return memory.New(), nil
	}

	// Подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dbCancel()

	str, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("postgres_connected")

	if cfg.DB.SkipMigrate {
		return str, nil
	}

	if err := str.Migrate(dbCtx); err != nil {
		str.Close()
		return nil, err
	}
	log.Info("postgres_migrated")

	return str, nil
}

// openLimiter возвращает Redis-ограничитель, если задан redis_url, иначе in-memory.
func openLimiter(ctx context.Context, cfg *config.Config, log *slog.Logger) (cache.Limiter, error) {
	if cfg.Redis.RedisURL == "" {
		return cache.NewMemoryLimiter(nil), nil
	}

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	l, err := cache.NewRedisLimiter(rctx, cfg.Redis.RedisURL, cfg.Redis.Prefix)
	if err != nil {
		return nil, err
	}
	log.Info("redis_connected")

	return l, nil
}

func opsMux(ready *int32, str storage.Storage) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(ready) != 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := str.Ping(ctx); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func serveHTTP(log *slog.Logger, name string, srv *http.Server, errCh chan<- error) {
	log.Info("http_listen_start", slog.String("server", name), slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- err
	}
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// startJanitor периодически удаляет просроченные refresh- и reset-токены.
func startJanitor(ctx context.Context, srvc *service.Service, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, _, err := srvc.PurgeExpired(ctx); err != nil {
					log.Error("janitor_failed", slog.String("err", err.Error()))
				}
			}
		}
	}()
}
