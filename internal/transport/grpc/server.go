// grpc поднимает служебный gRPC-сервер: стандартный health-протокол,
// статус которого следует за доступностью хранилища.
package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName — имя сервиса в health-протоколе (пустое имя — сервер целиком).
const ServiceName = "auth.core"

// Pinger — проверка доступности зависимости (хранилища).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options — параметры gRPC-сервера.
type Options struct {
	Logger     *slog.Logger
	Timeout    time.Duration
	Reflection bool
}

// Server — gRPC-сервер со health-сервисом.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	pinger Pinger
	log    *slog.Logger

	mu      sync.Mutex
	serving bool
}

// NewServer собирает сервер с интерсепторами и метриками grpc_prometheus.
func NewServer(p Pinger, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			Recover(opts.Logger),
			UnaryLogging(opts.Logger),
			WithTimeout(opts.Timeout),
			grpc_prometheus.UnaryServerInterceptor,
		),
		grpc.ChainStreamInterceptor(
			grpc_prometheus.StreamServerInterceptor,
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	if opts.Reflection {
		reflection.Register(srv)
	}

	grpc_prometheus.Register(srv)

	s := &Server{srv: srv, health: hs, pinger: p, log: opts.Logger}
	s.setServing(false)

	return s
}

// Serve блокируется до остановки сервера.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}

	return nil
}

// Check один раз пингует хранилище и обновляет health-статус.
func (s *Server) Check(ctx context.Context, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := s.pinger.Ping(ctx)
	if err != nil {
		s.log.Warn("health_check_failed", slog.String("err", err.Error()))
	}

	s.setServing(err == nil)
	return err == nil
}

// Watch периодически выполняет Check до отмены ctx.
func (s *Server) Watch(ctx context.Context, period, timeout time.Duration) {
	if period <= 0 {
		return
	}

	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Check(ctx, timeout)
		}
	}
}

// Shutdown переводит health в NOT_SERVING и останавливает сервер.
// Если ctx истёк раньше GracefulStop — соединения рвутся принудительно.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("grpc_stopped")
	case <-ctx.Done():
		s.log.Warn("grpc_force_stop")
		s.srv.Stop()
	}
}

func (s *Server) setServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}

	s.mu.Lock()
	changed := s.serving != ok
	s.serving = ok
	s.mu.Unlock()

	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)

	if changed {
		s.log.Info("health_status_changed", slog.String("status", st.String()))
	}
}
