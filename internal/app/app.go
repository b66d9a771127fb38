package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/health"
	"github.com/vladislavdragonenkov/mos/internal/httpapi"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/mos/internal/version"
	"github.com/vladislavdragonenkov/mos/internal/worker"
)

// Run поднимает сервис cfg.Service и блокируется до отмены ctx или падения HTTP-сервера.
// Порядок остановки: HTTP, пул задач, брокер, хранилища.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithFields(log.Fields{"component": "app", "service": cfg.Service})

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	bus, err := connectBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker(bus, logger)

	pool := worker.NewPool(
		worker.WithName(string(cfg.Service)),
		worker.WithWorkers(cfg.Workers),
		worker.WithLogger(logger.WithField("component", "worker-pool")),
	)
	pool.Start(ctx)
	defer pool.Stop()

	comp, err := buildComponent(ctx, cfg, deps, bus, pool, logger)
	if err != nil {
		return err
	}
	if comp.close != nil {
		defer comp.close()
	}

	healthHandler := health.NewHandler(string(cfg.Service), version.GetVersion())
	healthHandler.RegisterChecker("broker", health.NewBrokerChecker(bus))
	if deps.Store != nil {
		healthHandler.RegisterChecker("postgres", health.NewPingChecker("postgres", deps.Store.Ping))
	}
	for name, checker := range comp.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	resources := health.NewResourceChecker(health.SystemSampler, cfg.ResourceThreshold, cfg.ResourceInterval)
	go resources.Run(ctx)
	healthHandler.RegisterChecker("resources", resources)

	if err := comp.start(ctx, bus); err != nil {
		return fmt.Errorf("start %s consumers: %w", cfg.Service, err)
	}

	router := httpapi.NewRouter(healthHandler, logger.WithField("layer", "http"), comp.routes...)
	srv, errCh, err := startHTTPServer(cfg.HTTPAddr, router, logger)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping service")
		shutdownHTTP(srv, cfg.ShutdownTimeout, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(srv, cfg.ShutdownTimeout, logger)
		return err
	}
}

// connectBroker открывает общее для процесса соединение с брокером.
func connectBroker(ctx context.Context, cfg Config, logger *log.Entry) (broker.Broker, error) {
	switch cfg.Broker {
	case BrokerMemory:
		logger.Warn("using in-process broker, messages are not shared between processes")
		return broker.NewMemory(cfg.AMQP.MaxRetries), nil
	case BrokerRabbitMQ:
		conn, err := rabbitmq.Dial(ctx, cfg.AMQP)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		return conn, nil
	}
	return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
}

func closeBroker(bus broker.Broker, logger *log.Entry) {
	if err := bus.Close(); err != nil {
		logger.WithError(err).Warn("failed to close broker connection")
		return
	}
	logger.Info("broker connection closed")
}

// startHTTPServer слушает addr и обслуживает handler в фоне.
// Ошибка привязки порта возвращается сразу, ошибка Serve приходит через канал.
func startHTTPServer(addr string, handler http.Handler, logger *log.Entry) (*http.Server, <-chan error, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("http server listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return srv, errCh, nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
