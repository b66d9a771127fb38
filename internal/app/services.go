package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/health"
	"github.com/vladislavdragonenkov/mos/internal/httpapi"
	"github.com/vladislavdragonenkov/mos/internal/messaging/broker"
	"github.com/vladislavdragonenkov/mos/internal/metrics"
	"github.com/vladislavdragonenkov/mos/internal/service/delivery"
	"github.com/vladislavdragonenkov/mos/internal/service/logs"
	"github.com/vladislavdragonenkov/mos/internal/service/machine"
	"github.com/vladislavdragonenkov/mos/internal/service/order"
	"github.com/vladislavdragonenkov/mos/internal/service/outbox"
	"github.com/vladislavdragonenkov/mos/internal/service/payment"
	"github.com/vladislavdragonenkov/mos/internal/worker"
)

// component описывает собранный сервис: подписки на брокер, HTTP-маршруты и ресурсы для закрытия.
type component struct {
	start    func(ctx context.Context, b broker.Broker) error
	routes   []httpapi.Routes
	checkers map[string]health.Checker
	close    func()
}

// buildComponent создаёт сервис cfg.Service поверх общих зависимостей процесса.
func buildComponent(
	ctx context.Context,
	cfg Config,
	deps *Dependencies,
	bus broker.Broker,
	pool *worker.Pool,
	logger *log.Entry,
) (component, error) {
	serviceLogger := logger.WithField("component", string(cfg.Service)+"-service")
	serviceMetrics := metrics.NewServiceMetrics(string(cfg.Service))

	switch cfg.Service {
	case ServicePayment:
		svc := payment.NewService(deps.Balances, bus,
			payment.WithLogger(serviceLogger),
			payment.WithMetrics(serviceMetrics),
		)
		return component{start: svc.Start, routes: []httpapi.Routes{httpapi.NewPaymentRoutes(svc)}}, nil

	case ServiceOrder:
		svc := order.NewService(deps.Orders, deps.Pieces, bus,
			order.WithLogger(serviceLogger),
			order.WithSagaMetrics(metrics.NewSagaMetrics()),
			order.WithServiceMetrics(serviceMetrics),
		)
		relay := newOutboxWorker(cfg, deps, bus, logger)
		return component{start: withOutbox(svc.Start, relay), routes: []httpapi.Routes{httpapi.NewOrderRoutes(svc)}}, nil

	case ServiceMachine:
		svc := machine.NewService(pool, bus,
			machine.WithLogger(serviceLogger),
			machine.WithMetrics(serviceMetrics),
			machine.WithProductionDelay(cfg.ProductionDelay),
		)
		return component{start: svc.Start, routes: []httpapi.Routes{httpapi.NewMachineRoutes(svc)}}, nil

	case ServiceDelivery:
		svc := delivery.NewService(deps.Deliveries, deps.Addresses, pool, bus,
			delivery.WithLogger(serviceLogger),
			delivery.WithMetrics(serviceMetrics),
			delivery.WithDispatchDelay(cfg.DispatchDelay),
		)
		relay := newOutboxWorker(cfg, deps, bus, logger)
		return component{start: withOutbox(svc.Start, relay), routes: []httpapi.Routes{httpapi.NewDeliveryRoutes(svc)}}, nil

	case ServiceLogs:
		sink, err := initLogSink(ctx, cfg, deps, logger)
		if err != nil {
			return component{}, fmt.Errorf("init log sink: %w", err)
		}
		aggregator := logs.NewAggregator(sink.sink, serviceMetrics, serviceLogger)
		c := component{
			start:    aggregator.Start,
			checkers: map[string]health.Checker{},
			close:    func() { closeLogSink(sink, logger) },
		}
		if sink.pruner != nil && cfg.LogRetention > 0 {
			retention := logs.NewRetentionWorker(sink.pruner, cfg.LogRetention,
				logs.WithRetentionLogger(logger.WithField("component", "log-retention")))
			c.start = func(ctx context.Context, b broker.Broker) error {
				if err := aggregator.Start(ctx, b); err != nil {
					return err
				}
				go retention.Run(ctx)
				return nil
			}
		}
		if sink.reader != nil {
			c.routes = append(c.routes, httpapi.NewLogRoutes(sink.reader))
		}
		if sink.ping != nil {
			c.checkers["log_sink"] = health.NewPingChecker("log_sink", sink.ping)
		}
		return c, nil
	}
	return component{}, fmt.Errorf("unknown service %q", cfg.Service)
}

func newOutboxWorker(cfg Config, deps *Dependencies, bus broker.Broker, logger *log.Entry) *outbox.Worker {
	return outbox.NewWorker(deps.Outbox, bus,
		outbox.WithService(string(cfg.Service)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithLogger(logger.WithFields(log.Fields{"component": "outbox-worker", "service": cfg.Service})),
	)
}

// withOutbox запускает отправку outbox после подписок сервиса; воркер живёт до отмены ctx.
func withOutbox(start func(ctx context.Context, b broker.Broker) error, relay *outbox.Worker) func(ctx context.Context, b broker.Broker) error {
	return func(ctx context.Context, b broker.Broker) error {
		if err := start(ctx, b); err != nil {
			return err
		}
		go relay.Run(ctx)
		return nil
	}
}
