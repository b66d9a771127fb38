package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
	"github.com/vladislavdragonenkov/mos/internal/storage/memory"
	"github.com/vladislavdragonenkov/mos/internal/storage/postgres"
)

// Dependencies содержит хранилища сервиса. Каждый сервис пользуется только своими репозиториями.
type Dependencies struct {
	Orders     domain.OrderRepository
	Pieces     domain.PieceRepository
	Balances   domain.BalanceRepository
	Deliveries domain.DeliveryRepository
	Addresses  domain.AddressRepository
	// Outbox получает события заказов, деталей и доставок в одной записи с изменением.
	Outbox domain.OutboxRepository
	// Store открыт, если PostgreSQL нужен хранилищу или приёмнику логов.
	Store  *postgres.Store
	Logger *log.Entry
}

// NewDependencies создаёт репозитории выбранного драйвера.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{Logger: logger}

	needsPostgres := cfg.StorageDriver == StorageDriverPostgres ||
		(cfg.Service == ServiceLogs && cfg.LogSink == LogSinkPostgres)
	if needsPostgres {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		deps.Store = store
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		deps.Outbox = postgres.NewOutboxRepository(deps.Store)
		deps.Orders = postgres.NewOrderRepository(deps.Store)
		deps.Pieces = postgres.NewPieceRepository(deps.Store)
		deps.Balances = postgres.NewBalanceRepository(deps.Store)
		deps.Deliveries = postgres.NewDeliveryRepository(deps.Store)
		deps.Addresses = postgres.NewAddressRepository(deps.Store)
	case StorageDriverMemory:
		outbox := memory.NewOutboxRepository()
		deps.Outbox = outbox
		deps.Orders = memory.NewOrderRepository(outbox)
		deps.Pieces = memory.NewPieceRepository(outbox)
		deps.Balances = memory.NewBalanceRepository()
		deps.Deliveries = memory.NewDeliveryRepository(outbox)
		deps.Addresses = memory.NewAddressRepository()
	default:
		deps.Close()
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	logger.WithField("storage", cfg.StorageDriver).Info("storage initialized")
	return deps, nil
}

// Close освобождает подключение к базе.
func (d *Dependencies) Close() {
	if d == nil || d.Store == nil {
		return
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.WithError(err).Warn("failed to close postgres store")
	}
}
