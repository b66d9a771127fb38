package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с исходящими событиями.
	// Возвращает ErrOrderExists, если ID уже занят.
	Create(order Order, outbox ...OutboxMessage) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByClient возвращает заказы клиента с опциональным ограничением на количество.
	ListByClient(clientID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	// События outbox фиксируются той же записью: либо всё, либо ничего.
	Save(order Order, outbox ...OutboxMessage) error
}

// PieceRepository хранит детали заказов.
type PieceRepository interface {
	// CreateBatch сохраняет детали одного заказа атомарно.
	CreateBatch(pieces []Piece) error
	// Get возвращает деталь или ErrPieceNotFound.
	Get(id string) (Piece, error)
	// ListByOrder возвращает все детали заказа в порядке создания.
	ListByOrder(orderID string) ([]Piece, error)
	// CompareAndSetStatus меняет статус, только если текущий равен from,
	// и в той же записи ставит в outbox переданные события.
	// При несовпадении возвращает ErrPieceStatusConflict.
	CompareAndSetStatus(id string, from, to PieceStatus, outbox ...OutboxMessage) error
}

// BalanceRepository хранит балансы клиентов и журнал списаний.
type BalanceRepository interface {
	// Get возвращает баланс или ErrBalanceNotFound.
	Get(userID string) (Balance, error)
	// Deposit увеличивает баланс, создавая его при отсутствии.
	Deposit(userID string, amount int64) (Balance, error)
	// Charge атомарно списывает movement по заказу, не допуская отрицательного баланса.
	// Повторный вызов для того же заказа возвращает сохранённый результат и duplicate=true.
	Charge(orderID, userID string, movement int64) (payment Payment, duplicate bool, err error)
}

// DeliveryRepository хранит доставки.
type DeliveryRepository interface {
	// Create сохраняет доставку вместе с исходящими событиями.
	// Возвращает ErrDeliveryExists для повторного order_id.
	Create(delivery Delivery, outbox ...OutboxMessage) error
	// GetByOrder возвращает доставку заказа или ErrDeliveryNotFound.
	GetByOrder(orderID string) (Delivery, error)
	// ListByUser возвращает доставки пользователя.
	ListByUser(userID string) ([]Delivery, error)
	// Save применяет обновления с учётом optimistic locking и ставит события в outbox.
	Save(delivery Delivery, outbox ...OutboxMessage) error
	// Delete удаляет доставку или возвращает ErrDeliveryNotFound.
	Delete(orderID string) error
}

// AddressRepository хранит адреса клиентов.
type AddressRepository interface {
	// Get возвращает адрес или ErrAddressNotFound.
	Get(userID string) (Address, error)
	// Upsert создаёт или заменяет адрес клиента.
	Upsert(address Address) error
}

// OutboxRepository отдаёт сохранённые события на публикацию.
// Записи создаются репозиториями сущностей вместе с изменением состояния.
type OutboxRepository interface {
	// PullPending возвращает до limit неотправленных событий в порядке записи.
	PullPending(limit int) ([]OutboxMessage, error)
	// Stats описывает текущий backlog.
	Stats() (OutboxStats, error)
	// MarkSent помечает событие опубликованным.
	MarkSent(id string) error
	// MarkFailed снимает с публикации событие, которое нельзя отправить.
	MarkFailed(id string) error
}
