package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если запись с таким ID уже есть.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// SecretExists проверяет, занят ли секрет другим заказом.
	SecretExists(ctx context.Context, secret string) (bool, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Update применяет патч к заказу без проверки версии (last-write-wins)
	// и возвращает состояние до и после изменения.
	Update(ctx context.Context, id string, patch OrderDetailsPatch) (before Order, after Order, err error)
}

// ProductRepository: доступ к каталогу товаров.
type ProductRepository interface {
	// FindByIDs возвращает найденные товары; отсутствующие идентификаторы пропускаются.
	FindByIDs(ctx context.Context, ids []string) ([]Product, error)
	Upsert(ctx context.Context, product Product) error
	// AdjustStock применяет дельты к стоку и счётчику покупок. Пол в ноль не применяется.
	AdjustStock(ctx context.Context, adj StockAdjustment) error
}

// CustomerRepository: доступ к зарегистрированным покупателям.
type CustomerRepository interface {
	Get(ctx context.Context, id string) (Customer, error)
	Upsert(ctx context.Context, customer Customer) error
	SetStripeCustomerID(ctx context.Context, id, stripeCustomerID string) error
	// ClearStripeCustomerID очищает ссылку на удалённого в Stripe клиента и возвращает число затронутых записей.
	ClearStripeCustomerID(ctx context.Context, stripeCustomerID string) (int, error)
	UpdateLastBuyerType(ctx context.Context, id string, buyerType BuyerType) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ответы чекаута по заголовку Idempotency-Key.
type IdempotencyRepository interface {
	// Claim занимает ключ на ttl. Для живого ключа возвращает существующую запись
	// вместе с ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
	Claim(ctx context.Context, key, requestHash string, ttl time.Duration) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Complete сохраняет ответ; статус записи выводится из httpStatus.
	Complete(ctx context.Context, key string, httpStatus int, responseBody []byte) error
	// Purge удаляет ключи с ttl не позже before, не более limit штук (0 снимает ограничение).
	Purge(ctx context.Context, before time.Time, limit int) (int, error)
}
