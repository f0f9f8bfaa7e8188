package domain

import (
	"context"
	"time"
)

// Имена коллекций документного хранилища.
const (
	CollectionProducts = "products"
	CollectionOrders   = "orders"
	CollectionCarts    = "carts"
	CollectionCoupons  = "discount_coupons"
)

// SortField задаёт одно поле сортировки выборки.
type SortField struct {
	Key  string
	Desc bool
}

// FindOptions — опции многодокументной выборки.
type FindOptions struct {
	Sort  []SortField
	Skip  int64
	Limit int64
}

// UpdateResult — счётчики операции обновления.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// DocumentStore описывает требования ядра к документному хранилищу.
// Условный декремент стока выражается как UpdateOne, чей фильтр включает
// предикат достаточности стока; это единственный механизм атомарности,
// на который рассчитывает координатор.
type DocumentStore interface {
	// FindOne возвращает первый документ по фильтру или nil, если его нет.
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	// FindMany возвращает документы по фильтру с учётом сортировки/пагинации.
	FindMany(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)
	// InsertOne сохраняет документ и возвращает его внутренний идентификатор.
	InsertOne(ctx context.Context, collection string, doc Document) (string, error)
	// UpdateOne применяет обновление к первому подходящему документу атомарно
	// относительно конкурентных вызовов. Фильтр проверяется и мутация
	// применяется одной операцией на стороне хранилища.
	UpdateOne(ctx context.Context, collection string, filter Filter, update Update) (UpdateResult, error)
	// UpdateMany применяет обновление ко всем подходящим документам.
	UpdateMany(ctx context.Context, collection string, filter Filter, update Update) (UpdateResult, error)
	// DeleteOne удаляет первый подходящий документ; возвращает число удалённых.
	DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error)
	// DeleteMany удаляет все подходящие документы; возвращает число удалённых.
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)
	// CountDocuments возвращает число документов по фильтру.
	CountDocuments(ctx context.Context, collection string, filter Filter) (int64, error)
	// Aggregate выполняет конвейер агрегации.
	Aggregate(ctx context.Context, collection string, pipeline []Document) ([]Document, error)
}

// CacheStore описывает требования ядра к разделяемому кешу. Все операции
// fail-soft: недоступность кеша выражается промахом/false и записью в лог,
// но никогда не ошибкой, блокирующей путь запроса.
type CacheStore interface {
	// Get возвращает значение по ключу; промах и ошибка десериализации — (nil, false).
	Get(ctx context.Context, key string) (any, bool)
	// Set сохраняет значение с TTL; о неудаче сообщает флагом.
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	// Delete удаляет ключ; о неудаче сообщает флагом.
	Delete(ctx context.Context, key string) bool
	// GetMany возвращает найденные ключи; ненайденный ключ просто отсутствует
	// в результате и никогда не является ошибкой.
	GetMany(ctx context.Context, keys []string) map[string]any
	// Increment атомарно (на стороне кеша, не read-modify-write клиента)
	// увеличивает счётчик и возвращает новое значение; при недоступности — (0, false).
	Increment(ctx context.Context, key string, amount int64) (int64, bool)
	// Expire ограничивает время жизни существующего ключа; о неудаче или
	// отсутствии ключа сообщает флагом. Нужен счётчикам, созданным через
	// Increment: сам Increment TTL не назначает.
	Expire(ctx context.Context, key string, ttl time.Duration) bool
	// TTL возвращает оставшееся время жизни ключа; (0, false), если ключ
	// отсутствует, бессрочен или кеш недоступен.
	TTL(ctx context.Context, key string) (time.Duration, bool)
}

// InventoryCoordinator — порт координатора стока для воркфлоу размещения.
type InventoryCoordinator interface {
	// ReserveAndDecrement атомарно декрементирует сток всех позиций заказа;
	// при любой неудаче компенсирует уже выполненные декременты и возвращает
	// структурированную ошибку (*InsufficientStockError, ErrProductUnavailable
	// или *TransientStoreError).
	ReserveAndDecrement(ctx context.Context, orderID string, items []OrderItem) error
	// Compensate возвращает сток позиций после сбоя за пределами координатора
	// (например, если не удалось сохранить заказ после успешного декремента).
	Compensate(ctx context.Context, items []OrderItem)
	// HoldStock создаёт кешевую резервацию стока под незавершённый заказ.
	// Резервация отклоняется, если доступный объём (сток минус уже
	// зарезервированное) не покрывает запрошенные количества.
	HoldStock(ctx context.Context, orderID string, items []OrderItem) error
	// ReleaseReservation снимает кешевую резервацию брошенного заказа.
	ReleaseReservation(ctx context.Context, orderID string)
}

// TaskKind — вид отложенного пост-коммитного эффекта.
type TaskKind string

const (
	TaskCouponUsage     TaskKind = "coupon_usage"
	TaskCartClear       TaskKind = "cart_clear"
	TaskCacheInvalidate TaskKind = "cache_invalidate"
	TaskNotify          TaskKind = "notify"
)

// SideEffectTask — задача пост-коммитного эффекта размещения заказа.
// Провал задачи никогда не откатывает уже закоммиченный заказ.
type SideEffectTask struct {
	ID      string
	OrderID string
	Kind    TaskKind
	Payload []byte
}

// TaskQueueStats описывает backlog очереди задач.
type TaskQueueStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// TaskQueue хранит задачи пост-коммитных эффектов до их обработки воркером.
type TaskQueue interface {
	Enqueue(task SideEffectTask) (SideEffectTask, error)
	PullPending(limit int) ([]SideEffectTask, error)
	MarkDone(id string) error
	MarkFailed(id string) error
	Stats() (TaskQueueStats, error)
}

// Типы публикуемых событий заказа.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderConfirmation  = "order.confirmation"
)

// EventMessage — событие, публикуемое наружу для внешних подписчиков
// (уведомления, email, платёжная привязка).
type EventMessage struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
}

// EventPublisher публикует события для внешних коллабораторов; ядро не
// зависит от успеха подписчиков.
type EventPublisher interface {
	Publish(event EventMessage) error
}
