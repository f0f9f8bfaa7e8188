// Package inventory реализует координатор стока: атомарный условный декремент
// всех позиций заказа с компенсацией уже применённых декрементов при любой
// неудаче. Документное хранилище — единственный источник истины о стоке;
// кеш несёт только консультативные уровни и резервации.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/cache"
	"github.com/smartbag/commerce/internal/domain"
	"github.com/smartbag/commerce/internal/metrics"
)

// Coordinator — реализация domain.InventoryCoordinator поверх документного
// хранилища и кеша.
type Coordinator struct {
	store   domain.DocumentStore
	cache   domain.CacheStore
	metrics *metrics.PlacementMetrics
	logger  *log.Entry
}

// NewCoordinator создаёт координатор стока.
func NewCoordinator(store domain.DocumentStore, cacheStore domain.CacheStore, placementMetrics *metrics.PlacementMetrics, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{
		store:   store,
		cache:   cacheStore,
		metrics: placementMetrics,
		logger:  logger.WithField("component", "inventory_coordinator"),
	}
}

// ReserveAndDecrement проходит по всем позициям заказа и выполняет для каждой
// условный декремент: фильтр содержит предикат достаточности стока и
// активности товара, поэтому сток не может уйти в минус ни при какой
// конкуренции. Неудачи собираются по всем позициям за один проход; при любой
// из них уже применённые декременты компенсируются до возврата ошибки.
func (c *Coordinator) ReserveAndDecrement(ctx context.Context, orderID string, items []domain.OrderItem) error {
	started := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordReserveDuration(time.Since(started))
		}
	}()

	var applied []domain.OrderItem
	var shortfalls []domain.StockShortfall
	var unavailable []string
	var transient *domain.TransientStoreError

	for _, item := range items {
		result, err := c.store.UpdateOne(ctx, domain.CollectionProducts,
			domain.Filter{
				"id":        item.ProductID,
				"stock":     map[string]any{"$gte": item.Quantity},
				"is_active": true,
			},
			domain.Update{"$inc": map[string]any{"stock": -item.Quantity}},
		)
		if err != nil {
			transient = &domain.TransientStoreError{Op: "update_one", Collection: domain.CollectionProducts, Err: err}
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id":   orderID,
				"product_id": item.ProductID,
			}).Error("conditional stock decrement failed")
			// Дальнейшие позиции не трогаем: хранилище нестабильно.
			break
		}

		if result.ModifiedCount == 1 {
			applied = append(applied, item)
			if c.metrics != nil {
				c.metrics.RecordStockDecrement()
			}
			continue
		}

		// Декремент не прошёл: различаем нехватку стока и недоступный товар
		// повторным чтением. Проход продолжается, чтобы собрать все нехватки.
		product, err := c.store.FindOne(ctx, domain.CollectionProducts, domain.Filter{"id": item.ProductID})
		if err != nil {
			transient = &domain.TransientStoreError{Op: "find_one", Collection: domain.CollectionProducts, Err: err}
			break
		}
		prod := domain.ProductFromDocument(product)
		if product == nil || !prod.IsActive {
			unavailable = append(unavailable, item.ProductID)
			c.logger.WithFields(log.Fields{
				"order_id":   orderID,
				"product_id": item.ProductID,
			}).Warn("product missing or inactive during placement")
			continue
		}

		shortfalls = append(shortfalls, domain.StockShortfall{
			ProductID: item.ProductID,
			Requested: item.Quantity,
			Available: prod.Stock,
		})
		if c.metrics != nil {
			c.metrics.RecordStockShortfall()
		}
	}

	if transient == nil && len(unavailable) == 0 && len(shortfalls) == 0 {
		c.refreshStockCache(ctx, applied)
		return nil
	}

	c.Compensate(ctx, applied)

	// Нестабильность хранилища маскирует смысл остальных неудач: сообщаем
	// именно её, чтобы клиент повторил размещение, а не правил корзину.
	if transient != nil {
		return transient
	}
	// Недоступные товары едут в той же ошибке, что и нехватки: клиент узнаёт
	// обо всех проблемных позициях одним ответом, а не по одной за повтор.
	if len(shortfalls) > 0 {
		return &domain.InsufficientStockError{Shortfalls: shortfalls, Unavailable: unavailable}
	}
	return domain.ErrProductUnavailable
}

// Compensate возвращает сток ранее декрементированных позиций безусловными
// инкрементами. Ошибки не прерывают проход: каждая компенсация независима,
// неудачи логируются для ручного вмешательства.
func (c *Coordinator) Compensate(ctx context.Context, items []domain.OrderItem) {
	for _, item := range items {
		_, err := c.store.UpdateOne(ctx, domain.CollectionProducts,
			domain.Filter{"id": item.ProductID},
			domain.Update{"$inc": map[string]any{"stock": item.Quantity}},
		)
		if err != nil {
			if c.metrics != nil {
				c.metrics.RecordRollbackFailure()
			}
			c.logger.WithError(err).WithFields(log.Fields{
				"product_id": item.ProductID,
				"quantity":   item.Quantity,
			}).Error("compensating stock increment failed, stock is understated until manual fix or resync")
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordStockRollback()
		}
		c.cache.Delete(ctx, cache.KeyStockLevel(item.ProductID))
	}
}

// HoldStock создаёт кешевую резервацию стока под ещё не закоммиченный заказ,
// предварительно проверив, что доступный объём (сток минус зарезервированное)
// покрывает каждую позицию. Проверка best-effort: резервация консультативна,
// решение о декременте всегда принимает хранилище.
func (c *Coordinator) HoldStock(ctx context.Context, orderID string, items []domain.OrderItem) error {
	var shortfalls []domain.StockShortfall
	var unavailable []string
	for _, item := range items {
		available, err := c.AvailableStock(ctx, item.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			unavailable = append(unavailable, item.ProductID)
			continue
		}
		if err != nil {
			return err
		}
		if available < item.Quantity {
			shortfalls = append(shortfalls, domain.StockShortfall{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: available,
			})
		}
	}
	if len(shortfalls) > 0 {
		return &domain.InsufficientStockError{Shortfalls: shortfalls, Unavailable: unavailable}
	}
	if len(unavailable) > 0 {
		return domain.ErrProductUnavailable
	}

	reservation := domain.Reservation{
		OrderID:   orderID,
		CreatedAt: time.Now().UTC(),
	}
	for _, item := range items {
		reservation.Items = append(reservation.Items, domain.ReservationItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	if ok := c.cache.Set(ctx, cache.KeyReservation(orderID), reservation.Document(), domain.ReservationTTL); !ok {
		return fmt.Errorf("hold stock for order %s: cache unavailable", orderID)
	}
	for _, item := range items {
		key := cache.KeyReservedStock(item.ProductID)
		c.cache.Increment(ctx, key, item.Quantity)
		// Increment не назначает TTL; без него счётчик пережил бы резервацию
		// и навсегда занижал доступный объём после её истечения без релиза.
		c.cache.Expire(ctx, key, domain.ReservationTTL)
	}
	return nil
}

// ReleaseReservation снимает кешевую резервацию брошенного заказа и уменьшает
// консультативные счётчики удержания. Просроченная резервация к этому моменту
// уже истекла сама вместе со своими счётчиками.
func (c *Coordinator) ReleaseReservation(ctx context.Context, orderID string) {
	key := cache.KeyReservation(orderID)
	raw, ok := c.cache.Get(ctx, key)
	if !ok {
		return
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		c.cache.Delete(ctx, key)
		return
	}

	reservation := domain.ReservationFromDocument(doc)
	for _, item := range reservation.Items {
		counterKey := cache.KeyReservedStock(item.ProductID)
		if remaining, ok := c.cache.Increment(ctx, counterKey, -item.Quantity); ok && remaining < 0 {
			// Счётчик успел истечь между холдом и релизом: минус фиктивен.
			c.cache.Delete(ctx, counterKey)
		}
	}
	c.cache.Delete(ctx, key)
}

// AvailableStock возвращает доступный к продаже объём: авторитетный сток минус
// консультативный счётчик резерваций. Сток берётся из кеша, при промахе — из
// хранилища с прогревом кеша; короткий TTL ограничивает устаревание.
func (c *Coordinator) AvailableStock(ctx context.Context, productID string) (int64, error) {
	stockKey := cache.KeyStockLevel(productID)
	reservedKey := cache.KeyReservedStock(productID)
	cached := c.cache.GetMany(ctx, []string{stockKey, reservedKey})

	var reserved int64
	if v, ok := asInt64(cached[reservedKey]); ok {
		reserved = v
	}
	if stock, ok := asInt64(cached[stockKey]); ok {
		return clampStock(stock - reserved), nil
	}

	doc, err := c.store.FindOne(ctx, domain.CollectionProducts, domain.Filter{"id": productID})
	if err != nil {
		return 0, &domain.TransientStoreError{Op: "find_one", Collection: domain.CollectionProducts, Err: err}
	}
	if doc == nil {
		return 0, domain.ErrProductNotFound
	}

	stock := domain.ProductFromDocument(doc).Stock
	c.cache.Set(ctx, stockKey, stock, cache.TTLStockLevel)
	return clampStock(stock - reserved), nil
}

// asInt64 приводит кешированное число: после JSON-десериализации оно может
// приехать как float64.
func asInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// clampStock не даёт раздутому счётчику резерваций показать отрицательный
// доступный объём.
func clampStock(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// refreshStockCache инвалидирует кешированные уровни стока после успешного
// декремента. Запись свежего значения оставлена фоновой синхронизации:
// инвалидация дешевле и не может закешировать гонку.
func (c *Coordinator) refreshStockCache(ctx context.Context, items []domain.OrderItem) {
	for _, item := range items {
		c.cache.Delete(ctx, cache.KeyStockLevel(item.ProductID))
	}
}

var _ domain.InventoryCoordinator = (*Coordinator)(nil)
