// Package sideeffect выполняет пост-коммитные эффекты размещения заказа.
// Все эффекты best-effort: их провал логируется и никогда не откатывает уже
// записанный заказ.
package sideeffect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/domain"
)

// Handlers связывает виды задач с их исполнителями.
type Handlers struct {
	store     domain.DocumentStore
	cache     domain.CacheStore
	publisher domain.EventPublisher
	logger    *log.Entry
}

// NewHandlers создаёт набор обработчиков пост-коммитных эффектов.
func NewHandlers(store domain.DocumentStore, cacheStore domain.CacheStore, publisher domain.EventPublisher, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Handlers{
		store:     store,
		cache:     cacheStore,
		publisher: publisher,
		logger:    logger.WithField("component", "sideeffect_handlers"),
	}
}

// Handle выполняет одну задачу по её виду.
func (h *Handlers) Handle(ctx context.Context, task domain.SideEffectTask) error {
	switch task.Kind {
	case domain.TaskCouponUsage:
		return h.consumeCoupon(ctx, task)
	case domain.TaskCartClear:
		return h.clearCart(ctx, task)
	case domain.TaskCacheInvalidate:
		return h.invalidateCache(ctx, task)
	case domain.TaskNotify:
		return h.notify(task)
	default:
		return fmt.Errorf("unknown side-effect task kind: %s", task.Kind)
	}
}

// consumeCoupon списывает одно применение промокода. Условный декремент
// гарантирует, что usage_limit не уходит в минус; уже исчерпанный промокод —
// не ошибка обработки, а штатный исход гонки.
func (h *Handlers) consumeCoupon(ctx context.Context, task domain.SideEffectTask) error {
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode coupon payload: %w", err)
	}

	result, err := h.store.UpdateOne(ctx, domain.CollectionCoupons,
		domain.Filter{"code": payload.Code, "usage_limit": map[string]any{"$gt": int64(0)}},
		domain.Update{"$inc": map[string]any{"usage_limit": int64(-1)}},
	)
	if err != nil {
		return fmt.Errorf("consume coupon %s: %w", payload.Code, err)
	}
	if result.MatchedCount == 0 {
		h.logger.WithFields(log.Fields{
			"order_id":   task.OrderID,
			"promo_code": payload.Code,
		}).Warn("coupon already exhausted, usage not recorded")
	}
	return nil
}

// clearCart очищает (не удаляет) корзину пользователя.
func (h *Handlers) clearCart(ctx context.Context, task domain.SideEffectTask) error {
	var payload struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode cart payload: %w", err)
	}

	_, err := h.store.UpdateOne(ctx, domain.CollectionCarts,
		domain.Filter{"user": payload.User},
		domain.Update{"$set": map[string]any{
			"items":      []any{},
			"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
		}},
	)
	if err != nil {
		return fmt.Errorf("clear cart for %s: %w", payload.User, err)
	}
	return nil
}

// invalidateCache выбивает перечисленные ключи из кеша.
func (h *Handlers) invalidateCache(ctx context.Context, task domain.SideEffectTask) error {
	var payload struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode invalidate payload: %w", err)
	}

	for _, key := range payload.Keys {
		h.cache.Delete(ctx, key)
	}
	return nil
}

// notify публикует событие подтверждения для внешних систем уведомлений.
func (h *Handlers) notify(task domain.SideEffectTask) error {
	if h.publisher == nil {
		h.logger.WithField("order_id", task.OrderID).Debug("notification skipped: no publisher configured")
		return nil
	}
	return h.publisher.Publish(domain.EventMessage{
		ID:          uuid.NewString(),
		AggregateID: task.OrderID,
		EventType:   domain.EventOrderConfirmation,
		Payload:     task.Payload,
	})
}
