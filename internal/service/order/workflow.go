// Package order реализует воркфлоу размещения заказа и мутации агрегата:
// валидация, авторитетные цены из каталога, координация стока, запись заказа
// с append-only историей статусов и отложенные пост-коммитные эффекты.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/cache"
	"github.com/smartbag/commerce/internal/domain"
	"github.com/smartbag/commerce/internal/metrics"
)

const ordersPageSize = 10

// l1Bypasser — опциональное умение кеша обходить L1 для отдельного вызова.
// Двухуровневый фасад его реализует; простые кеши обслуживаются как обычно.
type l1Bypasser interface {
	GetWithL1(ctx context.Context, key string, useL1 bool) (any, bool)
	SetWithL1(ctx context.Context, key string, value any, ttl time.Duration, useL1 bool) bool
}

// IDGenerator выдаёт человекочитаемые идентификаторы заказов.
type IDGenerator interface {
	NewOrderID(ctx context.Context) (string, error)
}

// PlaceOrderInput — входные данные размещения. Цены позиций игнорируются:
// авторитетная цена всегда берётся из каталога в момент размещения.
type PlaceOrderInput struct {
	UserID          string
	Items           []domain.OrderItem
	DeliveryAddress domain.DeliveryAddress
	PromoCode       string
}

// Workflow — сервис размещения и сопровождения заказов.
type Workflow struct {
	store     domain.DocumentStore
	cache     domain.CacheStore
	inventory domain.InventoryCoordinator
	tasks     domain.TaskQueue
	publisher domain.EventPublisher
	ids       IDGenerator
	metrics   *metrics.PlacementMetrics
	logger    *log.Entry
	now       func() time.Time
}

// WorkflowOption настраивает Workflow.
type WorkflowOption func(*Workflow)

// WithPublisher задаёт издателя событий; nil отключает публикацию.
func WithPublisher(publisher domain.EventPublisher) WorkflowOption {
	return func(w *Workflow) { w.publisher = publisher }
}

// WithMetrics задаёт метрики воркфлоу.
func WithMetrics(m *metrics.PlacementMetrics) WorkflowOption {
	return func(w *Workflow) { w.metrics = m }
}

// WithWorkflowLogger задаёт логгер воркфлоу.
func WithWorkflowLogger(logger *log.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = logger.WithField("component", "order_workflow") }
}

// WithWorkflowClock подменяет источник времени; нужен тестам.
func WithWorkflowClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow создаёт воркфлоу размещения заказов.
func NewWorkflow(store domain.DocumentStore, cacheStore domain.CacheStore, inventory domain.InventoryCoordinator, tasks domain.TaskQueue, ids IDGenerator, options ...WorkflowOption) *Workflow {
	w := &Workflow{
		store:     store,
		cache:     cacheStore,
		inventory: inventory,
		tasks:     tasks,
		ids:       ids,
		logger:    log.StandardLogger().WithField("component", "order_workflow"),
		now:       time.Now,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// PlaceOrder размещает заказ: валидация входа, проверка каталога, атомарный
// декремент стока, запись агрегата, постановка пост-коммитных эффектов.
// Структурированные ошибки координатора пробрасываются без трансляции;
// провал любого пост-коммитного эффекта не откатывает записанный заказ.
func (w *Workflow) PlaceOrder(ctx context.Context, input PlaceOrderInput) (domain.Order, error) {
	started := w.now()
	if w.metrics != nil {
		w.metrics.RecordPlacementStarted()
		defer func() {
			w.metrics.RecordPlacementFinished()
			w.metrics.RecordPlacementDuration(time.Since(started))
		}()
	}

	if err := w.validateInput(input); err != nil {
		w.recordRejection("invalid_input")
		return domain.Order{}, err
	}

	items, err := w.priceItems(ctx, input.Items)
	if err != nil {
		w.recordRejection(rejectionReason(err))
		return domain.Order{}, err
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.Quantity * item.PriceMinor
	}

	discount, promoCode := w.resolvePromo(ctx, input.PromoCode, subtotal)
	total := subtotal - discount
	if total <= 0 {
		w.recordRejection("invalid_input")
		return domain.Order{}, errors.Join(domain.ErrInvalidOrderInput, domain.ErrTotalAmountInvalid)
	}

	orderID, err := w.ids.NewOrderID(ctx)
	if err != nil {
		w.recordRejection("id_generation")
		return domain.Order{}, fmt.Errorf("generate order id: %w", err)
	}

	if err := w.inventory.ReserveAndDecrement(ctx, orderID, items); err != nil {
		w.recordRejection(rejectionReason(err))
		return domain.Order{}, err
	}

	now := w.now().UTC()
	order := domain.Order{
		ID:                 orderID,
		UserID:             input.UserID,
		Items:              items,
		DeliveryAddress:    input.DeliveryAddress,
		SubtotalMinor:      subtotal,
		TotalMinor:         total,
		PromoCode:          promoCode,
		PromoDiscountMinor: discount,
		PaymentStatus:      domain.PaymentStatusPending,
		CreatedAt:          now,
	}
	order.AppendStatusChange(domain.StatusChange{
		Status:    domain.OrderStatusPreparing,
		ChangedAt: now,
		ChangedBy: "Customer",
		Message:   "Order placed successfully",
	})

	if _, err := w.store.InsertOne(ctx, domain.CollectionOrders, order.Document()); err != nil {
		// Сток уже списан, а заказ записать не удалось: возвращаем сток и
		// сообщаем временную ошибку, размещение можно повторить целиком.
		w.inventory.Compensate(ctx, items)
		w.recordRejection("store_unavailable")
		return domain.Order{}, &domain.TransientStoreError{Op: "insert_one", Collection: domain.CollectionOrders, Err: err}
	}

	w.enqueueSideEffects(order)
	w.publishEvent(domain.EventOrderPlaced, order.ID, domain.Document{
		"order_id":    order.ID,
		"user":        order.UserID,
		"total_minor": order.TotalMinor,
		"placed_at":   now.Format(time.RFC3339Nano),
	})

	if w.metrics != nil {
		w.metrics.RecordOrderPlaced()
	}
	w.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user":     order.UserID,
		"items":    len(order.Items),
	}).Info("order placed")
	return order, nil
}

// AcceptOrder регистрирует отклик партнёра доставки. Допустим из статусов
// preparing и assigning; повторный отклик и уже закреплённый заказ отклоняются.
func (w *Workflow) AcceptOrder(ctx context.Context, orderID, partnerID, partnerName string) error {
	order, err := w.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.DeliveryPartner != "" {
		return domain.ErrOrderAlreadyAssigned
	}
	for _, p := range order.AcceptedPartners {
		if p == partnerID {
			return domain.ErrPartnerAlreadyAccepted
		}
	}
	if order.Status != domain.OrderStatusPreparing && order.Status != domain.OrderStatusAssigning {
		return domain.ErrInvalidStatusTransition
	}

	change := domain.StatusChange{
		Status:    domain.OrderStatusAssigning,
		ChangedAt: w.now().UTC(),
		ChangedBy: partnerID,
		Message:   fmt.Sprintf("%s accepted the order", partnerName),
	}
	result, err := w.store.UpdateOne(ctx, domain.CollectionOrders,
		domain.Filter{
			"id":               orderID,
			"order_status":     map[string]any{"$in": []any{string(domain.OrderStatusPreparing), string(domain.OrderStatusAssigning)}},
			"delivery_partner": "",
		},
		domain.Update{
			"$set":      map[string]any{"order_status": string(domain.OrderStatusAssigning), "updated_at": change.ChangedAt.Format(time.RFC3339Nano)},
			"$addToSet": map[string]any{"accepted_partners": partnerID},
			"$push":     map[string]any{"status_change_history": map[string]any(change.Document())},
		},
	)
	if err != nil {
		return &domain.TransientStoreError{Op: "update_one", Collection: domain.CollectionOrders, Err: err}
	}
	if result.MatchedCount == 0 {
		// Состояние ушло между чтением и условным обновлением.
		return domain.ErrInvalidStatusTransition
	}

	w.invalidateOrderCaches(ctx, orderID, order.UserID)
	w.publishStatusChanged(orderID, domain.OrderStatusAssigning, partnerID)
	return nil
}

// AssignPartner закрепляет заказ за партнёром. Выигрывает первый формально
// назначенный: условный фильтр по пустому delivery_partner исключает гонку.
func (w *Workflow) AssignPartner(ctx context.Context, orderID, partnerID string) error {
	change := domain.StatusChange{
		Status:    domain.OrderStatusAssigned,
		ChangedAt: w.now().UTC(),
		ChangedBy: partnerID,
		Message:   "delivery partner assigned",
	}
	result, err := w.store.UpdateOne(ctx, domain.CollectionOrders,
		domain.Filter{
			"id":               orderID,
			"order_status":     string(domain.OrderStatusAssigning),
			"delivery_partner": "",
		},
		domain.Update{
			"$set": map[string]any{
				"order_status":     string(domain.OrderStatusAssigned),
				"delivery_partner": partnerID,
				"updated_at":       change.ChangedAt.Format(time.RFC3339Nano),
			},
			"$push": map[string]any{"status_change_history": map[string]any(change.Document())},
		},
	)
	if err != nil {
		return &domain.TransientStoreError{Op: "update_one", Collection: domain.CollectionOrders, Err: err}
	}
	if result.MatchedCount == 0 {
		return w.classifyAssignFailure(ctx, orderID)
	}

	order, err := w.readOrder(ctx, orderID)
	if err == nil {
		w.invalidateOrderCaches(ctx, orderID, order.UserID)
	}
	w.publishStatusChanged(orderID, domain.OrderStatusAssigned, partnerID)
	return nil
}

// MarkDelivered завершает заказ. Допустимо только для закреплённого партнёра
// из статусов assigned и out_for_delivery.
func (w *Workflow) MarkDelivered(ctx context.Context, orderID, partnerID string) error {
	change := domain.StatusChange{
		Status:    domain.OrderStatusDelivered,
		ChangedAt: w.now().UTC(),
		ChangedBy: partnerID,
		Message:   "order delivered",
	}
	result, err := w.store.UpdateOne(ctx, domain.CollectionOrders,
		domain.Filter{
			"id":               orderID,
			"delivery_partner": partnerID,
			"order_status": map[string]any{"$in": []any{
				string(domain.OrderStatusAssigned),
				string(domain.OrderStatusOutForDelivery),
				string(domain.OrderStatusArrived),
			}},
		},
		domain.Update{
			"$set": map[string]any{
				"order_status": string(domain.OrderStatusDelivered),
				"updated_at":   change.ChangedAt.Format(time.RFC3339Nano),
			},
			"$push": map[string]any{"status_change_history": map[string]any(change.Document())},
		},
	)
	if err != nil {
		return &domain.TransientStoreError{Op: "update_one", Collection: domain.CollectionOrders, Err: err}
	}
	if result.MatchedCount == 0 {
		return w.classifyDeliverFailure(ctx, orderID, partnerID)
	}

	order, err := w.readOrder(ctx, orderID)
	if err == nil {
		w.invalidateOrderCaches(ctx, orderID, order.UserID)
	}
	w.publishStatusChanged(orderID, domain.OrderStatusDelivered, partnerID)
	return nil
}

// Cancel отменяет заказ из любого статуса до delivered, возвращает сток через
// компенсацию координатора и снимает кешевую резервацию.
func (w *Workflow) Cancel(ctx context.Context, orderID, actor, reason string) error {
	order, err := w.readOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return domain.ErrInvalidStatusTransition
	}

	change := domain.StatusChange{
		Status:    domain.OrderStatusCancelled,
		ChangedAt: w.now().UTC(),
		ChangedBy: actor,
		Message:   reason,
	}
	result, err := w.store.UpdateOne(ctx, domain.CollectionOrders,
		domain.Filter{
			"id": orderID,
			"order_status": map[string]any{"$in": []any{
				string(domain.OrderStatusPreparing),
				string(domain.OrderStatusAssigning),
				string(domain.OrderStatusAssigned),
				string(domain.OrderStatusOutForDelivery),
				string(domain.OrderStatusArrived),
			}},
		},
		domain.Update{
			"$set": map[string]any{
				"order_status": string(domain.OrderStatusCancelled),
				"updated_at":   change.ChangedAt.Format(time.RFC3339Nano),
			},
			"$push": map[string]any{"status_change_history": map[string]any(change.Document())},
		},
	)
	if err != nil {
		return &domain.TransientStoreError{Op: "update_one", Collection: domain.CollectionOrders, Err: err}
	}
	if result.MatchedCount == 0 {
		return domain.ErrInvalidStatusTransition
	}

	w.inventory.Compensate(ctx, order.Items)
	w.inventory.ReleaseReservation(ctx, orderID)
	w.invalidateOrderCaches(ctx, orderID, order.UserID)
	w.publishStatusChanged(orderID, domain.OrderStatusCancelled, actor)
	return nil
}

// UpdatePaymentStatus — поверхность платёжных колбэков.
func (w *Workflow) UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) error {
	result, err := w.store.UpdateOne(ctx, domain.CollectionOrders,
		domain.Filter{"id": orderID},
		domain.Update{"$set": map[string]any{
			"payment_status": string(status),
			"updated_at":     w.now().UTC().Format(time.RFC3339Nano),
		}},
	)
	if err != nil {
		return &domain.TransientStoreError{Op: "update_one", Collection: domain.CollectionOrders, Err: err}
	}
	if result.MatchedCount == 0 {
		return domain.ErrOrderNotFound
	}

	order, err := w.readOrder(ctx, orderID)
	if err == nil {
		w.invalidateOrderCaches(ctx, orderID, order.UserID)
	}
	return nil
}

// GetOrder возвращает заказ: сначала кеш, при промахе хранилище с прогревом.
func (w *Workflow) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	key := cache.KeyOrderDetail(orderID)
	if raw, ok := w.cache.Get(ctx, key); ok {
		if doc, ok := raw.(map[string]any); ok {
			return domain.OrderFromDocument(doc), nil
		}
	}

	order, err := w.readOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	w.cache.Set(ctx, key, order.Document(), cache.TTLOrderDetail)
	return order, nil
}

// ListUserOrders возвращает страницу заказов пользователя, новые первыми.
func (w *Workflow) ListUserOrders(ctx context.Context, userID string, page int) ([]domain.Order, error) {
	if page < 1 {
		page = 1
	}

	key := cache.KeyUserOrders(userID, page)
	if raw, ok := w.cacheGetColdKey(ctx, key); ok {
		if docs, ok := raw.([]any); ok {
			orders := make([]domain.Order, 0, len(docs))
			for _, d := range docs {
				if doc, ok := d.(map[string]any); ok {
					orders = append(orders, domain.OrderFromDocument(doc))
				}
			}
			return orders, nil
		}
	}

	docs, err := w.store.FindMany(ctx, domain.CollectionOrders,
		domain.Filter{"user": userID},
		domain.FindOptions{
			Sort:  []domain.SortField{{Key: "created_at", Desc: true}},
			Skip:  int64(page-1) * ordersPageSize,
			Limit: ordersPageSize,
		},
	)
	if err != nil {
		return nil, &domain.TransientStoreError{Op: "find_many", Collection: domain.CollectionOrders, Err: err}
	}

	orders := make([]domain.Order, 0, len(docs))
	cached := make([]any, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, domain.OrderFromDocument(doc))
		cached = append(cached, map[string]any(doc))
	}
	w.cacheSetColdKey(ctx, key, cached, cache.TTLUserOrders)
	return orders, nil
}

// cacheGetColdKey читает холодный ключ мимо L1, когда кеш это умеет: страницы
// заказов читаются по одному пользователю и вымывали бы горячие ключи из
// маленького L1.
func (w *Workflow) cacheGetColdKey(ctx context.Context, key string) (any, bool) {
	if bypass, ok := w.cache.(l1Bypasser); ok {
		return bypass.GetWithL1(ctx, key, false)
	}
	return w.cache.Get(ctx, key)
}

func (w *Workflow) cacheSetColdKey(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if bypass, ok := w.cache.(l1Bypasser); ok {
		return bypass.SetWithL1(ctx, key, value, ttl, false)
	}
	return w.cache.Set(ctx, key, value, ttl)
}

// validateInput собирает все замечания к входу за один проход.
func (w *Workflow) validateInput(input PlaceOrderInput) error {
	var errs []error
	if input.UserID == "" {
		errs = append(errs, domain.ErrUserRequired)
	}
	if len(input.Items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			errs = append(errs, domain.ErrItemQtyInvalid)
			break
		}
	}
	if !input.DeliveryAddress.IsResolvable() {
		errs = append(errs, domain.ErrDeliveryAddressRequired)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{domain.ErrInvalidOrderInput}, errs...)...)
}

// priceItems проверяет каталожное состояние каждой позиции и фиксирует
// авторитетные цены момента размещения.
func (w *Workflow) priceItems(ctx context.Context, items []domain.OrderItem) ([]domain.OrderItem, error) {
	priced := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		doc, err := w.store.FindOne(ctx, domain.CollectionProducts, domain.Filter{"id": item.ProductID})
		if err != nil {
			return nil, &domain.TransientStoreError{Op: "find_one", Collection: domain.CollectionProducts, Err: err}
		}
		if doc == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ProductID)
		}
		product := domain.ProductFromDocument(doc)
		if !product.IsActive {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ProductID)
		}
		priced = append(priced, domain.OrderItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceMinor: product.PriceMinor,
		})
	}
	return priced, nil
}

// resolvePromo возвращает применимую скидку. Неприменимый промокод не
// блокирует размещение: скидка нулевая, факт фиксируется в логе.
func (w *Workflow) resolvePromo(ctx context.Context, code string, subtotal int64) (int64, string) {
	if code == "" {
		return 0, ""
	}

	doc, err := w.store.FindOne(ctx, domain.CollectionCoupons, domain.Filter{"code": code})
	if err != nil {
		w.logger.WithError(err).WithField("promo_code", code).Warn("coupon lookup failed, placing without discount")
		return 0, ""
	}
	if doc == nil {
		w.logger.WithField("promo_code", code).Warn("unknown promo code ignored")
		return 0, ""
	}

	coupon := domain.CouponFromDocument(doc)
	if !coupon.Usable() || coupon.DiscountMinor >= subtotal {
		w.logger.WithField("promo_code", code).Warn("promo code not applicable, placing without discount")
		return 0, ""
	}
	return coupon.DiscountMinor, coupon.Code
}

// enqueueSideEffects ставит пост-коммитные эффекты в очередь. Ошибка
// постановки логируется и не влияет на уже записанный заказ.
func (w *Workflow) enqueueSideEffects(order domain.Order) {
	tasks := []domain.SideEffectTask{
		{OrderID: order.ID, Kind: domain.TaskCartClear, Payload: mustJSON(domain.Document{"user": order.UserID})},
		{OrderID: order.ID, Kind: domain.TaskCacheInvalidate, Payload: mustJSON(domain.Document{
			"keys": []string{cache.KeyUserCart(order.UserID), cache.KeyUserOrders(order.UserID, 1)},
		})},
		{OrderID: order.ID, Kind: domain.TaskNotify, Payload: mustJSON(domain.Document{
			"order_id": order.ID,
			"user":     order.UserID,
		})},
	}
	if order.PromoCode != "" {
		tasks = append(tasks, domain.SideEffectTask{
			OrderID: order.ID,
			Kind:    domain.TaskCouponUsage,
			Payload: mustJSON(domain.Document{"code": order.PromoCode}),
		})
	}

	for _, task := range tasks {
		if _, err := w.tasks.Enqueue(task); err != nil {
			w.logger.WithError(err).WithFields(log.Fields{
				"order_id": task.OrderID,
				"kind":     task.Kind,
			}).Error("failed to enqueue side-effect task")
		}
	}
}

func (w *Workflow) classifyAssignFailure(ctx context.Context, orderID string) error {
	order, err := w.readOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.DeliveryPartner != "" {
		return domain.ErrOrderAlreadyAssigned
	}
	return domain.ErrInvalidStatusTransition
}

func (w *Workflow) classifyDeliverFailure(ctx context.Context, orderID, partnerID string) error {
	order, err := w.readOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.DeliveryPartner != partnerID {
		return domain.ErrPartnerNotAssigned
	}
	return domain.ErrInvalidStatusTransition
}

// readOrder читает заказ напрямую из хранилища, минуя кеш.
func (w *Workflow) readOrder(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := w.store.FindOne(ctx, domain.CollectionOrders, domain.Filter{"id": orderID})
	if err != nil {
		return domain.Order{}, &domain.TransientStoreError{Op: "find_one", Collection: domain.CollectionOrders, Err: err}
	}
	if doc == nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return domain.OrderFromDocument(doc), nil
}

func (w *Workflow) invalidateOrderCaches(ctx context.Context, orderID, userID string) {
	w.cache.Delete(ctx, cache.KeyOrderDetail(orderID))
	w.cache.Delete(ctx, cache.KeyUserOrders(userID, 1))
}

func (w *Workflow) publishStatusChanged(orderID string, status domain.OrderStatus, actor string) {
	w.publishEvent(domain.EventOrderStatusChanged, orderID, domain.Document{
		"order_id":   orderID,
		"status":     string(status),
		"changed_by": actor,
		"changed_at": w.now().UTC().Format(time.RFC3339Nano),
	})
}

// publishEvent публикует событие best-effort: ядро не зависит от подписчиков.
func (w *Workflow) publishEvent(eventType, orderID string, payload domain.Document) {
	if w.publisher == nil {
		return
	}
	event := domain.EventMessage{
		ID:          uuid.NewString(),
		AggregateID: orderID,
		EventType:   eventType,
		Payload:     mustJSON(payload),
	}
	if err := w.publisher.Publish(event); err != nil {
		w.logger.WithError(err).WithFields(log.Fields{
			"order_id":   orderID,
			"event_type": eventType,
		}).Warn("event publish failed")
	}
}

func (w *Workflow) recordRejection(reason string) {
	if w.metrics != nil {
		w.metrics.RecordOrderRejected(reason)
	}
}

func rejectionReason(err error) string {
	switch {
	case domain.IsInsufficientStock(err):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrProductUnavailable):
		return "product_unavailable"
	case domain.IsTransientStoreError(err):
		return "store_unavailable"
	default:
		return "other"
	}
}

func mustJSON(doc domain.Document) []byte {
	data, err := json.Marshal(map[string]any(doc))
	if err != nil {
		// Документы строятся из простых типов; отказ маршалинга — ошибка программиста.
		panic(err)
	}
	return data
}
