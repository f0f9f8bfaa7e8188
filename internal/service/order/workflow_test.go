package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/cache"
	"github.com/smartbag/commerce/internal/domain"
	"github.com/smartbag/commerce/internal/service/inventory"
	"github.com/smartbag/commerce/internal/storage/memory"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewOrderID(context.Context) (string, error) {
	s.n++
	return fmt.Sprintf("ORD20250101TEST%02d", s.n), nil
}

type testEnv struct {
	workflow *Workflow
	store    *memory.DocumentStore
	cache    *cache.MemoryStore
	tasks    domain.TaskQueue
}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewDocumentStore()
	cacheStore := cache.NewMemoryStore()
	coord := inventory.NewCoordinator(store, cacheStore, nil, quietLogger())
	tasks := memory.NewTaskQueue()
	workflow := NewWorkflow(store, cacheStore, coord, tasks, &seqIDs{}, WithWorkflowLogger(quietLogger()))
	return &testEnv{workflow: workflow, store: store, cache: cacheStore, tasks: tasks}
}

func (e *testEnv) seedProduct(t *testing.T, id string, stock, priceMinor int64) {
	t.Helper()
	product := domain.Product{ID: id, Name: id, PriceMinor: priceMinor, Stock: stock, IsActive: true}
	if _, err := e.store.InsertOne(context.Background(), domain.CollectionProducts, product.Document()); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func (e *testEnv) stock(t *testing.T, id string) int64 {
	t.Helper()
	doc, err := e.store.FindOne(context.Background(), domain.CollectionProducts, domain.Filter{"id": id})
	if err != nil || doc == nil {
		t.Fatalf("read product: %v, %v", doc, err)
	}
	return domain.ProductFromDocument(doc).Stock
}

func validInput() PlaceOrderInput {
	return PlaceOrderInput{
		UserID: "USR1",
		Items: []domain.OrderItem{
			{ProductID: "p1", Quantity: 2},
		},
		DeliveryAddress: domain.DeliveryAddress{Address: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001"},
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)

	order, err := env.workflow.PlaceOrder(context.Background(), validInput())
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if order.ID == "" || order.Status != domain.OrderStatusPreparing {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.TotalMinor != 9000 {
		t.Fatalf("authoritative price must come from the catalog, total %d", order.TotalMinor)
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].Message != "Order placed successfully" {
		t.Fatalf("initial history entry wrong: %+v", order.StatusHistory)
	}
	if got := env.stock(t, "p1"); got != 3 {
		t.Fatalf("stock: expected 3, got %d", got)
	}

	persisted, err := env.workflow.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if persisted.UserID != "USR1" || persisted.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("persisted order mismatch: %+v", persisted)
	}
}

func TestPlaceOrder_EnqueuesSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)

	if _, err := env.workflow.PlaceOrder(context.Background(), validInput()); err != nil {
		t.Fatalf("place order: %v", err)
	}

	pending, err := env.tasks.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	kinds := make(map[domain.TaskKind]bool, len(pending))
	for _, task := range pending {
		kinds[task.Kind] = true
	}
	for _, want := range []domain.TaskKind{domain.TaskCartClear, domain.TaskCacheInvalidate, domain.TaskNotify} {
		if !kinds[want] {
			t.Errorf("missing side-effect task %s", want)
		}
	}
	if kinds[domain.TaskCouponUsage] {
		t.Error("coupon task must not be enqueued without a promo code")
	}
}

func TestPlaceOrder_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)

	input := validInput()
	input.UserID = ""
	input.Items = nil
	input.DeliveryAddress = domain.DeliveryAddress{}

	_, err := env.workflow.PlaceOrder(context.Background(), input)
	if !errors.Is(err, domain.ErrInvalidOrderInput) {
		t.Fatalf("expected ErrInvalidOrderInput, got %v", err)
	}
	if !errors.Is(err, domain.ErrUserRequired) || !errors.Is(err, domain.ErrItemsRequired) || !errors.Is(err, domain.ErrDeliveryAddressRequired) {
		t.Fatalf("joined error must carry every validation failure: %v", err)
	}

	count, _ := env.store.CountDocuments(context.Background(), domain.CollectionOrders, domain.Filter{})
	if count != 0 {
		t.Fatal("invalid input must not persist an order")
	}
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.workflow.PlaceOrder(context.Background(), validInput())
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestPlaceOrder_InsufficientStockNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 1, 4500)

	_, err := env.workflow.PlaceOrder(context.Background(), validInput())
	if !domain.IsInsufficientStock(err) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	count, _ := env.store.CountDocuments(context.Background(), domain.CollectionOrders, domain.Filter{})
	if count != 0 {
		t.Fatal("order must never be persisted on stock failure")
	}
	if got := env.stock(t, "p1"); got != 1 {
		t.Fatalf("stock must be untouched, got %d", got)
	}
}

// insertFailingStore роняет InsertOne в заданную коллекцию.
type insertFailingStore struct {
	domain.DocumentStore
	failCollection string
}

func (s *insertFailingStore) InsertOne(ctx context.Context, collection string, doc domain.Document) (string, error) {
	if collection == s.failCollection {
		return "", errors.New("connection refused")
	}
	return s.DocumentStore.InsertOne(ctx, collection, doc)
}

func TestPlaceOrder_PersistFailureCompensatesStock(t *testing.T) {
	base := memory.NewDocumentStore()
	cacheStore := cache.NewMemoryStore()
	product := domain.Product{ID: "p1", Name: "p1", PriceMinor: 4500, Stock: 5, IsActive: true}
	if _, err := base.InsertOne(context.Background(), domain.CollectionProducts, product.Document()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store := &insertFailingStore{DocumentStore: base, failCollection: domain.CollectionOrders}
	coord := inventory.NewCoordinator(store, cacheStore, nil, quietLogger())
	workflow := NewWorkflow(store, cacheStore, coord, memory.NewTaskQueue(), &seqIDs{}, WithWorkflowLogger(quietLogger()))

	_, err := workflow.PlaceOrder(context.Background(), validInput())
	if !domain.IsTransientStoreError(err) {
		t.Fatalf("expected TransientStoreError, got %v", err)
	}

	doc, _ := base.FindOne(context.Background(), domain.CollectionProducts, domain.Filter{"id": "p1"})
	if got := domain.ProductFromDocument(doc).Stock; got != 5 {
		t.Fatalf("decremented stock must be compensated, got %d", got)
	}
}

func TestPlaceOrder_PromoApplied(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	coupon := domain.Coupon{Code: "WELCOME50", DiscountMinor: 500, UsageLimit: 10, IsActive: true}
	if _, err := env.store.InsertOne(context.Background(), domain.CollectionCoupons, coupon.Document()); err != nil {
		t.Fatalf("seed coupon: %v", err)
	}

	input := validInput()
	input.PromoCode = "WELCOME50"

	order, err := env.workflow.PlaceOrder(context.Background(), input)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.PromoDiscountMinor != 500 || order.TotalMinor != 8500 {
		t.Fatalf("discount not applied: %+v", order)
	}

	pending, _ := env.tasks.PullPending(10)
	var couponTask bool
	for _, task := range pending {
		if task.Kind == domain.TaskCouponUsage {
			couponTask = true
		}
	}
	if !couponTask {
		t.Fatal("coupon usage task must be enqueued")
	}
}

func TestPlaceOrder_ExhaustedPromoIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	coupon := domain.Coupon{Code: "DEAD", DiscountMinor: 500, UsageLimit: 0, IsActive: true}
	if _, err := env.store.InsertOne(context.Background(), domain.CollectionCoupons, coupon.Document()); err != nil {
		t.Fatalf("seed coupon: %v", err)
	}

	input := validInput()
	input.PromoCode = "DEAD"

	order, err := env.workflow.PlaceOrder(context.Background(), input)
	if err != nil {
		t.Fatalf("exhausted promo must not block placement: %v", err)
	}
	if order.PromoCode != "" || order.PromoDiscountMinor != 0 {
		t.Fatalf("exhausted promo must not discount: %+v", order)
	}
}

// failingQueue роняет постановку задач.
type failingQueue struct{}

func (failingQueue) Enqueue(domain.SideEffectTask) (domain.SideEffectTask, error) {
	return domain.SideEffectTask{}, errors.New("queue full")
}
func (failingQueue) PullPending(int) ([]domain.SideEffectTask, error) { return nil, nil }
func (failingQueue) MarkDone(string) error                           { return nil }
func (failingQueue) MarkFailed(string) error                         { return nil }
func (failingQueue) Stats() (domain.TaskQueueStats, error)           { return domain.TaskQueueStats{}, nil }

func TestPlaceOrder_SideEffectFailureDoesNotUndoOrder(t *testing.T) {
	store := memory.NewDocumentStore()
	cacheStore := cache.NewMemoryStore()
	product := domain.Product{ID: "p1", Name: "p1", PriceMinor: 4500, Stock: 5, IsActive: true}
	store.InsertOne(context.Background(), domain.CollectionProducts, product.Document())

	coord := inventory.NewCoordinator(store, cacheStore, nil, quietLogger())
	workflow := NewWorkflow(store, cacheStore, coord, failingQueue{}, &seqIDs{}, WithWorkflowLogger(quietLogger()))

	order, err := workflow.PlaceOrder(context.Background(), validInput())
	if err != nil {
		t.Fatalf("side-effect failures must not fail placement: %v", err)
	}

	persisted, err := workflow.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("order must stay persisted: %v", err)
	}
	if persisted.Status != domain.OrderStatusPreparing {
		t.Fatalf("order must remain in preparing, got %s", persisted.Status)
	}
	if len(persisted.StatusHistory) != 1 {
		t.Fatalf("history must hold exactly the placement entry, got %d", len(persisted.StatusHistory))
	}
}

// capturingPublisher запоминает опубликованные события.
type capturingPublisher struct {
	events []domain.EventMessage
}

func (p *capturingPublisher) Publish(event domain.EventMessage) error {
	p.events = append(p.events, event)
	return nil
}

func TestPlaceOrder_PublishesPlacedEvent(t *testing.T) {
	store := memory.NewDocumentStore()
	cacheStore := cache.NewMemoryStore()
	product := domain.Product{ID: "p1", Name: "p1", PriceMinor: 4500, Stock: 5, IsActive: true}
	store.InsertOne(context.Background(), domain.CollectionProducts, product.Document())

	publisher := &capturingPublisher{}
	coord := inventory.NewCoordinator(store, cacheStore, nil, quietLogger())
	workflow := NewWorkflow(store, cacheStore, coord, memory.NewTaskQueue(), &seqIDs{},
		WithWorkflowLogger(quietLogger()), WithPublisher(publisher))

	order, err := workflow.PlaceOrder(context.Background(), validInput())
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.EventType != domain.EventOrderPlaced || event.AggregateID != order.ID {
		t.Fatalf("unexpected event: %+v", event)
	}

	if err := workflow.Cancel(context.Background(), order.ID, "USR1", "test"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	last := publisher.events[len(publisher.events)-1]
	if last.EventType != domain.EventOrderStatusChanged {
		t.Fatalf("status change must publish %s, got %s", domain.EventOrderStatusChanged, last.EventType)
	}
}

func placeOrder(t *testing.T, env *testEnv) domain.Order {
	t.Helper()
	order, err := env.workflow.PlaceOrder(context.Background(), validInput())
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return order
}

func TestAcceptOrder_Flow(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	order := placeOrder(t, env)
	ctx := context.Background()

	if err := env.workflow.AcceptOrder(ctx, order.ID, "DLP1", "Courier One"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	updated, _ := env.workflow.GetOrder(ctx, order.ID)
	if updated.Status != domain.OrderStatusAssigning {
		t.Fatalf("expected assigning, got %s", updated.Status)
	}
	if len(updated.AcceptedPartners) != 1 || updated.AcceptedPartners[0] != "DLP1" {
		t.Fatalf("accepted partners: %v", updated.AcceptedPartners)
	}
	if len(updated.StatusHistory) != 2 {
		t.Fatalf("history must grow to 2, got %d", len(updated.StatusHistory))
	}

	// Повторный отклик того же партнёра отклоняется.
	if err := env.workflow.AcceptOrder(ctx, order.ID, "DLP1", "Courier One"); !errors.Is(err, domain.ErrPartnerAlreadyAccepted) {
		t.Fatalf("expected ErrPartnerAlreadyAccepted, got %v", err)
	}
	// Второй партнёр может откликнуться, пока заказ не закреплён.
	if err := env.workflow.AcceptOrder(ctx, order.ID, "DLP2", "Courier Two"); err != nil {
		t.Fatalf("second partner accept: %v", err)
	}
}

func TestAcceptOrder_RejectedAfterAssignment(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	order := placeOrder(t, env)
	ctx := context.Background()

	env.workflow.AcceptOrder(ctx, order.ID, "DLP1", "Courier One")
	if err := env.workflow.AssignPartner(ctx, order.ID, "DLP1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := env.workflow.AcceptOrder(ctx, order.ID, "DLP3", "Courier Three"); !errors.Is(err, domain.ErrOrderAlreadyAssigned) {
		t.Fatalf("expected ErrOrderAlreadyAssigned, got %v", err)
	}
}

func TestAssignPartner_FirstAssignmentWins(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	order := placeOrder(t, env)
	ctx := context.Background()

	env.workflow.AcceptOrder(ctx, order.ID, "DLP1", "Courier One")
	env.workflow.AcceptOrder(ctx, order.ID, "DLP2", "Courier Two")

	if err := env.workflow.AssignPartner(ctx, order.ID, "DLP1"); err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	if err := env.workflow.AssignPartner(ctx, order.ID, "DLP2"); !errors.Is(err, domain.ErrOrderAlreadyAssigned) {
		t.Fatalf("expected ErrOrderAlreadyAssigned, got %v", err)
	}

	updated, _ := env.workflow.GetOrder(ctx, order.ID)
	if updated.DeliveryPartner != "DLP1" || updated.Status != domain.OrderStatusAssigned {
		t.Fatalf("unexpected state: %+v", updated)
	}
}

func TestAssignPartner_RequiresAssigningStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	order := placeOrder(t, env)

	// Заказ ещё в preparing: назначать некого.
	if err := env.workflow.AssignPartner(context.Background(), order.ID, "DLP1"); !errors.Is(err, domain.ErrInvalidStatusTransition) {
		t.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
	}
}

func TestMarkDelivered(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	order := placeOrder(t, env)
	ctx := context.Background()

	env.workflow.AcceptOrder(ctx, order.ID, "DLP1", "Courier One")
	env.workflow.AssignPartner(ctx, order.ID, "DLP1")

	// Чужой партнёр не может завершить заказ.
	if err := env.workflow.MarkDelivered(ctx, order.ID, "DLP2"); !errors.Is(err, domain.ErrPartnerNotAssigned) {
		t.Fatalf("expected ErrPartnerNotAssigned, got %v", err)
	}

	if err := env.workflow.MarkDelivered(ctx, order.ID, "DLP1"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	updated, _ := env.workflow.GetOrder(ctx, order.ID)
	if updated.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", updated.Status)
	}

	// Терминальный статус поглощающий.
	if err := env.workflow.MarkDelivered(ctx, order.ID, "DLP1"); !errors.Is(err, domain.ErrInvalidStatusTransition) {
		t.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
	}
}

func TestCancel_RestoresStock(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	order := placeOrder(t, env)
	ctx := context.Background()

	if got := env.stock(t, "p1"); got != 3 {
		t.Fatalf("pre-cancel stock: %d", got)
	}

	if err := env.workflow.Cancel(ctx, order.ID, "USR1", "changed my mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := env.stock(t, "p1"); got != 5 {
		t.Fatalf("cancel must restore stock, got %d", got)
	}

	updated, _ := env.workflow.GetOrder(ctx, order.ID)
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}

	// Повторная отмена запрещена: второй возврат стока не случится.
	if err := env.workflow.Cancel(ctx, order.ID, "USR1", "again"); !errors.Is(err, domain.ErrInvalidStatusTransition) {
		t.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
	}
	if got := env.stock(t, "p1"); got != 5 {
		t.Fatalf("stock must not be restored twice, got %d", got)
	}
}

func TestUpdatePaymentStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	order := placeOrder(t, env)
	ctx := context.Background()

	if err := env.workflow.UpdatePaymentStatus(ctx, order.ID, domain.PaymentStatusPaid); err != nil {
		t.Fatalf("update payment: %v", err)
	}
	updated, _ := env.workflow.GetOrder(ctx, order.ID)
	if updated.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", updated.PaymentStatus)
	}

	if err := env.workflow.UpdatePaymentStatus(ctx, "ghost", domain.PaymentStatusPaid); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGetOrder_WarmsCache(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 5, 4500)
	order := placeOrder(t, env)
	ctx := context.Background()

	if _, err := env.workflow.GetOrder(ctx, order.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := env.cache.Get(ctx, cache.KeyOrderDetail(order.ID)); !ok {
		t.Fatal("order detail must be cached after a read")
	}

	if _, err := env.workflow.GetOrder(ctx, "ghost"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListUserOrders_Pagination(t *testing.T) {
	env := newTestEnv(t)
	env.seedProduct(t, "p1", 100, 4500)
	ctx := context.Background()

	for i := 0; i < ordersPageSize+2; i++ {
		placeOrder(t, env)
	}

	first, err := env.workflow.ListUserOrders(ctx, "USR1", 1)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(first) != ordersPageSize {
		t.Fatalf("expected full first page, got %d", len(first))
	}

	second, err := env.workflow.ListUserOrders(ctx, "USR1", 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 orders on page 2, got %d", len(second))
	}

	// Повторное чтение страницы обслуживается кешем.
	if _, ok := env.cache.Get(ctx, cache.KeyUserOrders("USR1", 1)); !ok {
		t.Fatal("user orders page must be cached")
	}
}

// bypassRecorder фиксирует, с каким флагом L1 воркфлоу ходит в двухуровневый кеш.
type bypassRecorder struct {
	*cache.MemoryStore
	getFlags map[string]bool
	setFlags map[string]bool
}

func newBypassRecorder() *bypassRecorder {
	return &bypassRecorder{
		MemoryStore: cache.NewMemoryStore(),
		getFlags:    make(map[string]bool),
		setFlags:    make(map[string]bool),
	}
}

func (r *bypassRecorder) GetWithL1(ctx context.Context, key string, useL1 bool) (any, bool) {
	r.getFlags[key] = useL1
	return r.MemoryStore.Get(ctx, key)
}

func (r *bypassRecorder) SetWithL1(ctx context.Context, key string, value any, ttl time.Duration, useL1 bool) bool {
	r.setFlags[key] = useL1
	return r.MemoryStore.Set(ctx, key, value, ttl)
}

func TestListUserOrders_ColdPagesBypassL1(t *testing.T) {
	recorder := newBypassRecorder()
	store := memory.NewDocumentStore()
	product := domain.Product{ID: "p1", Name: "p1", PriceMinor: 4500, Stock: 5, IsActive: true}
	store.InsertOne(context.Background(), domain.CollectionProducts, product.Document())

	coord := inventory.NewCoordinator(store, recorder, nil, quietLogger())
	workflow := NewWorkflow(store, recorder, coord, memory.NewTaskQueue(), &seqIDs{}, WithWorkflowLogger(quietLogger()))
	ctx := context.Background()

	if _, err := workflow.PlaceOrder(ctx, validInput()); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if _, err := workflow.ListUserOrders(ctx, "USR1", 1); err != nil {
		t.Fatalf("list: %v", err)
	}

	// Страницы заказов холодные: и чтение, и запись обходят L1.
	key := cache.KeyUserOrders("USR1", 1)
	if useL1, seen := recorder.getFlags[key]; !seen || useL1 {
		t.Fatal("user orders read must bypass L1")
	}
	if useL1, seen := recorder.setFlags[key]; !seen || useL1 {
		t.Fatal("user orders write must bypass L1")
	}
}
