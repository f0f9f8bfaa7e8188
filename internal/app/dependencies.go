package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/cache"
	rediscache "github.com/smartbag/commerce/internal/cache/redis"
	"github.com/smartbag/commerce/internal/domain"
	"github.com/smartbag/commerce/internal/health"
	"github.com/smartbag/commerce/internal/idgen"
	"github.com/smartbag/commerce/internal/messaging/kafka"
	"github.com/smartbag/commerce/internal/metrics"
	"github.com/smartbag/commerce/internal/service/inventory"
	"github.com/smartbag/commerce/internal/service/order"
	"github.com/smartbag/commerce/internal/service/sideeffect"
	"github.com/smartbag/commerce/internal/storage/memory"
	"github.com/smartbag/commerce/internal/storage/mongo"
	"github.com/smartbag/commerce/internal/version"
)

// Dependencies — собранный граф зависимостей сервиса.
type Dependencies struct {
	Store     domain.DocumentStore
	Cache     domain.CacheStore
	Queue     domain.TaskQueue
	Inventory *inventory.Coordinator
	Workflow  *order.Workflow
	Worker    *sideeffect.Worker
	StockSync *inventory.SyncWorker
	Health    *health.Handler
	Logger    *log.Entry

	kafkaProducer *kafka.Producer
	mongoStore    *mongo.DocumentStore
}

// NewDependencies собирает граф по конфигурации: хранилище (memory или
// Mongo), двухуровневый кеш (при наличии Redis), опциональный Kafka producer,
// координатор стока, воркфлоу заказов и фоновые воркеры.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Logger: logger,
		Health: health.NewHandler(version.GetVersion()),
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, err
	}
	deps.initCache(cfg)
	deps.initKafka(cfg)

	deps.Queue = memory.NewTaskQueue()

	placementMetrics := metrics.NewPlacementMetrics()
	deps.Inventory = inventory.NewCoordinator(deps.Store, deps.Cache, placementMetrics, log.StandardLogger())

	generator := idgen.NewGenerator(deps.Store, deps.Cache)

	workflowOpts := []order.WorkflowOption{order.WithMetrics(placementMetrics)}
	var eventPublisher domain.EventPublisher
	if deps.kafkaProducer != nil {
		eventPublisher = kafka.NewEventPublisher(deps.kafkaProducer, kafka.TopicOrderEvents)
		workflowOpts = append(workflowOpts, order.WithPublisher(eventPublisher))
	}
	deps.Workflow = order.NewWorkflow(deps.Store, deps.Cache, deps.Inventory, deps.Queue, generator, workflowOpts...)

	handlers := sideeffect.NewHandlers(deps.Store, deps.Cache, eventPublisher, log.StandardLogger())
	workerOpts := []sideeffect.Option{
		sideeffect.WithPollInterval(cfg.SideEffectPollInterval),
		sideeffect.WithMaxAttempts(cfg.SideEffectMaxAttempts),
	}
	if deps.kafkaProducer != nil {
		workerOpts = append(workerOpts,
			sideeffect.WithDLQPublisher(kafka.NewEventPublisher(deps.kafkaProducer, kafka.TopicSideEffectDLQ)))
	}
	deps.Worker = sideeffect.NewWorker(deps.Queue, handlers, workerOpts...)

	deps.StockSync = inventory.NewSyncWorker(deps.Store, deps.Cache,
		inventory.WithSyncInterval(cfg.StockSyncInterval))

	return deps, nil
}

func (d *Dependencies) initStore(ctx context.Context, cfg Config) error {
	switch cfg.Storage {
	case StorageMongo:
		store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return fmt.Errorf("failed to connect to mongo: %w", err)
		}
		d.mongoStore = store
		d.Store = store
		d.Health.RegisterChecker("store", health.NewStoreChecker("store", store))
		d.Logger.WithField("database", cfg.MongoDatabase).Info("mongo document store initialized")
	case StorageMemory, "":
		d.Store = memory.NewDocumentStore()
		d.Logger.Info("in-memory document store initialized")
	default:
		return fmt.Errorf("unsupported storage backend: %s", cfg.Storage)
	}
	return nil
}

func (d *Dependencies) initCache(cfg Config) {
	var l2 domain.CacheStore
	if cfg.RedisAddr != "" {
		client := rediscache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		store := rediscache.NewStore(client, log.StandardLogger())
		d.Health.RegisterChecker("cache", health.NewCacheChecker("cache", store))
		d.Logger.WithField("addr", cfg.RedisAddr).Info("redis cache initialized")
		l2 = store
	} else {
		l2 = cache.NewMemoryStore()
		d.Logger.Info("in-process cache initialized")
	}

	tieredOpts := []cache.TieredOption{}
	if cfg.L1Disabled {
		tieredOpts = append(tieredOpts, cache.WithL1Disabled())
	}
	d.Cache = cache.NewTiered(l2, tieredOpts...)
}

func (d *Dependencies) initKafka(cfg Config) {
	if len(cfg.KafkaBrokers) == 0 {
		return
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		d.Logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return
	}
	d.kafkaProducer = producer
	d.Logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
}

// Close освобождает внешние соединения в обратном порядке инициализации.
func (d *Dependencies) Close(ctx context.Context) {
	if d.kafkaProducer != nil {
		if err := d.kafkaProducer.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			d.Logger.Info("kafka producer closed")
		}
	}
	if d.mongoStore != nil {
		if err := d.mongoStore.Close(ctx); err != nil {
			d.Logger.WithError(err).Warn("failed to disconnect from mongo")
		}
	}
}
