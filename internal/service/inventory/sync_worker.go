package inventory

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/cache"
	"github.com/smartbag/commerce/internal/domain"
)

const (
	defaultSyncInterval  = 30 * time.Second
	defaultSyncBatchSize = 500
)

var (
	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_inventory_sync_runs_total",
		Help: "Total number of inventory cache sync cycles grouped by result.",
	}, []string{"result"})
	syncedProducts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commerce_inventory_synced_products",
		Help: "Number of products refreshed in cache by the last sync cycle.",
	})
)

// SyncWorkerOptions задаёт параметры фоновой синхронизации стока в кеш.
type SyncWorkerOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SyncOption настраивает SyncWorker.
type SyncOption func(*SyncWorkerOptions)

// WithSyncLogger задаёт logger воркера.
func WithSyncLogger(logger *log.Entry) SyncOption {
	return func(opts *SyncWorkerOptions) {
		opts.Logger = logger
	}
}

// WithSyncInterval задаёт период синхронизации.
func WithSyncInterval(interval time.Duration) SyncOption {
	return func(opts *SyncWorkerOptions) {
		opts.Interval = interval
	}
}

// WithSyncBatchSize задаёт размер страницы выборки товаров.
func WithSyncBatchSize(batchSize int) SyncOption {
	return func(opts *SyncWorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// SyncWorker периодически переносит авторитетные уровни стока из хранилища в
// кеш, ограничивая устаревание витринных чтений коротким TTL. Счётчики
// резерваций в цикл не входят: их жизнь ограничена TTL резервации, поэтому
// удержание, истёкшее без релиза, исчезает само вместе со счётчиком.
type SyncWorker struct {
	store     domain.DocumentStore
	cache     domain.CacheStore
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewSyncWorker создаёт воркер синхронизации стока.
func NewSyncWorker(store domain.DocumentStore, cacheStore domain.CacheStore, options ...SyncOption) *SyncWorker {
	opts := SyncWorkerOptions{
		Interval:  defaultSyncInterval,
		BatchSize: defaultSyncBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "inventory-sync-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSyncInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSyncBatchSize
	}

	return &SyncWorker{
		store:     store,
		cache:     cacheStore,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическую синхронизацию до отмены ctx.
func (w *SyncWorker) Run(ctx context.Context) {
	if w.store == nil || w.cache == nil {
		w.logger.Warn("inventory sync worker is disabled: store or cache is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.SyncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SyncOnce(ctx)
		}
	}
}

// SyncOnce выполняет один цикл: постранично читает активные товары и пишет
// их сток в кеш с коротким TTL.
func (w *SyncWorker) SyncOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	var synced int
	var skip int64
	for {
		docs, err := w.store.FindMany(ctx, domain.CollectionProducts,
			domain.Filter{"is_active": true},
			domain.FindOptions{
				Sort:  []domain.SortField{{Key: "id"}},
				Skip:  skip,
				Limit: int64(w.batchSize),
			},
		)
		if err != nil {
			w.logger.WithError(err).Warn("failed to read products for cache sync")
			syncRuns.WithLabelValues("error").Inc()
			return
		}
		if len(docs) == 0 {
			break
		}

		for _, doc := range docs {
			product := domain.ProductFromDocument(doc)
			if w.cache.Set(ctx, cache.KeyStockLevel(product.ID), product.Stock, cache.TTLStockLevel) {
				synced++
			}
		}
		skip += int64(len(docs))
	}

	syncedProducts.Set(float64(synced))
	syncRuns.WithLabelValues("ok").Inc()
	w.logger.WithField("products", synced).Debug("inventory cache sync completed")
}
