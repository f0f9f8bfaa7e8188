// Package cache реализует двухуровневый кеш чтения: маленький L1 внутри
// процесса гасит повторные чтения горячих ключей, разделяемый L2 (Redis)
// остаётся источником согласованности между инстансами.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/domain"
)

const (
	defaultL1Capacity = 100
	defaultL1TTL      = 60 * time.Second
)

var (
	tierHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_cache_hits_total",
		Help: "Cache hits by tier.",
	}, []string{"tier"})
	tierMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commerce_cache_misses_total",
		Help: "Cache misses across both tiers.",
	})
	l1Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commerce_cache_l1_evictions_total",
		Help: "L1 entries evicted to make room.",
	})
)

type l1Entry struct {
	value any
	// Абсолютный момент истечения: запись, положенная при TTL x, не живёт
	// дольше x независимо от последующих обращений.
	expiresAt time.Time
}

// Tiered — фасад domain.CacheStore над локальным L1 и разделяемым L2.
type Tiered struct {
	l2     domain.CacheStore
	logger *log.Entry

	mu    sync.Mutex
	l1    map[string]l1Entry
	useL1 bool
	cap   int
	l1TTL time.Duration
	now   func() time.Time
}

// TieredOption настраивает фасад.
type TieredOption func(*Tiered)

// WithCapacity задаёт вместимость L1.
func WithCapacity(n int) TieredOption {
	return func(t *Tiered) {
		if n > 0 {
			t.cap = n
		}
	}
}

// WithL1TTL задаёт верхнюю границу времени жизни L1-записи.
func WithL1TTL(ttl time.Duration) TieredOption {
	return func(t *Tiered) {
		if ttl > 0 {
			t.l1TTL = ttl
		}
	}
}

// WithL1Disabled выключает L1: фасад становится прозрачной обёрткой над L2.
func WithL1Disabled() TieredOption {
	return func(t *Tiered) { t.useL1 = false }
}

// WithClock подменяет источник времени; нужен тестам истечения.
func WithClock(now func() time.Time) TieredOption {
	return func(t *Tiered) { t.now = now }
}

// WithLogger задаёт логгер фасада.
func WithLogger(logger *log.Logger) TieredOption {
	return func(t *Tiered) { t.logger = logger.WithField("component", "tiered_cache") }
}

// NewTiered создаёт фасад над разделяемым кешем.
func NewTiered(l2 domain.CacheStore, opts ...TieredOption) *Tiered {
	t := &Tiered{
		l2:     l2,
		logger: log.StandardLogger().WithField("component", "tiered_cache"),
		l1:     make(map[string]l1Entry),
		useL1:  true,
		cap:    defaultL1Capacity,
		l1TTL:  defaultL1TTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get ищет значение сначала в L1, затем в L2; L2-попадание продвигается в L1
// с TTL, зажатым остатком жизни L2-записи, чтобы L1 не пережил источник.
func (t *Tiered) Get(ctx context.Context, key string) (any, bool) {
	return t.GetWithL1(ctx, key, true)
}

// GetWithL1 — Get с покомандным выбором уровня: useL1=false идёт сразу в L2
// и не продвигает значение. Холодные или крупные объекты так не вымывают
// горячие ключи из маленького L1.
func (t *Tiered) GetWithL1(ctx context.Context, key string, useL1 bool) (any, bool) {
	if useL1 {
		if value, ok := t.l1Get(key); ok {
			tierHits.WithLabelValues("l1").Inc()
			return value, true
		}
	}

	value, ok := t.l2.Get(ctx, key)
	if !ok {
		tierMisses.Inc()
		return nil, false
	}
	tierHits.WithLabelValues("l2").Inc()
	if useL1 {
		t.promote(ctx, key, value)
	}
	return value, true
}

// Set пишет в L2 и заполняет L1. Ответ отражает судьбу L2-записи: L1 без L2
// не считается успешной записью.
func (t *Tiered) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	return t.SetWithL1(ctx, key, value, ttl, true)
}

// SetWithL1 — Set с покомандным выбором уровня. При useL1=false ключ всё равно
// выбивается из L1: там могла остаться прежняя версия значения.
func (t *Tiered) SetWithL1(ctx context.Context, key string, value any, ttl time.Duration, useL1 bool) bool {
	ok := t.l2.Set(ctx, key, value, ttl)
	if !ok {
		return false
	}
	if useL1 {
		t.l1Set(key, value, t.clamp(ttl))
	} else {
		t.l1Delete(key)
	}
	return true
}

// Delete инвалидирует ключ в обоих уровнях. L1 чистится первым, чтобы после
// возврата локальный уровень гарантированно не отдавал устаревшее значение.
func (t *Tiered) Delete(ctx context.Context, key string) bool {
	t.l1Delete(key)
	return t.l2.Delete(ctx, key)
}

// GetMany собирает найденное из L1 и докачивает остаток одним обращением к L2.
func (t *Tiered) GetMany(ctx context.Context, keys []string) map[string]any {
	result := make(map[string]any, len(keys))
	var missing []string
	for _, key := range keys {
		if value, ok := t.l1Get(key); ok {
			tierHits.WithLabelValues("l1").Inc()
			result[key] = value
			continue
		}
		missing = append(missing, key)
	}
	if len(missing) == 0 {
		return result
	}

	fetched := t.l2.GetMany(ctx, missing)
	for _, key := range missing {
		value, ok := fetched[key]
		if !ok {
			tierMisses.Inc()
			continue
		}
		tierHits.WithLabelValues("l2").Inc()
		result[key] = value
		t.promote(ctx, key, value)
	}
	return result
}

// Increment всегда идёт в L2: счётчики разделяются между инстансами, локальная
// копия немедленно устарела бы. Ключ при этом выбивается из L1.
func (t *Tiered) Increment(ctx context.Context, key string, amount int64) (int64, bool) {
	t.l1Delete(key)
	return t.l2.Increment(ctx, key, amount)
}

// Expire меняет время жизни записи в L2. L1-копия выбивается: её абсолютное
// истечение рассчитано под прежний TTL и после укорачивания пережило бы L2.
func (t *Tiered) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	t.l1Delete(key)
	return t.l2.Expire(ctx, key, ttl)
}

// TTL отражает остаток жизни записи в L2.
func (t *Tiered) TTL(ctx context.Context, key string) (time.Duration, bool) {
	return t.l2.TTL(ctx, key)
}

// promote кладёт L2-значение в L1, не превышая остатка его жизни в L2.
func (t *Tiered) promote(ctx context.Context, key string, value any) {
	if !t.useL1 {
		return
	}
	ttl := t.l1TTL
	if remaining, ok := t.l2.TTL(ctx, key); ok && remaining < ttl {
		ttl = remaining
	}
	t.l1Set(key, value, ttl)
}

// clamp ограничивает L1-TTL временем жизни свежезаписанного L2-значения.
func (t *Tiered) clamp(l2TTL time.Duration) time.Duration {
	if l2TTL > 0 && l2TTL < t.l1TTL {
		return l2TTL
	}
	return t.l1TTL
}

func (t *Tiered) l1Get(key string) (any, bool) {
	if !t.useL1 {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.l1[key]
	if !ok {
		return nil, false
	}
	if !t.now().Before(entry.expiresAt) {
		delete(t.l1, key)
		return nil, false
	}
	return entry.value, true
}

func (t *Tiered) l1Set(key string, value any, ttl time.Duration) {
	if !t.useL1 || ttl <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.l1[key]; !exists && len(t.l1) >= t.cap {
		t.evictOldest()
	}
	t.l1[key] = l1Entry{value: value, expiresAt: t.now().Add(ttl)}
}

func (t *Tiered) l1Delete(key string) {
	if !t.useL1 {
		return
	}
	t.mu.Lock()
	delete(t.l1, key)
	t.mu.Unlock()
}

// evictOldest удаляет запись с ближайшим истечением: она наименее ценна,
// потому что всё равно вот-вот умрёт. Вызывается под мьютексом.
func (t *Tiered) evictOldest() {
	var victim string
	var victimExpiry time.Time
	for key, entry := range t.l1 {
		if victim == "" || entry.expiresAt.Before(victimExpiry) {
			victim = key
			victimExpiry = entry.expiresAt
		}
	}
	if victim != "" {
		delete(t.l1, victim)
		l1Evictions.Inc()
	}
}

var _ domain.CacheStore = (*Tiered)(nil)
