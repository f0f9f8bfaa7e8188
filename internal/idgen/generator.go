// Package idgen генерирует внешние идентификаторы заказов и товаров.
// Идентификатор заказа печатается в чеке и диктуется оператору по телефону,
// поэтому алфавит суффикса исключает визуально неразличимые символы.
package idgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/cache"
	"github.com/smartbag/commerce/internal/domain"
)

// orderSuffixAlphabet без O/0/I/1: суффикс читают и диктуют люди.
const orderSuffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	orderSuffixLength = 6
	maxUniqueProbes   = 5
)

// Generator создаёт идентификаторы заказов ORD<yyyymmdd><суффикс> и
// товаров BNL<категория><порядковый номер>.
type Generator struct {
	store  domain.DocumentStore
	cache  domain.CacheStore
	logger *log.Entry
	now    func() time.Time
}

// NewGenerator создаёт генератор поверх хранилища (проверка уникальности)
// и кеша (счётчики товарных последовательностей).
func NewGenerator(store domain.DocumentStore, cacheStore domain.CacheStore) *Generator {
	return &Generator{
		store:  store,
		cache:  cacheStore,
		logger: log.WithField("component", "idgen"),
		now:    time.Now,
	}
}

// NewOrderID возвращает уникальный идентификатор заказа. Коллизия суффикса
// практически невероятна (32^6 вариантов в сутки), но перед выдачей
// идентификатор проверяется по хранилищу с ограниченным числом повторов.
func (g *Generator) NewOrderID(ctx context.Context) (string, error) {
	datePart := g.now().UTC().Format("20060102")

	for probe := 0; probe < maxUniqueProbes; probe++ {
		suffix, err := randomSuffix(orderSuffixLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate order id suffix: %w", err)
		}
		orderID := "ORD" + datePart + suffix

		count, err := g.store.CountDocuments(ctx, domain.CollectionOrders, domain.Filter{"id": orderID})
		if err != nil {
			return "", fmt.Errorf("failed to probe order id uniqueness: %w", err)
		}
		if count == 0 {
			return orderID, nil
		}

		g.logger.WithField("order_id", orderID).Warn("order id collision, regenerating")
	}

	return "", fmt.Errorf("failed to generate unique order id after %d attempts", maxUniqueProbes)
}

// NewProductID возвращает идентификатор товара BNL<категория><6-значный
// номер>. Номер берётся из кешевого счётчика категории; при недоступности
// кеша последовательность заменяется меткой времени, уникальной в пределах
// наносекунды.
func (g *Generator) NewProductID(ctx context.Context, category string) string {
	cat := normalizeCategory(category)

	seq, ok := g.cache.Increment(ctx, cache.KeyProductSequence(cat), 1)
	if !ok {
		g.logger.WithField("category", cat).Warn("sequence counter unavailable, falling back to timestamp")
		return fmt.Sprintf("BNL%s%d", cat, g.now().UnixNano())
	}

	return fmt.Sprintf("BNL%s%06d", cat, seq)
}

func normalizeCategory(category string) string {
	cat := strings.ToUpper(strings.TrimSpace(category))
	if cat == "" {
		return "GEN"
	}
	if len(cat) > 3 {
		cat = cat[:3]
	}
	return cat
}

func randomSuffix(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = orderSuffixAlphabet[int(b)%len(orderSuffixAlphabet)]
	}
	return string(buf), nil
}
