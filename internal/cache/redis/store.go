// Package redis реализует разделяемый L2-кеш поверх Redis. Все операции
// fail-soft: недоступный Redis деградирует до промахов кеша и записи в лог,
// путь запроса при этом не блокируется.
package redis

import (
	"context"
	"errors"
	"time"

	redislib "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/cache/codec"
	"github.com/smartbag/commerce/internal/domain"
)

// Store — реализация domain.CacheStore поверх Redis.
type Store struct {
	client *redislib.Client
	logger *log.Entry
}

// NewStore создаёт кеш поверх готового клиента Redis.
func NewStore(client *redislib.Client, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{
		client: client,
		logger: logger.WithField("component", "redis_cache"),
	}
}

// NewClient создаёт клиент Redis по адресу.
func NewClient(addr, password string, db int) *redislib.Client {
	return redislib.NewClient(&redislib.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

// Ping проверяет доступность Redis; используется readiness-пробой.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get возвращает значение по ключу. Промах, недоступность Redis и битое
// значение неразличимы для вызывающей стороны: все три — (nil, false).
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redislib.Nil) {
			s.logger.WithError(err).WithField("key", key).Warn("cache get failed")
		}
		return nil, false
	}

	value, err := codec.Decode(data)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cache value corrupted, dropping")
		s.client.Del(ctx, key)
		return nil, false
	}
	return value, true
}

// Set сохраняет значение с TTL.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := codec.Encode(value)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cache value not serializable")
		return false
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cache set failed")
		return false
	}
	return true
}

// Delete удаляет ключ.
func (s *Store) Delete(ctx context.Context, key string) bool {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cache delete failed")
		return false
	}
	return true
}

// GetMany возвращает найденные ключи одним MGET; отсутствующие и битые
// значения просто не попадают в результат.
func (s *Store) GetMany(ctx context.Context, keys []string) map[string]any {
	result := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return result
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.WithError(err).Warn("cache mget failed")
		return result
	}

	for i, raw := range values {
		if raw == nil {
			continue
		}
		text, ok := raw.(string)
		if !ok {
			continue
		}
		value, err := codec.Decode([]byte(text))
		if err != nil {
			s.logger.WithError(err).WithField("key", keys[i]).Warn("cache value corrupted, skipping")
			continue
		}
		result[keys[i]] = value
	}
	return result
}

// Increment атомарно увеличивает счётчик на стороне Redis.
func (s *Store) Increment(ctx context.Context, key string, amount int64) (int64, bool) {
	value, err := s.client.IncrBy(ctx, key, amount).Result()
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cache increment failed")
		return 0, false
	}
	return value, true
}

// Expire ограничивает время жизни существующего ключа.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cache expire failed")
		return false
	}
	return ok
}

// TTL возвращает оставшееся время жизни ключа.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, bool) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("cache ttl failed")
		return 0, false
	}
	// Redis кодирует "ключа нет" и "ключ бессрочный" отрицательными значениями.
	if ttl < 0 {
		return 0, false
	}
	return ttl, true
}

var _ domain.CacheStore = (*Store)(nil)
