package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Бэкенды документного хранилища.
const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"
)

// Config описывает настройки запуска сервиса. Всё переопределяется
// переменными окружения COMMERCE_*; значения по умолчанию позволяют
// запустить ядро локально без единой внешней зависимости.
type Config struct {
	// MetricsAddr — адрес HTTP-сервера метрик и health-проб.
	MetricsAddr string

	// Storage выбирает бэкенд хранилища: memory или mongo.
	Storage       string
	MongoURI      string
	MongoDatabase string

	// RedisAddr пустой — кеш работает на внутрипроцессном хранилище.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KafkaBrokers пустой — события наружу не публикуются.
	KafkaBrokers []string

	// Настройки воркера пост-коммитных эффектов.
	SideEffectPollInterval time.Duration
	SideEffectMaxAttempts  int

	// Интервал фоновой синхронизации стока в кеш.
	StockSyncInterval time.Duration

	// L1Disabled отключает внутрипроцессный слой двухуровневого кеша.
	L1Disabled bool
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:            ":9090",
		Storage:                StorageMemory,
		MongoURI:               "mongodb://localhost:27017",
		MongoDatabase:          "commerce",
		SideEffectPollInterval: time.Second,
		SideEffectMaxAttempts:  3,
		StockSyncInterval:      30 * time.Second,
	}
}

// ReadConfig строит конфигурацию из окружения поверх значений по умолчанию.
func ReadConfig() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("COMMERCE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("COMMERCE_STORAGE"); v != "" {
		cfg.Storage = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("COMMERCE_MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("COMMERCE_MONGO_DB"); v != "" {
		cfg.MongoDatabase = v
	}
	if v := os.Getenv("COMMERCE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("COMMERCE_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("COMMERCE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = db
		}
	}
	if v := os.Getenv("COMMERCE_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitBrokers(v)
	}
	if v := os.Getenv("COMMERCE_SIDEEFFECT_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SideEffectPollInterval = d
		}
	}
	if v := os.Getenv("COMMERCE_SIDEEFFECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SideEffectMaxAttempts = n
		}
	}
	if v := os.Getenv("COMMERCE_STOCK_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.StockSyncInterval = d
		}
	}
	if v := os.Getenv("COMMERCE_L1_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.L1Disabled = b
		}
	}

	return cfg
}

func splitBrokers(value string) []string {
	parts := strings.Split(value, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
