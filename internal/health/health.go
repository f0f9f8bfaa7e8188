// Package health отдаёт состояние зависимостей ядра по HTTP: документное
// хранилище и кеш. Кеш fail-soft, поэтому его недоступность понижает статус
// до degraded, а не до unhealthy.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status — статус компонента или сервиса в целом.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — агрегированный ответ /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker выполняет проверку одной зависимости.
type Checker interface {
	Check(ctx context.Context) Check
}

// Pinger — минимальный контракт зависимостей, умеющих отвечать на ping
// (Mongo-хранилище, Redis-клиент через обёртку).
type Pinger interface {
	Ping(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

// Handler собирает проверки и обслуживает /healthz и /readyz.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
}

// NewHandler создаёт пустой handler; проверки регистрируются по мере
// инициализации зависимостей.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterChecker регистрирует проверку под именем компонента.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

func (h *Handler) snapshot() map[string]Checker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	return checkers
}

// ServeHTTP отвечает полным отчётом по всем зависимостям.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	checks := make(map[string]Check)
	overall := StatusHealthy

	for name, checker := range h.snapshot() {
		check := checker.Check(ctx)
		checks[name] = check

		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// LivenessHandler всегда отвечает 200: процесс жив, пока отвечает.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, пока хотя бы одна зависимость unhealthy.
// Degraded-зависимости не блокируют готовность: кеш необязателен для
// обслуживания запросов.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	for _, checker := range h.snapshot() {
		if check := checker.Check(ctx); check.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// PingChecker проверяет зависимость через её Ping; ошибка переводит
// компонент в заданный статус отказа.
type PingChecker struct {
	name      string
	target    Pinger
	onFailure Status
}

// NewStoreChecker — проверка документного хранилища; его отказ делает
// сервис unhealthy: без хранилища заказы не размещаются.
func NewStoreChecker(name string, store Pinger) *PingChecker {
	return &PingChecker{name: name, target: store, onFailure: StatusUnhealthy}
}

// NewCacheChecker — проверка кеша; отказ понижает статус лишь до degraded,
// пути запросов переживают промахи кеша.
func NewCacheChecker(name string, cache Pinger) *PingChecker {
	return &PingChecker{name: name, target: cache, onFailure: StatusDegraded}
}

// Check выполняет ping и замеряет его длительность.
func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.target.Ping(ctx)
	elapsed := time.Since(start)

	if err != nil {
		return Check{
			Name:       c.name,
			Status:     c.onFailure,
			Message:    err.Error(),
			DurationMs: elapsed.Milliseconds(),
		}
	}

	return Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: elapsed.Milliseconds(),
	}
}

// CheckerFunc адаптирует функцию к интерфейсу Checker.
type CheckerFunc func(ctx context.Context) Check

// Check вызывает функцию.
func (f CheckerFunc) Check(ctx context.Context) Check {
	return f(ctx)
}
