// Package app собирает зависимости сервиса и управляет его жизненным циклом:
// HTTP-сервер метрик и health-проб, фоновые воркеры, корректная остановка.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Run запускает сервис и блокируется до отмены контекста или фатальной
// ошибки HTTP-сервера. Фоновые воркеры останавливаются вместе с контекстом,
// внешние соединения закрываются перед возвратом.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		deps.Worker.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		deps.StockSync.Run(workerCtx)
	}()

	srv := newHTTPServer(cfg.MetricsAddr, deps)
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("метрики и health-пробы доступны на %s", cfg.MetricsAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, завершаем работу")
		stopWorkers()
		wg.Wait()
		shutdownHTTP(srv, logger)
		deps.Close(context.Background())
		return ctx.Err()
	case err := <-errCh:
		stopWorkers()
		wg.Wait()
		deps.Close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newHTTPServer собирает mux сервисных ручек: Prometheus и health-пробы.
func newHTTPServer(addr string, deps *Dependencies) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", deps.Health)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", deps.Health.ReadinessHandler)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http server shutdown with error")
	}
}
