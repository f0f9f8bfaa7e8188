// Команда loadtest гоняет размещение заказов через полностью собранный
// in-memory граф и проверяет учёт стока под конкуренцией: сумма проданного
// и остатка обязана сойтись с начальным стоком, сток не уходит в минус.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/smartbag/commerce/internal/cache"
	"github.com/smartbag/commerce/internal/domain"
	"github.com/smartbag/commerce/internal/idgen"
	"github.com/smartbag/commerce/internal/metrics"
	"github.com/smartbag/commerce/internal/service/inventory"
	"github.com/smartbag/commerce/internal/service/order"
	"github.com/smartbag/commerce/internal/storage/memory"
)

type config struct {
	total       int
	concurrency int
	products    int
	stock       int64
	qty         int64
	priceMinor  int64
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type report struct {
	StartedAt       time.Time      `json:"started_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	Total           int64          `json:"total"`
	Placed          int64          `json:"placed"`
	Shortfalls      int64          `json:"shortfalls"`
	Failed          int64          `json:"failed"`
	RPS             float64        `json:"rps"`
	LatencyMs       latencySummary `json:"latency_ms"`
	StockConsistent bool           `json:"stock_consistent"`
}

func parseConfig() (config, error) {
	var cfg config

	flag.IntVar(&cfg.total, "total", 400, "total placements to attempt")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent buyers")
	flag.IntVar(&cfg.products, "products", 5, "number of seeded products")
	flag.Int64Var(&cfg.stock, "stock", 50, "initial stock per product")
	flag.Int64Var(&cfg.qty, "qty", 1, "quantity per order line")
	flag.Int64Var(&cfg.priceMinor, "price-minor", 4500, "catalog price in minor units")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	return cfg, validate(cfg)
}

func validate(cfg config) error {
	if cfg.total <= 0 {
		return errors.New("total must be > 0")
	}
	if cfg.concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if cfg.products <= 0 {
		return errors.New("products must be > 0")
	}
	if cfg.stock <= 0 {
		return errors.New("stock must be > 0")
	}
	if cfg.qty <= 0 {
		return errors.New("qty must be > 0")
	}
	if cfg.priceMinor <= 0 {
		return errors.New("price-minor must be > 0")
	}
	return nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Лог-шум фоновых компенсаций мешает читать отчёт.
	log.SetLevel(log.ErrorLevel)

	store := memory.NewDocumentStore()
	cacheStore := cache.NewTiered(cache.NewMemoryStore())
	queue := memory.NewTaskQueue()
	placementMetrics := metrics.NewPlacementMetrics()
	coordinator := inventory.NewCoordinator(store, cacheStore, placementMetrics, log.StandardLogger())
	generator := idgen.NewGenerator(store, cacheStore)
	workflow := order.NewWorkflow(store, cacheStore, coordinator, queue, generator,
		order.WithMetrics(placementMetrics))

	ctx := context.Background()
	productIDs := seedProducts(ctx, store, cfg)

	startedAt := time.Now()
	result := runPlacements(ctx, workflow, cfg, productIDs)
	result.StartedAt = startedAt.UTC()
	result.DurationSeconds = time.Since(startedAt).Seconds()
	if result.DurationSeconds > 0 {
		result.RPS = float64(result.Total) / result.DurationSeconds
	}

	result.StockConsistent = verifyStock(ctx, store, cfg, productIDs, result.Placed)

	printReport(result)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if !result.StockConsistent || result.Failed > 0 {
		os.Exit(1)
	}
}

func seedProducts(ctx context.Context, store domain.DocumentStore, cfg config) []string {
	ids := make([]string, 0, cfg.products)
	for i := 0; i < cfg.products; i++ {
		product := domain.Product{
			ID:         fmt.Sprintf("BNLLT%06d", i+1),
			Name:       fmt.Sprintf("load product %d", i+1),
			PriceMinor: cfg.priceMinor,
			Stock:      cfg.stock,
			IsActive:   true,
		}
		if _, err := store.InsertOne(ctx, domain.CollectionProducts, product.Document()); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to seed product: %v\n", err)
			os.Exit(1)
		}
		ids = append(ids, product.ID)
	}
	return ids
}

func runPlacements(ctx context.Context, workflow *order.Workflow, cfg config, productIDs []string) report {
	var (
		placed     int64
		shortfalls int64
		failed     int64
		mu         sync.Mutex
		latencies  []float64
	)

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				start := time.Now()
				_, err := workflow.PlaceOrder(ctx, order.PlaceOrderInput{
					UserID: fmt.Sprintf("load-user-%d", id),
					Items: []domain.OrderItem{{
						ProductID: productIDs[id%len(productIDs)],
						Quantity:  cfg.qty,
					}},
					DeliveryAddress: domain.DeliveryAddress{
						Address: "1 Load Street",
						City:    "Bengaluru",
						Pincode: "560001",
					},
				})
				elapsed := float64(time.Since(start).Microseconds()) / 1000.0

				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()

				var stockErr *domain.InsufficientStockError
				switch {
				case err == nil:
					atomic.AddInt64(&placed, 1)
				case errors.As(err, &stockErr):
					atomic.AddInt64(&shortfalls, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	for i := 0; i < cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return report{
		Total:      int64(cfg.total),
		Placed:     placed,
		Shortfalls: shortfalls,
		Failed:     failed,
		LatencyMs:  buildLatencySummary(latencies),
	}
}

// verifyStock сверяет учёт: остаток каждого товара неотрицателен, а сумма
// остатков и проданного сходится с посеянным стоком.
func verifyStock(ctx context.Context, store domain.DocumentStore, cfg config, productIDs []string, placed int64) bool {
	var remaining int64
	for _, id := range productIDs {
		doc, err := store.FindOne(ctx, domain.CollectionProducts, domain.Filter{"id": id})
		if err != nil || doc == nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to read product %s: %v\n", id, err)
			return false
		}
		product := domain.ProductFromDocument(doc)
		if product.Stock < 0 {
			_, _ = fmt.Fprintf(os.Stderr, "oversell detected: %s stock=%d\n", id, product.Stock)
			return false
		}
		remaining += product.Stock
	}

	seeded := cfg.stock * int64(cfg.products)
	sold := placed * cfg.qty
	if remaining+sold != seeded {
		_, _ = fmt.Fprintf(os.Stderr, "stock mismatch: seeded=%d remaining=%d sold=%d\n", seeded, remaining, sold)
		return false
	}
	return true
}

func printReport(result report) {
	fmt.Println("Load test summary")
	fmt.Printf("total=%d placed=%d shortfalls=%d failed=%d stock_consistent=%t\n",
		result.Total, result.Placed, result.Shortfalls, result.Failed, result.StockConsistent)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.LatencyMs.Min,
		result.LatencyMs.Avg,
		result.LatencyMs.P50,
		result.LatencyMs.P95,
		result.LatencyMs.P99,
		result.LatencyMs.Max,
	)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}
