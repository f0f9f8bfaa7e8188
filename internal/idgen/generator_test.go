package idgen

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smartbag/commerce/internal/cache"
	"github.com/smartbag/commerce/internal/domain"
	"github.com/smartbag/commerce/internal/storage/memory"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newTestGenerator() (*Generator, *memory.DocumentStore) {
	store := memory.NewDocumentStore()
	gen := NewGenerator(store, cache.NewMemoryStore())
	gen.now = fixedClock
	return gen, store
}

func TestNewOrderID_Format(t *testing.T) {
	gen, _ := newTestGenerator()

	id, err := gen.NewOrderID(context.Background())
	if err != nil {
		t.Fatalf("NewOrderID: %v", err)
	}

	if !strings.HasPrefix(id, "ORD20250615") {
		t.Fatalf("expected date prefix ORD20250615, got %s", id)
	}
	if len(id) != len("ORD20250615")+orderSuffixLength {
		t.Fatalf("unexpected id length: %s", id)
	}
	suffix := id[len("ORD20250615"):]
	for _, c := range suffix {
		if !strings.ContainsRune(orderSuffixAlphabet, c) {
			t.Fatalf("suffix character %q outside alphabet in %s", c, id)
		}
	}
}

func TestNewOrderID_ExcludesAmbiguousCharacters(t *testing.T) {
	gen, _ := newTestGenerator()

	for i := 0; i < 200; i++ {
		id, err := gen.NewOrderID(context.Background())
		if err != nil {
			t.Fatalf("NewOrderID: %v", err)
		}
		if strings.ContainsAny(id[len("ORD20250615"):], "O0I1") {
			t.Fatalf("ambiguous character in suffix: %s", id)
		}
	}
}

func TestNewOrderID_ProbesForUniqueness(t *testing.T) {
	gen, store := newTestGenerator()

	// Существующий заказ не совпадёт со свежим случайным суффиксом,
	// но проба уникальности должна пройти через хранилище без ошибок.
	if _, err := store.InsertOne(context.Background(), domain.CollectionOrders, domain.Document{
		"id": "ORD20250615AAAAAA",
	}); err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := gen.NewOrderID(context.Background())
		if err != nil {
			t.Fatalf("NewOrderID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate order id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestNewProductID_SequencesPerCategory(t *testing.T) {
	gen, _ := newTestGenerator()
	ctx := context.Background()

	first := gen.NewProductID(ctx, "grocery")
	second := gen.NewProductID(ctx, "grocery")
	other := gen.NewProductID(ctx, "dairy")

	if first != "BNLGRO000001" {
		t.Fatalf("expected BNLGRO000001, got %s", first)
	}
	if second != "BNLGRO000002" {
		t.Fatalf("expected BNLGRO000002, got %s", second)
	}
	if other != "BNLDAI000001" {
		t.Fatalf("categories must count independently, got %s", other)
	}
}

func TestNewProductID_EmptyCategoryDefaults(t *testing.T) {
	gen, _ := newTestGenerator()

	id := gen.NewProductID(context.Background(), "  ")
	if id != "BNLGEN000001" {
		t.Fatalf("expected BNLGEN000001, got %s", id)
	}
}

// downCache имитирует недоступный кеш: все операции отвечают отказом.
type downCache struct{}

func (downCache) Get(context.Context, string) (any, bool) {
	return nil, false
}

func (downCache) Set(context.Context, string, any, time.Duration) bool {
	return false
}

func (downCache) Delete(context.Context, string) bool {
	return false
}

func (downCache) GetMany(context.Context, []string) map[string]any {
	return nil
}

func (downCache) Increment(context.Context, string, int64) (int64, bool) {
	return 0, false
}

func (downCache) Expire(context.Context, string, time.Duration) bool {
	return false
}

func (downCache) TTL(context.Context, string) (time.Duration, bool) {
	return 0, false
}

func TestNewProductID_FallsBackWithoutCache(t *testing.T) {
	gen := NewGenerator(memory.NewDocumentStore(), downCache{})
	gen.now = fixedClock

	id := gen.NewProductID(context.Background(), "grocery")
	if !strings.HasPrefix(id, "BNLGRO") {
		t.Fatalf("fallback id must keep the category prefix, got %s", id)
	}
	if id == "BNLGRO000001" {
		t.Fatal("fallback must not pretend to be a sequence value")
	}
}
