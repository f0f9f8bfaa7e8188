package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/smartbag/commerce/internal/domain"
)

// DocumentStore — in-memory реализация domain.DocumentStore для локальной
// разработки и тестов. Каждая операция выполняется под общим мьютексом,
// поэтому условные обновления атомарны относительно конкурентных вызовов —
// то же свойство, которое в продакшене даёт документная БД.
type DocumentStore struct {
	mu          sync.RWMutex
	collections map[string][]domain.Document
}

// NewDocumentStore создаёт пустое in-memory хранилище.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{collections: make(map[string][]domain.Document)}
}

// FindOne возвращает копию первого подходящего документа или nil.
func (s *DocumentStore) FindOne(_ context.Context, collection string, filter domain.Filter) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.collections[collection] {
		if matchFilter(doc, filter) {
			return deepCopyDocument(doc), nil
		}
	}
	return nil, nil
}

// FindMany возвращает копии документов по фильтру с сортировкой и пагинацией.
func (s *DocumentStore) FindMany(_ context.Context, collection string, filter domain.Filter, opts domain.FindOptions) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Document
	for _, doc := range s.collections[collection] {
		if matchFilter(doc, filter) {
			result = append(result, deepCopyDocument(doc))
		}
	}

	for i := len(opts.Sort) - 1; i >= 0; i-- {
		field := opts.Sort[i]
		sort.SliceStable(result, func(a, b int) bool {
			cmp := compareValues(result[a][field.Key], result[b][field.Key])
			if field.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if opts.Skip > 0 {
		if opts.Skip >= int64(len(result)) {
			return nil, nil
		}
		result = result[opts.Skip:]
	}
	if opts.Limit > 0 && int64(len(result)) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// InsertOne сохраняет копию документа, назначая внутренний _id при отсутствии.
func (s *DocumentStore) InsertOne(_ context.Context, collection string, doc domain.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := deepCopyDocument(doc)
	id, _ := stored["_id"].(string)
	if id == "" {
		id = uuid.NewString()
		stored["_id"] = id
	}
	s.collections[collection] = append(s.collections[collection], stored)
	return id, nil
}

// UpdateOne применяет обновление к первому подходящему документу. Проверка
// фильтра и мутация происходят под одним захватом мьютекса: окно гонки между
// чтением предиката и записью закрыто.
func (s *DocumentStore) UpdateOne(_ context.Context, collection string, filter domain.Filter, update domain.Update) (domain.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range s.collections[collection] {
		if matchFilter(doc, filter) {
			if err := applyUpdate(doc, update); err != nil {
				return domain.UpdateResult{}, err
			}
			return domain.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	return domain.UpdateResult{}, nil
}

// UpdateMany применяет обновление ко всем подходящим документам.
func (s *DocumentStore) UpdateMany(_ context.Context, collection string, filter domain.Filter, update domain.Update) (domain.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result domain.UpdateResult
	for _, doc := range s.collections[collection] {
		if matchFilter(doc, filter) {
			if err := applyUpdate(doc, update); err != nil {
				return result, err
			}
			result.MatchedCount++
			result.ModifiedCount++
		}
	}
	return result, nil
}

// DeleteOne удаляет первый подходящий документ.
func (s *DocumentStore) DeleteOne(_ context.Context, collection string, filter domain.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	for i, doc := range docs {
		if matchFilter(doc, filter) {
			s.collections[collection] = append(docs[:i], docs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

// DeleteMany удаляет все подходящие документы.
func (s *DocumentStore) DeleteMany(_ context.Context, collection string, filter domain.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []domain.Document
	var deleted int64
	for _, doc := range s.collections[collection] {
		if matchFilter(doc, filter) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	s.collections[collection] = kept
	return deleted, nil
}

// CountDocuments возвращает число документов по фильтру.
func (s *DocumentStore) CountDocuments(_ context.Context, collection string, filter domain.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, doc := range s.collections[collection] {
		if matchFilter(doc, filter) {
			count++
		}
	}
	return count, nil
}

// Aggregate поддерживает подмножество стадий, которое использует ядро:
// $match, $sort, $skip, $limit, $count.
func (s *DocumentStore) Aggregate(ctx context.Context, collection string, pipeline []domain.Document) ([]domain.Document, error) {
	s.mu.RLock()
	result := make([]domain.Document, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		result = append(result, deepCopyDocument(doc))
	}
	s.mu.RUnlock()

	for _, stage := range pipeline {
		for op, raw := range stage {
			switch op {
			case "$match":
				filter, _ := raw.(map[string]any)
				var filtered []domain.Document
				for _, doc := range result {
					if matchFilter(doc, filter) {
						filtered = append(filtered, doc)
					}
				}
				result = filtered
			case "$sort":
				spec, _ := raw.(map[string]any)
				for key, dir := range spec {
					desc := toInt64(dir) < 0
					k := key
					sort.SliceStable(result, func(a, b int) bool {
						cmp := compareValues(result[a][k], result[b][k])
						if desc {
							return cmp > 0
						}
						return cmp < 0
					})
				}
			case "$skip":
				n := toInt64(raw)
				if n >= int64(len(result)) {
					result = nil
				} else if n > 0 {
					result = result[n:]
				}
			case "$limit":
				n := toInt64(raw)
				if n > 0 && int64(len(result)) > n {
					result = result[:n]
				}
			case "$count":
				name, _ := raw.(string)
				result = []domain.Document{{name: int64(len(result))}}
			default:
				return nil, fmt.Errorf("unsupported aggregation stage: %s", op)
			}
		}
	}
	return result, nil
}

// matchFilter проверяет документ против фильтра в словаре операторов.
func matchFilter(doc domain.Document, filter domain.Filter) bool {
	for key, expected := range filter {
		actual := doc[key]
		if ops, ok := expected.(map[string]any); ok && hasOperator(ops) {
			if !matchOperators(actual, ops) {
				return false
			}
			continue
		}
		if compareValues(actual, expected) != 0 {
			return false
		}
	}
	return true
}

func matchOperators(actual any, ops map[string]any) bool {
	for op, arg := range ops {
		switch op {
		case "$in":
			if !containsValue(arg, actual) {
				return false
			}
		case "$nin":
			if containsValue(arg, actual) {
				return false
			}
		case "$gte":
			if compareValues(actual, arg) < 0 {
				return false
			}
		case "$gt":
			if compareValues(actual, arg) <= 0 {
				return false
			}
		case "$lte":
			if compareValues(actual, arg) > 0 {
				return false
			}
		case "$lt":
			if compareValues(actual, arg) >= 0 {
				return false
			}
		case "$ne":
			if compareValues(actual, arg) == 0 {
				return false
			}
		case "$exists":
			want, _ := arg.(bool)
			if (actual != nil) != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func containsValue(list any, value any) bool {
	items, ok := list.([]any)
	if !ok {
		switch typed := list.(type) {
		case []string:
			for _, item := range typed {
				items = append(items, item)
			}
		default:
			return false
		}
	}
	for _, item := range items {
		if compareValues(item, value) == 0 {
			return true
		}
	}
	return false
}

// applyUpdate мутирует документ на месте. Словарь без операторов
// трактуется как $set целиком, как делает обёртка над драйвером.
func applyUpdate(doc domain.Document, update domain.Update) error {
	if !hasOperator(update) {
		update = domain.Update{"$set": map[string]any(update)}
	}

	for op, raw := range update {
		fields, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("update operator %s requires a document argument", op)
		}
		switch op {
		case "$set":
			for key, value := range fields {
				doc[key] = deepCopyValue(value)
			}
		case "$inc":
			for key, value := range fields {
				doc[key] = toInt64(doc[key]) + toInt64(value)
			}
		case "$push":
			for key, value := range fields {
				list, _ := doc[key].([]any)
				doc[key] = append(list, deepCopyValue(value))
			}
		case "$addToSet":
			for key, value := range fields {
				list, _ := doc[key].([]any)
				exists := false
				for _, item := range list {
					if compareValues(item, value) == 0 {
						exists = true
						break
					}
				}
				if !exists {
					doc[key] = append(list, deepCopyValue(value))
				}
			}
		case "$unset":
			for key := range fields {
				delete(doc, key)
			}
		default:
			return fmt.Errorf("unsupported update operator: %s", op)
		}
	}
	return nil
}

func hasOperator(m map[string]any) bool {
	for key := range m {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}

// compareValues сравнивает значения документов: -1/0/1. Числа сравниваются
// с приведением типов, остальное — по строковому/булевому равенству.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if isNumeric(a) && isNumeric(b) {
		av, bv := toFloat64(a), toFloat64(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	ab, aok2 := a.(bool)
	bb, bok2 := b.(bool)
	if aok2 && bok2 {
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

func deepCopyDocument(doc domain.Document) domain.Document {
	copied := make(domain.Document, len(doc))
	for key, value := range doc {
		copied[key] = deepCopyValue(value)
	}
	return copied
}

func deepCopyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return deepCopyDocument(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, item := range typed {
			copied[i] = deepCopyValue(item)
		}
		return copied
	default:
		return v
	}
}

var _ domain.DocumentStore = (*DocumentStore)(nil)
