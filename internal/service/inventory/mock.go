package inventory

import (
	"context"
	"sync"

	"github.com/smartbag/commerce/internal/domain"
)

// MockCoordinator — конфигурируемая заглушка InventoryCoordinator для тестов.
type MockCoordinator struct {
	ReserveErr error
	HoldErr    error

	mu               sync.Mutex
	ReserveCalls     int
	CompensateCalls  int
	HoldCalls        int
	ReleaseCalls     int
	CompensatedItems [][]domain.OrderItem
}

// NewMockCoordinator возвращает mock с успешным сценарием по умолчанию.
func NewMockCoordinator() *MockCoordinator {
	return &MockCoordinator{}
}

// ReserveAndDecrement возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockCoordinator) ReserveAndDecrement(_ context.Context, _ string, _ []domain.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReserveCalls++
	return m.ReserveErr
}

// Compensate запоминает компенсированные позиции.
func (m *MockCoordinator) Compensate(_ context.Context, items []domain.OrderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompensateCalls++
	m.CompensatedItems = append(m.CompensatedItems, items)
}

// HoldStock возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockCoordinator) HoldStock(_ context.Context, _ string, _ []domain.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HoldCalls++
	return m.HoldErr
}

// ReleaseReservation считает вызовы.
func (m *MockCoordinator) ReleaseReservation(_ context.Context, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReleaseCalls++
}

var _ domain.InventoryCoordinator = (*MockCoordinator)(nil)
