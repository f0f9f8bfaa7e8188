package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка неполного адреса доставки.
	ErrDeliveryAddressRequired = errors.New("delivery address is required")
	// Ошибка неположительной итоговой суммы заказа.
	ErrTotalAmountInvalid = errors.New("total amount must be positive")
	// ErrInvalidOrderInput объединяет все ошибки валидации входных данных размещения.
	ErrInvalidOrderInput = errors.New("invalid order input")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound — товар из заказа отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductUnavailable — товар деактивирован (возможно, конкурентно с размещением).
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrCartNotFound — у пользователя нет корзины.
	ErrCartNotFound = errors.New("cart not found")
	// ErrInvalidStatusTransition — запрошенный переход статуса запрещён машиной состояний.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrOrderAlreadyAssigned — заказ уже закреплён за другим партнёром доставки.
	ErrOrderAlreadyAssigned = errors.New("order already assigned to another delivery partner")
	// ErrPartnerAlreadyAccepted — партнёр уже откликался на этот заказ.
	ErrPartnerAlreadyAccepted = errors.New("delivery partner already accepted this order")
	// ErrPartnerNotAssigned — действие доступно только закреплённому партнёру.
	ErrPartnerNotAssigned = errors.New("delivery partner is not assigned to this order")
	// ErrTaskNotFound — задача пост-коммитного эффекта отсутствует в очереди.
	ErrTaskNotFound = errors.New("side-effect task not found")
)

// StockShortfall описывает нехватку стока по одной позиции заказа.
type StockShortfall struct {
	ProductID string
	Requested int64
	// Available — сток на момент повторного чтения после неудачного декремента.
	// Значение best-effort: при высокой конкуренции оно может устареть к моменту
	// доставки ошибки клиенту.
	Available int64
}

// InsufficientStockError перечисляет все позиции, по которым не хватило стока.
// Координатор собирает полный список за один проход, а не останавливается на
// первой неудаче, чтобы клиент мог скорректировать весь заказ без второго запроса.
// Unavailable перечисляет товары, пропавшие из каталога или деактивированные:
// они не выражаются нехваткой, но клиент должен узнать о них тем же ответом.
type InsufficientStockError struct {
	Shortfalls  []StockShortfall
	Unavailable []string
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s: only %d available (requested %d)", s.ProductID, s.Available, s.Requested))
	}
	msg := "insufficient stock: " + strings.Join(parts, "; ")
	if len(e.Unavailable) > 0 {
		msg += "; unavailable: " + strings.Join(e.Unavailable, ", ")
	}
	return msg
}

// IsInsufficientStock проверяет, является ли ошибка нехваткой стока.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// TransientStoreError сигнализирует, что атомарное обновление не удалось выполнить
// из-за недоступности хранилища. Вызвавшая сторона может повторить размещение целиком:
// компенсация уже выполненных декрементов производится до возврата этой ошибки.
type TransientStoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsTransientStoreError проверяет, является ли ошибка временной ошибкой хранилища.
func IsTransientStoreError(err error) bool {
	var target *TransientStoreError
	return errors.As(err, &target)
}
