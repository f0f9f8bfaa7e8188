package cache

import (
	"fmt"
	"time"
)

// Времена жизни кешевых записей по виду данных. Сток намеренно живёт
// секунды: авторитетное значение всегда в документном хранилище, кеш лишь
// гасит пики чтений.
const (
	TTLUserCart      = 30 * time.Minute
	TTLUserOrders    = 15 * time.Minute
	TTLOrderDetail   = 15 * time.Minute
	TTLCategories    = 2 * time.Hour
	TTLStockLevel    = 30 * time.Second
	TTLReservedStock = 30 * time.Minute
)

// KeyUserCart — ключ корзины пользователя.
func KeyUserCart(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

// KeyUserOrders — ключ страницы списка заказов пользователя.
func KeyUserOrders(userID string, page int) string {
	return fmt.Sprintf("order:%s:page%d", userID, page)
}

// KeyOrderDetail — ключ детали заказа.
func KeyOrderDetail(orderID string) string {
	return fmt.Sprintf("order:detail:%s", orderID)
}

// KeyStockLevel — ключ кешированного уровня стока товара.
func KeyStockLevel(productID string) string {
	return fmt.Sprintf("inventory:stock:%s", productID)
}

// KeyReservedStock — ключ суммарного зарезервированного количества товара.
func KeyReservedStock(productID string) string {
	return fmt.Sprintf("inventory:reserved:%s", productID)
}

// KeyReservation — ключ резервации стока под конкретный заказ.
func KeyReservation(orderID string) string {
	return fmt.Sprintf("inventory:reservation:%s", orderID)
}

// KeyProductSequence — ключ счётчика для генерации идентификаторов товаров категории.
func KeyProductSequence(category string) string {
	return fmt.Sprintf("idgen:product:%s", category)
}
