package domain

// Product описывает товар каталога. Запись создаётся и редактируется внешней
// системой управления каталогом; ядро мутирует только поле stock, и только
// через атомарные условные обновления координатора.
type Product struct {
	ID   string
	Name string
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Stock — авторитетное доступное количество. Инвариант: Stock >= 0 всегда.
	Stock int64
	// ReservedStock — количество, удержанное под незавершённые заказы.
	// Значение advisory и живёт в кеше; хранилище его не защищает.
	ReservedStock int64
	IsActive      bool
}

// Document сериализует товар в документ хранилища.
func (p Product) Document() Document {
	return Document{
		"id":             p.ID,
		"name":           p.Name,
		"price_minor":    p.PriceMinor,
		"stock":          p.Stock,
		"reserved_stock": p.ReservedStock,
		"is_active":      p.IsActive,
	}
}

// ProductFromDocument восстанавливает товар из документа хранилища.
func ProductFromDocument(doc Document) Product {
	return Product{
		ID:            asString(doc["id"]),
		Name:          asString(doc["name"]),
		PriceMinor:    asInt64(doc["price_minor"]),
		Stock:         asInt64(doc["stock"]),
		ReservedStock: asInt64(doc["reserved_stock"]),
		IsActive:      asBool(doc["is_active"]),
	}
}
