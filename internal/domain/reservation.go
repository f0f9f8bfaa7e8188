package domain

import "time"

// ReservationTTL ограничивает время жизни кешевой резервации: брошенный
// checkout освобождает удержанный сток истечением записи, без ручной очистки.
const ReservationTTL = 30 * time.Minute

// ReservationItem — удержанное количество по одному товару.
type ReservationItem struct {
	ProductID string
	Quantity  int64
}

// Reservation — эфемерная кешевая запись об удержании стока под заказ,
// который ещё не закоммичен. Живёт только в кеше и не является источником
// истины для решения о декременте.
type Reservation struct {
	OrderID   string
	Items     []ReservationItem
	CreatedAt time.Time
}

// Document сериализует резервацию для записи в кеш.
func (r Reservation) Document() Document {
	items := make([]any, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, Document{
			"product_id": item.ProductID,
			"quantity":   item.Quantity,
		})
	}
	return Document{
		"order_id":   r.OrderID,
		"items":      items,
		"created_at": r.CreatedAt.UTC().Format(timeLayout),
	}
}

// ReservationFromDocument восстанавливает резервацию из кешевого значения.
func ReservationFromDocument(doc Document) Reservation {
	res := Reservation{
		OrderID:   asString(doc["order_id"]),
		CreatedAt: asTime(doc["created_at"]),
	}
	for _, raw := range asSlice(doc["items"]) {
		item := asDocument(raw)
		if item == nil {
			continue
		}
		res.Items = append(res.Items, ReservationItem{
			ProductID: asString(item["product_id"]),
			Quantity:  asInt64(item["quantity"]),
		})
	}
	return res
}
