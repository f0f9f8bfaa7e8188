package domain

import "time"

// MaxCartItemQuantity ограничивает количество одного товара в корзине.
const MaxCartItemQuantity = 10

// CartItem — одна позиция корзины.
type CartItem struct {
	ID        string
	ProductID string
	Quantity  int64
	AddedAt   time.Time
	UpdatedAt time.Time
}

// Cart — корзина пользователя. Инвариант: не более одного документа корзины
// на пользователя. Корзина создаётся лениво при первом добавлении и очищается
// (не удаляется) при успешном размещении заказа.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// Document сериализует корзину в документ хранилища.
func (c Cart) Document() Document {
	items := make([]any, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, Document{
			"id":         item.ID,
			"product_id": item.ProductID,
			"quantity":   item.Quantity,
			"added_at":   item.AddedAt.UTC().Format(timeLayout),
			"updated_at": item.UpdatedAt.UTC().Format(timeLayout),
		})
	}
	return Document{
		"user":       c.UserID,
		"items":      items,
		"updated_at": c.UpdatedAt.UTC().Format(timeLayout),
	}
}

// CartFromDocument восстанавливает корзину из документа хранилища.
func CartFromDocument(doc Document) Cart {
	cart := Cart{
		UserID:    asString(doc["user"]),
		UpdatedAt: asTime(doc["updated_at"]),
	}
	for _, raw := range asSlice(doc["items"]) {
		item := asDocument(raw)
		if item == nil {
			continue
		}
		cart.Items = append(cart.Items, CartItem{
			ID:        asString(item["id"]),
			ProductID: asString(item["product_id"]),
			Quantity:  asInt64(item["quantity"]),
			AddedAt:   asTime(item["added_at"]),
			UpdatedAt: asTime(item["updated_at"]),
		})
	}
	return cart
}
