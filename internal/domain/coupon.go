package domain

// Coupon — промокод с ограниченным числом применений. Списание применения
// выполняется только условным декрементом: usage_limit не уходит в минус.
type Coupon struct {
	Code          string
	DiscountMinor int64
	UsageLimit    int64
	IsActive      bool
}

// Usable сообщает, можно ли применить промокод к новому заказу.
func (c Coupon) Usable() bool {
	return c.IsActive && c.UsageLimit > 0
}

// Document сериализует промокод в документ хранилища.
func (c Coupon) Document() Document {
	return Document{
		"code":           c.Code,
		"discount_minor": c.DiscountMinor,
		"usage_limit":    c.UsageLimit,
		"is_active":      c.IsActive,
	}
}

// CouponFromDocument восстанавливает промокод из документа хранилища.
func CouponFromDocument(doc Document) Coupon {
	return Coupon{
		Code:          asString(doc["code"]),
		DiscountMinor: asInt64(doc["discount_minor"]),
		UsageLimit:    asInt64(doc["usage_limit"]),
		IsActive:      asBool(doc["is_active"]),
	}
}
