package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPreparing — заказ размещён, магазин собирает его.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusAssigning — партнёры доставки откликаются на заказ.
	OrderStatusAssigning OrderStatus = "assigning"
	// OrderStatusAssigned — заказ закреплён за конкретным партнёром.
	OrderStatusAssigned OrderStatus = "assigned"
	// OrderStatusOutForDelivery — партнёр забрал заказ и едет к клиенту.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusArrived — партнёр на месте.
	OrderStatusArrived OrderStatus = "arrived"
	// OrderStatusDelivered — заказ вручён. Терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён до вручения. Терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — по заказу выполнен возврат. Терминальный статус.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentStatus отражает состояние оплаты заказа; меняется платёжными колбэками.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// validNext задаёт прямую цепочку доставки. Отмена и возврат обрабатываются
// отдельно в CanTransition: они достижимы из любого статуса до delivered.
var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPreparing:      {OrderStatusAssigning: true},
	OrderStatusAssigning:      {OrderStatusAssigning: true, OrderStatusAssigned: true},
	OrderStatusAssigned:       {OrderStatusOutForDelivery: true, OrderStatusDelivered: true},
	OrderStatusOutForDelivery: {OrderStatusArrived: true, OrderStatusDelivered: true},
	OrderStatusArrived:        {OrderStatusDelivered: true},
	OrderStatusDelivered:      {},
	OrderStatusCancelled:      {},
	OrderStatusRefunded:       {},
}

// IsTerminal сообщает, является ли статус поглощающим.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransition проверяет допустимость перехода статуса.
func CanTransition(from, to OrderStatus) bool {
	if to == OrderStatusCancelled || to == OrderStatusRefunded {
		return !from.IsTerminal()
	}
	return validNext[from][to]
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ProductID string
	Quantity  int64
	// PriceMinor — цена за единицу, зафиксированная в момент размещения.
	PriceMinor int64
}

// DeliveryAddress — адрес доставки заказа.
type DeliveryAddress struct {
	Address string
	City    string
	State   string
	Pincode string
}

// IsResolvable проверяет, заполнены ли обязательные части адреса.
func (a DeliveryAddress) IsResolvable() bool {
	return a.Address != "" && a.City != "" && a.Pincode != ""
}

// StatusChange — одна запись в истории статусов заказа.
type StatusChange struct {
	Status    OrderStatus
	ChangedAt time.Time
	ChangedBy string
	Message   string
}

// Order агрегирует состояние заказа. Заказ никогда не удаляется — только
// переводится между статусами; история статусов только дописывается.
type Order struct {
	ID     string
	UserID string
	Items  []OrderItem
	Status OrderStatus
	// StatusHistory append-only: существующие записи не мутируются.
	StatusHistory      []StatusChange
	DeliveryAddress    DeliveryAddress
	SubtotalMinor      int64
	TotalMinor         int64
	PromoCode          string
	PromoDiscountMinor int64
	// AcceptedPartners — партнёры, откликнувшиеся на заказ до закрепления.
	AcceptedPartners []string
	// DeliveryPartner — закреплённый партнёр; пустая строка до назначения.
	DeliveryPartner string
	PaymentStatus   PaymentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AppendStatusChange добавляет запись в историю и синхронизирует текущий статус.
func (o *Order) AppendStatusChange(change StatusChange) {
	o.Status = change.Status
	o.StatusHistory = append(o.StatusHistory, change)
	o.UpdatedAt = change.ChangedAt
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if !o.DeliveryAddress.IsResolvable() {
		errs = append(errs, ErrDeliveryAddressRequired)
	}
	if o.TotalMinor <= 0 {
		errs = append(errs, ErrTotalAmountInvalid)
	}

	return errs
}

// Document сериализует заказ в документ хранилища. Временные метки хранятся
// строками RFC3339Nano, чтобы формат не зависел от конкретного драйвера.
func (o Order) Document() Document {
	items := make([]any, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, Document{
			"product_id":  item.ProductID,
			"quantity":    item.Quantity,
			"price_minor": item.PriceMinor,
		})
	}
	history := make([]any, 0, len(o.StatusHistory))
	for _, change := range o.StatusHistory {
		history = append(history, statusChangeDocument(change))
	}
	partners := make([]any, 0, len(o.AcceptedPartners))
	for _, p := range o.AcceptedPartners {
		partners = append(partners, p)
	}

	return Document{
		"id":                    o.ID,
		"user":                  o.UserID,
		"items":                 items,
		"order_status":          string(o.Status),
		"status_change_history": history,
		"delivery_address": Document{
			"address": o.DeliveryAddress.Address,
			"city":    o.DeliveryAddress.City,
			"state":   o.DeliveryAddress.State,
			"pincode": o.DeliveryAddress.Pincode,
		},
		"subtotal_minor":       o.SubtotalMinor,
		"total_minor":          o.TotalMinor,
		"promo_code":           o.PromoCode,
		"promo_discount_minor": o.PromoDiscountMinor,
		"accepted_partners":    partners,
		"delivery_partner":     o.DeliveryPartner,
		"payment_status":       string(o.PaymentStatus),
		"created_at":           o.CreatedAt.UTC().Format(timeLayout),
		"updated_at":           o.UpdatedAt.UTC().Format(timeLayout),
	}
}

// Document сериализует запись истории для $push в документ заказа.
func (c StatusChange) Document() Document {
	return statusChangeDocument(c)
}

func statusChangeDocument(change StatusChange) Document {
	return Document{
		"status":     string(change.Status),
		"changed_at": change.ChangedAt.UTC().Format(timeLayout),
		"changed_by": change.ChangedBy,
		"message":    change.Message,
	}
}

// OrderFromDocument восстанавливает заказ из документа хранилища.
func OrderFromDocument(doc Document) Order {
	order := Order{
		ID:                 asString(doc["id"]),
		UserID:             asString(doc["user"]),
		Status:             OrderStatus(asString(doc["order_status"])),
		SubtotalMinor:      asInt64(doc["subtotal_minor"]),
		TotalMinor:         asInt64(doc["total_minor"]),
		PromoCode:          asString(doc["promo_code"]),
		PromoDiscountMinor: asInt64(doc["promo_discount_minor"]),
		DeliveryPartner:    asString(doc["delivery_partner"]),
		PaymentStatus:      PaymentStatus(asString(doc["payment_status"])),
		CreatedAt:          asTime(doc["created_at"]),
		UpdatedAt:          asTime(doc["updated_at"]),
	}

	if addr := asDocument(doc["delivery_address"]); addr != nil {
		order.DeliveryAddress = DeliveryAddress{
			Address: asString(addr["address"]),
			City:    asString(addr["city"]),
			State:   asString(addr["state"]),
			Pincode: asString(addr["pincode"]),
		}
	}

	for _, raw := range asSlice(doc["items"]) {
		item := asDocument(raw)
		if item == nil {
			continue
		}
		order.Items = append(order.Items, OrderItem{
			ProductID:  asString(item["product_id"]),
			Quantity:   asInt64(item["quantity"]),
			PriceMinor: asInt64(item["price_minor"]),
		})
	}
	for _, raw := range asSlice(doc["status_change_history"]) {
		change := asDocument(raw)
		if change == nil {
			continue
		}
		order.StatusHistory = append(order.StatusHistory, StatusChange{
			Status:    OrderStatus(asString(change["status"])),
			ChangedAt: asTime(change["changed_at"]),
			ChangedBy: asString(change["changed_by"]),
			Message:   asString(change["message"]),
		})
	}
	for _, raw := range asSlice(doc["accepted_partners"]) {
		order.AcceptedPartners = append(order.AcceptedPartners, asString(raw))
	}

	return order
}
