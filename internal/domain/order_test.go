package domain_test

import (
	"testing"
	"time"

	"github.com/smartbag/commerce/internal/domain"
)

func validOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:     "ORD20250101ABC234",
		UserID: "USR20250101XYZ789",
		Items: []domain.OrderItem{
			{ProductID: "BNLGROC000001", Quantity: 2, PriceMinor: 4500},
		},
		Status: domain.OrderStatusPreparing,
		StatusHistory: []domain.StatusChange{
			{Status: domain.OrderStatusPreparing, ChangedAt: now, ChangedBy: "Customer", Message: "Order placed successfully"},
		},
		DeliveryAddress: domain.DeliveryAddress{Address: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001"},
		SubtotalMinor:   9000,
		TotalMinor:      9000,
		PaymentStatus:   domain.PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestCanTransition_ForwardChain(t *testing.T) {
	chain := []domain.OrderStatus{
		domain.OrderStatusPreparing,
		domain.OrderStatusAssigning,
		domain.OrderStatusAssigned,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusArrived,
		domain.OrderStatusDelivered,
	}
	for i := 0; i < len(chain)-1; i++ {
		if !domain.CanTransition(chain[i], chain[i+1]) {
			t.Errorf("expected %s -> %s to be allowed", chain[i], chain[i+1])
		}
	}
	if domain.CanTransition(domain.OrderStatusPreparing, domain.OrderStatusDelivered) {
		t.Error("preparing -> delivered must not skip the chain")
	}
}

func TestCanTransition_AbsorbingStates(t *testing.T) {
	preDelivered := []domain.OrderStatus{
		domain.OrderStatusPreparing,
		domain.OrderStatusAssigning,
		domain.OrderStatusAssigned,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusArrived,
	}
	for _, from := range preDelivered {
		if !domain.CanTransition(from, domain.OrderStatusCancelled) {
			t.Errorf("expected %s -> cancelled to be allowed", from)
		}
		if !domain.CanTransition(from, domain.OrderStatusRefunded) {
			t.Errorf("expected %s -> refunded to be allowed", from)
		}
	}

	for _, terminal := range []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusRefunded} {
		if domain.CanTransition(terminal, domain.OrderStatusCancelled) {
			t.Errorf("terminal status %s must be absorbing", terminal)
		}
		if domain.CanTransition(terminal, domain.OrderStatusAssigning) {
			t.Errorf("terminal status %s must not transition forward", terminal)
		}
	}
}

func TestAppendStatusChange_AppendOnly(t *testing.T) {
	order := validOrder()
	first := order.StatusHistory[0]

	order.AppendStatusChange(domain.StatusChange{
		Status:    domain.OrderStatusAssigning,
		ChangedAt: time.Now().UTC(),
		ChangedBy: "DLP20250101PQR456",
		Message:   "partner accepted the order",
	})

	if len(order.StatusHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(order.StatusHistory))
	}
	if order.Status != domain.OrderStatusAssigning {
		t.Fatalf("expected status assigning, got %s", order.Status)
	}
	if order.StatusHistory[0] != first {
		t.Fatal("existing history entry must not change")
	}
}

func TestValidateInvariants(t *testing.T) {
	order := validOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("valid order reported errors: %v", errs)
	}

	broken := validOrder()
	broken.UserID = ""
	broken.Items = nil
	broken.TotalMinor = 0
	broken.DeliveryAddress = domain.DeliveryAddress{}

	errs := broken.ValidateInvariants()
	if len(errs) != 4 {
		t.Fatalf("expected 4 invariant errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateInvariants_ItemChecks(t *testing.T) {
	order := validOrder()
	order.Items = []domain.OrderItem{{ProductID: "BNLGROC000001", Quantity: 0, PriceMinor: -1}}

	errs := order.ValidateInvariants()
	if len(errs) != 2 {
		t.Fatalf("expected qty and price errors, got %v", errs)
	}
}

func TestOrderDocumentRoundTrip(t *testing.T) {
	order := validOrder()
	order.AcceptedPartners = []string{"DLP20250101PQR456"}
	order.PromoCode = "WELCOME50"
	order.PromoDiscountMinor = 500

	restored := domain.OrderFromDocument(order.Document())

	if restored.ID != order.ID || restored.UserID != order.UserID {
		t.Fatalf("identity mismatch: %+v", restored)
	}
	if len(restored.Items) != 1 || restored.Items[0] != order.Items[0] {
		t.Fatalf("items mismatch: %+v", restored.Items)
	}
	if len(restored.StatusHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(restored.StatusHistory))
	}
	if restored.StatusHistory[0].Status != domain.OrderStatusPreparing {
		t.Fatalf("history status mismatch: %+v", restored.StatusHistory[0])
	}
	if !restored.CreatedAt.Equal(order.CreatedAt.Truncate(time.Nanosecond)) {
		t.Fatalf("created_at mismatch: %s vs %s", restored.CreatedAt, order.CreatedAt)
	}
	if restored.PromoCode != "WELCOME50" || restored.PromoDiscountMinor != 500 {
		t.Fatalf("promo mismatch: %+v", restored)
	}
	if len(restored.AcceptedPartners) != 1 || restored.AcceptedPartners[0] != "DLP20250101PQR456" {
		t.Fatalf("accepted partners mismatch: %v", restored.AcceptedPartners)
	}
}
