package domain_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/smartbag/commerce/internal/domain"
)

func TestInsufficientStockError_Message(t *testing.T) {
	err := &domain.InsufficientStockError{
		Shortfalls: []domain.StockShortfall{
			{ProductID: "BNLGROC000001", Requested: 10, Available: 3},
			{ProductID: "BNLGROC000002", Requested: 2, Available: 0},
		},
	}

	msg := err.Error()
	if !strings.Contains(msg, "BNLGROC000001: only 3 available (requested 10)") {
		t.Fatalf("unexpected message: %s", msg)
	}
	if !strings.Contains(msg, "BNLGROC000002") {
		t.Fatalf("second shortfall missing from message: %s", msg)
	}
}

func TestIsInsufficientStock(t *testing.T) {
	err := &domain.InsufficientStockError{
		Shortfalls: []domain.StockShortfall{{ProductID: "p1", Requested: 1, Available: 0}},
	}

	wrapped := fmt.Errorf("place order: %w", err)
	if !domain.IsInsufficientStock(wrapped) {
		t.Fatal("expected wrapped error to be recognized")
	}
	if domain.IsInsufficientStock(errors.New("other")) {
		t.Fatal("unrelated error must not match")
	}

	var target *domain.InsufficientStockError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As must extract the structured error")
	}
	if target.Shortfalls[0].ProductID != "p1" {
		t.Fatalf("shortfall detail lost: %+v", target.Shortfalls)
	}
}

func TestTransientStoreError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &domain.TransientStoreError{Op: "update_one", Collection: domain.CollectionProducts, Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap to expose the cause")
	}
	if !domain.IsTransientStoreError(fmt.Errorf("wrap: %w", err)) {
		t.Fatal("expected wrapped transient error to be recognized")
	}
	if !strings.Contains(err.Error(), "update_one products") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestReservationDocumentRoundTrip(t *testing.T) {
	res := domain.Reservation{
		OrderID: "ORD20250101ABC234",
		Items: []domain.ReservationItem{
			{ProductID: "BNLGROC000001", Quantity: 2},
		},
	}

	restored := domain.ReservationFromDocument(res.Document())
	if restored.OrderID != res.OrderID {
		t.Fatalf("order id mismatch: %s", restored.OrderID)
	}
	if len(restored.Items) != 1 || restored.Items[0] != res.Items[0] {
		t.Fatalf("items mismatch: %+v", restored.Items)
	}
}
