package codec

import (
	"math"
	"testing"
)

func TestEncodeDecode_JSONDocument(t *testing.T) {
	value := map[string]any{
		"order_id": "ORD20250101ABC234",
		"total":    float64(9000),
		"items":    []any{map[string]any{"product_id": "p1", "quantity": float64(2)}},
	}

	data, err := Encode(value)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[0] != prefixJSON {
		t.Fatalf("expected JSON prefix, got 0x%02x", data[0])
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", decoded)
	}
	if doc["order_id"] != "ORD20250101ABC234" || doc["total"] != float64(9000) {
		t.Fatalf("round trip mismatch: %v", doc)
	}
}

func TestEncodeDecode_GobFallback(t *testing.T) {
	// JSON не умеет представлять бесконечность, значение должно уйти в gob.
	value := map[string]any{"score": math.Inf(1)}

	data, err := Encode(value)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[0] != prefixGob {
		t.Fatalf("expected gob prefix, got 0x%02x", data[0])
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", decoded)
	}
	if !math.IsInf(doc["score"].(float64), 1) {
		t.Fatalf("gob round trip mismatch: %v", doc)
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("empty payload must fail")
	}
	if _, err := Decode([]byte{0x00, 0x01}); err == nil {
		t.Fatal("unknown prefix must fail")
	}
	if _, err := Decode([]byte{prefixJSON, '{'}); err == nil {
		t.Fatal("truncated JSON must fail")
	}
}
