package domain

import "testing"

func TestProductApplyDelta(t *testing.T) {
	product := &Product{ID: "product-1", Name: "товар", Stock: 0}

	record := product.ApplyDelta(10, RecordReasonInitialStock, "")
	if product.Stock != 10 {
		t.Fatalf("expected stock 10, got %d", product.Stock)
	}
	if product.IsSoldOut {
		t.Fatal("product with positive stock should not be sold out")
	}
	if record.Delta != 10 || record.Reason != RecordReasonInitialStock {
		t.Fatalf("unexpected record: %+v", record)
	}

	record = product.ApplyDelta(-10, RecordReasonReservation, "order-1")
	if product.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", product.Stock)
	}
	if !product.IsSoldOut {
		t.Fatal("product with zero stock should be sold out")
	}
	if record.OrderID != "order-1" {
		t.Fatalf("expected record bound to order, got %+v", record)
	}

	// Журнал допускает уход в минус, sold out сохраняется
	product.ApplyDelta(-3, RecordReasonAdjustment, "")
	if product.Stock != -3 || !product.IsSoldOut {
		t.Fatalf("expected negative stock to stay sold out, got stock=%d soldOut=%v",
			product.Stock, product.IsSoldOut)
	}

	product.ApplyDelta(5, RecordReasonCompensation, "order-1")
	if product.Stock != 2 || product.IsSoldOut {
		t.Fatalf("expected stock 2 and not sold out, got stock=%d soldOut=%v",
			product.Stock, product.IsSoldOut)
	}
}

func TestProductValidateInvariants(t *testing.T) {
	product := Product{Name: "товар", PriceMinor: 100}
	if errs := product.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("valid product should pass, got %v", errs)
	}

	product = Product{PriceMinor: -1}
	errs := product.ValidateInvariants()
	if len(errs) != 2 {
		t.Fatalf("expected 2 violations, got %v", errs)
	}
}
