package cartstore

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coachpo/trolley/errs"
	"github.com/coachpo/trolley/internal/domain/cart"
)

func TestNewLineValidate(t *testing.T) {
	valid := NewLine{
		SessionKey: "guest-1",
		ProductID:  "p1",
		Quantity:   2,
		UnitPrice:  decimal.NewFromInt(5),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid submission rejected: %v", err)
	}

	cases := []struct {
		name string

		mutate func(*NewLine)
	}{
		{"missing session", func(n *NewLine) { n.SessionKey = " " }},
		{"missing product", func(n *NewLine) { n.ProductID = "" }},
		{"zero quantity", func(n *NewLine) { n.Quantity = 0 }},
		{"negative price", func(n *NewLine) { n.UnitPrice = decimal.NewFromInt(-1) }},
	}
	for _, tc := range cases {
		n := valid
		tc.mutate(&n)
		err := n.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if errs.CodeOf(err) != errs.CodeInvalid {
			t.Fatalf("%s: code = %q, want invalid_request", tc.name, errs.CodeOf(err))
		}
	}
}

func TestRowValidateRoundTrip(t *testing.T) {
	row := Row{
		ID:         "srv-1",
		SessionKey: "guest-1",
		ProductID:  "p1",
		Quantity:   3,
		UnitPrice:  "19.99",
		Variant:    cart.VariantSelection{Color: "red", Size: "M"},
		Notes:      "gift",
	}
	ln, err := row.Validate()
	if err != nil {
		t.Fatalf("valid row rejected: %v", err)
	}
	if !ln.UnitPrice.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("price = %s", ln.UnitPrice)
	}
	back := RowFromLine(ln)
	if back.ID != row.ID || back.UnitPrice != "19.99" || back.Variant != row.Variant {
		t.Fatalf("round-trip mismatch: %+v", back)
	}
}

func TestRowValidateRejectsMalformed(t *testing.T) {
	base := Row{ID: "srv-1", SessionKey: "guest-1", ProductID: "p1", Quantity: 1, UnitPrice: "1"}

	for name, mutate := range map[string]func(*Row){
		"missing id":       func(r *Row) { r.ID = "" },
		"missing session":  func(r *Row) { r.SessionKey = "" },
		"missing product":  func(r *Row) { r.ProductID = "" },
		"zero quantity":    func(r *Row) { r.Quantity = 0 },
		"garbage price":    func(r *Row) { r.UnitPrice = "not-a-number" },
		"negative qty row": func(r *Row) { r.Quantity = -2 },
	} {
		r := base
		mutate(&r)
		if _, err := r.Validate(); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}
