package engine

import (
	"context"
	"testing"

	"github.com/coachpo/trolley/errs"
	"github.com/coachpo/trolley/internal/domain/cart"
	"github.com/coachpo/trolley/internal/domain/cartstore"
	"github.com/coachpo/trolley/internal/infra/gateway/memory"
)

func TestMigrateGuestCartMovesAndMerges(t *testing.T) {
	ctx := context.Background()
	gw := memory.New()

	add := func(session, product string, qty int, v cart.VariantSelection) {
		t.Helper()
		if _, err := gw.AddLine(ctx, cartstore.NewLine{
			SessionKey: session,
			ProductID:  product,
			Quantity:   qty,
			UnitPrice:  price(10),
			Variant:    v,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	add("guest-1", "p1", 2, cart.VariantSelection{Color: "red"})
	add("guest-1", "p2", 1, cart.VariantSelection{})
	// The destination already holds the same logical p1 item.
	add("acct:acc-1", "p1", 3, cart.VariantSelection{Color: "red"})

	if err := MigrateGuestCart(ctx, gw, "guest-1", "acct:acc-1"); err != nil {
		t.Fatalf("MigrateGuestCart: %v", err)
	}

	dest, err := gw.ListLines(ctx, "acct:acc-1")
	if err != nil {
		t.Fatalf("ListLines dest: %v", err)
	}
	if len(dest) != 2 {
		t.Fatalf("destination rows = %+v, want merged p1 plus p2", dest)
	}
	byProduct := map[string]int{}
	for _, r := range dest {
		byProduct[r.ProductID] = r.Quantity
	}
	if byProduct["p1"] != 5 || byProduct["p2"] != 1 {
		t.Fatalf("destination quantities = %v, want p1=5 p2=1", byProduct)
	}

	src, err := gw.ListLines(ctx, "guest-1")
	if err != nil {
		t.Fatalf("ListLines source: %v", err)
	}
	if len(src) != 0 {
		t.Fatalf("source cart not cleared: %+v", src)
	}
}

func TestMigrateGuestCartValidatesKeys(t *testing.T) {
	ctx := context.Background()
	gw := memory.New()

	for _, tc := range [][2]string{{"", "acct:a"}, {"guest-1", ""}, {"same", "same"}} {
		err := MigrateGuestCart(ctx, gw, tc[0], tc[1])
		if errs.CodeOf(err) != errs.CodeInvalid {
			t.Fatalf("MigrateGuestCart(%q, %q) = %v, want invalid_request", tc[0], tc[1], err)
		}
	}
}

func TestMigrateGuestCartEmptySource(t *testing.T) {
	ctx := context.Background()
	gw := memory.New()
	if err := MigrateGuestCart(ctx, gw, "guest-empty", "acct:acc-1"); err != nil {
		t.Fatalf("empty migration: %v", err)
	}
}
