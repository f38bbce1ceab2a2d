package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/trolley/errs"
	"github.com/coachpo/trolley/internal/domain/cart"
	"github.com/coachpo/trolley/internal/domain/cartstore"
)

func newLine(session, product string, qty int, v cart.VariantSelection) cartstore.NewLine {
	return cartstore.NewLine{
		SessionKey: session,
		ProductID:  product,
		Quantity:   qty,
		UnitPrice:  decimal.NewFromInt(12),
		Variant:    v,
	}
}

func TestAddLineMergesByIdentityKey(t *testing.T) {
	ctx := context.Background()
	gw := New()

	first, err := gw.AddLine(ctx, newLine("guest-1", "p1", 2, cart.VariantSelection{Color: "red"}))
	if err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	second, err := gw.AddLine(ctx, newLine("guest-1", "p1", 3, cart.VariantSelection{Color: "red"}))
	if err != nil {
		t.Fatalf("AddLine merge: %v", err)
	}
	if first != second {
		t.Fatalf("merge returned new id %q, want %q", second, first)
	}

	rows, err := gw.ListLines(ctx, "guest-1")
	if err != nil {
		t.Fatalf("ListLines: %v", err)
	}
	if len(rows) != 1 || rows[0].Quantity != 5 {
		t.Fatalf("rows = %+v, want one merged row of quantity 5", rows)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	gw := New()
	if _, err := gw.AddLine(ctx, newLine("guest-1", "p1", 1, cart.VariantSelection{})); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	rows, err := gw.ListLines(ctx, "guest-2")
	if err != nil {
		t.Fatalf("ListLines: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("cross-session leak: %+v", rows)
	}
}

func TestUpdateQuantityZeroDeletes(t *testing.T) {
	ctx := context.Background()
	gw := New()
	id, err := gw.AddLine(ctx, newLine("guest-1", "p1", 2, cart.VariantSelection{}))
	if err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if err := gw.UpdateQuantity(ctx, id, 0); err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	rows, _ := gw.ListLines(ctx, "guest-1")
	if len(rows) != 0 {
		t.Fatalf("row survived zero-quantity update: %+v", rows)
	}
	if err := gw.UpdateQuantity(ctx, id, 1); errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("update of deleted row = %v, want not_found", err)
	}
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	gw := New()
	id, _ := gw.AddLine(ctx, newLine("guest-1", "p1", 2, cart.VariantSelection{}))
	gw.AddLine(ctx, newLine("guest-1", "p2", 1, cart.VariantSelection{}))

	if err := gw.RemoveLine(ctx, id); err != nil {
		t.Fatalf("RemoveLine: %v", err)
	}
	rows, _ := gw.ListLines(ctx, "guest-1")
	if len(rows) != 1 || rows[0].ProductID != "p2" {
		t.Fatalf("rows after remove = %+v", rows)
	}

	if err := gw.Clear(ctx, "guest-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	rows, _ = gw.ListLines(ctx, "guest-1")
	if len(rows) != 0 {
		t.Fatalf("rows after clear = %+v", rows)
	}
}

func TestSubscribeFiresOnOwnMutations(t *testing.T) {
	ctx := context.Background()
	gw := New()

	var fired atomic.Int64
	sub, err := gw.Subscribe(ctx, "guest-1", func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := gw.AddLine(ctx, newLine("guest-1", "p1", 1, cart.VariantSelection{})); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	// Notifications for other sessions must not reach this subscriber.
	if _, err := gw.AddLine(ctx, newLine("guest-2", "p1", 1, cart.VariantSelection{})); err != nil {
		t.Fatalf("AddLine: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fired.Load(); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}

	sub.Unsubscribe()
	gw.AddLine(ctx, newLine("guest-1", "p2", 1, cart.VariantSelection{}))
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("notification after unsubscribe: %d", got)
	}
}

func TestFailWith(t *testing.T) {
	ctx := context.Background()
	gw := New()
	boom := errors.New("gateway down")
	gw.FailWith(boom)
	if _, err := gw.AddLine(ctx, newLine("guest-1", "p1", 1, cart.VariantSelection{})); !errors.Is(err, boom) {
		t.Fatalf("AddLine err = %v, want injected failure", err)
	}
	if _, err := gw.ListLines(ctx, "guest-1"); !errors.Is(err, boom) {
		t.Fatalf("ListLines err = %v, want injected failure", err)
	}
	gw.FailWith(nil)
	if _, err := gw.AddLine(ctx, newLine("guest-1", "p1", 1, cart.VariantSelection{})); err != nil {
		t.Fatalf("AddLine after recovery: %v", err)
	}
}
