package engine

import (
	"context"
	"testing"
	"time"

	"github.com/coachpo/trolley/internal/domain/cart"
	"github.com/coachpo/trolley/internal/domain/cartstore"
	"github.com/coachpo/trolley/internal/identity"
)

func seedSession(t *testing.T, gw cartstore.Gateway, sessionKey, productID string, qty int) {
	t.Helper()
	if _, err := gw.AddLine(context.Background(), cartstore.NewLine{
		SessionKey: sessionKey,
		ProductID:  productID,
		Quantity:   qty,
		UnitPrice:  price(10),
	}); err != nil {
		t.Fatalf("seed %s: %v", sessionKey, err)
	}
}

func TestGuestToAuthenticatedTransition(t *testing.T) {
	ctx := context.Background()
	gw := newHookedGateway()
	e, resolver := testEngine(t, gw)

	if err := e.AddToCart(ctx, "guest-product", 1, price(5), cart.VariantSelection{}, ""); err != nil {
		t.Fatalf("guest add: %v", err)
	}
	guestKey := resolver.Identity()
	seedSession(t, gw, identity.EncodeAccount("acc-1"), "acct-product", 2)

	if err := e.OnAccountChanged(ctx, "acc-1"); err != nil {
		t.Fatalf("OnAccountChanged: %v", err)
	}

	snap := e.Snapshot()
	if len(snap) != 1 || snap[0].ProductID != "acct-product" {
		t.Fatalf("post-login snapshot = %+v, want only the account's lines", snap)
	}

	// The guest cart is not merged and not deleted server-side.
	rows, err := gw.ListLines(ctx, guestKey)
	if err != nil {
		t.Fatalf("ListLines guest: %v", err)
	}
	if len(rows) != 1 || rows[0].ProductID != "guest-product" {
		t.Fatalf("guest cart changed by login: %+v", rows)
	}
}

func TestAuthenticatedToGuestTransition(t *testing.T) {
	ctx := context.Background()
	gw := newHookedGateway()
	e, resolver := testEngine(t, gw)

	guestKey := resolver.Identity()
	seedSession(t, gw, guestKey, "guest-product", 3)

	if err := e.OnAccountChanged(ctx, "acc-1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := e.OnAccountChanged(ctx, ""); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if got := resolver.Identity(); got != guestKey {
		t.Fatalf("logout identity = %q, want the prior guest %q", got, guestKey)
	}
	snap := e.Snapshot()
	if len(snap) != 1 || snap[0].ProductID != "guest-product" {
		t.Fatalf("post-logout snapshot = %+v", snap)
	}
}

func TestIdempotentTransition(t *testing.T) {
	ctx := context.Background()
	gw := newHookedGateway()
	e, _ := testEngine(t, gw)

	if err := e.OnAccountChanged(ctx, "acc-1"); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	listsBefore := gw.lists()

	if err := e.OnAccountChanged(ctx, "acc-1"); err != nil {
		t.Fatalf("repeat transition: %v", err)
	}
	if got := gw.lists(); got != listsBefore {
		t.Fatalf("redundant transition resynced: %d -> %d list calls", listsBefore, got)
	}
}

func TestAccountSwitchHopsThroughGuest(t *testing.T) {
	ctx := context.Background()
	gw := newHookedGateway()
	e, _ := testEngine(t, gw)

	seedSession(t, gw, identity.EncodeAccount("acc-1"), "first-product", 1)
	seedSession(t, gw, identity.EncodeAccount("acc-2"), "second-product", 1)

	if err := e.OnAccountChanged(ctx, "acc-1"); err != nil {
		t.Fatalf("login acc-1: %v", err)
	}
	if err := e.OnAccountChanged(ctx, "acc-2"); err != nil {
		t.Fatalf("switch to acc-2: %v", err)
	}

	snap := e.Snapshot()
	if len(snap) != 1 || snap[0].ProductID != "second-product" {
		t.Fatalf("post-switch snapshot = %+v, want only acc-2 lines", snap)
	}
	for _, l := range snap {
		if l.ProductID == "first-product" {
			t.Fatalf("cross-account line leaked: %+v", l)
		}
	}
}
