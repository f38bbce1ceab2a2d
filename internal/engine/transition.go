package engine

import (
	"context"
	"strings"

	"github.com/coachpo/trolley/internal/domain/cart"
	"github.com/coachpo/trolley/internal/infra/telemetry"
)

// OnAccountChanged applies a session identity transition. Call it whenever
// the external "current account identity" signal changes; an empty accountID
// means the visitor signed out. A change to the account already active is a
// no-op and triggers no resync.
//
// Switching directly between two accounts hops through the guest identity,
// so the cached snapshot of the first account is cleared before any line of
// the second is fetched.
func (e *Engine) OnAccountChanged(ctx context.Context, accountID string) error {
	trimmed := strings.TrimSpace(accountID)
	if _, err := e.begin(); err != nil {
		return err
	}
	current := e.resolver.Account()
	if current == trimmed {
		return nil
	}

	if current != "" && trimmed != "" {
		if err := e.transitionTo(ctx, ""); err != nil {
			return err
		}
	}
	return e.transitionTo(ctx, trimmed)
}

func (e *Engine) transitionTo(ctx context.Context, accountID string) error {
	if !e.resolver.SetAuthenticatedAccount(accountID) {
		return nil
	}
	// Drop the previous identity's cached lines immediately; the resync
	// installs the new identity's authoritative state.
	e.dispatch(cart.Clear{})

	return e.resync(ctx, telemetry.TriggerTransition)
}
