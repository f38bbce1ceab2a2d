// Package engine orchestrates cart state between optimistic in-memory edits
// and the authoritative persistence gateway. Every mutating operation applies
// the reducer synchronously, issues the gateway call pinned to the session
// identity current at issue time, then refetches ground truth; failures roll
// back by the same refetch since the server never saw the edit.
package engine

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/coachpo/trolley/errs"
	"github.com/coachpo/trolley/internal/domain/cart"
	"github.com/coachpo/trolley/internal/domain/cartstore"
	"github.com/coachpo/trolley/internal/identity"
	"github.com/coachpo/trolley/internal/infra/telemetry"
)

const (
	// DefaultDebounceWindow coalesces bursts of gateway change notifications
	// into one refetch. A tuning parameter, not a correctness requirement.
	DefaultDebounceWindow = 250 * time.Millisecond

	defaultResyncRate  = rate.Limit(4)
	defaultResyncBurst = 1
)

// Config tunes the engine. The zero value selects defaults.
type Config struct {
	// DebounceWindow delays notification-triggered resyncs so near-simultaneous
	// notifications collapse into a single fetch.
	DebounceWindow time.Duration
	// ResyncRate caps notification-triggered resyncs per second. Zero selects
	// the default; mutation- and transition-triggered resyncs are never limited.
	ResyncRate rate.Limit
	// GatewayName labels metrics with the gateway implementation in use.
	GatewayName string
}

func (c Config) normalize() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.ResyncRate <= 0 {
		c.ResyncRate = defaultResyncRate
	}
	if strings.TrimSpace(c.GatewayName) == "" {
		c.GatewayName = "unknown"
	}
	return c
}

// Engine owns the cart snapshot. It is the only component that dispatches
// reducer actions; consumers observe the snapshot through Snapshot and
// SubscribeSnapshot and never hold a mutable reference to it.
type Engine struct {
	gw       cartstore.Gateway
	resolver *identity.Resolver
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	snap        cart.Snapshot
	closed      bool
	sub         cartstore.Subscription
	subKey      string
	watchers    map[uint64]chan cart.Snapshot
	nextWatcher uint64

	deb     *debouncer
	limiter *rate.Limiter

	mutationCounter metric.Int64Counter
	resyncCounter   metric.Int64Counter
	droppedRows     metric.Int64Counter
	notifyCounter   metric.Int64Counter
}

// New constructs an Engine over the given gateway and resolver. The snapshot
// starts empty; call Resync to populate it and register for change
// notifications.
func New(gw cartstore.Gateway, resolver *identity.Resolver, cfg Config) *Engine {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		gw:       gw,
		resolver: resolver,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		snap:     cart.Snapshot{},
		watchers: make(map[uint64]chan cart.Snapshot),
		limiter:  rate.NewLimiter(cfg.ResyncRate, defaultResyncBurst),
	}
	e.deb = newDebouncer(cfg.DebounceWindow, e.onNotification)

	meter := otel.Meter("trolley/engine")
	e.mutationCounter, _ = meter.Int64Counter("cart.mutations",
		metric.WithDescription("Cart mutations issued to the persistence gateway"),
		metric.WithUnit("{mutation}"))
	e.resyncCounter, _ = meter.Int64Counter("cart.resyncs",
		metric.WithDescription("Full snapshot refetches from the persistence gateway"),
		metric.WithUnit("{resync}"))
	e.droppedRows, _ = meter.Int64Counter("cart.rows.dropped",
		metric.WithDescription("Gateway rows rejected by boundary validation"),
		metric.WithUnit("{row}"))
	e.notifyCounter, _ = meter.Int64Counter("cart.notifications",
		metric.WithDescription("Change notifications received from the gateway"),
		metric.WithUnit("{notification}"))

	return e
}

// Snapshot returns the current cart state. The returned slice is never
// mutated by the engine; each transition installs a fresh one.
func (e *Engine) Snapshot() cart.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// SubscribeSnapshot registers for snapshot replacements. The channel carries
// the latest snapshot and drops intermediate states under backpressure.
// The returned function cancels the registration.
func (e *Engine) SubscribeSnapshot() (<-chan cart.Snapshot, func()) {
	ch := make(chan cart.Snapshot, 1)
	e.mu.Lock()
	id := e.nextWatcher
	e.nextWatcher++
	e.watchers[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.watchers[id]; ok {
			delete(e.watchers, id)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

// AddToCart adds a product line optimistically and persists it. The variant
// selection participates in the line's identity: an existing line with the
// same product and variant absorbs the quantity instead of duplicating.
func (e *Engine) AddToCart(ctx context.Context, productID string, quantity int, unitPrice decimal.Decimal, variant cart.VariantSelection, notes string) error {
	if quantity <= 0 {
		return errs.New("engine", errs.CodeInvalid,
			errs.WithMessage("add quantity must be positive"))
	}
	sessionKey, err := e.begin()
	if err != nil {
		return err
	}

	e.dispatch(cart.AddItem{Line: cart.Line{
		SessionKey: sessionKey,
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		Variant:    variant,
		Notes:      notes,
	}})

	_, gwErr := e.gw.AddLine(ctx, cartstore.NewLine{
		SessionKey: sessionKey,
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		Variant:    variant,
		Notes:      notes,
	})
	e.recordMutation(ctx, telemetry.OpAddLine, sessionKey, gwErr)
	return e.settle(ctx, gwErr, telemetry.OpAddLine)
}

// RemoveFromCart deletes the line optimistically and persists the removal.
func (e *Engine) RemoveFromCart(ctx context.Context, lineID string) error {
	sessionKey, err := e.begin()
	if err != nil {
		return err
	}
	e.dispatch(cart.RemoveItem{ID: lineID})

	// A temporary id is unknown to the gateway; the resync below reconciles
	// against whatever the authoritative state holds.
	var gwErr error
	if !strings.HasPrefix(lineID, cart.TempIDPrefix) {
		gwErr = e.gw.RemoveLine(ctx, lineID)
	}
	e.recordMutation(ctx, telemetry.OpRemoveLine, sessionKey, gwErr)
	return e.settle(ctx, gwErr, telemetry.OpRemoveLine)
}

// UpdateQuantity sets the line's quantity optimistically and persists it.
// A quantity <= 0 is a contract violation: callers wanting a removal must use
// RemoveFromCart.
func (e *Engine) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if quantity <= 0 {
		return errs.New("engine", errs.CodeInvalid,
			errs.WithLineID(lineID),
			errs.WithMessage("quantity must be positive; use RemoveFromCart"))
	}
	sessionKey, err := e.begin()
	if err != nil {
		return err
	}
	e.dispatch(cart.UpdateQuantity{ID: lineID, Quantity: quantity})

	var gwErr error
	if !strings.HasPrefix(lineID, cart.TempIDPrefix) {
		gwErr = e.gw.UpdateQuantity(ctx, lineID, quantity)
	}
	e.recordMutation(ctx, telemetry.OpUpdateQuantity, sessionKey, gwErr)
	return e.settle(ctx, gwErr, telemetry.OpUpdateQuantity)
}

// UpdateNotes replaces the line's notes optimistically and persists them.
func (e *Engine) UpdateNotes(ctx context.Context, lineID, notes string) error {
	sessionKey, err := e.begin()
	if err != nil {
		return err
	}
	e.dispatch(cart.UpdateNotes{ID: lineID, Notes: notes})

	var gwErr error
	if !strings.HasPrefix(lineID, cart.TempIDPrefix) {
		gwErr = e.gw.UpdateNotes(ctx, lineID, notes)
	}
	e.recordMutation(ctx, telemetry.OpUpdateNotes, sessionKey, gwErr)
	return e.settle(ctx, gwErr, telemetry.OpUpdateNotes)
}

// ClearCart empties the cart optimistically and persists the clear.
func (e *Engine) ClearCart(ctx context.Context) error {
	sessionKey, err := e.begin()
	if err != nil {
		return err
	}
	e.dispatch(cart.Clear{})

	gwErr := e.gw.Clear(ctx, sessionKey)
	e.recordMutation(ctx, telemetry.OpClear, sessionKey, gwErr)
	return e.settle(ctx, gwErr, telemetry.OpClear)
}

// ApplyGroupAdjustment runs the grouped-quantity deltas for one product
// through the engine, awaiting each before issuing the next so no two
// optimistic updates race on the same line id.
func (e *Engine) ApplyGroupAdjustment(ctx context.Context, deltas []cart.LineDelta) error {
	for _, d := range deltas {
		var err error
		switch d.Kind {
		case cart.DeltaRemove:
			err = e.RemoveFromCart(ctx, d.LineID)
		case cart.DeltaSetQuantity:
			err = e.UpdateQuantity(ctx, d.LineID, d.NewQuantity)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Resync fetches the authoritative line list for the active identity and
// replaces the snapshot wholesale. Safe to call concurrently with in-flight
// mutations; the last replacement to complete wins.
func (e *Engine) Resync(ctx context.Context) error {
	if _, err := e.begin(); err != nil {
		return err
	}
	return e.resync(ctx, telemetry.TriggerManual)
}

// Close stops notification handling and discards any async results still in
// flight. Further operations fail with CodeUnavailable.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sub := e.sub
	e.sub = nil
	watchers := e.watchers
	e.watchers = make(map[uint64]chan cart.Snapshot)
	e.mu.Unlock()

	e.cancel()
	e.deb.Stop()
	if sub != nil {
		sub.Unsubscribe()
	}
	for _, ch := range watchers {
		close(ch)
	}
}

// begin pins the session identity for one operation and rejects work on a
// closed engine.
func (e *Engine) begin() (string, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", errs.New("engine", errs.CodeUnavailable, errs.WithMessage("engine closed"))
	}
	return e.resolver.Identity(), nil
}

// settle performs the post-gateway resync shared by every mutation: ground
// truth is refetched on success so server-side normalization becomes visible,
// and on failure so the optimistic edit rolls back.
func (e *Engine) settle(ctx context.Context, gwErr error, op string) error {
	if rsErr := e.resync(ctx, telemetry.TriggerMutation); rsErr != nil && gwErr == nil {
		return rsErr
	}
	if gwErr != nil {
		return errs.New("engine", errs.CodeGateway,
			errs.WithMessage(op+" failed"), errs.WithCause(gwErr))
	}
	return nil
}

func (e *Engine) resync(ctx context.Context, trigger string) error {
	sessionKey := e.resolver.Identity()

	rows, err := e.gw.ListLines(ctx, sessionKey)
	if err != nil {
		if e.resyncCounter != nil {
			e.resyncCounter.Add(ctx, 1, metric.WithAttributes(telemetry.ResyncAttributes(trigger, "error")...))
		}
		return errs.New("engine", errs.CodeGateway,
			errs.WithSessionKey(sessionKey),
			errs.WithMessage("list lines failed"), errs.WithCause(err))
	}

	lines := make([]cart.Line, 0, len(rows))
	for _, row := range rows {
		ln, err := row.Validate()
		if err != nil {
			if e.droppedRows != nil {
				e.droppedRows.Add(ctx, 1, metric.WithAttributes(telemetry.ErrorAttributes(string(errs.CodeInvalid), "malformed_row")...))
			}
			log.Printf("trolley: dropping malformed gateway row: %v", err)
			continue
		}
		lines = append(lines, ln)
	}

	e.dispatch(cart.SetAll{Lines: lines})
	e.ensureSubscription(sessionKey)

	if e.resyncCounter != nil {
		e.resyncCounter.Add(ctx, 1, metric.WithAttributes(telemetry.ResyncAttributes(trigger, "success")...))
	}
	return nil
}

// dispatch installs the reduced snapshot unless the engine has been closed,
// then fans the replacement out to snapshot watchers.
func (e *Engine) dispatch(action cart.Action) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.snap = cart.Reduce(e.snap, action)
	snap := e.snap
	watchers := make([]chan cart.Snapshot, 0, len(e.watchers))
	for _, ch := range e.watchers {
		watchers = append(watchers, ch)
	}
	e.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- snap:
		default:
			// Drop the stale pending snapshot so the latest one lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// ensureSubscription re-points the gateway change subscription at the active
// session key, detaching from the previous key after an identity transition.
// Concurrent resyncs may race here; the subKey re-check before installing
// keeps exactly one live subscription, and any displaced one is released.
func (e *Engine) ensureSubscription(sessionKey string) {
	e.mu.Lock()
	if e.closed || e.subKey == sessionKey {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	sub, err := e.gw.Subscribe(e.ctx, sessionKey, e.deb.Trigger)
	if err != nil {
		log.Printf("trolley: subscribe to cart changes failed for %s: %v", sessionKey, err)
		return
	}

	e.mu.Lock()
	if e.closed || e.subKey == sessionKey {
		e.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	displaced := e.sub
	e.sub = sub
	e.subKey = sessionKey
	e.mu.Unlock()

	if displaced != nil {
		displaced.Unsubscribe()
	}
}

// onNotification runs after the debounce window elapses. The rate limiter
// spaces out refetches under sustained notification load.
func (e *Engine) onNotification() {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	if e.notifyCounter != nil {
		e.notifyCounter.Add(e.ctx, 1)
	}
	if err := e.limiter.Wait(e.ctx); err != nil {
		return
	}
	if err := e.resync(e.ctx, telemetry.TriggerNotification); err != nil {
		log.Printf("trolley: notification resync failed: %v", err)
	}
}

func (e *Engine) recordMutation(ctx context.Context, op, sessionKey string, gwErr error) {
	if e.mutationCounter == nil {
		return
	}
	result := "success"
	if gwErr != nil {
		result = "error"
	}
	e.mutationCounter.Add(ctx, 1, metric.WithAttributes(
		telemetry.OperationAttributes(e.cfg.GatewayName, op, result, identity.Kind(sessionKey))...))
}
