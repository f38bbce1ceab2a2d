// Package memory provides an in-process cartstore.Gateway with the same
// merge and deletion semantics as the Postgres gateway. It backs engine
// tests and local development runs.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/coachpo/trolley/errs"
	"github.com/coachpo/trolley/internal/domain/cart"
	"github.com/coachpo/trolley/internal/domain/cartstore"
)

const notifyWorkers = 4

// Gateway stores cart rows per session key in memory.
type Gateway struct {
	mu      sync.Mutex
	rows    map[string][]cartstore.Row
	owner   map[string]string
	subs    map[string]map[uint64]func()
	nextSub uint64
	failErr error
}

// New constructs an empty gateway.
func New() *Gateway {
	return &Gateway{
		rows:  make(map[string][]cartstore.Row),
		owner: make(map[string]string),
		subs:  make(map[string]map[uint64]func()),
	}
}

// FailWith makes every subsequent call return err until called with nil.
func (g *Gateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failErr = err
}

// AddLine merges into an existing row with the same identity key or appends
// a new row, returning the authoritative row id.
func (g *Gateway) AddLine(ctx context.Context, line cartstore.NewLine) (string, error) {
	if err := line.Validate(); err != nil {
		return "", err
	}
	g.mu.Lock()
	if g.failErr != nil {
		err := g.failErr
		g.mu.Unlock()
		return "", err
	}

	key := cart.ItemKey(line.ProductID, line.Variant)
	rows := g.rows[line.SessionKey]
	var id string
	merged := false
	for i := range rows {
		if cart.ItemKey(rows[i].ProductID, rows[i].Variant) == key {
			rows[i].Quantity += line.Quantity
			id = rows[i].ID
			merged = true
			break
		}
	}
	if !merged {
		id = uuid.NewString()
		rows = append(rows, cartstore.RowFromLine(cart.Line{
			ID:         id,
			SessionKey: line.SessionKey,
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			Variant:    line.Variant,
			Notes:      line.Notes,
		}))
		g.owner[id] = line.SessionKey
	}
	g.rows[line.SessionKey] = rows
	g.mu.Unlock()

	g.notify(line.SessionKey)
	return id, nil
}

// RemoveLine deletes the row with the given id.
func (g *Gateway) RemoveLine(ctx context.Context, lineID string) error {
	g.mu.Lock()
	if g.failErr != nil {
		err := g.failErr
		g.mu.Unlock()
		return err
	}
	sessionKey, ok := g.owner[lineID]
	if !ok {
		g.mu.Unlock()
		return errs.New("gateway/memory", errs.CodeNotFound, errs.WithLineID(lineID))
	}
	g.deleteLocked(sessionKey, lineID)
	g.mu.Unlock()

	g.notify(sessionKey)
	return nil
}

// UpdateQuantity sets the row's quantity; a quantity <= 0 deletes the row.
func (g *Gateway) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	g.mu.Lock()
	if g.failErr != nil {
		err := g.failErr
		g.mu.Unlock()
		return err
	}
	sessionKey, ok := g.owner[lineID]
	if !ok {
		g.mu.Unlock()
		return errs.New("gateway/memory", errs.CodeNotFound, errs.WithLineID(lineID))
	}
	if quantity <= 0 {
		g.deleteLocked(sessionKey, lineID)
	} else {
		rows := g.rows[sessionKey]
		for i := range rows {
			if rows[i].ID == lineID {
				rows[i].Quantity = quantity
				break
			}
		}
	}
	g.mu.Unlock()

	g.notify(sessionKey)
	return nil
}

// UpdateNotes replaces the row's notes.
func (g *Gateway) UpdateNotes(ctx context.Context, lineID, notes string) error {
	g.mu.Lock()
	if g.failErr != nil {
		err := g.failErr
		g.mu.Unlock()
		return err
	}
	sessionKey, ok := g.owner[lineID]
	if !ok {
		g.mu.Unlock()
		return errs.New("gateway/memory", errs.CodeNotFound, errs.WithLineID(lineID))
	}
	rows := g.rows[sessionKey]
	for i := range rows {
		if rows[i].ID == lineID {
			rows[i].Notes = notes
			break
		}
	}
	g.mu.Unlock()

	g.notify(sessionKey)
	return nil
}

// ListLines returns the session's rows in insertion order.
func (g *Gateway) ListLines(ctx context.Context, sessionKey string) ([]cartstore.Row, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return nil, g.failErr
	}
	rows := g.rows[sessionKey]
	out := make([]cartstore.Row, len(rows))
	copy(out, rows)
	return out, nil
}

// Clear deletes every row under the session key.
func (g *Gateway) Clear(ctx context.Context, sessionKey string) error {
	g.mu.Lock()
	if g.failErr != nil {
		err := g.failErr
		g.mu.Unlock()
		return err
	}
	for _, row := range g.rows[sessionKey] {
		delete(g.owner, row.ID)
	}
	delete(g.rows, sessionKey)
	g.mu.Unlock()

	g.notify(sessionKey)
	return nil
}

type subscription struct {
	cancel func()
}

func (s *subscription) Unsubscribe() { s.cancel() }

// Subscribe registers onChange for every mutation of the session's rows,
// including those caused by this client's own calls.
func (g *Gateway) Subscribe(ctx context.Context, sessionKey string, onChange func()) (cartstore.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return nil, g.failErr
	}
	id := g.nextSub
	g.nextSub++
	if g.subs[sessionKey] == nil {
		g.subs[sessionKey] = make(map[uint64]func())
	}
	g.subs[sessionKey][id] = onChange

	return &subscription{cancel: func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs[sessionKey], id)
	}}, nil
}

func (g *Gateway) deleteLocked(sessionKey, lineID string) {
	rows := g.rows[sessionKey]
	for i := range rows {
		if rows[i].ID == lineID {
			g.rows[sessionKey] = append(rows[:i:i], rows[i+1:]...)
			break
		}
	}
	delete(g.owner, lineID)
}

func (g *Gateway) notify(sessionKey string) {
	g.mu.Lock()
	fns := make([]func(), 0, len(g.subs[sessionKey]))
	for _, fn := range g.subs[sessionKey] {
		fns = append(fns, fn)
	}
	g.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	go func() {
		p := concpool.New().WithMaxGoroutines(notifyWorkers)
		for _, fn := range fns {
			p.Go(fn)
		}
		p.Wait()
	}()
}
