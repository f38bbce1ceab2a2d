package postgres

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/trolley/internal/domain/cartstore"
)

// notifyChannel is raised by the cart_lines trigger with the session key as
// payload.
const notifyChannel = "trolley_cart_changed"

const maxListenBackoff = 30 * time.Second

// listener owns one dedicated connection in LISTEN mode and fans incoming
// notifications out to per-session-key subscribers. The connection is
// re-established with exponential backoff after any failure.
type listener struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	subs    map[string]map[uint64]func()
	nextSub uint64
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func newListener(pool *pgxpool.Pool) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &listener{
		pool:   pool,
		subs:   make(map[string]map[uint64]func()),
		ctx:    ctx,
		cancel: cancel,
	}
}

type pgSubscription struct {
	cancel func()
}

func (s *pgSubscription) Unsubscribe() { s.cancel() }

func (l *listener) subscribe(ctx context.Context, sessionKey string, onChange func()) (cartstore.Subscription, error) {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	if l.subs[sessionKey] == nil {
		l.subs[sessionKey] = make(map[uint64]func())
	}
	l.subs[sessionKey][id] = onChange
	start := !l.running
	if start {
		l.running = true
	}
	l.mu.Unlock()

	if start {
		go l.run()
	}

	return &pgSubscription{cancel: func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs[sessionKey], id)
	}}, nil
}

func (l *listener) stop() {
	l.cancel()
}

// run maintains the LISTEN connection for the lifetime of the listener.
func (l *listener) run() {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxListenBackoff

	for {
		if l.ctx.Err() != nil {
			return
		}
		err := l.listenOnce()
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			backoffCfg.Reset()
			sleep = maxListenBackoff
		}
		log.Printf("trolley: cart change listener lost connection, retrying in %s: %v", sleep, err)
		select {
		case <-time.After(sleep):
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *listener) listenOnce() error {
	conn, err := l.pool.Acquire(l.ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(l.ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(l.ctx)
		if err != nil {
			return err
		}
		l.dispatch(notification.Payload)
	}
}

func (l *listener) dispatch(sessionKey string) {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.subs[sessionKey]))
	for _, fn := range l.subs[sessionKey] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
