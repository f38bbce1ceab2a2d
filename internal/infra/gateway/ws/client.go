// Package ws implements a cartstore.Gateway client for a remote cart service
// speaking a request/response JSON protocol over a single WebSocket
// connection. Server pushes on a session key surface as change notifications.
package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/coachpo/trolley/errs"
	"github.com/coachpo/trolley/internal/domain/cartstore"
)

const (
	connectTimeout       = 10 * time.Second
	writeTimeout         = 5 * time.Second
	maxReconnectInterval = 30 * time.Second
	readLimit            = 2 * 1024 * 1024
)

type request struct {
	ID         uint64 `json:"id"`
	Op         string `json:"op"`
	SessionKey string `json:"sessionKey,omitempty"`
	LineID     string `json:"lineId,omitempty"`
	ProductID  string `json:"productId,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
	UnitPrice  string `json:"unitPrice,omitempty"`
	Color      string `json:"color,omitempty"`
	Shape      string `json:"shape,omitempty"`
	Size       string `json:"size,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	LineID string          `json:"lineId,omitempty"`
	Lines  []cartstore.Row `json:"lines,omitempty"`

	// Push fields, present when ID is zero.
	Event      string `json:"event,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
}

// Client maintains the connection, correlates responses by request id, and
// resubscribes active session keys after a reconnect.
type Client struct {
	url string

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	msgID   atomic.Uint64
	nextSub uint64

	mu      sync.Mutex
	pending map[uint64]chan response
	subs    map[string]map[uint64]func()
	started bool
	ready   chan struct{}
}

// Dial connects to the remote cart service at url and starts the read and
// reconnect loops.
func Dial(ctx context.Context, url string) (*Client, error) {
	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:     url,
		ctx:     clientCtx,
		cancel:  cancel,
		pending: make(map[uint64]chan response),
		subs:    make(map[string]map[uint64]func()),
		ready:   make(chan struct{}),
	}

	go c.connectLoop()

	select {
	case <-c.ready:
		return c, nil
	case <-time.After(connectTimeout):
		cancel()
		return nil, errs.New("gateway/ws", errs.CodeGateway,
			errs.WithMessage("timeout waiting for websocket connection"))
	case <-ctx.Done():
		cancel()
		return nil, errs.New("gateway/ws", errs.CodeGateway,
			errs.WithMessage("dial cancelled"), errs.WithCause(ctx.Err()))
	}
}

// Close tears the connection down and fails all pending calls.
func (c *Client) Close() {
	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "client closing")
		c.conn = nil
	}
	c.connMu.Unlock()
	c.failPending(errors.New("client closed"))
}

// connectLoop maintains the connection with exponential backoff, reads until
// failure, then reconnects and replays active subscriptions.
func (c *Client) connectLoop() {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxReconnectInterval
	first := true

	for {
		if c.ctx.Err() != nil {
			return
		}

		dialCtx, cancel := context.WithTimeout(c.ctx, connectTimeout)
		conn, _, err := websocket.Dial(dialCtx, c.url, nil)
		cancel()
		if err != nil {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				backoffCfg.Reset()
				sleep = maxReconnectInterval
			}
			log.Printf("trolley: ws gateway dial failed, retrying in %s: %v", sleep, err)
			select {
			case <-time.After(sleep):
				continue
			case <-c.ctx.Done():
				return
			}
		}
		conn.SetReadLimit(readLimit)

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		backoffCfg.Reset()

		if first {
			close(c.ready)
			first = false
		} else {
			c.resubscribe()
		}

		c.readLoop(conn)

		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		c.failPending(errors.New("connection lost"))
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Printf("trolley: ws gateway dropping malformed frame: %v", err)
			continue
		}
		if resp.ID == 0 {
			c.dispatchPush(resp)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) dispatchPush(resp response) {
	if resp.Event != "cart_changed" {
		return
	}
	c.mu.Lock()
	fns := make([]func(), 0, len(c.subs[resp.SessionKey]))
	for _, fn := range c.subs[resp.SessionKey] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Client) failPending(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan response)
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- response{ID: id, OK: false, Error: cause.Error()}
	}
}

// resubscribe replays subscribe requests for every session key with active
// subscribers after a reconnect.
func (c *Client) resubscribe() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.subs))
	for key, fns := range c.subs {
		if len(fns) > 0 {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	for _, key := range keys {
		if _, err := c.call(c.ctx, request{Op: "subscribe", SessionKey: key}); err != nil {
			log.Printf("trolley: ws gateway resubscribe %s failed: %v", key, err)
		}
	}
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	req.ID = c.msgID.Add(1)

	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, errs.New("gateway/ws", errs.CodeInvalid,
			errs.WithMessage("encode request"), errs.WithCause(err))
	}

	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		c.dropPending(req.ID)
		return response{}, errs.New("gateway/ws", errs.CodeGateway,
			errs.WithMessage("not connected"))
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = conn.Write(writeCtx, websocket.MessageText, payload)
	cancel()
	if err != nil {
		c.dropPending(req.ID)
		return response{}, errs.New("gateway/ws", errs.CodeGateway,
			errs.WithMessage("write request"), errs.WithCause(err))
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			return response{}, errs.New("gateway/ws", errs.CodeGateway,
				errs.WithMessage(resp.Error))
		}
		return resp, nil
	case <-ctx.Done():
		c.dropPending(req.ID)
		return response{}, errs.New("gateway/ws", errs.CodeGateway,
			errs.WithMessage("request cancelled"), errs.WithCause(ctx.Err()))
	case <-c.ctx.Done():
		c.dropPending(req.ID)
		return response{}, errs.New("gateway/ws", errs.CodeUnavailable,
			errs.WithMessage("client closed"))
	}
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// AddLine submits the line to the remote service and returns the assigned id.
func (c *Client) AddLine(ctx context.Context, line cartstore.NewLine) (string, error) {
	if err := line.Validate(); err != nil {
		return "", err
	}
	resp, err := c.call(ctx, request{
		Op:         "add_line",
		SessionKey: line.SessionKey,
		ProductID:  line.ProductID,
		Quantity:   line.Quantity,
		UnitPrice:  line.UnitPrice.String(),
		Color:      line.Variant.Color,
		Shape:      line.Variant.Shape,
		Size:       line.Variant.Size,
		Notes:      line.Notes,
	})
	if err != nil {
		return "", err
	}
	return resp.LineID, nil
}

// RemoveLine deletes the line on the remote service.
func (c *Client) RemoveLine(ctx context.Context, lineID string) error {
	_, err := c.call(ctx, request{Op: "remove_line", LineID: lineID})
	return err
}

// UpdateQuantity sets the line's quantity on the remote service.
func (c *Client) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	_, err := c.call(ctx, request{Op: "update_quantity", LineID: lineID, Quantity: quantity})
	return err
}

// UpdateNotes replaces the line's notes on the remote service.
func (c *Client) UpdateNotes(ctx context.Context, lineID, notes string) error {
	_, err := c.call(ctx, request{Op: "update_notes", LineID: lineID, Notes: notes})
	return err
}

// ListLines fetches the session's rows.
func (c *Client) ListLines(ctx context.Context, sessionKey string) ([]cartstore.Row, error) {
	resp, err := c.call(ctx, request{Op: "list_lines", SessionKey: sessionKey})
	if err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

// Clear deletes the session's rows.
func (c *Client) Clear(ctx context.Context, sessionKey string) error {
	_, err := c.call(ctx, request{Op: "clear", SessionKey: sessionKey})
	return err
}

type wsSubscription struct {
	cancel func()
}

func (s *wsSubscription) Unsubscribe() { s.cancel() }

// Subscribe registers for server pushes on the session key.
func (c *Client) Subscribe(ctx context.Context, sessionKey string, onChange func()) (cartstore.Subscription, error) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	firstForKey := len(c.subs[sessionKey]) == 0
	if c.subs[sessionKey] == nil {
		c.subs[sessionKey] = make(map[uint64]func())
	}
	c.subs[sessionKey][id] = onChange
	c.mu.Unlock()

	if firstForKey {
		if _, err := c.call(ctx, request{Op: "subscribe", SessionKey: sessionKey}); err != nil {
			c.mu.Lock()
			delete(c.subs[sessionKey], id)
			c.mu.Unlock()
			return nil, err
		}
	}

	return &wsSubscription{cancel: func() {
		c.mu.Lock()
		delete(c.subs[sessionKey], id)
		lastForKey := len(c.subs[sessionKey]) == 0
		c.mu.Unlock()
		if lastForKey {
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			defer cancel()
			_, _ = c.call(ctx, request{Op: "unsubscribe", SessionKey: sessionKey})
		}
	}}, nil
}
