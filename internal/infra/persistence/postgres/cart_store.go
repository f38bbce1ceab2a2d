package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/trolley/errs"
	"github.com/coachpo/trolley/internal/domain/cartstore"
)

// CartStore is the Postgres-backed persistence gateway. Line merging happens
// server-side: an insert whose identity key already exists under the session
// sums quantities instead of creating a second row.
type CartStore struct {
	pool     *pgxpool.Pool
	listener *listener
}

// NewCartStore constructs a CartStore backed by the provided pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{
		pool:     pool,
		listener: newListener(pool),
	}
}

const (
	cartLineInsertSQL = `
INSERT INTO cart_lines (
    session_key,
    product_id,
    quantity,
    unit_price,
    color,
    shape,
    size,
    notes,
    created_at,
    updated_at
)
VALUES (
    @session_key,
    @product_id,
    @quantity,
    @unit_price,
    @color,
    @shape,
    @size,
    @notes,
    NOW(),
    NOW()
)
ON CONFLICT (session_key, product_id, color, shape, size) DO UPDATE SET
    quantity = cart_lines.quantity + EXCLUDED.quantity,
    updated_at = NOW()
RETURNING id::text;
`

	cartLineDeleteSQL = `
DELETE FROM cart_lines WHERE id = @id;
`

	cartLineUpdateQuantitySQL = `
UPDATE cart_lines
SET quantity = @quantity,
    updated_at = NOW()
WHERE id = @id;
`

	cartLineUpdateNotesSQL = `
UPDATE cart_lines
SET notes = @notes,
    updated_at = NOW()
WHERE id = @id;
`

	cartLineSelectSQL = `
SELECT
    id::text,
    session_key,
    product_id,
    quantity,
    unit_price::text,
    color,
    shape,
    size,
    notes
FROM cart_lines
WHERE session_key = @session_key
ORDER BY created_at, id;
`

	cartLineClearSQL = `
DELETE FROM cart_lines WHERE session_key = @session_key;
`
)

func (s *CartStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, errs.New("gateway/postgres", errs.CodeUnavailable,
			errs.WithMessage("nil pool"))
	}
	return s.pool, nil
}

// AddLine inserts the line, merging into an existing row with the same
// identity key, and returns the authoritative row id.
func (s *CartStore) AddLine(ctx context.Context, line cartstore.NewLine) (string, error) {
	if err := line.Validate(); err != nil {
		return "", err
	}
	pool, err := s.ensurePool()
	if err != nil {
		return "", err
	}

	price, err := numericFromString(line.UnitPrice.String())
	if err != nil {
		return "", errs.New("gateway/postgres", errs.CodeInvalid,
			errs.WithMessage("unit price"), errs.WithCause(err))
	}
	args := pgx.NamedArgs{
		"session_key": strings.TrimSpace(line.SessionKey),
		"product_id":  strings.TrimSpace(line.ProductID),
		"quantity":    line.Quantity,
		"unit_price":  price,
		"color":       line.Variant.Color,
		"shape":       line.Variant.Shape,
		"size":        line.Variant.Size,
		"notes":       line.Notes,
	}

	var id string
	if err := pool.QueryRow(ctx, cartLineInsertSQL, args).Scan(&id); err != nil {
		// Two upserts racing on the same identity key can still surface a
		// unique violation; callers retry those, not generic gateway failures.
		if isUniqueViolation(err) {
			return "", errs.New("gateway/postgres", errs.CodeConflict,
				errs.WithSessionKey(line.SessionKey),
				errs.WithMessage("concurrent insert on cart line"), errs.WithCause(err))
		}
		return "", errs.New("gateway/postgres", errs.CodeGateway,
			errs.WithSessionKey(line.SessionKey),
			errs.WithMessage("insert cart line"), errs.WithCause(err))
	}
	return id, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// RemoveLine deletes the row with the given id.
func (s *CartStore) RemoveLine(ctx context.Context, lineID string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, cartLineDeleteSQL, pgx.NamedArgs{"id": lineID})
	if err != nil {
		return errs.New("gateway/postgres", errs.CodeGateway,
			errs.WithLineID(lineID),
			errs.WithMessage("delete cart line"), errs.WithCause(err))
	}
	if tag.RowsAffected() == 0 {
		return errs.New("gateway/postgres", errs.CodeNotFound, errs.WithLineID(lineID))
	}
	return nil
}

// UpdateQuantity sets the row's quantity. A quantity <= 0 deletes the row,
// honoring the invariant that zero-quantity lines must not exist.
func (s *CartStore) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveLine(ctx, lineID)
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, cartLineUpdateQuantitySQL,
		pgx.NamedArgs{"id": lineID, "quantity": quantity})
	if err != nil {
		return errs.New("gateway/postgres", errs.CodeGateway,
			errs.WithLineID(lineID),
			errs.WithMessage("update quantity"), errs.WithCause(err))
	}
	if tag.RowsAffected() == 0 {
		return errs.New("gateway/postgres", errs.CodeNotFound, errs.WithLineID(lineID))
	}
	return nil
}

// UpdateNotes replaces the row's notes.
func (s *CartStore) UpdateNotes(ctx context.Context, lineID, notes string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, cartLineUpdateNotesSQL,
		pgx.NamedArgs{"id": lineID, "notes": notes})
	if err != nil {
		return errs.New("gateway/postgres", errs.CodeGateway,
			errs.WithLineID(lineID),
			errs.WithMessage("update notes"), errs.WithCause(err))
	}
	if tag.RowsAffected() == 0 {
		return errs.New("gateway/postgres", errs.CodeNotFound, errs.WithLineID(lineID))
	}
	return nil
}

// ListLines returns the session's rows in creation order.
func (s *CartStore) ListLines(ctx context.Context, sessionKey string) ([]cartstore.Row, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, cartLineSelectSQL, pgx.NamedArgs{"session_key": sessionKey})
	if err != nil {
		return nil, errs.New("gateway/postgres", errs.CodeGateway,
			errs.WithSessionKey(sessionKey),
			errs.WithMessage("list cart lines"), errs.WithCause(err))
	}
	defer rows.Close()

	out := make([]cartstore.Row, 0, 8)
	for rows.Next() {
		var r cartstore.Row
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.ProductID, &r.Quantity,
			&r.UnitPrice, &r.Variant.Color, &r.Variant.Shape, &r.Variant.Size, &r.Notes); err != nil {
			return nil, errs.New("gateway/postgres", errs.CodeGateway,
				errs.WithSessionKey(sessionKey),
				errs.WithMessage("scan cart line"), errs.WithCause(err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New("gateway/postgres", errs.CodeGateway,
			errs.WithSessionKey(sessionKey),
			errs.WithMessage("iterate cart lines"), errs.WithCause(err))
	}
	return out, nil
}

// Clear deletes every row under the session key.
func (s *CartStore) Clear(ctx context.Context, sessionKey string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, cartLineClearSQL, pgx.NamedArgs{"session_key": sessionKey}); err != nil {
		return errs.New("gateway/postgres", errs.CodeGateway,
			errs.WithSessionKey(sessionKey),
			errs.WithMessage("clear cart"), errs.WithCause(err))
	}
	return nil
}

// Subscribe registers onChange for LISTEN/NOTIFY events raised by the
// cart_lines trigger for the given session key.
func (s *CartStore) Subscribe(ctx context.Context, sessionKey string, onChange func()) (cartstore.Subscription, error) {
	if _, err := s.ensurePool(); err != nil {
		return nil, err
	}
	return s.listener.subscribe(ctx, sessionKey, onChange)
}

// Close stops the notification listener. Pool lifecycle stays with the caller.
func (s *CartStore) Close() {
	s.listener.stop()
}
