// Package cartstore defines the persistence contract for durable cart lines.
package cartstore

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/trolley/errs"
	"github.com/coachpo/trolley/internal/domain/cart"
)

// NewLine carries the fields of a line submission. The gateway assigns the
// authoritative line id and merges into an existing row when the identity key
// already exists under the session.
type NewLine struct {
	SessionKey string                `json:"sessionKey"`
	ProductID  string                `json:"productId"`
	Quantity   int                   `json:"quantity"`
	UnitPrice  decimal.Decimal       `json:"unitPrice"`
	Variant    cart.VariantSelection `json:"variant"`
	Notes      string                `json:"notes,omitempty"`
}

// Validate rejects submissions that violate the line contract.
func (n NewLine) Validate() error {
	if strings.TrimSpace(n.SessionKey) == "" {
		return errs.New("cartstore", errs.CodeInvalid, errs.WithMessage("session key required"))
	}
	if strings.TrimSpace(n.ProductID) == "" {
		return errs.New("cartstore", errs.CodeInvalid, errs.WithMessage("product id required"))
	}
	if n.Quantity <= 0 {
		return errs.New("cartstore", errs.CodeInvalid, errs.WithMessage("quantity must be positive"))
	}
	if n.UnitPrice.IsNegative() {
		return errs.New("cartstore", errs.CodeInvalid, errs.WithMessage("unit price must not be negative"))
	}
	return nil
}

// Row is one persisted cart line as returned by a gateway. Rows are validated
// at the boundary; the engine never trusts a gateway's shape.
type Row struct {
	ID         string                `json:"id"`
	SessionKey string                `json:"sessionKey"`
	ProductID  string                `json:"productId"`
	Quantity   int                   `json:"quantity"`
	UnitPrice  string                `json:"unitPrice"`
	Variant    cart.VariantSelection `json:"variant"`
	Notes      string                `json:"notes,omitempty"`
}

// Validate checks the row for required fields and a parsable price, returning
// the domain line on success.
func (r Row) Validate() (cart.Line, error) {
	if strings.TrimSpace(r.ID) == "" {
		return cart.Line{}, errs.New("cartstore", errs.CodeInvalid, errs.WithMessage("row missing id"))
	}
	if strings.TrimSpace(r.SessionKey) == "" {
		return cart.Line{}, errs.New("cartstore", errs.CodeInvalid,
			errs.WithLineID(r.ID), errs.WithMessage("row missing session key"))
	}
	if strings.TrimSpace(r.ProductID) == "" {
		return cart.Line{}, errs.New("cartstore", errs.CodeInvalid,
			errs.WithLineID(r.ID), errs.WithMessage("row missing product id"))
	}
	if r.Quantity <= 0 {
		return cart.Line{}, errs.New("cartstore", errs.CodeInvalid,
			errs.WithLineID(r.ID), errs.WithMessage("row quantity must be positive"))
	}
	price, err := decimal.NewFromString(strings.TrimSpace(r.UnitPrice))
	if err != nil {
		return cart.Line{}, errs.New("cartstore", errs.CodeInvalid,
			errs.WithLineID(r.ID), errs.WithMessage("row unit price unparsable"), errs.WithCause(err))
	}
	return cart.Line{
		ID:         r.ID,
		SessionKey: r.SessionKey,
		ProductID:  r.ProductID,
		Quantity:   r.Quantity,
		UnitPrice:  price,
		Variant:    r.Variant,
		Notes:      r.Notes,
	}, nil
}

// RowFromLine converts a domain line back to its wire row.
func RowFromLine(l cart.Line) Row {
	return Row{
		ID:         l.ID,
		SessionKey: l.SessionKey,
		ProductID:  l.ProductID,
		Quantity:   l.Quantity,
		UnitPrice:  l.UnitPrice.String(),
		Variant:    l.Variant,
		Notes:      l.Notes,
	}
}

// Subscription represents an active change-notification registration.
type Subscription interface {
	Unsubscribe()
}

// Gateway is the remote persistence service the engine synchronises against.
// Implementations must merge an added line into the existing row when the
// identity key matches, delete rows driven to quantity <= 0, and fire change
// notifications for every server-side mutation of a key's lines, including
// those caused by this client's own requests.
type Gateway interface {
	AddLine(ctx context.Context, line NewLine) (string, error)
	RemoveLine(ctx context.Context, lineID string) error
	UpdateQuantity(ctx context.Context, lineID string, quantity int) error
	UpdateNotes(ctx context.Context, lineID, notes string) error
	ListLines(ctx context.Context, sessionKey string) ([]Row, error)
	Clear(ctx context.Context, sessionKey string) error
	Subscribe(ctx context.Context, sessionKey string, onChange func()) (Subscription, error)
}
