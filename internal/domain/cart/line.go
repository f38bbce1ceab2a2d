// Package cart defines the cart data model and the pure state transitions
// applied to it. Nothing in this package performs I/O; persistence lives
// behind the cartstore contract.
package cart

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TempIDPrefix marks client-generated line identifiers that have not yet been
// superseded by a gateway-assigned id.
const TempIDPrefix = "tmp-"

// VariantSelection captures the variant axes a shopper chose for a product.
// An empty string means the axis was not chosen. Together with the product id
// it forms the identity key of a cart line.
type VariantSelection struct {
	Color string `json:"color,omitempty"`
	Shape string `json:"shape,omitempty"`
	Size  string `json:"size,omitempty"`
}

// Line is one cart row. Two lines with the same Key are the same logical item
// and are merged by quantity, never duplicated.
type Line struct {
	ID         string           `json:"id"`
	SessionKey string           `json:"sessionKey"`
	ProductID  string           `json:"productId"`
	Quantity   int              `json:"quantity"`
	UnitPrice  decimal.Decimal  `json:"unitPrice"`
	Variant    VariantSelection `json:"variant"`
	Notes      string           `json:"notes,omitempty"`
}

// Key returns the identity key of the line: product id plus the ordered
// variant triple.
func (l Line) Key() string {
	return ItemKey(l.ProductID, l.Variant)
}

// ItemKey builds the identity key for a product/variant pair.
func ItemKey(productID string, v VariantSelection) string {
	var b strings.Builder
	b.Grow(len(productID) + len(v.Color) + len(v.Shape) + len(v.Size) + 3)
	b.WriteString(productID)
	b.WriteByte('|')
	b.WriteString(v.Color)
	b.WriteByte('|')
	b.WriteString(v.Shape)
	b.WriteByte('|')
	b.WriteString(v.Size)
	return b.String()
}

// IsTemporary reports whether the line still carries a client-generated id.
func (l Line) IsTemporary() bool {
	return strings.HasPrefix(l.ID, TempIDPrefix)
}

// NewTempID generates a client-side line id used until the gateway assigns
// the authoritative one.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// Snapshot is the ordered in-memory cart state. Transitions never mutate a
// snapshot in place; every reduce returns a fresh slice so consumers can
// detect change by reference comparison.
type Snapshot []Line

// Find returns the index of the line with the given id, or -1.
func (s Snapshot) Find(id string) int {
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}

// FindKey returns the index of the line with the given identity key, or -1.
func (s Snapshot) FindKey(key string) int {
	for i := range s {
		if s[i].Key() == key {
			return i
		}
	}
	return -1
}

// TotalQuantity sums the quantities of all lines.
func (s Snapshot) TotalQuantity() int {
	total := 0
	for i := range s {
		total += s[i].Quantity
	}
	return total
}

// Subtotal sums quantity times unit price across all lines.
func (s Snapshot) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for i := range s {
		total = total.Add(s[i].UnitPrice.Mul(decimal.NewFromInt(int64(s[i].Quantity))))
	}
	return total
}

// Clone returns a copy of the snapshot sharing no backing array.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	copy(out, s)
	return out
}
