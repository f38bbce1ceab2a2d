package cart

// DeltaKind classifies one grouped-adjustment step.
type DeltaKind int

const (
	// DeltaSetQuantity sets the line to NewQuantity.
	DeltaSetQuantity DeltaKind = iota
	// DeltaRemove deletes the line entirely.
	DeltaRemove
)

// LineDelta is one per-line instruction produced by GroupAdjust. Callers turn
// each delta into the matching engine call, awaiting one before issuing the
// next so two optimistic updates never race on the same line id.
type LineDelta struct {
	LineID      string
	Kind        DeltaKind
	NewQuantity int
}

// GroupAdjust translates a single "change total quantity for this product"
// gesture into per-line instructions across the lines of one product group.
// The group's stored order is significant: an increase lands entirely on the
// first line; a decrease is consumed from the last line backwards, removing
// lines driven to zero. A decrease larger than the group total empties the
// group. The input slice is not modified.
func GroupAdjust(group []Line, newTotal int) []LineDelta {
	if len(group) == 0 {
		return nil
	}
	if newTotal < 0 {
		newTotal = 0
	}

	current := 0
	for i := range group {
		current += group[i].Quantity
	}
	delta := newTotal - current
	if delta == 0 {
		return nil
	}

	if delta > 0 {
		first := group[0]
		return []LineDelta{{
			LineID:      first.ID,
			Kind:        DeltaSetQuantity,
			NewQuantity: first.Quantity + delta,
		}}
	}

	remaining := -delta
	deltas := make([]LineDelta, 0, len(group))
	for i := len(group) - 1; i >= 0 && remaining > 0; i-- {
		line := group[i]
		take := line.Quantity
		if take > remaining {
			take = remaining
		}
		remaining -= take
		if take == line.Quantity {
			deltas = append(deltas, LineDelta{LineID: line.ID, Kind: DeltaRemove})
			continue
		}
		deltas = append(deltas, LineDelta{
			LineID:      line.ID,
			Kind:        DeltaSetQuantity,
			NewQuantity: line.Quantity - take,
		})
	}
	return deltas
}
