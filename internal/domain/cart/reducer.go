package cart

// Reduce maps (snapshot, action) to a new snapshot. It is referentially pure:
// the input snapshot is never mutated and identical inputs yield deep-equal
// outputs. Invariants maintained across every transition: no two lines share
// an identity key, and no line has quantity <= 0.
func Reduce(snap Snapshot, action Action) Snapshot {
	switch a := action.(type) {
	case SetAll:
		out := make(Snapshot, len(a.Lines))
		copy(out, a.Lines)
		return out

	case AddItem:
		if a.Line.Quantity <= 0 {
			return snap.Clone()
		}
		out := snap.Clone()
		if i := out.FindKey(a.Line.Key()); i >= 0 {
			merged := out[i]
			merged.Quantity += a.Line.Quantity
			out[i] = merged
			return out
		}
		line := a.Line
		if line.ID == "" {
			line.ID = NewTempID()
		}
		return append(out, line)

	case RemoveItem:
		i := snap.Find(a.ID)
		if i < 0 {
			return snap.Clone()
		}
		out := make(Snapshot, 0, len(snap)-1)
		out = append(out, snap[:i]...)
		return append(out, snap[i+1:]...)

	case UpdateQuantity:
		if a.Quantity <= 0 {
			return Reduce(snap, RemoveItem{ID: a.ID})
		}
		out := snap.Clone()
		if i := out.Find(a.ID); i >= 0 {
			updated := out[i]
			updated.Quantity = a.Quantity
			out[i] = updated
		}
		return out

	case UpdateNotes:
		out := snap.Clone()
		if i := out.Find(a.ID); i >= 0 {
			updated := out[i]
			updated.Notes = a.Notes
			out[i] = updated
		}
		return out

	case Clear:
		return Snapshot{}
	}

	return snap.Clone()
}
