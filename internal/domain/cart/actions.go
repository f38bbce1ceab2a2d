package cart

// Action is one reducer input. The concrete types below are the only
// transitions the snapshot admits.
type Action interface {
	isAction()
}

// SetAll replaces the entire snapshot with the authoritative line list
// fetched from the gateway. Temporary client ids are superseded here.
type SetAll struct {
	Lines []Line
}

// AddItem appends a line, or merges it into an existing line with the same
// identity key.
type AddItem struct {
	Line Line
}

// RemoveItem deletes the line with the given id.
type RemoveItem struct {
	ID string
}

// UpdateQuantity sets the quantity of the line with the given id. A quantity
// of zero or less removes the line.
type UpdateQuantity struct {
	ID       string
	Quantity int
}

// UpdateNotes replaces the notes of the line with the given id.
type UpdateNotes struct {
	ID    string
	Notes string
}

// Clear empties the cart.
type Clear struct{}

func (SetAll) isAction()         {}
func (AddItem) isAction()        {}
func (RemoveItem) isAction()     {}
func (UpdateQuantity) isAction() {}
func (UpdateNotes) isAction()    {}
func (Clear) isAction()          {}
