package session

// Presence projects the roster size to the UI collaborator.
type Presence struct {
	table    *Table
	onChange func(int)
}

func NewPresence(t *Table, onChange func(int)) *Presence {
	return &Presence{table: t, onChange: onChange}
}

// Notify reports the current roster size.
func (p *Presence) Notify() {
	if p.onChange != nil {
		p.onChange(p.table.Size())
	}
}
