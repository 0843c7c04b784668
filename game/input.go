package game

// Input is the key-state table the input collaborator writes to. Keys are
// browser key names; both arrows and WASD move.
type Input map[string]bool

func (in Input) Set(key string, down bool) {
	if down {
		in[key] = true
		return
	}
	delete(in, key)
}

func (in Input) Up() bool    { return in[KeyUp] || in["w"] || in["W"] }
func (in Input) Down() bool  { return in[KeyDown] || in["s"] || in["S"] }
func (in Input) Left() bool  { return in[KeyLeft] || in["a"] || in["A"] }
func (in Input) Right() bool { return in[KeyRight] || in["d"] || in["D"] }

// Clear releases every key.
func (in Input) Clear() {
	for k := range in {
		delete(in, k)
	}
}
