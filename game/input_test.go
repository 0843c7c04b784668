package game

import "testing"

func TestInputSetAndClear(t *testing.T) {
	in := Input{}
	in.Set(KeyUp, true)
	in.Set("d", true)
	if !in.Up() || !in.Right() {
		t.Fatalf("keys not pressed: %v", in)
	}
	in.Set(KeyUp, false)
	if in.Up() {
		t.Fatalf("up still pressed")
	}
	in.Clear()
	if len(in) != 0 {
		t.Fatalf("clear left %d keys", len(in))
	}
}
