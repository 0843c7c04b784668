package game

import (
	"math/rand"
	"time"
)

// Bounds is the canvas coordinate space players move in.
type Bounds struct {
	Width  float64
	Height float64
}

// DefaultBounds matches the browser canvas.
func DefaultBounds() Bounds {
	return Bounds{Width: DefaultWidth, Height: DefaultHeight}
}

// Center of the canvas; local players spawn here.
func (b Bounds) Center() (float64, float64) {
	return b.Width / 2, b.Height / 2
}

type TrailPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

type Participant struct {
	ID    string
	Name  string
	X, Y  float64
	Emoji string
	Color string
	Trail []TrailPoint
	Score int

	LastTrailAt time.Time
}

// NewParticipant builds a participant with an empty trail.
func NewParticipant(id, name string, x, y float64, emoji, color string) *Participant {
	return &Participant{
		ID:    id,
		Name:  name,
		X:     x,
		Y:     y,
		Emoji: emoji,
		Color: color,
		Trail: []TrailPoint{},
	}
}

// Clone returns a deep copy safe to hand to readers.
func (p *Participant) Clone() Participant {
	out := *p
	out.Trail = CloneTrail(p.Trail)
	return out
}

// CloneTrail copies a trail, never returning nil.
func CloneTrail(src []TrailPoint) []TrailPoint {
	dst := make([]TrailPoint, len(src))
	copy(dst, src)
	return dst
}

// PushTrail appends pt and evicts the oldest points beyond TrailLength.
func PushTrail(trail []TrailPoint, pt TrailPoint) []TrailPoint {
	trail = append(trail, pt)
	if over := len(trail) - TrailLength; over > 0 {
		trail = append(trail[:0], trail[over:]...)
	}
	return trail
}

func RandomColor(rng *rand.Rand) string {
	return Palette[rng.Intn(len(Palette))]
}

func RandomPlayerEmoji(rng *rand.Rand) string {
	return PlayerEmojis[rng.Intn(len(PlayerEmojis))]
}
