package game

import (
	"math"
	"math/rand"
	"time"
)

type Collectible struct {
	X, Y        float64
	Emoji       string
	Collected   bool
	SpawnedAt   time.Time
	CollectedAt time.Time
}

// NewCollectible places a random collectible fully inside b.
func NewCollectible(rng *rand.Rand, b Bounds, now time.Time) *Collectible {
	return &Collectible{
		X:         rng.Float64()*(b.Width-EmojiSize) + EmojiSize/2,
		Y:         rng.Float64()*(b.Height-EmojiSize) + EmojiSize/2,
		Emoji:     CollectibleKind[rng.Intn(len(CollectibleKind))],
		SpawnedAt: now,
	}
}

// Touches reports whether a player at (x, y) overlaps the collectible.
func (c *Collectible) Touches(x, y float64) bool {
	return math.Hypot(x-c.X, y-c.Y) < (PlayerSize+EmojiSize)/2
}

// MarkCollected flips Collected once; it reports whether this call did it.
func (c *Collectible) MarkCollected(now time.Time) bool {
	if c.Collected {
		return false
	}
	c.Collected = true
	c.CollectedAt = now
	return true
}

// Expired reports whether a collected token has outlived the grace period.
func (c *Collectible) Expired(now time.Time, grace time.Duration) bool {
	return c.Collected && now.Sub(c.CollectedAt) >= grace
}
