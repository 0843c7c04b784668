package game

import (
	"math"
	"time"
)

// Step advances one frame of movement for p and samples its trail.
func Step(p *Participant, in Input, b Bounds, now time.Time) {
	prevX, prevY := p.X, p.Y
	half := PlayerSize / 2

	if in.Up() {
		p.Y = math.Max(half, p.Y-PlayerSpeed)
	}
	if in.Down() {
		p.Y = math.Min(b.Height-half, p.Y+PlayerSpeed)
	}
	if in.Left() {
		p.X = math.Max(half, p.X-PlayerSpeed)
	}
	if in.Right() {
		p.X = math.Min(b.Width-half, p.X+PlayerSpeed)
	}

	if now.Sub(p.LastTrailAt) > TrailSampleEvery {
		if prevX != p.X || prevY != p.Y {
			p.Trail = PushTrail(p.Trail, TrailPoint{X: prevX, Y: prevY, Timestamp: now.UnixMilli()})
		}
		p.LastTrailAt = now
	}
}
