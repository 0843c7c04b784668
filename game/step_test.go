package game

import (
	"testing"
	"time"
)

func TestStepMovesWithArrowAndWASD(t *testing.T) {
	b := DefaultBounds()
	p := NewParticipant("p1", "a", 100, 100, "😀", "#FF6B6B")

	Step(p, Input{KeyRight: true}, b, time.Now())
	if p.X != 100+PlayerSpeed || p.Y != 100 {
		t.Fatalf("after right: got (%f,%f)", p.X, p.Y)
	}

	Step(p, Input{"w": true}, b, time.Now())
	if p.Y != 100-PlayerSpeed {
		t.Fatalf("after w: got y=%f want %f", p.Y, 100-PlayerSpeed)
	}
}

func TestStepClampsToBounds(t *testing.T) {
	b := Bounds{Width: 100, Height: 100}
	p := NewParticipant("p1", "a", PlayerSize/2+1, 99, "😀", "#FF6B6B")

	Step(p, Input{KeyLeft: true, KeyDown: true}, b, time.Now())
	if p.X != PlayerSize/2 {
		t.Fatalf("x not clamped: %f", p.X)
	}
	if p.Y != b.Height-PlayerSize/2 {
		t.Fatalf("y not clamped: %f", p.Y)
	}
}

func TestStepSamplesTrailOnlyWhenMoving(t *testing.T) {
	b := DefaultBounds()
	p := NewParticipant("p1", "a", 200, 200, "😀", "#FF6B6B")
	start := time.Now()

	Step(p, Input{}, b, start)
	if len(p.Trail) != 0 {
		t.Fatalf("idle step recorded trail: %d", len(p.Trail))
	}

	Step(p, Input{KeyRight: true}, b, start.Add(2*TrailSampleEvery))
	if len(p.Trail) != 1 {
		t.Fatalf("expected one trail point, got %d", len(p.Trail))
	}
	if p.Trail[0].X != 200 || p.Trail[0].Y != 200 {
		t.Fatalf("trail point should be previous position, got %+v", p.Trail[0])
	}

	// Within the sampling window nothing is recorded.
	Step(p, Input{KeyRight: true}, b, start.Add(2*TrailSampleEvery+time.Millisecond))
	if len(p.Trail) != 1 {
		t.Fatalf("sampled inside window: %d", len(p.Trail))
	}
}

func TestPushTrailEvictsOldest(t *testing.T) {
	var trail []TrailPoint
	for i := 0; i < TrailLength+10; i++ {
		trail = PushTrail(trail, TrailPoint{X: float64(i)})
	}
	if len(trail) != TrailLength {
		t.Fatalf("trail length = %d, want %d", len(trail), TrailLength)
	}
	if trail[0].X != 10 {
		t.Fatalf("oldest point = %f, want 10", trail[0].X)
	}
	if trail[len(trail)-1].X != float64(TrailLength+9) {
		t.Fatalf("newest point = %f", trail[len(trail)-1].X)
	}
}

func TestCloneDetachesTrail(t *testing.T) {
	p := NewParticipant("p1", "a", 0, 0, "😀", "#FF6B6B")
	p.Trail = append(p.Trail, TrailPoint{X: 1})
	c := p.Clone()
	c.Trail[0].X = 99
	if p.Trail[0].X != 1 {
		t.Fatalf("clone shares trail backing array")
	}
}
