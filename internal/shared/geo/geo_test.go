package geo

import (
	"math"
	"testing"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestAngleRightAngle(t *testing.T) {
	a := Angle(Point{X: 1, Y: 0}, Point{}, Point{X: 0, Y: 1})
	if !near(a, 90) {
		t.Fatalf("expected 90, got %v", a)
	}
}

func TestAngleStraightAndDegenerate(t *testing.T) {
	if a := Angle(Point{X: -1}, Point{}, Point{X: 1}); !near(a, 180) {
		t.Fatalf("expected 180, got %v", a)
	}
	if a := Angle(Point{}, Point{}, Point{X: 1}); a != 0 {
		t.Fatalf("expected 0 for degenerate input, got %v", a)
	}
}

func TestVerticalAngleSigned(t *testing.T) {
	knee := Point{X: 0.5, Y: 0.7}

	// hip straight above the knee
	if a := VerticalAngle(Point{X: 0.5, Y: 0.5}, knee); !near(a, 0) {
		t.Fatalf("expected 0, got %v", a)
	}
	// hip up and to the right at 45 degrees
	if a := VerticalAngle(Point{X: 0.6, Y: 0.6}, knee); !near(a, 45) {
		t.Fatalf("expected 45, got %v", a)
	}
	// hip level with the knee, to the left
	if a := VerticalAngle(Point{X: 0.3, Y: 0.7}, knee); !near(a, -90) {
		t.Fatalf("expected -90, got %v", a)
	}
}

func TestVerticalAngleMatchesInteriorAngle(t *testing.T) {
	hip := Point{X: 0.62, Y: 0.55}
	knee := Point{X: 0.5, Y: 0.7}
	up := Point{X: knee.X, Y: 0}
	if !near(math.Abs(VerticalAngle(hip, knee)), Angle(hip, knee, up)) {
		t.Fatalf("magnitude should equal the interior angle against the vertical")
	}
}
