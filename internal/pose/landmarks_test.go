package pose

import (
	"math"
	"testing"
)

func sideView(hipX, hipY float64) LandmarkSet {
	return LandmarkSet{
		Nose:          {X: 0.52, Y: 0.25, Visibility: 0.99},
		LeftShoulder:  {X: 0.49, Y: 0.30, Visibility: 0.30},
		RightShoulder: {X: 0.50, Y: 0.30, Visibility: 0.95},
		LeftHip:       {X: hipX - 0.01, Y: hipY, Visibility: 0.30},
		RightHip:      {X: hipX, Y: hipY, Visibility: 0.95},
		LeftKnee:      {X: 0.49, Y: 0.70, Visibility: 0.30},
		RightKnee:     {X: 0.50, Y: 0.70, Visibility: 0.95},
		LeftAnkle:     {X: 0.49, Y: 0.85, Visibility: 0.30},
		RightAnkle:    {X: 0.50, Y: 0.90, Visibility: 0.95},
		RightFoot:     {X: 0.55, Y: 0.92, Visibility: 0.90},
	}
}

func TestComputeAnglesStanding(t *testing.T) {
	a := ComputeAngles(sideView(0.5, 0.5), DefaultMinVisibility)
	if !a.Valid {
		t.Fatalf("expected valid angle set")
	}
	if math.Abs(a.HipKneeVertical) > 1e-6 || a.Knee > 1e-6 {
		t.Fatalf("expected straight leg, got %+v", a)
	}
	if a.Offset > 20 {
		t.Fatalf("side-on subject should have a small offset, got %v", a.Offset)
	}
}

func TestComputeAnglesSquatting(t *testing.T) {
	a := ComputeAngles(sideView(0.35, 0.62), DefaultMinVisibility)
	if !a.Valid {
		t.Fatalf("expected valid angle set")
	}
	if a.HipKneeVertical < 55 || a.HipKneeVertical > 70 {
		t.Fatalf("expected hips sitting back around 62 degrees, got %v", a.HipKneeVertical)
	}
	if a.Knee < 50 {
		t.Fatalf("expected a bent knee, got %v", a.Knee)
	}
}

func TestComputeAnglesMirroredSubject(t *testing.T) {
	ls := sideView(0.35, 0.62)
	// same pose facing the other way
	for j, l := range ls {
		l.X = 1 - l.X
		ls[j] = l
	}
	a := ComputeAngles(ls, DefaultMinVisibility)
	if a.HipKneeVertical < 55 {
		t.Fatalf("sign should be normalised by facing direction, got %v", a.HipKneeVertical)
	}
}

func TestComputeAnglesFrontalOffset(t *testing.T) {
	ls := sideView(0.5, 0.5)
	ls[LeftShoulder] = Landmark{X: 0.4, Y: 0.3, Visibility: 0.9}
	ls[RightShoulder] = Landmark{X: 0.6, Y: 0.3, Visibility: 0.9}
	ls[Nose] = Landmark{X: 0.5, Y: 0.25, Visibility: 0.9}
	a := ComputeAngles(ls, DefaultMinVisibility)
	if a.Offset < 100 {
		t.Fatalf("expected a wide offset angle, got %v", a.Offset)
	}
}

func TestComputeAnglesInvalid(t *testing.T) {
	if ComputeAngles(nil, DefaultMinVisibility).Valid {
		t.Fatalf("empty set must be invalid")
	}

	ls := sideView(0.5, 0.5)
	delete(ls, Nose)
	if ComputeAngles(ls, DefaultMinVisibility).Valid {
		t.Fatalf("missing nose must be invalid")
	}

	ls = sideView(0.5, 0.5)
	k := ls[RightKnee]
	k.Visibility = 0.1
	ls[RightKnee] = k
	if ComputeAngles(ls, DefaultMinVisibility).Valid {
		t.Fatalf("no side above the visibility floor must be invalid")
	}
}

func TestComputeAnglesFallsBackToOtherSide(t *testing.T) {
	ls := sideView(0.5, 0.5)
	for _, j := range []Joint{LeftShoulder, LeftHip, LeftKnee, LeftAnkle} {
		l := ls[j]
		l.Visibility = 0.9
		ls[j] = l
	}
	k := ls[RightKnee]
	k.Visibility = 0.1
	ls[RightKnee] = k
	if !ComputeAngles(ls, DefaultMinVisibility).Valid {
		t.Fatalf("expected the far side to be used")
	}
}
