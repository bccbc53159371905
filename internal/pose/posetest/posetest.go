// Package posetest builds synthetic landmark sets for tests.
package posetest

import (
	"math"

	"backend-formcoach/internal/pose"
)

const (
	StandingAngle   = 10
	TransitionAngle = 50
	BottomAngle     = 85
)

// Pose describes a right-side view of a subject facing +x. Angles are in degrees.
type Pose struct {
	HipKnee float64 // hips sitting back from the knee
	Torso   float64 // torso lean from vertical
	Shin    float64 // knee travel forward of the ankle
}

func (p Pose) Landmarks() pose.LandmarkSet {
	ankle := pose.Landmark{X: 0.5, Y: 0.9, Visibility: 0.95}
	knee := step(ankle, 0.2, p.Shin)
	hip := step(knee, 0.2, -p.HipKnee)
	shoulder := step(hip, 0.25, p.Torso)

	return pose.LandmarkSet{
		pose.Nose:          {X: shoulder.X + 0.03, Y: shoulder.Y - 0.06, Visibility: 0.99},
		pose.RightShoulder: shoulder,
		pose.LeftShoulder:  {X: shoulder.X - 0.01, Y: shoulder.Y, Visibility: 0.4},
		pose.RightHip:      hip,
		pose.RightKnee:     knee,
		pose.RightAnkle:    ankle,
		pose.RightFoot:     {X: ankle.X + 0.06, Y: ankle.Y + 0.02, Visibility: 0.9},
	}
}

// Frontal is a subject facing the camera, which reads as a large offset angle.
func Frontal() pose.LandmarkSet {
	ls := Squat(StandingAngle)
	sh := ls[pose.RightShoulder]
	ls[pose.LeftShoulder] = pose.Landmark{X: sh.X - 0.2, Y: sh.Y, Visibility: 0.95}
	ls[pose.RightShoulder] = pose.Landmark{X: sh.X + 0.2, Y: sh.Y, Visibility: 0.95}
	ls[pose.Nose] = pose.Landmark{X: sh.X, Y: sh.Y - 0.08, Visibility: 0.99}
	return ls
}

// Squat is a pose with the given hip-knee angle and an acceptable torso lean.
func Squat(hipKnee float64) pose.LandmarkSet {
	return Pose{HipKnee: hipKnee, Torso: 30}.Landmarks()
}

// Rep returns one full repetition starting from STANDING, each phase held for hold frames.
func Rep(hold int) []pose.LandmarkSet {
	var out []pose.LandmarkSet
	for _, a := range []float64{TransitionAngle, BottomAngle, TransitionAngle, StandingAngle} {
		for i := 0; i < hold; i++ {
			out = append(out, Squat(a))
		}
	}
	return out
}

// step moves length from l along a direction deg degrees from upward vertical, positive
// toward +x.
func step(l pose.Landmark, length, deg float64) pose.Landmark {
	rad := deg * math.Pi / 180
	return pose.Landmark{
		X:          l.X + length*math.Sin(rad),
		Y:          l.Y - length*math.Cos(rad),
		Visibility: 0.95,
	}
}
