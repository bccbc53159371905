package pose

import (
	"math"

	"backend-formcoach/internal/shared/geo"
)

// Joint names follow the MediaPipe pose landmark naming.
type Joint string

const (
	Nose          Joint = "nose"
	LeftShoulder  Joint = "left_shoulder"
	RightShoulder Joint = "right_shoulder"
	LeftHip       Joint = "left_hip"
	RightHip      Joint = "right_hip"
	LeftKnee      Joint = "left_knee"
	RightKnee     Joint = "right_knee"
	LeftAnkle     Joint = "left_ankle"
	RightAnkle    Joint = "right_ankle"
	LeftFoot      Joint = "left_foot_index"
	RightFoot     Joint = "right_foot_index"
)

// DefaultMinVisibility is the visibility floor below which a joint is treated as unusable.
const DefaultMinVisibility = 0.5

type Landmark struct {
	X          float64 `json:"x" msgpack:"x"`
	Y          float64 `json:"y" msgpack:"y"`
	Z          float64 `json:"z,omitempty" msgpack:"z"`
	Visibility float64 `json:"visibility" msgpack:"visibility"`
}

func (l Landmark) Point() geo.Point {
	return geo.Point{X: l.X, Y: l.Y}
}

// LandmarkSet maps joints to normalized coordinates for a single frame.
type LandmarkSet map[Joint]Landmark

// AngleSet holds the angles the squat classifier consumes. When Valid is false the
// angle fields carry no meaning.
type AngleSet struct {
	// HipKneeVertical is the signed angle between the knee→hip segment and the vertical
	// at the knee. Positive means the hips sit back behind the knee.
	HipKneeVertical float64 `json:"hip_knee_vertical"`
	// Knee is knee flexion: 0 with a straight leg.
	Knee float64 `json:"knee"`
	// Ankle is the shin's lean from vertical.
	Ankle float64 `json:"ankle"`
	// Hip is the torso's lean from vertical.
	Hip float64 `json:"hip"`
	// Offset is the angle at the nose subtended by both shoulders. Small when the
	// subject is side-on to the camera.
	Offset float64 `json:"offset"`
	Valid  bool    `json:"valid"`
}

type side struct {
	shoulder, hip, knee, ankle, foot Joint
}

var (
	leftSide  = side{LeftShoulder, LeftHip, LeftKnee, LeftAnkle, LeftFoot}
	rightSide = side{RightShoulder, RightHip, RightKnee, RightAnkle, RightFoot}
)

// ComputeAngles derives an AngleSet from a landmark set. The side of the body nearest the
// camera is used for the leg and torso angles.
func ComputeAngles(ls LandmarkSet, minVisibility float64) AngleSet {
	if len(ls) == 0 {
		return AngleSet{}
	}
	nose, okN := ls[Nose]
	lsh, okL := ls[LeftShoulder]
	rsh, okR := ls[RightShoulder]
	if !okN || !okL || !okR {
		return AngleSet{}
	}

	s, ok := pickSide(ls, minVisibility)
	if !ok {
		return AngleSet{}
	}
	shoulder, hip, knee, ankle := ls[s.shoulder], ls[s.hip], ls[s.knee], ls[s.ankle]

	facing := 1.0
	if foot, ok := ls[s.foot]; ok && foot.X < ankle.X {
		facing = -1
	}

	return AngleSet{
		HipKneeVertical: -facing * geo.VerticalAngle(hip.Point(), knee.Point()),
		Knee:            180 - geo.Angle(hip.Point(), knee.Point(), ankle.Point()),
		Ankle:           math.Abs(geo.VerticalAngle(knee.Point(), ankle.Point())),
		Hip:             math.Abs(geo.VerticalAngle(shoulder.Point(), hip.Point())),
		Offset:          geo.Angle(lsh.Point(), nose.Point(), rsh.Point()),
		Valid:           true,
	}
}

func pickSide(ls LandmarkSet, minVisibility float64) (side, bool) {
	first, second := leftSide, rightSide
	if extent(ls, rightSide) > extent(ls, leftSide) {
		first, second = rightSide, leftSide
	}
	if usable(ls, first, minVisibility) {
		return first, true
	}
	if usable(ls, second, minVisibility) {
		return second, true
	}
	return side{}, false
}

// extent is the vertical shoulder-to-foot span; the side facing the camera spans more.
func extent(ls LandmarkSet, s side) float64 {
	sh, ok := ls[s.shoulder]
	if !ok {
		return -1
	}
	low, ok := ls[s.foot]
	if !ok {
		if low, ok = ls[s.ankle]; !ok {
			return -1
		}
	}
	return math.Abs(low.Y - sh.Y)
}

func usable(ls LandmarkSet, s side, minVisibility float64) bool {
	for _, j := range []Joint{s.shoulder, s.hip, s.knee, s.ankle} {
		l, ok := ls[j]
		if !ok || l.Visibility < minVisibility {
			return false
		}
	}
	return true
}
