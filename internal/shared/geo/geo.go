package geo

import "math"

// Point is a position in normalized frame space: x grows to the right, y grows downward.
type Point struct {
	X float64
	Y float64
}

func (p Point) Sub(o Point) Point {
	return Point{X: p.X - o.X, Y: p.Y - o.Y}
}

// Angle returns the interior angle at vertex formed by a and c, in degrees within [0, 180].
// Degenerate input (a or c on top of vertex) yields 0.
func Angle(a, vertex, c Point) float64 {
	u := a.Sub(vertex)
	v := c.Sub(vertex)
	nu := math.Hypot(u.X, u.Y)
	nv := math.Hypot(v.X, v.Y)
	if nu == 0 || nv == 0 {
		return 0
	}
	cos := (u.X*v.X + u.Y*v.Y) / (nu * nv)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// VerticalAngle returns the signed angle in degrees between the upward vertical at vertex
// and the segment vertex→p. Positive when p lies toward +x, negative toward -x.
func VerticalAngle(p, vertex Point) float64 {
	v := p.Sub(vertex)
	if v.X == 0 && v.Y == 0 {
		return 0
	}
	return math.Atan2(v.X, -v.Y) * 180 / math.Pi
}
