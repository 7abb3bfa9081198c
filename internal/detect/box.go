package detect

// Epsilon keeps ratio and IoU denominators away from zero for degenerate boxes.
const Epsilon = 1e-5

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Normalize returns b with negative width or height clamped to zero.
// A clamped box has zero area and never matches a track.
func (b Box) Normalize() Box {
	if b.W < 0 {
		b.W = 0
	}
	if b.H < 0 {
		b.H = 0
	}
	return b
}

// Area returns W*H of the normalized box.
func (b Box) Area() float64 {
	n := b.Normalize()
	return n.W * n.H
}

// Center returns the box centre.
func (b Box) Center() Point {
	return Point{X: b.X + b.W/2, Y: b.Y + b.H/2}
}

// AspectRatio returns width over height, guarded by Epsilon.
func (b Box) AspectRatio() float64 {
	return b.W / (b.H + Epsilon)
}

// IoU returns intersection area over union area of a and b.
// Both boxes are normalized first; disjoint or degenerate boxes yield 0.
func IoU(a, b Box) float64 {
	a, b = a.Normalize(), b.Normalize()

	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.W, b.X+b.W)
	y2 := min(a.Y+a.H, b.Y+b.H)

	iw := max(0, x2-x1)
	ih := max(0, y2-y1)
	inter := iw * ih

	return inter / (a.W*a.H + b.W*b.H - inter + Epsilon)
}
