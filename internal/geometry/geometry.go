package geometry

import "math"

// Box is an axis-aligned rectangle in normalized image coordinates:
// x1,y1 is the top-left corner, x2,y2 the bottom-right, all within [0,1].
type Box [4]float64

func (b Box) Area() float64 {
	w := b[2] - b[0]
	h := b[3] - b[1]
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return w * h
}

func Clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FromCoords converts a raw 4-tuple into a clipped Box. Candidates with the
// wrong arity or any non-finite coordinate are rejected.
func FromCoords(raw []float64) (Box, bool) {
	if len(raw) != 4 {
		return Box{}, false
	}
	var b Box
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Box{}, false
		}
		b[i] = Clip01(v)
	}
	return b, true
}

// Normalize converts raw box tuples into Boxes, dropping invalid candidates.
func Normalize(raw [][]float64) []Box {
	out := make([]Box, 0, len(raw))
	for _, r := range raw {
		if b, ok := FromCoords(r); ok {
			out = append(out, b)
		}
	}
	return out
}

// IoU returns the intersection-over-union of a and b. Degenerate overlaps
// and zero union area yield exactly 0. IoU(a,b) == IoU(b,a).
func IoU(a, b Box) float64 {
	x1 := math.Max(a[0], b[0])
	y1 := math.Max(a[1], b[1])
	x2 := math.Min(a[2], b[2])
	y2 := math.Min(a[3], b[3])
	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0.0
	}
	return inter / union
}
