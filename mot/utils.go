package mot

// IoU calculates Intersection over Union between two rectangles.
// Intersection is clamped to zero on each axis, so disjoint boxes give 0.
// Degenerate input (zero union) gives 0 as well.
func IoU(r1, r2 Rectangle) float64 {
	xA := maxFloat64(r1.X, r2.X)
	yA := maxFloat64(r1.Y, r2.Y)
	xB := minFloat64(r1.X+r1.Width, r2.X+r2.Width)
	yB := minFloat64(r1.Y+r1.Height, r2.Y+r2.Height)

	interArea := maxFloat64(0, xB-xA) * maxFloat64(0, yB-yA)
	unionArea := r1.Width*r1.Height + r2.Width*r2.Height - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}

func maxFloat64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
