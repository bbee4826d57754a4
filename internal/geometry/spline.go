// Catmull-Rom smoothing for travel paths.

package geometry

// CatmullRom returns a denser polyline approximating a smooth curve through
// points. The first and last input points are kept exactly.
//
// Inputs with fewer than 3 points are returned unchanged. Otherwise each pair
// p1,p2 is interpolated in numSegments steps (t in (0,1]) using the cubic
// Hermite blend with tangents v0=(p2-p0)/2 and v1=(p3-p1)/2, where p0 and p3
// are the clamped neighbours. The output length is 1 + (n-1)*numSegments.
//
// tension in [0,1] damps curvature by scaling the tangents; 1 gives the
// standard Catmull-Rom curve and 0 collapses every segment onto its chord.
// Scaling t itself instead would stop each segment short of p2 and break the
// end anchors, so the damping is applied to v0 and v1.
func CatmullRom(points []Point, numSegments int, tension float64) []Point {
	if len(points) < 3 {
		out := make([]Point, len(points))
		copy(out, points)
		return out
	}
	if numSegments < 1 {
		numSegments = 1
	}
	tension = clamp01(tension)

	n := len(points)
	out := make([]Point, 0, 1+(n-1)*numSegments)
	out = append(out, points[0])

	for i := 0; i < n-1; i++ {
		p0 := points[maxInt(0, i-1)]
		p1 := points[i]
		p2 := points[i+1]
		p3 := points[minInt(n-1, i+2)]

		v0 := p2.Sub(p0).Scale(0.5 * tension)
		v1 := p3.Sub(p1).Scale(0.5 * tension)

		for s := 1; s <= numSegments; s++ {
			t := float64(s) / float64(numSegments)
			out = append(out, hermite(p1, p2, v0, v1, t))
		}
	}

	// Anchor the end exactly; the blend is exact at t=1 but callers rely on it.
	out[len(out)-1] = points[n-1]
	return out
}

// SmoothedLen is the number of points CatmullRom produces for n inputs.
func SmoothedLen(n, numSegments int) int {
	if n < 3 {
		return n
	}
	if numSegments < 1 {
		numSegments = 1
	}
	return 1 + (n-1)*numSegments
}

func hermite(p1, p2, v0, v1 Point, t float64) Point {
	t2 := t * t
	t3 := t2 * t

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return Point{
		X: h00*p1.X + h10*v0.X + h01*p2.X + h11*v1.X,
		Y: h00*p1.Y + h10*v0.Y + h01*p2.Y + h11*v1.Y,
	}
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
