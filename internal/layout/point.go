// internal/layout/point.go
package layout

import "math"

// Point is a position on the canvas.
type Point struct {
	X, Y float64
}

// Add returns the sum of p and other.
func (p Point) Add(other Point) Point {
	return Point{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns the difference of p and other.
func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// Mul returns p scaled by the scalar factor.
func (p Point) Mul(scalar float64) Point {
	return Point{X: p.X * scalar, Y: p.Y * scalar}
}

// Dist calculates the Euclidean distance between p and other.
func (p Point) Dist(other Point) float64 {
	// Use math.Hypot for numerical stability.
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Clamp limits each coordinate to the rectangle [min, max].
func (p Point) Clamp(min, max Point) Point {
	return Point{X: clampFloat(p.X, min.X, max.X), Y: clampFloat(p.Y, min.Y, max.Y)}
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
