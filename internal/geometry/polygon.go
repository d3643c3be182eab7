// Package geometry holds the region-of-interest test used to filter detections.
package geometry

import (
	"fmt"
	"image"
	"math"
)

const epsilon = 1e-9

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// FromImagePoint converts an integer pixel coordinate.
func FromImagePoint(p image.Point) Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

// Polygon is an ordered list of vertices of a simple polygon. The closing
// edge from the last vertex back to the first is implicit.
type Polygon []Point

// DefaultROI is the region of interest in 1020x500 frame coordinates.
var DefaultROI = Polygon{{5, 180}, {3, 249}, {984, 237}, {950, 168}}

// FromPairs builds a polygon from [x, y] pairs as they appear in config.
func FromPairs(pairs [][]float64) (Polygon, error) {
	p := make(Polygon, 0, len(pairs))
	for i, v := range pairs {
		if len(v) != 2 {
			return nil, fmt.Errorf("vertex %d: want [x, y], got %v", i, v)
		}
		p = append(p, Point{X: v[0], Y: v[1]})
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p Polygon) Validate() error {
	if len(p) < 3 {
		return fmt.Errorf("polygon needs at least 3 vertices, got %d", len(p))
	}
	return nil
}

// Contains reports whether pt lies inside the polygon or on its boundary.
// Polygons with fewer than 3 vertices contain nothing.
func (p Polygon) Contains(pt Point) bool {
	if len(p) < 3 {
		return false
	}

	n := len(p)
	for i := 0; i < n; i++ {
		if onSegment(pt, p[i], p[(i+1)%n]) {
			return true
		}
	}

	// Ray casting to the right of pt.
	inside := false
	for i := 0; i < n; i++ {
		pi, pj := p[i], p[(i+1)%n]
		if (pi.Y > pt.Y) != (pj.Y > pt.Y) &&
			pt.X < (pj.X-pi.X)*(pt.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
	}
	return inside
}

// ContainsPixel is Contains for integer pixel coordinates.
func (p Polygon) ContainsPixel(pt image.Point) bool {
	return p.Contains(FromImagePoint(pt))
}

// ImagePoints rounds the vertices to pixel coordinates for drawing.
func (p Polygon) ImagePoints() []image.Point {
	out := make([]image.Point, len(p))
	for i, v := range p {
		out[i] = image.Pt(int(math.Round(v.X)), int(math.Round(v.Y)))
	}
	return out
}

// Contains is the free-function form of Polygon.Contains.
func Contains(polygon Polygon, pt Point) bool {
	return polygon.Contains(pt)
}

func onSegment(p, a, b Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > epsilon {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-epsilon && p.X <= math.Max(a.X, b.X)+epsilon &&
		p.Y >= math.Min(a.Y, b.Y)-epsilon && p.Y <= math.Max(a.Y, b.Y)+epsilon
}
