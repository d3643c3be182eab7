// Package yolo decodes the raw output tensor of an anchor-free YOLO
// detector (v8 layout: cx, cy, w, h followed by one score per class).
package yolo

import (
	"errors"
	"fmt"
	"image"
	"math"

	"anpr-pipeline/internal/domain/anpr"
)

var ErrShape = errors.New("unexpected output shape")

// Geometry maps network input coordinates back to the frame. The network
// input is a square of InputSize pixels stretched from the whole frame.
type Geometry struct {
	FrameWidth  int
	FrameHeight int
	InputSize   int
}

func (g Geometry) scale() (float64, float64) {
	return float64(g.FrameWidth) / float64(g.InputSize), float64(g.FrameHeight) / float64(g.InputSize)
}

// Decode turns a [1, 4+classes, anchors] (or transposed) tensor into
// detections scoring at least minConf. Boxes are clamped to the frame and
// empty ones dropped.
func Decode(data []float32, shape []int, g Geometry, minConf float64) ([]anpr.Detection, error) {
	if g.InputSize <= 0 || g.FrameWidth <= 0 || g.FrameHeight <= 0 {
		return nil, fmt.Errorf("%w: geometry %+v", ErrShape, g)
	}
	dims := shape
	if len(dims) == 3 {
		if dims[0] != 1 {
			return nil, fmt.Errorf("%w: batch %d", ErrShape, dims[0])
		}
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("%w: %v", ErrShape, shape)
	}

	attrs, count := dims[0], dims[1]
	transposed := false
	if attrs > count {
		attrs, count = count, attrs
		transposed = true
	}
	if attrs < 5 {
		return nil, fmt.Errorf("%w: %v", ErrShape, shape)
	}
	if len(data) < attrs*count {
		return nil, fmt.Errorf("%w: %d values for %v", ErrShape, len(data), shape)
	}

	at := func(attr, i int) float64 {
		if transposed {
			return float64(data[i*attrs+attr])
		}
		return float64(data[attr*count+i])
	}

	sx, sy := g.scale()
	var out []anpr.Detection
	for i := 0; i < count; i++ {
		score := 0.0
		for c := 4; c < attrs; c++ {
			score = math.Max(score, at(c, i))
		}
		if score < minConf {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		box := anpr.Box{
			X1: clamp(int(math.Round((cx-w/2)*sx)), 0, g.FrameWidth),
			Y1: clamp(int(math.Round((cy-h/2)*sy)), 0, g.FrameHeight),
			X2: clamp(int(math.Round((cx+w/2)*sx)), 0, g.FrameWidth),
			Y2: clamp(int(math.Round((cy+h/2)*sy)), 0, g.FrameHeight),
		}
		if box.X2 <= box.X1 || box.Y2 <= box.Y1 {
			continue
		}
		out = append(out, anpr.Detection{Box: box, Confidence: score})
	}
	return out, nil
}

// Candidates splits detections into the parallel box and score slices
// that OpenCV's NMSBoxes expects.
func Candidates(dets []anpr.Detection) ([]image.Rectangle, []float32) {
	boxes := make([]image.Rectangle, len(dets))
	scores := make([]float32, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box.Rect()
		scores[i] = float32(d.Confidence)
	}
	return boxes, scores
}

// Keep maps surviving indices back onto dets. A negative index ends the
// list; out of range and repeated indices are skipped.
func Keep(dets []anpr.Detection, indices []int) []anpr.Detection {
	kept := make([]anpr.Detection, 0, len(indices))
	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 0 {
			break
		}
		if i >= len(dets) {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		kept = append(kept, dets[i])
	}
	return kept
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
