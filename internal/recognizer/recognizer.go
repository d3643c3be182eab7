// Package recognizer turns a frame into plate candidates: detection, ROI
// filtering, cropping and OCR.
package recognizer

import (
	"context"
	"fmt"
	"image"
	"runtime/debug"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"anpr-pipeline/internal/domain/anpr"
	"anpr-pipeline/internal/geometry"
)

const (
	DefaultCropWidth  = 120
	DefaultCropHeight = 70
)

// Detector locates plate candidates in a full frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]anpr.Detection, error)
}

// TextReader returns the text lines found in a small plate image, in
// reading order. An empty slice means no text.
type TextReader interface {
	ReadLines(ctx context.Context, img image.Image) ([]string, error)
}

type Recognizer struct {
	detector Detector
	reader   TextReader
	roi      geometry.Polygon
	cropW    int
	cropH    int
	log      zerolog.Logger
}

type Option func(*Recognizer)

// WithCropSize overrides the 120x70 OCR input size.
func WithCropSize(w, h int) Option {
	return func(r *Recognizer) {
		if w > 0 && h > 0 {
			r.cropW, r.cropH = w, h
		}
	}
}

func New(detector Detector, reader TextReader, roi geometry.Polygon, log zerolog.Logger, opts ...Option) *Recognizer {
	r := &Recognizer{
		detector: detector,
		reader:   reader,
		roi:      roi,
		cropW:    DefaultCropWidth,
		cropH:    DefaultCropHeight,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recognize runs the detector on frame and OCRs every detection whose box
// center lies inside the ROI. Detector errors are returned; OCR failures
// yield an empty Text.
func (r *Recognizer) Recognize(ctx context.Context, frame image.Image) ([]anpr.Recognition, error) {
	detections, err := r.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	results := make([]anpr.Recognition, 0, len(detections))
	for _, d := range detections {
		if !r.roi.ContainsPixel(d.Box.Center()) {
			continue
		}
		results = append(results, anpr.Recognition{
			Detection: d,
			Text:      r.readPlate(ctx, frame, d.Box),
		})
	}
	return results, nil
}

func (r *Recognizer) readPlate(ctx context.Context, frame image.Image, box anpr.Box) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("ocr engine panicked")
			text = ""
		}
	}()

	bounds := box.Rect().Intersect(frame.Bounds())
	if bounds.Empty() {
		return ""
	}

	crop := imaging.Crop(frame, bounds)
	crop = imaging.Resize(crop, r.cropW, r.cropH, imaging.Linear)

	lines, err := r.reader.ReadLines(ctx, crop)
	if err != nil {
		r.log.Debug().Err(err).Msg("ocr failed, treating as empty")
		return ""
	}
	return strings.Join(lines, "")
}
