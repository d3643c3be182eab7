package recognizer

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-pipeline/internal/domain/anpr"
	"anpr-pipeline/internal/geometry"
)

type fakeDetector struct {
	detections []anpr.Detection
	err        error
}

func (f *fakeDetector) Detect(context.Context, image.Image) ([]anpr.Detection, error) {
	return f.detections, f.err
}

type fakeReader struct {
	lines  []string
	err    error
	panics bool
	seen   []image.Rectangle
}

func (f *fakeReader) ReadLines(_ context.Context, img image.Image) ([]string, error) {
	f.seen = append(f.seen, img.Bounds())
	if f.panics {
		panic("engine exploded")
	}
	return f.lines, f.err
}

var (
	inROI  = anpr.Detection{Box: anpr.Box{X1: 400, Y1: 190, X2: 600, Y2: 230}, Confidence: 0.9}
	outROI = anpr.Detection{Box: anpr.Box{X1: 400, Y1: 20, X2: 600, Y2: 60}, Confidence: 0.8}
)

func newFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 1020, 500))
}

func TestRecognize_FiltersByROIAndConcatenatesLines(t *testing.T) {
	det := &fakeDetector{detections: []anpr.Detection{outROI, inROI}}
	reader := &fakeReader{lines: []string{"AB12", "3CD"}}
	r := New(det, reader, geometry.DefaultROI, zerolog.Nop())

	got, err := r.Recognize(context.Background(), newFrame())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inROI, got[0].Detection)
	assert.Equal(t, "AB123CD", got[0].Text)

	require.Len(t, reader.seen, 1, "OCR runs only for detections inside the ROI")
	assert.Equal(t, 120, reader.seen[0].Dx())
	assert.Equal(t, 70, reader.seen[0].Dy())
}

func TestRecognize_AllOutsideROI(t *testing.T) {
	det := &fakeDetector{detections: []anpr.Detection{outROI, outROI}}
	reader := &fakeReader{lines: []string{"X"}}
	r := New(det, reader, geometry.DefaultROI, zerolog.Nop())

	got, err := r.Recognize(context.Background(), newFrame())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, reader.seen)
}

func TestRecognize_OCRFailuresDegradeToEmpty(t *testing.T) {
	cases := map[string]*fakeReader{
		"error":    {err: errors.New("tesseract died")},
		"panic":    {panics: true},
		"no lines": {},
	}
	for name, reader := range cases {
		t.Run(name, func(t *testing.T) {
			r := New(&fakeDetector{detections: []anpr.Detection{inROI}}, reader, geometry.DefaultROI, zerolog.Nop())

			got, err := r.Recognize(context.Background(), newFrame())
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Empty(t, got[0].Text)
		})
	}
}

func TestRecognize_DetectorErrorPropagates(t *testing.T) {
	boom := errors.New("net not loaded")
	r := New(&fakeDetector{err: boom}, &fakeReader{}, geometry.DefaultROI, zerolog.Nop())

	_, err := r.Recognize(context.Background(), newFrame())
	assert.ErrorIs(t, err, boom)
}

func TestRecognize_BoxOutsideFrameSkipsOCR(t *testing.T) {
	roi := geometry.Polygon{{X: -100, Y: -100}, {X: 100, Y: -100}, {X: 100, Y: 100}, {X: -100, Y: 100}}
	off := anpr.Detection{Box: anpr.Box{X1: -50, Y1: -50, X2: -10, Y2: -10}, Confidence: 0.5}
	reader := &fakeReader{lines: []string{"X"}}
	r := New(&fakeDetector{detections: []anpr.Detection{off}}, reader, roi, zerolog.Nop())

	got, err := r.Recognize(context.Background(), newFrame())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Text)
	assert.Empty(t, reader.seen)
}

func TestWithCropSize(t *testing.T) {
	reader := &fakeReader{lines: []string{"A"}}
	r := New(&fakeDetector{detections: []anpr.Detection{inROI}}, reader, geometry.DefaultROI, zerolog.Nop(), WithCropSize(240, 140))

	_, err := r.Recognize(context.Background(), newFrame())
	require.NoError(t, err)
	require.Len(t, reader.seen, 1)
	assert.Equal(t, image.Rect(0, 0, 240, 140), reader.seen[0])
}
