// Package vision adapts OpenCV (gocv) capture, inference and display to the
// frame loop's interfaces. It needs OpenCV at build time.
package vision

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"anpr-pipeline/internal/pipeline"
)

// VideoSource reads frames from a camera, stream URL or file and scales
// them to the frame size the ROI is defined in.
type VideoSource struct {
	capture *gocv.VideoCapture
	live    bool
	size    image.Point
	raw     gocv.Mat
	scaled  gocv.Mat
}

// IsLive reports whether source names a camera index or a network stream.
func IsLive(source string) bool {
	if _, err := strconv.Atoi(source); err == nil {
		return true
	}
	for _, scheme := range []string{"rtsp://", "rtmp://", "http://", "https://"} {
		if strings.HasPrefix(source, scheme) {
			return true
		}
	}
	return false
}

func OpenSource(source string, width, height int) (*VideoSource, error) {
	var device interface{} = source
	if idx, err := strconv.Atoi(source); err == nil {
		device = idx
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open video source %q: %w", source, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("open video source %q: not opened", source)
	}

	live := IsLive(source)
	if live {
		capture.Set(gocv.VideoCaptureBufferSize, 1)
	}

	return &VideoSource{
		capture: capture,
		live:    live,
		size:    image.Pt(width, height),
		raw:     gocv.NewMat(),
		scaled:  gocv.NewMat(),
	}, nil
}

func (s *VideoSource) Read() (image.Image, error) {
	if ok := s.capture.Read(&s.raw); !ok || s.raw.Empty() {
		return nil, pipeline.ErrNoFrame
	}
	gocv.Resize(s.raw, &s.scaled, s.size, 0, 0, gocv.InterpolationLinear)

	img, err := s.scaled.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: convert frame: %v", pipeline.ErrNoFrame, err)
	}
	return img, nil
}

func (s *VideoSource) Live() bool { return s.live }

func (s *VideoSource) Close() error {
	var errs []error
	if err := s.raw.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.scaled.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.capture.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close video source: %v", errs)
	}
	return nil
}
