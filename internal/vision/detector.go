package vision

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"anpr-pipeline/internal/domain/anpr"
	"anpr-pipeline/internal/vision/yolo"
)

// Detector runs an ONNX plate detector through OpenCV's dnn module.
type Detector struct {
	mu        sync.Mutex
	net       gocv.Net
	inputSize int
	minConf   float64
	nms       float64
}

func NewDetector(modelPath string, inputSize int, minConf, nms float64) (*Detector, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("load detector model %q: empty network", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Detector{
		net:       net,
		inputSize: inputSize,
		minConf:   minConf,
		nms:       nms,
	}, nil
}

func (d *Detector) Detect(ctx context.Context, frame image.Image) ([]anpr.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.inputSize, d.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read detector output: %w", err)
	}

	b := frame.Bounds()
	dets, err := yolo.Decode(data, out.Size(), yolo.Geometry{
		FrameWidth:  b.Dx(),
		FrameHeight: b.Dy(),
		InputSize:   d.inputSize,
	}, d.minConf)
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		return nil, nil
	}

	boxes, scores := yolo.Candidates(dets)
	indices := make([]int, len(boxes))
	for i := range indices {
		indices[i] = -1
	}
	gocv.NMSBoxes(boxes, scores, float32(d.minConf), float32(d.nms), indices)
	return yolo.Keep(dets, indices), nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
