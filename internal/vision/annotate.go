package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"anpr-pipeline/internal/pipeline"
)

var (
	boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	roiColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}
)

// Annotator draws detection boxes, their labels and the region outline
// with OpenCV.
type Annotator struct{}

func (Annotator) Annotate(frame *image.RGBA, o pipeline.Overlay) (*image.RGBA, error) {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	for _, b := range o.Boxes {
		r := b.Box.Rect()
		gocv.Rectangle(&mat, r, boxColor, 2)
		gocv.PutText(&mat, b.Label, image.Pt(r.Min.X, r.Min.Y-10),
			gocv.FontHersheySimplex, 0.9, boxColor, 2)
	}
	if len(o.ROI) > 1 {
		pts := gocv.NewPointsVectorFromPoints([][]image.Point{o.ROI})
		defer pts.Close()
		gocv.Polylines(&mat, pts, true, roiColor, 2)
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert annotated frame: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	return pipeline.CloneRGBA(img), nil
}
