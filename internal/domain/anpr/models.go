package anpr

import (
	"image"
	"math"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"

	// ConfidencePlaceholder is shown where a store record carries no confidence.
	ConfidencePlaceholder = "--"
)

// Box is a detector bounding box in frame pixels, X1 < X2 and Y1 < Y2.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Center uses integer division, matching how the ROI test is specified.
func (b Box) Center() image.Point {
	return image.Pt((b.X1+b.X2)/2, (b.Y1+b.Y2)/2)
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Recognition is a detection inside the ROI together with its OCR text.
// Text may be empty.
type Recognition struct {
	Detection
	Text string `json:"text"`
}

// PlateReading is one ledger entry. Confidence is a percentage.
type PlateReading struct {
	Date       string  `json:"date"`
	Time       string  `json:"time"`
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
}

func NewPlateReading(plate string, detectorConfidence float64, at time.Time) PlateReading {
	return PlateReading{
		Date:       at.Format(DateLayout),
		Time:       at.Format(TimeLayout),
		Plate:      plate,
		Confidence: Round2(detectorConfidence * 100),
	}
}

// RemoteRecord mirrors one element of the store's GET /plates/ payload.
type RemoteRecord struct {
	ID          int64  `json:"id"`
	NumberPlate string `json:"numberplate"`
	EntryDate   string `json:"entry_date"`
	EntryTime   string `json:"entry_time"`
}

type StorePlateRequest struct {
	Plate string `json:"plate" binding:"required"`
}

type StorePlateResponse struct {
	Message string `json:"message"`
}

type PlatesResponse struct {
	Plates []RemoteRecord `json:"plates"`
}

type Stats struct {
	Total         int     `json:"total"`
	AvgConfidence float64 `json:"avg_confidence"`
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
