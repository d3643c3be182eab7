package pipeline

import (
	"image"

	"golang.org/x/image/draw"

	"anpr-pipeline/internal/domain/anpr"
)

// LabeledBox is one detection outline and its caption.
type LabeledBox struct {
	Box   anpr.Box
	Label string
}

// Overlay is what gets drawn over a processed frame.
type Overlay struct {
	Boxes []LabeledBox
	ROI   []image.Point
}

// Annotator draws an overlay onto frame and returns the result, which may
// be frame itself.
type Annotator interface {
	Annotate(frame *image.RGBA, o Overlay) (*image.RGBA, error)
}

// CloneRGBA copies img into a zero-origin RGBA so later drawing never
// touches the source's buffer.
func CloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Mailbox is a Publisher holding only the newest update. Publish never
// blocks, so a slow reader skips frames instead of stalling the loop.
type Mailbox struct {
	ch chan Update
}

func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan Update, 1)}
}

func (m *Mailbox) Publish(u Update) {
	for {
		select {
		case m.ch <- u:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

func (m *Mailbox) Updates() <-chan Update {
	return m.ch
}
