package vision

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"anpr-pipeline/internal/pipeline"
)

const (
	escKey   = 27
	keyDelay = 10
)

// Window shows annotated frames in an OpenCV window with the running plate
// count. HighGUI is single threaded, so the window must be created and run
// on the main OS thread.
type Window struct {
	window *gocv.Window
	log    zerolog.Logger
}

func NewWindow(title string, log zerolog.Logger) *Window {
	return &Window{
		window: gocv.NewWindow(title),
		log:    log,
	}
}

// Run displays frames from updates until ctx is done or Esc is pressed,
// in which case onClose is called before returning.
func (w *Window) Run(ctx context.Context, updates <-chan pipeline.Update, onClose func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			w.show(u)
		default:
		}

		if w.window.WaitKey(keyDelay)&0xFF == escKey {
			w.log.Info().Msg("display closed")
			if onClose != nil {
				onClose()
			}
			return
		}
	}
}

func (w *Window) show(u pipeline.Update) {
	if u.Frame == nil {
		return
	}
	mat, err := gocv.ImageToMatRGB(u.Frame)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to convert frame for display")
		return
	}
	defer mat.Close()

	gocv.PutText(&mat, fmt.Sprintf("%d", u.Stats.Total), image.Pt(50, 60),
		gocv.FontHersheySimplex, 1.0, color.RGBA{R: 255, G: 255, B: 255, A: 0}, 2)
	w.window.IMShow(mat)
}

func (w *Window) Close() error {
	return w.window.Close()
}
