package dashboard

import (
	"image"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"anpr-pipeline/internal/domain/anpr"
	"anpr-pipeline/internal/pipeline"
)

const jpegQuality = 80

// UpdateEvent is the websocket payload sent for every processed frame.
type UpdateEvent struct {
	SessionID   string              `json:"session_id"`
	Sequence    uint64              `json:"sequence"`
	Stats       anpr.Stats          `json:"stats"`
	NewReadings []anpr.PlateReading `json:"new_readings"`
	At          time.Time           `json:"at"`
}

// Feed is the loop's publisher for the web dashboard. It keeps the latest
// annotated frame for /frame.jpg and pushes stats to websocket clients.
type Feed struct {
	hub *Hub

	mu    sync.RWMutex
	frame *image.RGBA
	seq   uint64
}

func NewFeed(hub *Hub) *Feed {
	return &Feed{hub: hub}
}

func (f *Feed) Publish(u pipeline.Update) {
	f.mu.Lock()
	f.frame = u.Frame
	f.seq = u.Sequence
	f.mu.Unlock()

	readings := u.NewReadings
	if readings == nil {
		readings = []anpr.PlateReading{}
	}
	f.hub.Broadcast(Event{Type: "update", Data: UpdateEvent{
		SessionID:   u.SessionID,
		Sequence:    u.Sequence,
		Stats:       u.Stats,
		NewReadings: readings,
		At:          u.At,
	}})
}

// Sequence is the number of the latest published frame, 0 before any.
func (f *Feed) Sequence() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.seq
}

// WriteJPEG encodes the latest frame. It reports false when no frame has
// been published yet.
func (f *Feed) WriteJPEG(w io.Writer) (bool, error) {
	f.mu.RLock()
	frame := f.frame
	f.mu.RUnlock()

	if frame == nil {
		return false, nil
	}
	return true, imaging.Encode(w, frame, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
}

// StateChanges returns a loop listener that pushes transitions to clients.
func (f *Feed) StateChanges() pipeline.StateListener {
	return func(prev, next pipeline.State) {
		f.hub.Broadcast(Event{Type: "state", Data: map[string]string{
			"from":  prev.String(),
			"state": next.String(),
		}})
	}
}
