// Package pipeline drives detection, deduplication and forwarding once per frame.
package pipeline

import (
	"context"
	"errors"
	"image"
	"time"

	"anpr-pipeline/internal/domain/anpr"
)

var (
	// ErrNoFrame is returned by a FrameSource when no frame is available right now.
	ErrNoFrame = errors.New("no frame available")
	// ErrEndOfStream ends a Running loop over a finite source.
	ErrEndOfStream = errors.New("end of stream")
	// ErrModelFault wraps detector failures; the loop stops on it.
	ErrModelFault        = errors.New("model fault")
	ErrInvalidTransition = errors.New("invalid state transition")
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FrameSource yields frames already scaled to the ROI's coordinate space.
// Live sources (cameras) skip a tick on a failed read; finite ones end.
type FrameSource interface {
	Read() (image.Image, error)
	Live() bool
	Close() error
}

type Recognizer interface {
	Recognize(ctx context.Context, frame image.Image) ([]anpr.Recognition, error)
}

type Forwarder interface {
	Forward(ctx context.Context, plate string)
}

// Session bundles everything a Running loop owns exclusively.
type Session struct {
	Source     FrameSource
	Recognizer Recognizer
	// Annotator draws boxes and the region on published frames. Optional;
	// without it frames are published undecorated.
	Annotator Annotator
	// Release frees model handles. Optional.
	Release func() error
}

// Close releases the source and the models, reporting every failure.
func (s *Session) Close() error {
	var errs []error
	if s.Source != nil {
		if err := s.Source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Release != nil {
		if err := s.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SessionFactory acquires the frame source and loads the models. It is
// called once per Idle -> Running transition.
type SessionFactory func(ctx context.Context) (*Session, error)

// Update is published after every processed frame.
type Update struct {
	SessionID   string
	Sequence    uint64
	Frame       *image.RGBA
	Overlay     Overlay
	Stats       anpr.Stats
	NewReadings []anpr.PlateReading
	At          time.Time
}

type Publisher interface {
	Publish(u Update)
}

type PublisherFunc func(u Update)

func (f PublisherFunc) Publish(u Update) { f(u) }

// Publishers fans an update out in order.
type Publishers []Publisher

func (ps Publishers) Publish(u Update) {
	for _, p := range ps {
		if p != nil {
			p.Publish(u)
		}
	}
}

// StateListener is called on every state change.
type StateListener func(prev, next State)
