package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-pipeline/internal/domain/anpr"
	"anpr-pipeline/internal/geometry"
	"anpr-pipeline/internal/ledger"
	"anpr-pipeline/internal/utils"
)

const DefaultTickInterval = 30 * time.Millisecond

type Option func(*Loop)

func WithTickInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(l *Loop) { l.publisher = p }
}

// WithClock replaces time.Now for reading timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// Loop owns the worker goroutine that processes one frame per tick.
type Loop struct {
	factory   SessionFactory
	ledger    *ledger.Ledger
	forwarder Forwarder
	publisher Publisher
	roi       []image.Point
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger

	// mu serializes transitions; state is also readable without it.
	mu        sync.Mutex
	state     atomic.Int32
	starting  bool
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	listeners []StateListener

	seq     atomic.Uint64
	frames  atomic.Uint64
	skipped atomic.Uint64
}

func New(factory SessionFactory, l *ledger.Ledger, fwd Forwarder, roi geometry.Polygon, log zerolog.Logger, opts ...Option) *Loop {
	loop := &Loop{
		factory:   factory,
		ledger:    l,
		forwarder: fwd,
		publisher: Publishers(nil),
		roi:       roi.ImagePoints(),
		interval:  DefaultTickInterval,
		now:       time.Now,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(loop)
	}
	return loop
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// Err reports why the last run ended. It is nil after a requested stop or
// a finite source running out.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Loop) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// OnStateChange registers fn for every later transition. fn runs with the
// transition lock held and may only call State on the loop.
func (l *Loop) OnStateChange(fn StateListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Start acquires a session and launches the worker. A factory error leaves
// the loop Idle. The factory runs without the transition lock; a Start or
// Stop while it loads fails with ErrInvalidTransition.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if s := l.State(); s != StateIdle {
		l.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s)
	}
	if l.starting {
		l.mu.Unlock()
		return fmt.Errorf("%w: start already in progress", ErrInvalidTransition)
	}
	l.starting = true
	l.mu.Unlock()

	sess, err := l.acquire(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.starting = false
	if err != nil {
		return err
	}

	// The worker outlives the caller's request; Stop cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.sessionID = uuid.NewString()
	l.cancel = cancel
	l.done = make(chan struct{})
	l.err = nil
	l.setStateLocked(StateRunning)

	l.log.Info().
		Str("session_id", l.sessionID).
		Bool("live", sess.Source.Live()).
		Dur("tick", l.interval).
		Msg("detection started")

	go l.run(runCtx, sess, l.sessionID, l.done)
	return nil
}

func (l *Loop) acquire(ctx context.Context) (*Session, error) {
	sess, err := l.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	if sess == nil || sess.Source == nil || sess.Recognizer == nil {
		if sess != nil {
			_ = sess.Close()
		}
		return nil, errors.New("acquire session: incomplete session")
	}
	return sess, nil
}

// Starting reports whether a Start is loading its session.
func (l *Loop) Starting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starting
}

// Stop ends a Running loop and waits for its worker to release resources.
// Stopping an already Stopped loop is a no-op.
func (l *Loop) Stop() error {
	l.mu.Lock()
	switch s := l.State(); s {
	case StateStopped:
		l.mu.Unlock()
		return nil
	case StateRunning:
	default:
		l.mu.Unlock()
		return fmt.Errorf("%w: stop from %s", ErrInvalidTransition, s)
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Wait blocks until the current run ends and returns its error.
func (l *Loop) Wait() error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
	return l.Err()
}

// Reset moves a Stopped loop back to Idle so it can be started again.
func (l *Loop) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s := l.State(); s != StateStopped {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, s)
	}
	l.setStateLocked(StateIdle)
	return nil
}

type LoopStats struct {
	State     string `json:"state"`
	Starting  bool   `json:"starting,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Frames    uint64 `json:"frames"`
	Skipped   uint64 `json:"skipped"`
}

func (l *Loop) Stats() LoopStats {
	return LoopStats{
		State:     l.State().String(),
		Starting:  l.Starting(),
		SessionID: l.SessionID(),
		Frames:    l.frames.Load(),
		Skipped:   l.skipped.Load(),
	}
}

func (l *Loop) setStateLocked(next State) {
	prev := State(l.state.Swap(int32(next)))
	if prev == next {
		return
	}
	for _, fn := range l.listeners {
		fn(prev, next)
	}
}

func (l *Loop) run(ctx context.Context, sess *Session, sessionID string, done chan struct{}) {
	log := l.log.With().Str("session_id", sessionID).Logger()
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("%w: panic: %v", ErrModelFault, r)
		}
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release session resources")
		}

		l.mu.Lock()
		l.err = runErr
		l.cancel = nil
		l.setStateLocked(StateStopped)
		l.mu.Unlock()

		if runErr != nil {
			log.Error().Err(runErr).Msg("detection stopped on fault")
		} else {
			log.Info().Uint64("frames", l.frames.Load()).Msg("detection stopped")
		}
		close(done)
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := l.tick(ctx, sess, sessionID); err != nil {
			if errors.Is(err, ErrEndOfStream) {
				log.Info().Err(err).Msg("source exhausted")
				return
			}
			runErr = err
			return
		}
	}
}

func (l *Loop) tick(ctx context.Context, sess *Session, sessionID string) error {
	frame, err := sess.Source.Read()
	if err != nil {
		if sess.Source.Live() {
			l.skipped.Add(1)
			return nil
		}
		if errors.Is(err, ErrNoFrame) {
			return ErrEndOfStream
		}
		return fmt.Errorf("%w: %w", ErrEndOfStream, err)
	}
	if frame == nil {
		if sess.Source.Live() {
			l.skipped.Add(1)
			return nil
		}
		return ErrEndOfStream
	}
	return l.processFrame(ctx, sess, frame, sessionID)
}

func (l *Loop) processFrame(ctx context.Context, sess *Session, frame image.Image, sessionID string) error {
	canvas := CloneRGBA(frame)

	results, err := sess.Recognizer.Recognize(ctx, canvas)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelFault, err)
	}
	l.frames.Add(1)

	var fresh []anpr.PlateReading
	overlay := Overlay{ROI: l.roi}
	for _, res := range results {
		text := utils.NormalizePlate(res.Text)
		reading := anpr.NewPlateReading(text, res.Confidence, l.now())

		if l.ledger.IsNovel(text) {
			l.ledger.Record(reading)
			fresh = append(fresh, reading)
			l.log.Info().
				Str("session_id", sessionID).
				Str("plate", text).
				Float64("confidence", reading.Confidence).
				Msg("plate recorded")
			l.forwarder.Forward(ctx, text)
		}

		overlay.Boxes = append(overlay.Boxes, LabeledBox{Box: res.Box, Label: Label(text, reading.Confidence)})
	}

	if sess.Annotator != nil {
		annotated, err := sess.Annotator.Annotate(canvas, overlay)
		if err != nil {
			l.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to annotate frame")
		} else if annotated != nil {
			canvas = annotated
		}
	}

	l.publisher.Publish(Update{
		SessionID:   sessionID,
		Sequence:    l.seq.Add(1),
		Frame:       canvas,
		Overlay:     overlay,
		Stats:       l.ledger.Stats(),
		NewReadings: fresh,
		At:          l.now(),
	})
	return nil
}

// Label is the overlay text drawn next to each box.
func Label(plate string, confidence float64) string {
	return fmt.Sprintf("%s (%s)", plate, ledger.FormatConfidence(confidence))
}
