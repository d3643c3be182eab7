package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-pipeline/internal/domain/anpr"
	"anpr-pipeline/internal/geometry"
	"anpr-pipeline/internal/ledger"
	"anpr-pipeline/internal/recognizer"
	"anpr-pipeline/internal/remote"
)

type fakeSource struct {
	mu     sync.Mutex
	frames []image.Image
	misses int
	live   bool
	closed atomic.Bool
}

func newFrames(n int) []image.Image {
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = image.NewRGBA(image.Rect(0, 0, 1020, 500))
	}
	return frames
}

func (s *fakeSource) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.misses > 0 {
		s.misses--
		return nil, ErrNoFrame
	}
	if len(s.frames) == 0 {
		if s.live {
			return image.NewRGBA(image.Rect(0, 0, 1020, 500)), nil
		}
		return nil, ErrNoFrame
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *fakeSource) Live() bool   { return s.live }
func (s *fakeSource) Close() error { s.closed.Store(true); return nil }

type fakeRecognizer struct {
	results []anpr.Recognition
	err     error
}

func (f *fakeRecognizer) Recognize(context.Context, image.Image) ([]anpr.Recognition, error) {
	return f.results, f.err
}

type fakeForwarder struct {
	mu     sync.Mutex
	plates []string
}

func (f *fakeForwarder) Forward(_ context.Context, plate string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plates = append(f.plates, plate)
}

func (f *fakeForwarder) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.plates...)
}

type harness struct {
	loop      *Loop
	ledger    *ledger.Ledger
	forwarder *fakeForwarder
	source    *fakeSource
	released  *atomic.Bool
}

func newHarness(t *testing.T, src *fakeSource, rec Recognizer, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		ledger:    ledger.New(),
		forwarder: &fakeForwarder{},
		source:    src,
		released:  &atomic.Bool{},
	}
	factory := func(context.Context) (*Session, error) {
		return &Session{
			Source:     src,
			Recognizer: rec,
			Release:    func() error { h.released.Store(true); return nil },
		}, nil
	}
	opts = append([]Option{WithTickInterval(time.Millisecond)}, opts...)
	h.loop = New(factory, h.ledger, h.forwarder, geometry.DefaultROI, zerolog.Nop(), opts...)
	return h
}

var insideBox = anpr.Box{X1: 400, Y1: 190, X2: 500, Y2: 230}

func TestLoop_DuplicateSuppressed(t *testing.T) {
	rec := &fakeRecognizer{results: []anpr.Recognition{
		{Detection: anpr.Detection{Box: insideBox, Confidence: 0.9}, Text: "ab 123"},
	}}
	h := newHarness(t, &fakeSource{frames: newFrames(3)}, rec)

	require.NoError(t, h.loop.Start(context.Background()))
	require.NoError(t, h.loop.Wait())

	assert.Equal(t, StateStopped, h.loop.State())
	require.Equal(t, 1, h.ledger.Len())
	assert.Equal(t, "AB123", h.ledger.Readings()[0].Plate)
	assert.Equal(t, 90.0, h.ledger.Readings()[0].Confidence)
	assert.Equal(t, []string{"AB123"}, h.forwarder.calls())
	assert.EqualValues(t, 3, h.loop.Stats().Frames)
}

func TestLoop_EmptyTextNeverRecorded(t *testing.T) {
	rec := &fakeRecognizer{results: []anpr.Recognition{
		{Detection: anpr.Detection{Box: insideBox, Confidence: 0.9}, Text: " - "},
	}}
	h := newHarness(t, &fakeSource{frames: newFrames(2)}, rec)

	require.NoError(t, h.loop.Start(context.Background()))
	require.NoError(t, h.loop.Wait())

	assert.Zero(t, h.ledger.Len())
	assert.Empty(t, h.forwarder.calls())
}

type staticDetector []anpr.Detection

func (d staticDetector) Detect(context.Context, image.Image) ([]anpr.Detection, error) {
	return d, nil
}

type staticReader string

func (r staticReader) ReadLines(context.Context, image.Image) ([]string, error) {
	return []string{string(r)}, nil
}

func TestLoop_OutsideROINeverRecorded(t *testing.T) {
	// Center (50, 50) is well above the default region.
	det := staticDetector{{Box: anpr.Box{X1: 0, Y1: 0, X2: 100, Y2: 100}, Confidence: 0.99}}
	rec := recognizer.New(det, staticReader("XYZ999"), geometry.DefaultROI, zerolog.Nop())
	h := newHarness(t, &fakeSource{frames: newFrames(2)}, rec)

	require.NoError(t, h.loop.Start(context.Background()))
	require.NoError(t, h.loop.Wait())

	assert.Zero(t, h.ledger.Len())
	assert.Empty(t, h.forwarder.calls())
}

type failingStore struct{ calls atomic.Int32 }

func (s *failingStore) StorePlate(context.Context, string) error {
	s.calls.Add(1)
	return errors.New("connection refused")
}

func TestLoop_ForwardFailureStillRecorded(t *testing.T) {
	store := &failingStore{}
	fwd := remote.NewForwarder(store, time.Second, zerolog.Nop())
	rec := &fakeRecognizer{results: []anpr.Recognition{
		{Detection: anpr.Detection{Box: insideBox, Confidence: 0.8}, Text: "KA01AB1234"},
	}}
	src := &fakeSource{frames: newFrames(2)}
	factory := func(context.Context) (*Session, error) {
		return &Session{Source: src, Recognizer: rec}, nil
	}
	l := ledger.New()
	loop := New(factory, l, fwd, geometry.DefaultROI, zerolog.Nop(), WithTickInterval(time.Millisecond))

	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Wait())

	assert.Equal(t, 1, l.Len())
	assert.EqualValues(t, 1, store.calls.Load())
	assert.EqualValues(t, 1, fwd.Stats().Failed)
}

func TestLoop_EndOfStreamReleasesResources(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: newFrames(1)}, &fakeRecognizer{})

	require.NoError(t, h.loop.Start(context.Background()))
	require.NoError(t, h.loop.Wait())

	assert.Equal(t, StateStopped, h.loop.State())
	assert.True(t, h.source.closed.Load())
	assert.True(t, h.released.Load())
}

func TestLoop_ModelFaultStops(t *testing.T) {
	h := newHarness(t, &fakeSource{frames: newFrames(5)}, &fakeRecognizer{err: errors.New("net forward failed")})

	require.NoError(t, h.loop.Start(context.Background()))
	err := h.loop.Wait()

	require.ErrorIs(t, err, ErrModelFault)
	assert.ErrorIs(t, h.loop.Err(), ErrModelFault)
	assert.Equal(t, StateStopped, h.loop.State())
	assert.True(t, h.source.closed.Load())
	assert.True(t, h.released.Load())
	assert.Zero(t, h.ledger.Len())
}

func TestLoop_LiveSourceSkipsMissingFrames(t *testing.T) {
	updates := make(chan Update, 16)
	pub := PublisherFunc(func(u Update) {
		select {
		case updates <- u:
		default:
		}
	})
	src := &fakeSource{live: true, misses: 3}
	h := newHarness(t, src, &fakeRecognizer{}, WithPublisher(pub))

	require.NoError(t, h.loop.Start(context.Background()))
	select {
	case u := <-updates:
		assert.EqualValues(t, 1, u.Sequence)
		assert.NotEmpty(t, u.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame published")
	}
	require.NoError(t, h.loop.Stop())

	assert.Equal(t, StateStopped, h.loop.State())
	assert.NoError(t, h.loop.Err())
	assert.EqualValues(t, 3, h.loop.Stats().Skipped)
	assert.True(t, h.source.closed.Load())
	assert.True(t, h.released.Load())
}

type markingAnnotator struct {
	mu       sync.Mutex
	overlays []Overlay
	err      error
}

var annotatedColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

func (a *markingAnnotator) Annotate(frame *image.RGBA, o Overlay) (*image.RGBA, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.overlays = append(a.overlays, o)
	if a.err != nil {
		return nil, a.err
	}
	for _, b := range o.Boxes {
		frame.SetRGBA(b.Box.X1, b.Box.Y1, annotatedColor)
	}
	return frame, nil
}

func collect() (Publisher, func() []Update) {
	var got []Update
	var mu sync.Mutex
	pub := PublisherFunc(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u)
	})
	return pub, func() []Update {
		mu.Lock()
		defer mu.Unlock()
		return append([]Update(nil), got...)
	}
}

func annotatedHarness(t *testing.T, src *fakeSource, rec Recognizer, ann Annotator, pub Publisher) *harness {
	t.Helper()
	h := &harness{ledger: ledger.New(), forwarder: &fakeForwarder{}, source: src, released: &atomic.Bool{}}
	factory := func(context.Context) (*Session, error) {
		return &Session{Source: src, Recognizer: rec, Annotator: ann}, nil
	}
	h.loop = New(factory, h.ledger, h.forwarder, geometry.DefaultROI, zerolog.Nop(),
		WithTickInterval(time.Millisecond), WithPublisher(pub))
	return h
}

func TestLoop_PublishesAnnotatedFrame(t *testing.T) {
	pub, updates := collect()
	rec := &fakeRecognizer{results: []anpr.Recognition{
		{Detection: anpr.Detection{Box: insideBox, Confidence: 0.75}, Text: "MH12"},
	}}
	ann := &markingAnnotator{}
	h := annotatedHarness(t, &fakeSource{frames: newFrames(2)}, rec, ann, pub)

	require.NoError(t, h.loop.Start(context.Background()))
	require.NoError(t, h.loop.Wait())

	got := updates()
	require.Len(t, got, 2)
	assert.Len(t, got[0].NewReadings, 1)
	assert.Empty(t, got[1].NewReadings)
	assert.Equal(t, anpr.Stats{Total: 1, AvgConfidence: 75}, got[1].Stats)

	want := Overlay{
		Boxes: []LabeledBox{{Box: insideBox, Label: "MH12 (75%)"}},
		ROI:   geometry.DefaultROI.ImagePoints(),
	}
	assert.Equal(t, want, got[0].Overlay)
	assert.Equal(t, []Overlay{want, want}, ann.overlays)

	frame := got[0].Frame
	assert.Equal(t, annotatedColor, frame.RGBAAt(insideBox.X1, insideBox.Y1))
	assert.Equal(t, color.RGBA{}, frame.RGBAAt(700, 400))
}

func TestLoop_AnnotatorFailurePublishesPlainFrame(t *testing.T) {
	pub, updates := collect()
	rec := &fakeRecognizer{results: []anpr.Recognition{
		{Detection: anpr.Detection{Box: insideBox, Confidence: 0.75}, Text: "MH12"},
	}}
	ann := &markingAnnotator{err: errors.New("draw failed")}
	h := annotatedHarness(t, &fakeSource{frames: newFrames(2)}, rec, ann, pub)

	require.NoError(t, h.loop.Start(context.Background()))
	require.NoError(t, h.loop.Wait())

	assert.NoError(t, h.loop.Err())
	got := updates()
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Frame)
	assert.Equal(t, color.RGBA{}, got[0].Frame.RGBAAt(insideBox.X1, insideBox.Y1))
	assert.Equal(t, 1, h.ledger.Len())
}

func TestLoop_NoAnnotatorPublishesPlainFrame(t *testing.T) {
	pub, updates := collect()
	rec := &fakeRecognizer{results: []anpr.Recognition{
		{Detection: anpr.Detection{Box: insideBox, Confidence: 0.75}, Text: "MH12"},
	}}
	h := newHarness(t, &fakeSource{frames: newFrames(1)}, rec, WithPublisher(pub))

	require.NoError(t, h.loop.Start(context.Background()))
	require.NoError(t, h.loop.Wait())

	got := updates()
	require.Len(t, got, 1)
	assert.Equal(t, image.Rect(0, 0, 1020, 500), got[0].Frame.Bounds())
	assert.Len(t, got[0].Overlay.Boxes, 1)
}

func TestLoop_StatusReadableWhileSessionLoads(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	src := &fakeSource{live: true}
	factory := func(context.Context) (*Session, error) {
		close(entered)
		<-release
		return &Session{Source: src, Recognizer: &fakeRecognizer{}}, nil
	}
	loop := New(factory, ledger.New(), &fakeForwarder{}, geometry.DefaultROI, zerolog.Nop(),
		WithTickInterval(time.Millisecond))

	started := make(chan error, 1)
	go func() { started <- loop.Start(context.Background()) }()
	<-entered

	read := make(chan LoopStats, 1)
	go func() {
		_ = loop.SessionID()
		_ = loop.Err()
		read <- loop.Stats()
	}()
	select {
	case st := <-read:
		assert.Equal(t, "idle", st.State)
		assert.True(t, st.Starting)
	case <-time.After(time.Second):
		t.Fatal("status blocked while the session was loading")
	}

	assert.ErrorIs(t, loop.Start(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, loop.Stop(), ErrInvalidTransition)

	close(release)
	require.NoError(t, <-started)
	assert.Equal(t, StateRunning, loop.State())
	assert.False(t, loop.Stats().Starting)
	require.NoError(t, loop.Stop())
}

func TestLoop_FailedStartCanRetry(t *testing.T) {
	var calls atomic.Int32
	factory := func(context.Context) (*Session, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("model missing")
		}
		return &Session{Source: &fakeSource{live: true}, Recognizer: &fakeRecognizer{}}, nil
	}
	loop := New(factory, ledger.New(), &fakeForwarder{}, geometry.DefaultROI, zerolog.Nop(),
		WithTickInterval(time.Millisecond))

	require.Error(t, loop.Start(context.Background()))
	assert.False(t, loop.Starting())
	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Stop())
}

func TestLoop_FactoryErrorStaysIdle(t *testing.T) {
	factory := func(context.Context) (*Session, error) {
		return nil, errors.New("camera busy")
	}
	loop := New(factory, ledger.New(), &fakeForwarder{}, geometry.DefaultROI, zerolog.Nop())

	err := loop.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera busy")
	assert.Equal(t, StateIdle, loop.State())
}

func TestLoop_Transitions(t *testing.T) {
	src := &fakeSource{live: true}
	h := newHarness(t, src, &fakeRecognizer{})

	var seen []State
	var mu sync.Mutex
	h.loop.OnStateChange(func(_, next State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, next)
	})

	assert.ErrorIs(t, h.loop.Stop(), ErrInvalidTransition)
	assert.ErrorIs(t, h.loop.Reset(), ErrInvalidTransition)

	require.NoError(t, h.loop.Start(context.Background()))
	assert.Equal(t, StateRunning, h.loop.State())
	assert.ErrorIs(t, h.loop.Start(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, h.loop.Reset(), ErrInvalidTransition)

	require.NoError(t, h.loop.Stop())
	assert.NoError(t, h.loop.Stop())
	assert.ErrorIs(t, h.loop.Start(context.Background()), ErrInvalidTransition)

	require.NoError(t, h.loop.Reset())
	assert.Equal(t, StateIdle, h.loop.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateRunning, StateStopped, StateIdle}, seen)
}

func TestLoop_ResetAllowsFreshSession(t *testing.T) {
	var acquired atomic.Int32
	factory := func(context.Context) (*Session, error) {
		acquired.Add(1)
		return &Session{Source: &fakeSource{frames: newFrames(1)}, Recognizer: &fakeRecognizer{}}, nil
	}
	loop := New(factory, ledger.New(), &fakeForwarder{}, geometry.DefaultROI, zerolog.Nop(),
		WithTickInterval(time.Millisecond))

	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Wait())
	first := loop.SessionID()

	require.NoError(t, loop.Reset())
	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Wait())

	assert.EqualValues(t, 2, acquired.Load())
	assert.NotEqual(t, first, loop.SessionID())
}

func TestLoop_CancelledStartContextDoesNotStopWorker(t *testing.T) {
	src := &fakeSource{live: true}
	h := newHarness(t, src, &fakeRecognizer{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.loop.Start(ctx))
	cancel()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateRunning, h.loop.State())
	require.NoError(t, h.loop.Stop())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "AB123 (91.5%)", Label("AB123", 91.5))
}

func TestCloneRGBA_ZeroOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 20, 30))
	src.SetRGBA(10, 10, color.RGBA{R: 9, A: 255})

	dst := CloneRGBA(src)
	assert.Equal(t, image.Rect(0, 0, 10, 20), dst.Bounds())
	assert.Equal(t, color.RGBA{R: 9, A: 255}, dst.RGBAAt(0, 0))
}

func TestMailbox_KeepsNewest(t *testing.T) {
	m := NewMailbox()
	for i := uint64(1); i <= 3; i++ {
		m.Publish(Update{Sequence: i})
	}

	select {
	case u := <-m.Updates():
		assert.EqualValues(t, 3, u.Sequence)
	default:
		t.Fatal("mailbox empty")
	}
	select {
	case u := <-m.Updates():
		t.Fatalf("unexpected update %d", u.Sequence)
	default:
	}
}
