package probe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mathops/proctor/internal/domain"

	pion "github.com/pion/webrtc/v4/pkg/media"
)

type blockKey struct{}

// mockStream is a stream that never ends on its own.
type mockStream struct {
	src     domain.Source
	stopped atomic.Bool
}

func (s *mockStream) Source() domain.Source     { return s.src }
func (s *mockStream) Ended() <-chan struct{}    { return nil }
func (s *mockStream) Stop()                     { s.stopped.Store(true) }
func (s *mockStream) Snapshot() ([]byte, error) { return nil, nil }

// mockRecorder emits its configured byte count as one chunk when stopped.
type mockRecorder struct {
	size  int
	ev    domain.RecorderEvents
	state atomic.Int32
}

func (r *mockRecorder) Codec() domain.Codec { return domain.Codec{} }
func (r *mockRecorder) State() domain.RecorderState {
	return domain.RecorderState(r.state.Load())
}
func (r *mockRecorder) Start(time.Duration) error {
	r.state.Store(int32(domain.RecorderRecording))
	return nil
}
func (r *mockRecorder) Stop() {
	r.state.Store(int32(domain.RecorderStopped))
	if r.size > 0 {
		r.ev.OnData(pion.Sample{Data: make([]byte, r.size)})
	}
	r.ev.OnStop()
}

// mockPlatform is a platform whose capabilities are set per test.
type mockPlatform struct {
	userAgent   string
	noEnumerate bool
	noScreenAPI bool
	noRecording bool
	acquireErr  map[domain.Source]error
	recordBytes map[domain.Source]int
	gate        chan struct{}

	mu      sync.Mutex
	streams []*mockStream
}

func newMockPlatform() *mockPlatform {
	return &mockPlatform{
		userAgent:   "proctor/test (linux; amd64)",
		acquireErr:  map[domain.Source]error{},
		recordBytes: map[domain.Source]int{domain.Webcam: 4096, domain.Screen: 8192},
	}
}

func (p *mockPlatform) UserAgent() string          { return p.userAgent }
func (p *mockPlatform) HasDeviceEnumeration() bool { return !p.noEnumerate }
func (p *mockPlatform) HasScreenCapture() bool     { return !p.noScreenAPI }
func (p *mockPlatform) HasRecording() bool         { return !p.noRecording }
func (p *mockPlatform) Supports(c domain.Codec) bool {
	return c.MimeType() == "video/webm;codecs=vp8,opus"
}

func (p *mockPlatform) NewRecorder(s domain.Stream, c domain.Codec, ev domain.RecorderEvents) (domain.Recorder, error) {
	return &mockRecorder{size: p.recordBytes[s.Source()], ev: ev}, nil
}

func (p *mockPlatform) Acquire(ctx context.Context, src domain.Source, c domain.Constraints) (domain.Stream, error) {
	if ctx.Value(blockKey{}) != nil {
		<-p.gate
	}
	if err := p.acquireErr[src]; err != nil {
		return nil, err
	}
	s := &mockStream{src: src}
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

type mockConnectivity struct{ received atomic.Bool }

func (c *mockConnectivity) Received() bool { return c.received.Load() }

type mockSink struct {
	mu       sync.Mutex
	attached []domain.Stream
}

func (s *mockSink) Attach(st domain.Stream) {
	s.mu.Lock()
	s.attached = append(s.attached, st)
	s.mu.Unlock()
}

func (s *mockSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

// recordingListener records every result it receives.
type recordingListener struct {
	mu         sync.Mutex
	facts      map[domain.Fact]bool
	notes      []string
	errors     []string
	compatible int
}

func newRecordingListener() *recordingListener {
	return &recordingListener{facts: map[domain.Fact]bool{}}
}

func (l *recordingListener) OnFact(f domain.Fact, ok bool) {
	l.mu.Lock()
	l.facts[f] = ok
	l.mu.Unlock()
}
func (l *recordingListener) OnNote(text string) {
	l.mu.Lock()
	l.notes = append(l.notes, text)
	l.mu.Unlock()
}
func (l *recordingListener) OnError(text string) {
	l.mu.Lock()
	l.errors = append(l.errors, text)
	l.mu.Unlock()
}
func (l *recordingListener) OnCompatible() {
	l.mu.Lock()
	l.compatible++
	l.mu.Unlock()
}

func (l *recordingListener) compatibleCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.compatible
}

func (l *recordingListener) hasNote(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.notes {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func (l *recordingListener) hasError(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestProber(platform *mockPlatform, conn *mockConnectivity, sink *mockSink, l *recordingListener) *Prober {
	p := New(platform, conn, sink, l)
	p.SelfTest = 10 * time.Millisecond
	p.ConnectivityDelay = 20 * time.Millisecond
	return p
}

func TestRun_AllFactsPassSignalsCompatibleOnce(t *testing.T) {
	platform := newMockPlatform()
	conn := &mockConnectivity{}
	conn.received.Store(true)
	sink := &mockSink{}
	l := newRecordingListener()
	p := newTestProber(platform, conn, sink, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx)

	waitFor(t, "compatible signal", func() bool { return l.compatibleCount() > 0 })
	time.Sleep(50 * time.Millisecond)

	if n := l.compatibleCount(); n != 1 {
		t.Errorf("expected exactly one compatible signal, got %d", n)
	}
	if !p.Status().Compatible() {
		t.Error("expected status to be compatible")
	}
	if sink.count() != 2 {
		t.Errorf("expected both streams handed to the sink, got %d", sink.count())
	}
	if !l.hasNote("(2 kBps data rate)") || !l.hasNote("(4 kBps data rate)") {
		t.Errorf("expected data rate notes, got %v", l.notes)
	}
	if !l.hasNote("streaming format: video/webm;codecs=vp8,opus") {
		t.Errorf("expected negotiated format note, got %v", l.notes)
	}
	if !l.hasNote("proctor/test") {
		t.Errorf("expected user agent note, got %v", l.notes)
	}
}

func TestRun_AnyFailedFactPreventsCompatible(t *testing.T) {
	tests := []struct {
		name    string
		fact    domain.Fact
		message string
		setup   func(p *mockPlatform, c *mockConnectivity)
	}{
		{
			name:    "no device enumeration",
			fact:    domain.FactDeviceEnumeration,
			message: "webcam capture API",
			setup:   func(p *mockPlatform, c *mockConnectivity) { p.noEnumerate = true },
		},
		{
			name:    "no screen capture",
			fact:    domain.FactScreenCaptureAPI,
			message: "screen capture API",
			setup:   func(p *mockPlatform, c *mockConnectivity) { p.noScreenAPI = true },
		},
		{
			name:    "no recording",
			fact:    domain.FactRecordingAPI,
			message: "media recording API",
			setup:   func(p *mockPlatform, c *mockConnectivity) { p.noRecording = true },
		},
		{
			name:    "webcam refused",
			fact:    domain.FactWebcamSelfTest,
			message: "Unable to start webcam",
			setup: func(p *mockPlatform, c *mockConnectivity) {
				p.acquireErr[domain.Webcam] = errors.New("permission denied")
			},
		},
		{
			name:    "screen records nothing",
			fact:    domain.FactScreenSelfTest,
			message: "Unable to record screen-capture data.",
			setup:   func(p *mockPlatform, c *mockConnectivity) { p.recordBytes[domain.Screen] = 0 },
		},
		{
			name:    "channel silent",
			fact:    domain.FactChannelReachable,
			message: "Unable to establish proctoring connection to server.",
			setup:   func(p *mockPlatform, c *mockConnectivity) { c.received.Store(false) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := newMockPlatform()
			conn := &mockConnectivity{}
			conn.received.Store(true)
			tt.setup(platform, conn)

			l := newRecordingListener()
			p := newTestProber(platform, conn, &mockSink{}, l)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			p.Run(ctx)

			waitFor(t, "all facts known", func() bool { return p.Status().Complete() })
			time.Sleep(20 * time.Millisecond)

			if n := l.compatibleCount(); n != 0 {
				t.Errorf("expected no compatible signal, got %d", n)
			}
			if p.Status().Passed&tt.fact != 0 {
				t.Errorf("expected %s to fail", tt.fact)
			}
			if p.Status().Passed != domain.AllFacts&^tt.fact {
				t.Errorf("expected only %s to fail, passed=%b", tt.fact, p.Status().Passed)
			}
			if !l.hasError(tt.message) {
				t.Errorf("expected error containing %q, got %v", tt.message, l.errors)
			}
		})
	}
}

func TestRun_BusyWebcamNote(t *testing.T) {
	platform := newMockPlatform()
	platform.acquireErr[domain.Webcam] = domain.ErrSourceBusy
	l := newRecordingListener()
	p := newTestProber(platform, &mockConnectivity{}, &mockSink{}, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx)

	waitFor(t, "webcam fact", func() bool { return p.Status().Known&domain.FactWebcamSelfTest != 0 })

	if !l.hasNote("some other application or browser is controlling the webcam") {
		t.Errorf("expected busy webcam note, got %v", l.notes)
	}
	if l.hasNote("Error message from platform") {
		t.Error("expected busy cause to replace the generic error note")
	}
}

func TestRun_MissingUserAgentIsNotAFact(t *testing.T) {
	platform := newMockPlatform()
	platform.userAgent = ""
	conn := &mockConnectivity{}
	conn.received.Store(true)
	l := newRecordingListener()
	p := newTestProber(platform, conn, &mockSink{}, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx)

	waitFor(t, "compatible signal", func() bool { return l.compatibleCount() == 1 })
	if !l.hasError("Unable to determine browser.") {
		t.Errorf("expected browser error, got %v", l.errors)
	}
}

func TestRun_NewRoundDiscardsStaleResults(t *testing.T) {
	platform := newMockPlatform()
	platform.gate = make(chan struct{})
	conn := &mockConnectivity{}
	conn.received.Store(true)
	sink := &mockSink{}
	l := newRecordingListener()
	p := newTestProber(platform, conn, sink, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first round blocks in acquisition until released.
	p.Run(context.WithValue(ctx, blockKey{}, true))
	p.Run(ctx)

	waitFor(t, "compatible signal", func() bool { return l.compatibleCount() == 1 })

	close(platform.gate)
	waitFor(t, "stale streams", func() bool {
		platform.mu.Lock()
		defer platform.mu.Unlock()
		return len(platform.streams) == 4
	})

	waitFor(t, "stale streams stopped", func() bool {
		n := 0
		platform.mu.Lock()
		for _, s := range platform.streams {
			if s.stopped.Load() {
				n++
			}
		}
		platform.mu.Unlock()
		return n == 2
	})

	if sink.count() != 2 {
		t.Errorf("expected only the current round's streams attached, got %d", sink.count())
	}
	if n := l.compatibleCount(); n != 1 {
		t.Errorf("expected one compatible signal, got %d", n)
	}
}
