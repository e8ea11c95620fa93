package media

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/mathops/proctor/internal/domain"
	"github.com/mathops/proctor/internal/upload"

	"github.com/pion/webrtc/v4/pkg/media"
)

// mockStream is a stream whose end can be triggered by the test.
type mockStream struct {
	src     domain.Source
	ended   chan struct{}
	mu      sync.Mutex
	stopped bool
}

func newMockStream(src domain.Source) *mockStream {
	return &mockStream{src: src, ended: make(chan struct{})}
}

func (s *mockStream) Source() domain.Source     { return s.src }
func (s *mockStream) Ended() <-chan struct{}    { return s.ended }
func (s *mockStream) Snapshot() ([]byte, error) { return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil }
func (s *mockStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
func (s *mockStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// mockRecorder records lifecycle calls and lets the test emit chunks.
type mockRecorder struct {
	codec  domain.Codec
	ev     domain.RecorderEvents
	mu     sync.Mutex
	state  domain.RecorderState
	starts int
	stops  int
}

func (r *mockRecorder) Codec() domain.Codec { return r.codec }
func (r *mockRecorder) State() domain.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
func (r *mockRecorder) Start(time.Duration) error {
	r.mu.Lock()
	r.state = domain.RecorderRecording
	r.starts++
	r.mu.Unlock()
	return nil
}
func (r *mockRecorder) Stop() {
	r.mu.Lock()
	r.state = domain.RecorderStopped
	r.stops++
	r.mu.Unlock()
	r.ev.OnStop()
}
func (r *mockRecorder) emit(data []byte) {
	r.ev.OnData(media.Sample{Data: data, Duration: time.Second})
}

// mockFactory supports a fixed set of codecs and keeps every recorder it made.
type mockFactory struct {
	supported map[string]bool
	recorders []*mockRecorder
}

func (f *mockFactory) Supports(c domain.Codec) bool { return f.supported[c.MimeType()] }
func (f *mockFactory) NewRecorder(s domain.Stream, c domain.Codec, ev domain.RecorderEvents) (domain.Recorder, error) {
	r := &mockRecorder{codec: c, ev: ev}
	f.recorders = append(f.recorders, r)
	return r, nil
}

// mockUploader collects every item sent.
type mockUploader struct {
	mu    sync.Mutex
	items []upload.Item
}

func (u *mockUploader) Send(item upload.Item) {
	u.mu.Lock()
	u.items = append(u.items, item)
	u.mu.Unlock()
}

func (u *mockUploader) sent() []upload.Item {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]upload.Item(nil), u.items...)
}

func TestNegotiate_FirstSupportedCandidate(t *testing.T) {
	f := &mockFactory{supported: map[string]bool{
		"video/webm;codecs=vp9,opus": true,
		"video/webm;codecs=vp8":      true,
	}}
	if got := Negotiate(f).MimeType(); got != "video/webm;codecs=vp9,opus" {
		t.Errorf("expected vp9,opus, got %q", got)
	}
}

func TestNegotiate_FallsBackToDefault(t *testing.T) {
	f := &mockFactory{}
	if c := Negotiate(f); !c.IsDefault() {
		t.Errorf("expected default codec, got %s", c)
	}
}

func TestCandidates_CodecStrings(t *testing.T) {
	if got := Candidates[0].MimeType(); got != "video/webm;codecs=vp8,vp9,opus" {
		t.Errorf("unexpected first candidate %q", got)
	}
	if got := Candidates[len(Candidates)-1].MimeType(); got != "video/webm;codecs=avc1" {
		t.Errorf("unexpected last candidate %q", got)
	}
}

func TestStart_AlreadyRecordingIsNoop(t *testing.T) {
	f := &mockFactory{supported: map[string]bool{"video/webm;codecs=vp8,opus": true}}
	u := &mockUploader{}
	p := NewPipeline(f, u)
	p.Attach(newMockStream(domain.Webcam))

	if !p.Start(domain.Webcam) {
		t.Fatal("expected first start to start a recorder")
	}
	rec := p.Recorder(domain.Webcam)

	if p.Start(domain.Webcam) {
		t.Error("expected second start to be a no-op")
	}
	if p.Recorder(domain.Webcam) != rec {
		t.Error("expected recorder identity to be unchanged")
	}
	if len(f.recorders) != 1 || f.recorders[0].starts != 1 {
		t.Errorf("expected one recorder started once, got %d recorders", len(f.recorders))
	}
	if p.Pending(domain.Webcam) != 0 {
		t.Errorf("expected empty pending buffer, got %d", p.Pending(domain.Webcam))
	}
}

func TestStart_WithoutStreamDoesNothing(t *testing.T) {
	f := &mockFactory{}
	p := NewPipeline(f, &mockUploader{})

	if p.StartAll() {
		t.Error("expected StartAll to report nothing started")
	}
	if len(f.recorders) != 0 {
		t.Errorf("expected no recorders, got %d", len(f.recorders))
	}
}

func TestChunks_FlushedOncePerEmission(t *testing.T) {
	f := &mockFactory{supported: map[string]bool{"video/webm;codecs=vp8,opus": true}}
	u := &mockUploader{}
	p := NewPipeline(f, u)
	p.Attach(newMockStream(domain.Screen))
	p.Start(domain.Screen)

	rec := f.recorders[0]
	rec.emit([]byte("one"))
	if p.Pending(domain.Screen) != 0 {
		t.Fatalf("expected pending buffer cleared after flush, got %d", p.Pending(domain.Screen))
	}
	rec.emit([]byte("two"))
	rec.emit(nil)

	items := u.sent()
	if len(items) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(items))
	}
	if string(items[0].Body) != "one" || string(items[1].Body) != "two" {
		t.Errorf("expected non-overlapping chunks, got %q and %q", items[0].Body, items[1].Body)
	}
	for _, it := range items {
		if it.Kind != upload.KindScreen {
			t.Errorf("expected kind S, got %s", it.Kind)
		}
		if it.ContentType != "video/webm;codecs=vp8,opus" {
			t.Errorf("expected negotiated content type, got %q", it.ContentType)
		}
	}
}

func TestStop_NotRecordingIsNoop(t *testing.T) {
	f := &mockFactory{}
	p := NewPipeline(f, &mockUploader{})
	p.Attach(newMockStream(domain.Webcam))

	// No recorder at all.
	p.Stop(domain.Webcam)

	p.Start(domain.Webcam)
	rec := f.recorders[0]
	p.Stop(domain.Webcam)
	p.Stop(domain.Webcam)
	if rec.stops != 1 {
		t.Errorf("expected exactly one stop, got %d", rec.stops)
	}
}

func TestRelease_StopsBothRecordersAndStreams(t *testing.T) {
	f := &mockFactory{}
	p := NewPipeline(f, &mockUploader{})
	webcam := newMockStream(domain.Webcam)
	screen := newMockStream(domain.Screen)
	p.Attach(webcam)
	p.Attach(screen)

	// Only the webcam is recording.
	p.Start(domain.Webcam)

	p.Release()

	if f.recorders[0].stops != 1 {
		t.Errorf("expected webcam recorder stopped, got %d stops", f.recorders[0].stops)
	}
	if !webcam.isStopped() || !screen.isStopped() {
		t.Error("expected both streams released")
	}
	if p.Attached(domain.Webcam) || p.Attached(domain.Screen) {
		t.Error("expected no stream attached after release")
	}
}

func TestTrackEnded_StopsRecorderAndNotifies(t *testing.T) {
	f := &mockFactory{}
	u := &mockUploader{}
	p := NewPipeline(f, u)

	endedCh := make(chan domain.Source, 1)
	p.OnEnded(func(src domain.Source) { endedCh <- src })

	s := newMockStream(domain.Webcam)
	p.Attach(s)
	p.Start(domain.Webcam)
	rec := f.recorders[0]

	// A chunk still pending when the track ends is flushed by the stop.
	p.mu.Lock()
	p.tracks[domain.Webcam].pending = [][]byte{[]byte("tail")}
	p.mu.Unlock()

	close(s.ended)

	select {
	case src := <-endedCh:
		if src != domain.Webcam {
			t.Errorf("expected webcam, got %s", src)
		}
	case <-time.After(time.Second):
		t.Fatal("expected OnEnded to fire")
	}

	if rec.stops != 1 {
		t.Errorf("expected recorder stopped once, got %d", rec.stops)
	}
	if !s.isStopped() {
		t.Error("expected ended stream to be released")
	}
	if p.Attached(domain.Webcam) {
		t.Error("expected ended stream to be detached")
	}

	items := u.sent()
	if len(items) != 1 || !bytes.Equal(items[0].Body, []byte("tail")) {
		t.Errorf("expected the pending tail to be uploaded, got %+v", items)
	}
}

func TestAttach_ReplacesPreviousStream(t *testing.T) {
	p := NewPipeline(&mockFactory{}, &mockUploader{})
	first := newMockStream(domain.Screen)
	second := newMockStream(domain.Screen)

	p.Attach(first)
	p.Attach(second)

	if !first.isStopped() {
		t.Error("expected the replaced stream to be stopped")
	}
	if second.isStopped() {
		t.Error("expected the new stream to stay live")
	}

	snap, err := p.Snapshot(domain.Screen)
	if err != nil || len(snap) == 0 {
		t.Errorf("expected snapshot from attached stream, got %v", err)
	}
	if _, err := p.Snapshot(domain.Webcam); err != ErrNoStream {
		t.Errorf("expected ErrNoStream, got %v", err)
	}
}
