package media

import (
	"bytes"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mathops/proctor/internal/domain"
	"github.com/mathops/proctor/internal/upload"

	"github.com/pion/webrtc/v4/pkg/media"
)

// Timeslice is the interval at which recorders emit chunks.
const Timeslice = time.Second

// ErrNoStream is returned when a source has no attached stream.
var ErrNoStream = errors.New("no stream attached")

// Uploader accepts artifacts for upload.
type Uploader interface {
	Send(item upload.Item)
}

type track struct {
	stream   domain.Stream
	recorder domain.Recorder
	pending  [][]byte
	release  chan struct{}
}

// Pipeline owns the webcam and screen streams once acquired, records them
// and pushes every chunk through the uploader.
type Pipeline struct {
	factory   domain.RecorderFactory
	uploader  Uploader
	timeslice time.Duration

	mu      sync.Mutex
	tracks  [len(domain.Sources)]track
	onEnded func(src domain.Source)
}

// NewPipeline creates an empty pipeline.
func NewPipeline(factory domain.RecorderFactory, uploader Uploader) *Pipeline {
	return &Pipeline{
		factory:   factory,
		uploader:  uploader,
		timeslice: Timeslice,
	}
}

// OnEnded registers the callback fired when a stream's track ends on its
// own. It runs on the pipeline's watcher goroutine.
func (p *Pipeline) OnEnded(fn func(src domain.Source)) {
	p.mu.Lock()
	p.onEnded = fn
	p.mu.Unlock()
}

// Attach hands a live stream to the pipeline. A stream already attached
// for the same source is stopped and released first.
func (p *Pipeline) Attach(s domain.Stream) {
	src := s.Source()

	p.mu.Lock()
	t := &p.tracks[src]
	oldStream, oldRec := t.stream, t.recorder
	if t.release != nil {
		close(t.release)
	}
	t.stream = s
	t.recorder = nil
	t.release = make(chan struct{})
	release := t.release
	p.mu.Unlock()

	stopRecorder(oldRec)
	if oldStream != nil && oldStream != s {
		oldStream.Stop()
	}

	log.Printf("[media] %s stream attached", src)
	go p.watch(s, release)
}

func (p *Pipeline) watch(s domain.Stream, release <-chan struct{}) {
	select {
	case <-s.Ended():
		p.ended(s)
	case <-release:
	}
}

func (p *Pipeline) ended(s domain.Stream) {
	src := s.Source()

	p.mu.Lock()
	t := &p.tracks[src]
	if t.stream != s {
		p.mu.Unlock()
		return
	}
	rec := t.recorder
	t.stream = nil
	t.recorder = nil
	t.release = nil
	onEnded := p.onEnded
	p.mu.Unlock()

	log.Printf("[media] %s track ended", src)

	// Stopping flushes whatever the recorder still holds.
	stopRecorder(rec)
	s.Stop()

	if onEnded != nil {
		onEnded(src)
	}
}

// Start begins recording a source. It reports whether a recorder was
// started; a source that is already recording, or has no stream, is left
// unchanged.
func (p *Pipeline) Start(src domain.Source) bool {
	p.mu.Lock()
	t := &p.tracks[src]
	if t.stream == nil {
		p.mu.Unlock()
		return false
	}
	if t.recorder != nil && t.recorder.State() == domain.RecorderRecording {
		p.mu.Unlock()
		return false
	}
	if t.recorder == nil {
		codec := Negotiate(p.factory)
		rec, err := p.factory.NewRecorder(t.stream, codec, domain.RecorderEvents{
			OnData: func(chunk media.Sample) { p.chunk(src, codec, chunk) },
			OnStop: func() { p.flush(src, codec) },
		})
		if err != nil {
			p.mu.Unlock()
			log.Printf("[media] %s: create recorder: %v", src, err)
			return false
		}
		log.Printf("[media] %s recorder format: %s", src, codec)
		t.recorder = rec
	}
	rec := t.recorder
	p.mu.Unlock()

	if err := rec.Start(p.timeslice); err != nil {
		log.Printf("[media] %s: start recorder: %v", src, err)
		return false
	}
	return true
}

// StartAll starts every source that has a stream and reports whether any
// recorder was started.
func (p *Pipeline) StartAll() bool {
	started := false
	for _, src := range domain.Sources {
		if p.Start(src) {
			started = true
		}
	}
	return started
}

// Stop stops the recorder of a source. A recorder that is not recording
// is left alone.
func (p *Pipeline) Stop(src domain.Source) {
	p.mu.Lock()
	t := &p.tracks[src]
	rec := t.recorder
	t.recorder = nil
	p.mu.Unlock()

	stopRecorder(rec)
}

// Release stops both recorders and releases both streams.
func (p *Pipeline) Release() {
	for _, src := range domain.Sources {
		p.mu.Lock()
		t := &p.tracks[src]
		rec, stream := t.recorder, t.stream
		if t.release != nil {
			close(t.release)
		}
		t.recorder, t.stream, t.release = nil, nil, nil
		p.mu.Unlock()

		stopRecorder(rec)
		if stream != nil {
			stream.Stop()
			log.Printf("[media] %s stream released", src)
		}
	}
}

// Snapshot returns a still frame from a source's stream.
func (p *Pipeline) Snapshot(src domain.Source) ([]byte, error) {
	p.mu.Lock()
	s := p.tracks[src].stream
	p.mu.Unlock()

	if s == nil {
		return nil, ErrNoStream
	}
	return s.Snapshot()
}

// Attached reports whether a source has a live stream.
func (p *Pipeline) Attached(src domain.Source) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracks[src].stream != nil
}

// Recorder returns the current recorder of a source, if any.
func (p *Pipeline) Recorder(src domain.Source) domain.Recorder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracks[src].recorder
}

// Pending returns the number of chunks buffered for a source.
func (p *Pipeline) Pending(src domain.Source) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks[src].pending)
}

func (p *Pipeline) chunk(src domain.Source, codec domain.Codec, chunk media.Sample) {
	p.mu.Lock()
	t := &p.tracks[src]
	t.pending = append(t.pending, chunk.Data)
	p.mu.Unlock()

	p.flush(src, codec)
}

// flush uploads the pending chunks of a source as one blob and clears them.
func (p *Pipeline) flush(src domain.Source, codec domain.Codec) {
	p.mu.Lock()
	t := &p.tracks[src]
	blob := bytes.Join(t.pending, nil)
	t.pending = nil
	p.mu.Unlock()

	if len(blob) == 0 {
		return
	}
	p.uploader.Send(upload.Chunk(src, blob, codec.MimeType()))
}

func stopRecorder(rec domain.Recorder) {
	if rec != nil && rec.State() == domain.RecorderRecording {
		rec.Stop()
	}
}
