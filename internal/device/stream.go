package device

import (
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mathops/proctor/internal/domain"
)

type stream struct {
	src         domain.Source
	constraints domain.Constraints
	// device is the webcam node watched for removal; empty for the screen.
	device string

	ended    chan struct{}
	stopped  chan struct{}
	endOnce  sync.Once
	stopOnce sync.Once

	mu    sync.Mutex
	still []byte
}

func newStream(src domain.Source, c domain.Constraints, device string) *stream {
	return &stream{
		src:         src,
		constraints: c,
		device:      device,
		ended:       make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

func (s *stream) Source() domain.Source {
	return s.src
}

func (s *stream) Ended() <-chan struct{} {
	return s.ended
}

func (s *stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		log.Printf("[device] %s stream stopped", s.src)
	})
}

func (s *stream) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.still == nil {
		return nil, ErrNoFrame
	}
	return append([]byte(nil), s.still...), nil
}

func (s *stream) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// end marks the track ended on its own. It has no effect once the stream
// was stopped.
func (s *stream) end() {
	if s.isStopped() {
		return
	}
	s.endOnce.Do(func() {
		log.Printf("[device] %s track ended", s.src)
		close(s.ended)
	})
}

func (s *stream) setStill(jpeg []byte) {
	s.mu.Lock()
	s.still = jpeg
	s.mu.Unlock()
}

// watch ends the stream when its device node disappears.
func (s *stream) watch(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-s.stopped:
			return
		case <-s.ended:
			return
		case <-t.C:
			if _, err := os.Stat(s.device); err != nil {
				log.Printf("[device] %s: %v", s.src, err)
				s.end()
				return
			}
		}
	}
}

// readStills keeps the latest JPEG of an MJPEG stream as the snapshot.
func (s *stream) readStills(r io.ReadCloser) {
	defer r.Close()

	splitter := NewJPEGSplitter()
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if frames := splitter.Split(buf[:n]); len(frames) > 0 {
				s.setStill(frames[len(frames)-1])
			}
		}
		if err != nil {
			return
		}
	}
}
