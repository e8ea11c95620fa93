package device

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mathops/proctor/internal/domain"

	"github.com/pion/webrtc/v4/pkg/media"
)

// stopTimeout bounds how long Stop waits for ffmpeg to finish the container
// after an interrupt before killing it.
var stopTimeout = 5 * time.Second

// recorder runs one ffmpeg process per Start and turns its stdout into
// timesliced chunks.
type recorder struct {
	ffmpeg string
	opts   Options
	stream *stream
	codec  domain.Codec
	plan   plan
	ev     domain.RecorderEvents

	mu       sync.Mutex
	state    domain.RecorderState
	stopping bool
	cmd      *exec.Cmd
	done     chan struct{}

	bufMu   sync.Mutex
	pending []byte
}

func newRecorder(ffmpeg string, opts Options, s *stream, c domain.Codec, p plan, ev domain.RecorderEvents) *recorder {
	return &recorder{
		ffmpeg: ffmpeg,
		opts:   opts,
		stream: s,
		codec:  c,
		plan:   p,
		ev:     ev,
	}
}

func (r *recorder) Codec() domain.Codec {
	return r.codec
}

func (r *recorder) State() domain.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *recorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RecorderRecording {
		return nil
	}
	if r.stream.isStopped() {
		return ErrStreamStopped
	}

	stills := r.stream.src == domain.Webcam
	cmd := exec.Command(r.ffmpeg, recordArgs(r.stream.src, r.stream.constraints, r.plan, r.opts, stills)...)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	var stillsR, stillsW *os.File
	if stills {
		stillsR, stillsW, err = os.Pipe()
		if err != nil {
			return fmt.Errorf("stills pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{stillsW}
	}

	if err := cmd.Start(); err != nil {
		if stills {
			stillsR.Close()
			stillsW.Close()
		}
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	if stills {
		// The child holds its own copy; closing ours lets the reader see EOF.
		stillsW.Close()
		go r.stream.readStills(stillsR)
	}

	r.cmd = cmd
	r.state = domain.RecorderRecording
	r.stopping = false
	r.done = make(chan struct{})
	log.Printf("[device] %s recording %s (pid %d)", r.stream.src, r.codec, cmd.Process.Pid)

	go r.run(cmd, stdout, stderr, timeslice, r.done)
	return nil
}

func (r *recorder) run(cmd *exec.Cmd, stdout io.Reader, stderr *tailBuffer, timeslice time.Duration, done chan struct{}) {
	quit := make(chan struct{})
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		if timeslice <= 0 {
			<-quit
			return
		}
		t := time.NewTicker(timeslice)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.emit(timeslice)
			case <-quit:
				return
			}
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			r.bufMu.Lock()
			r.pending = append(r.pending, buf[:n]...)
			r.bufMu.Unlock()
		}
		if err != nil {
			break
		}
	}
	waitErr := cmd.Wait()

	close(quit)
	<-ticking
	r.emit(timeslice)

	r.mu.Lock()
	requested := r.stopping
	r.state = domain.RecorderStopped
	r.mu.Unlock()

	if !requested {
		log.Printf("[device] %s recorder exited: %v %s", r.stream.src, waitErr, stderr)
		r.stream.end()
	}
	if r.ev.OnStop != nil {
		r.ev.OnStop()
	}
	close(done)
}

func (r *recorder) emit(d time.Duration) {
	r.bufMu.Lock()
	data := r.pending
	r.pending = nil
	r.bufMu.Unlock()

	if len(data) == 0 || r.ev.OnData == nil {
		return
	}
	r.ev.OnData(media.Sample{Data: data, Timestamp: time.Now(), Duration: d})
}

// Stop interrupts ffmpeg so it finishes the container, and waits for the
// final chunk and OnStop.
func (r *recorder) Stop() {
	r.mu.Lock()
	if r.state != domain.RecorderRecording || r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	cmd, done := r.cmd, r.done
	r.mu.Unlock()

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		log.Printf("[device] %s interrupt: %v", r.stream.src, err)
	}
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Printf("[device] %s recorder did not stop, killing", r.stream.src)
		_ = cmd.Process.Kill()
		<-done
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
