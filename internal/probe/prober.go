package probe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mathops/proctor/internal/domain"
	"github.com/mathops/proctor/internal/media"
	"github.com/mathops/proctor/internal/metrics"

	pion "github.com/pion/webrtc/v4/pkg/media"
)

const (
	// SelfTest is how long each source is recorded during the self-test.
	SelfTest = 2 * time.Second
	// ConnectivityDelay is how long after Run the control channel must have
	// delivered a message.
	ConnectivityDelay = 5 * time.Second
)

// Acquisition profiles for the self-test.
var (
	WebcamProfile = domain.Constraints{Width: 160, Height: 120, FrameRate: 10, Audio: true}
	ScreenProfile = domain.Constraints{Width: 960, Height: 540, FrameRate: 10}
)

// Listener receives the results of a probing round. Calls arrive on the
// prober's goroutines.
type Listener interface {
	OnFact(f domain.Fact, ok bool)
	OnNote(text string)
	OnError(text string)
	// OnCompatible fires at most once per round, when all six facts passed.
	OnCompatible()
}

// Connectivity reports whether the control channel has delivered a message.
type Connectivity interface {
	Received() bool
}

// StreamSink takes ownership of the streams acquired for the self-test.
type StreamSink interface {
	Attach(s domain.Stream)
}

// Prober runs the capability checks and the record-and-verify self-test of
// both sources.
type Prober struct {
	SelfTest          time.Duration
	ConnectivityDelay time.Duration
	Webcam            domain.Constraints
	Screen            domain.Constraints

	platform     domain.Platform
	connectivity Connectivity
	sink         StreamSink
	listener     Listener

	mu       sync.Mutex
	round    int
	status   domain.CapabilityStatus
	signaled bool
}

// New creates a Prober with the default profiles and timings.
func New(platform domain.Platform, connectivity Connectivity, sink StreamSink, listener Listener) *Prober {
	return &Prober{
		SelfTest:          SelfTest,
		ConnectivityDelay: ConnectivityDelay,
		Webcam:            WebcamProfile,
		Screen:            ScreenProfile,
		platform:          platform,
		connectivity:      connectivity,
		sink:              sink,
		listener:          listener,
	}
}

// Run starts a fresh probing round and returns immediately. Results of any
// earlier round still in flight are discarded.
func (p *Prober) Run(ctx context.Context) {
	p.mu.Lock()
	p.round++
	round := p.round
	p.status = domain.CapabilityStatus{}
	p.signaled = false
	p.mu.Unlock()

	log.Printf("[probe] checking system compatibility (round %d)", round)

	delay := time.AfterFunc(p.ConnectivityDelay, func() { p.checkConnectivity(round) })
	go func() {
		<-ctx.Done()
		delay.Stop()
	}()

	if ua := p.platform.UserAgent(); ua != "" {
		p.note(round, ua)
	} else {
		p.fail(round, "Unable to determine browser.")
	}

	p.check(round, domain.FactDeviceEnumeration, p.platform.HasDeviceEnumeration(),
		"This browser does not support the required webcam capture API.")
	p.check(round, domain.FactScreenCaptureAPI, p.platform.HasScreenCapture(),
		"This browser does not support the required screen capture API.")
	p.check(round, domain.FactRecordingAPI, p.platform.HasRecording(),
		"This browser does not support the required media recording API.")

	go p.selfTest(ctx, round, domain.Webcam, p.Webcam)
	go p.selfTest(ctx, round, domain.Screen, p.Screen)
}

// Status returns the capability status of the current round.
func (p *Prober) Status() domain.CapabilityStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Prober) check(round int, f domain.Fact, ok bool, failure string) {
	if !ok {
		p.fail(round, failure)
	}
	p.set(round, f, ok)
}

func (p *Prober) checkConnectivity(round int) {
	ok := p.connectivity.Received()
	if !ok {
		p.fail(round, "Unable to establish proctoring connection to server.")
	}
	p.set(round, domain.FactChannelReachable, ok)
}

func (p *Prober) selfTest(ctx context.Context, round int, src domain.Source, c domain.Constraints) {
	fact, label := domain.FactWebcamSelfTest, "Webcam"
	if src == domain.Screen {
		fact, label = domain.FactScreenSelfTest, "Screen capture"
	}

	s, err := p.platform.Acquire(ctx, src, c)
	if err != nil {
		log.Printf("[probe] unable to start %s: %v", src, err)
		p.acquireFailed(round, src, err)
		p.set(round, fact, false)
		return
	}
	if !p.current(round) {
		s.Stop()
		return
	}
	p.sink.Attach(s)

	codec := media.Negotiate(p.platform)
	p.note(round, fmt.Sprintf("    %s streaming format: %s", label, codec))

	size, err := p.record(ctx, s, codec)
	if err != nil {
		log.Printf("[probe] %s self-test: %v", src, err)
	}
	if size == 0 {
		if src == domain.Screen {
			p.fail(round, "Unable to record screen-capture data.")
		} else {
			p.fail(round, "Unable to record from webcam.")
		}
		p.set(round, fact, false)
		return
	}

	p.note(round, fmt.Sprintf("%s: (%d kBps data rate)", label, int(math.Round(float64(size)/2048))))
	p.set(round, fact, true)
}

// record runs a recorder on s for the self-test duration and returns the
// number of bytes it produced.
func (p *Prober) record(ctx context.Context, s domain.Stream, codec domain.Codec) (int64, error) {
	var size atomic.Int64
	stopped := make(chan struct{})
	var once sync.Once

	rec, err := p.platform.NewRecorder(s, codec, domain.RecorderEvents{
		OnData: func(chunk pion.Sample) { size.Add(int64(len(chunk.Data))) },
		OnStop: func() { once.Do(func() { close(stopped) }) },
	})
	if err != nil {
		return 0, fmt.Errorf("create recorder: %w", err)
	}
	if err := rec.Start(0); err != nil {
		return 0, fmt.Errorf("start recorder: %w", err)
	}

	timer := time.NewTimer(p.SelfTest)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	if rec.State() == domain.RecorderRecording {
		rec.Stop()
	}

	select {
	case <-stopped:
	case <-ctx.Done():
		return size.Load(), ctx.Err()
	}
	return size.Load(), nil
}

func (p *Prober) acquireFailed(round int, src domain.Source, err error) {
	if src == domain.Screen {
		p.fail(round, "Unable to start screen capture - retry and grant permission to share your screen.")
		p.note(round, "Error message from platform: "+err.Error())
		return
	}

	p.fail(round, "Unable to start webcam - retry and grant permission to use your camera and microphone.")
	if errors.Is(err, domain.ErrSourceBusy) {
		p.note(round, "It appears some other application or browser is controlling the webcam")
	} else {
		p.note(round, "Error message from platform: "+err.Error())
	}
}

func (p *Prober) current(round int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return round == p.round
}

func (p *Prober) set(round int, f domain.Fact, ok bool) {
	p.mu.Lock()
	if round != p.round || !p.status.Set(f, ok) {
		p.mu.Unlock()
		return
	}
	compatible := p.status.Compatible() && !p.signaled
	if compatible {
		p.signaled = true
	}
	p.mu.Unlock()

	metrics.CapabilityFact(f.String(), ok)
	p.listener.OnFact(f, ok)
	if compatible {
		log.Printf("[probe] system is compatible")
		p.listener.OnCompatible()
	}
}

func (p *Prober) note(round int, text string) {
	if p.current(round) {
		p.listener.OnNote(text)
	}
}

func (p *Prober) fail(round int, text string) {
	if p.current(round) {
		log.Printf("[probe] %s", text)
		p.listener.OnError(text)
	}
}
