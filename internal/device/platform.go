package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/mathops/proctor/internal/domain"
)

var (
	// ErrNoDevice is returned when the webcam device node does not exist.
	ErrNoDevice = errors.New("no capture device")
	// ErrNoDisplay is returned when no X display is configured for screen capture.
	ErrNoDisplay = errors.New("no display configured")
	// ErrNoFrame is returned by Snapshot before the stream produced a still.
	ErrNoFrame = errors.New("no frame captured")
	// ErrStreamStopped is returned when recording a released stream.
	ErrStreamStopped = errors.New("stream stopped")
)

// Options configures the platform.
type Options struct {
	// FFmpeg is the ffmpeg executable, looked up on PATH.
	FFmpeg       string
	WebcamDevice string
	// AudioDevice is the PulseAudio source recorded with the webcam.
	AudioDevice string
	// Display is the X display captured for the screen, e.g. :0.0.
	Display   string
	UserAgent string
	Version   string
	// SysfsDir is where video4linux devices are enumerated.
	SysfsDir string
}

func (o *Options) setDefaults() {
	if o.FFmpeg == "" {
		o.FFmpeg = "ffmpeg"
	}
	if o.WebcamDevice == "" {
		o.WebcamDevice = "/dev/video0"
	}
	if o.AudioDevice == "" {
		o.AudioDevice = "default"
	}
	if o.SysfsDir == "" {
		o.SysfsDir = "/sys/class/video4linux"
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	if o.UserAgent == "" {
		o.UserAgent = fmt.Sprintf("proctor/%s (%s; %s)", o.Version, runtime.GOOS, runtime.GOARCH)
	}
}

// devicePoll is how often a webcam stream checks that its device still exists.
var devicePoll = 500 * time.Millisecond

// Platform implements domain.Platform with ffmpeg on Linux: v4l2 for the
// webcam, PulseAudio for the microphone and x11grab for the screen.
type Platform struct {
	opts     Options
	ffmpeg   string
	encoders map[string]bool
}

// NewPlatform locates ffmpeg and reads the encoders it was built with.
// A missing ffmpeg is not an error; the platform then reports no recording
// capability.
func NewPlatform(ctx context.Context, opts Options) *Platform {
	opts.setDefaults()
	p := &Platform{opts: opts, encoders: map[string]bool{}}

	path, err := exec.LookPath(opts.FFmpeg)
	if err != nil {
		log.Printf("[device] ffmpeg not found: %v", err)
		return p
	}
	p.ffmpeg = path

	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output()
	if err != nil {
		log.Printf("[device] list encoders: %v", err)
		return p
	}
	p.encoders = parseEncoders(bytes.NewReader(out))
	log.Printf("[device] %s: %d encoders", path, len(p.encoders))
	return p
}

func (p *Platform) UserAgent() string {
	return p.opts.UserAgent
}

func (p *Platform) HasDeviceEnumeration() bool {
	info, err := os.Stat(p.opts.SysfsDir)
	return err == nil && info.IsDir()
}

func (p *Platform) HasScreenCapture() bool {
	return p.opts.Display != ""
}

func (p *Platform) HasRecording() bool {
	return p.ffmpeg != ""
}

// Supports reports whether ffmpeg can produce the codec configuration.
func (p *Platform) Supports(c domain.Codec) bool {
	if p.ffmpeg == "" {
		return false
	}
	_, ok := resolve(c, p.encoders)
	return ok
}

// Acquire opens a source and grabs its first frame, which serves snapshots
// until a recorder produces newer ones.
func (p *Platform) Acquire(ctx context.Context, src domain.Source, c domain.Constraints) (domain.Stream, error) {
	device := ""
	switch src {
	case domain.Webcam:
		if _, err := os.Stat(p.opts.WebcamDevice); err != nil {
			return nil, fmt.Errorf("%s: %w", p.opts.WebcamDevice, ErrNoDevice)
		}
		device = p.opts.WebcamDevice
	case domain.Screen:
		if p.opts.Display == "" {
			return nil, ErrNoDisplay
		}
	}
	if p.ffmpeg == "" {
		return nil, fmt.Errorf("acquire %s: ffmpeg not available", src)
	}

	still, err := p.grab(ctx, src, c)
	if err != nil {
		return nil, err
	}

	s := newStream(src, c, device)
	s.setStill(still)
	if device != "" {
		go s.watch(devicePoll)
	}
	log.Printf("[device] %s acquired (%dx%d@%d)", src, c.Width, c.Height, c.FrameRate)
	return s, nil
}

func (p *Platform) grab(ctx context.Context, src domain.Source, c domain.Constraints) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.ffmpeg, grabArgs(src, c, p.opts)...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "Device or resource busy") {
			return nil, fmt.Errorf("%s: %w", src, domain.ErrSourceBusy)
		}
		return nil, fmt.Errorf("grab %s frame: %s: %w", src, lastLine(msg), err)
	}

	frames := NewJPEGSplitter().Split(out)
	if len(frames) == 0 {
		return nil, fmt.Errorf("grab %s frame: %w", src, ErrNoFrame)
	}
	return frames[len(frames)-1], nil
}

// NewRecorder creates a recorder for a stream acquired from this platform.
func (p *Platform) NewRecorder(s domain.Stream, c domain.Codec, ev domain.RecorderEvents) (domain.Recorder, error) {
	st, ok := s.(*stream)
	if !ok {
		return nil, fmt.Errorf("new recorder: %T is not a device stream", s)
	}
	pl, ok := resolve(c, p.encoders)
	if !ok {
		return nil, fmt.Errorf("new recorder: codec %s not supported", c)
	}
	return newRecorder(p.ffmpeg, p.opts, st, c, pl, ev), nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
