package domain

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrSourceBusy is returned by Acquire when another application holds the
// capture device.
var ErrSourceBusy = errors.New("capture device busy")

// Channel is the outgoing half of the control channel.
type Channel interface {
	Send(text string)
	Open() bool
}

// Handler receives control channel events.
type Handler interface {
	OnOpen()
	OnMessage(msg Message)
	OnClose(code int, reason string)
}

// Stream is a live capture stream owned by the media pipeline once acquired.
type Stream interface {
	Source() Source
	// Ended is closed when the stream's track ends without Stop being called
	// (permission revoked, device removed).
	Ended() <-chan struct{}
	// Stop releases the stream's tracks. It does not close Ended.
	Stop()
	// Snapshot returns the most recent still frame as JPEG.
	Snapshot() ([]byte, error)
}

// RecorderEvents are the callbacks a recorder delivers on its own goroutine.
type RecorderEvents struct {
	OnData func(chunk media.Sample)
	OnStop func()
}

// Recorder encodes a stream into container chunks.
type Recorder interface {
	Codec() Codec
	State() RecorderState
	// Start begins recording. A positive timeslice emits a chunk every
	// timeslice; zero emits a single chunk when the recorder stops.
	Start(timeslice time.Duration) error
	// Stop flushes the remaining data, then fires OnStop.
	Stop()
}

// RecorderFactory negotiates codecs and creates recorders.
type RecorderFactory interface {
	Supports(c Codec) bool
	NewRecorder(s Stream, c Codec, ev RecorderEvents) (Recorder, error)
}

// Platform exposes the device and recording capabilities of the host.
type Platform interface {
	RecorderFactory
	UserAgent() string
	HasDeviceEnumeration() bool
	HasScreenCapture() bool
	HasRecording() bool
	Acquire(ctx context.Context, src Source, c Constraints) (Stream, error)
}

// View renders the session for the student. Implementations must not block.
type View interface {
	// ShowPreSession shows the pre-session container with the given offer.
	ShowPreSession(o Offer)
	// ShowMain shows the main container.
	ShowMain()
	// ShowScreen selects the visible region of the main container.
	ShowScreen(r Region)
	ShowChrome(visible bool)
	ShowCatalog(c Catalog)
	ShowFact(f Fact, ok bool)
	ShowNote(text string)
	ShowError(text string)
	ClearMessages()
	EnableConfirm(enabled bool)
	ShowSnapshot(jpeg []byte)
	LoadTool(document string)
}
