package domain

import "strings"

// Source is a media capture source.
type Source int

const (
	Webcam Source = iota
	Screen
)

// Sources lists every capture source in pipeline order.
var Sources = [...]Source{Webcam, Screen}

func (s Source) String() string {
	switch s {
	case Webcam:
		return "webcam"
	case Screen:
		return "screen"
	default:
		return "unknown"
	}
}

// Constraints is the acquisition profile for a source.
type Constraints struct {
	Width     int
	Height    int
	FrameRate int
	Audio     bool
}

// Codec is a recorder configuration: a container and its codecs parameter.
// The zero value selects the platform default.
type Codec struct {
	Container string
	Codecs    []string
}

// IsDefault reports whether c selects the platform default.
func (c Codec) IsDefault() bool {
	return c.Container == ""
}

// MimeType renders the codec as a media type, e.g. video/webm;codecs=vp8,opus.
func (c Codec) MimeType() string {
	if c.IsDefault() {
		return "video/webm"
	}
	if len(c.Codecs) == 0 {
		return c.Container
	}
	return c.Container + ";codecs=" + strings.Join(c.Codecs, ",")
}

// Has reports whether the codecs parameter names codec.
func (c Codec) Has(codec string) bool {
	for _, v := range c.Codecs {
		if v == codec {
			return true
		}
	}
	return false
}

func (c Codec) String() string {
	if c.IsDefault() {
		return "default"
	}
	return c.MimeType()
}

// RecorderState mirrors the lifecycle of a recorder.
type RecorderState int

const (
	RecorderIdle RecorderState = iota
	RecorderRecording
	RecorderStopped
)

func (s RecorderState) String() string {
	switch s {
	case RecorderIdle:
		return "idle"
	case RecorderRecording:
		return "recording"
	case RecorderStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
