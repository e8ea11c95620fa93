package device

import (
	"bufio"
	"io"
	"strings"

	"github.com/mathops/proctor/internal/domain"
)

type encoder struct {
	name  string
	audio bool
}

// encoders maps container codec names to the ffmpeg encoders producing them.
var encoders = map[string]encoder{
	"vp8":  {name: "libvpx"},
	"vp9":  {name: "libvpx-vp9"},
	"h264": {name: "libx264"},
	"avc1": {name: "libx264"},
	"opus": {name: "libopus", audio: true},
}

// Encoders used for the platform default configuration.
const (
	defaultVideoEncoder = "libvpx"
	defaultAudioEncoder = "libopus"
)

// parseEncoders reads the output of ffmpeg -encoders and returns the set of
// encoder names it lists.
func parseEncoders(r io.Reader) map[string]bool {
	found := make(map[string]bool)
	listing := false

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !listing {
			// The legend ends with a dashed separator line.
			listing = strings.HasPrefix(line, "---")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		found[fields[1]] = true
	}
	return found
}

// plan is a codec resolved to ffmpeg encoders.
type plan struct {
	video    string
	audio    string
	format   string
	mimeType string
}

// resolve maps a codec configuration onto the available encoders. It
// reports false when the codec cannot be produced: an unknown codec name, a
// missing encoder, or anything other than one video codec with at most one
// audio codec.
func resolve(c domain.Codec, available map[string]bool) (plan, bool) {
	if c.IsDefault() {
		if !available[defaultVideoEncoder] {
			return plan{}, false
		}
		p := plan{video: defaultVideoEncoder, format: "webm", mimeType: c.MimeType()}
		if available[defaultAudioEncoder] {
			p.audio = defaultAudioEncoder
		}
		return p, true
	}
	if c.Container != "video/webm" {
		return plan{}, false
	}

	p := plan{format: "webm", mimeType: c.MimeType()}
	for _, name := range c.Codecs {
		enc, ok := encoders[name]
		if !ok || !available[enc.name] {
			return plan{}, false
		}
		switch {
		case enc.audio && p.audio == "":
			p.audio = enc.name
		case !enc.audio && p.video == "":
			p.video = enc.name
		default:
			return plan{}, false
		}
	}
	if p.video == "" {
		return plan{}, false
	}
	// The webm muxer only carries VP8/VP9; H.264 goes into plain Matroska.
	if p.video == "libx264" {
		p.format = "matroska"
	}
	return p, true
}
