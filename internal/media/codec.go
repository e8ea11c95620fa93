package media

import (
	"strings"

	"github.com/mathops/proctor/internal/domain"

	pion "github.com/pion/webrtc/v4"
)

const webm = "video/webm"

var (
	vp8  = codecName(pion.MimeTypeVP8)
	vp9  = codecName(pion.MimeTypeVP9)
	h264 = codecName(pion.MimeTypeH264)
	opus = codecName(pion.MimeTypeOpus)
	avc1 = "avc1"
)

// codecName turns an RTP MIME type such as video/VP8 into the name used in
// a container codecs parameter.
func codecName(mimeType string) string {
	if i := strings.IndexByte(mimeType, '/'); i >= 0 {
		mimeType = mimeType[i+1:]
	}
	return strings.ToLower(mimeType)
}

// Candidates is the recorder configuration preference list, most preferred first.
var Candidates = []domain.Codec{
	{Container: webm, Codecs: []string{vp8, vp9, opus}},
	{Container: webm, Codecs: []string{vp8, opus}},
	{Container: webm, Codecs: []string{vp9, opus}},
	{Container: webm, Codecs: []string{h264, opus}},
	{Container: webm, Codecs: []string{h264, vp9, opus}},
	{Container: webm, Codecs: []string{h264}},
	{Container: webm, Codecs: []string{vp8}},
	{Container: webm, Codecs: []string{vp9}},
	{Container: webm, Codecs: []string{avc1}},
}

// Negotiate returns the first candidate the factory supports, or the zero
// Codec (platform default) if none is.
func Negotiate(f domain.RecorderFactory) domain.Codec {
	for _, c := range Candidates {
		if f.Supports(c) {
			return c
		}
	}
	return domain.Codec{}
}
