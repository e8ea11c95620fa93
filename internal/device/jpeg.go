package device

import "bytes"

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// JPEGSplitter extracts complete JPEG images from an MJPEG byte stream.
// It keeps a partial image across calls, so reads may split frames at any
// byte.
type JPEGSplitter struct {
	buf []byte
}

// NewJPEGSplitter creates a splitter with an empty buffer.
func NewJPEGSplitter() *JPEGSplitter {
	return &JPEGSplitter{}
}

// Split appends data to the buffer and returns every image completed by it.
func (s *JPEGSplitter) Split(data []byte) [][]byte {
	s.buf = append(s.buf, data...)

	var frames [][]byte
	for {
		start := bytes.Index(s.buf, soi)
		if start < 0 {
			// A trailing 0xFF may be the first half of a start marker.
			if n := len(s.buf); n > 0 && s.buf[n-1] == 0xFF {
				s.buf = append(s.buf[:0], 0xFF)
			} else {
				s.buf = s.buf[:0]
			}
			return frames
		}

		end := bytes.Index(s.buf[start+len(soi):], eoi)
		if end < 0 {
			s.buf = append(s.buf[:0], s.buf[start:]...)
			return frames
		}

		stop := start + len(soi) + end + len(eoi)
		frame := make([]byte, stop-start)
		copy(frame, s.buf[start:stop])
		frames = append(frames, frame)
		s.buf = s.buf[stop:]
	}
}
