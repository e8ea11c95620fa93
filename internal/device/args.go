package device

import (
	"fmt"
	"strconv"

	"github.com/mathops/proctor/internal/domain"
)

// stillsFD is the descriptor the webcam recorder writes its 1fps MJPEG
// still stream to. It is the first of cmd.ExtraFiles.
const stillsFD = 3

func baseArgs() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
}

// inputArgs returns the ffmpeg input options for a source.
func inputArgs(src domain.Source, c domain.Constraints, opts Options) []string {
	fps := strconv.Itoa(c.FrameRate)

	if src == domain.Screen {
		return []string{"-f", "x11grab", "-framerate", fps, "-i", opts.Display}
	}

	args := []string{
		"-f", "v4l2",
		"-framerate", fps,
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-i", opts.WebcamDevice,
	}
	if c.Audio {
		args = append(args, "-f", "pulse", "-i", opts.AudioDevice)
	}
	return args
}

// videoFilter scales screen captures down to the requested profile. Webcam
// frames are already captured at size.
func videoFilter(src domain.Source, c domain.Constraints) []string {
	if src != domain.Screen || c.Width <= 0 || c.Height <= 0 {
		return nil
	}
	return []string{"-vf", fmt.Sprintf("scale=%d:%d", c.Width, c.Height)}
}

func encoderArgs(enc string) []string {
	switch enc {
	case "libvpx", "libvpx-vp9":
		return []string{"-c:v", enc, "-deadline", "realtime", "-cpu-used", "8", "-b:v", "500k"}
	case "libx264":
		return []string{"-c:v", enc, "-preset", "ultrafast", "-tune", "zerolatency"}
	default:
		return []string{"-c:v", enc}
	}
}

// recordArgs builds the command line of a recording process. The container
// stream goes to stdout; with stills set, a 1fps MJPEG stream of the same
// input goes to stillsFD.
func recordArgs(src domain.Source, c domain.Constraints, p plan, opts Options, stills bool) []string {
	args := append(baseArgs(), inputArgs(src, c, opts)...)

	args = append(args, "-map", "0:v")
	args = append(args, videoFilter(src, c)...)
	args = append(args, encoderArgs(p.video)...)
	if c.Audio && src == domain.Webcam && p.audio != "" {
		args = append(args, "-map", "1:a", "-c:a", p.audio)
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-f", p.format, "pipe:1")

	if stills {
		args = append(args,
			"-map", "0:v", "-an",
			"-r", "1",
			"-c:v", "mjpeg",
			"-f", "mjpeg", "pipe:"+strconv.Itoa(stillsFD),
		)
	}
	return args
}

// grabArgs builds the command line that captures one JPEG frame to stdout.
func grabArgs(src domain.Source, c domain.Constraints, opts Options) []string {
	video := c
	video.Audio = false

	args := append(baseArgs(), inputArgs(src, video, opts)...)
	args = append(args, videoFilter(src, c)...)
	return append(args, "-frames:v", "1", "-c:v", "mjpeg", "-f", "mjpeg", "pipe:1")
}
