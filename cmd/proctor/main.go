package main

import (
	"context"
	"fmt"
	"log"
	"net/http/cookiejar"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/mathops/proctor/internal/config"
	"github.com/mathops/proctor/internal/device"
	"github.com/mathops/proctor/internal/domain"
	"github.com/mathops/proctor/internal/media"
	"github.com/mathops/proctor/internal/metrics"
	"github.com/mathops/proctor/internal/probe"
	"github.com/mathops/proctor/internal/proctor"
	sigclient "github.com/mathops/proctor/internal/signal"
	"github.com/mathops/proctor/internal/tui"
	"github.com/mathops/proctor/internal/upload"

	tea "github.com/charmbracelet/bubbletea"
)

var version = "dev"

const helpText = `proctor - Proctored exam session client

Usage:
  proctor [options]

Records the webcam and the screen while a proctored exam is taken and
uploads the recordings to the proctoring service. Logs are written to
PROCTOR_LOG_FILE because the terminal is used for the session screens.

Environment Variables:
  PROCTOR_LSID            Login session id (required)
  PROCTOR_CONFIG          Optional TOML file with the keys below
  PROCTOR_CHANNEL_URL     Control channel websocket URL
  PROCTOR_UPLOAD_URL      Upload endpoint URL
  PROCTOR_TOOL_BASE_URL   Base URL of the placement and assessment tools
  PROCTOR_PLACEMENT_EXAM  Exam id that loads the placement tool (MPTRW)
  PROCTOR_FFMPEG          ffmpeg executable (ffmpeg)
  PROCTOR_WEBCAM_DEVICE   Webcam device node (/dev/video0)
  PROCTOR_AUDIO_DEVICE    PulseAudio source (default)
  PROCTOR_DISPLAY         X display to capture ($DISPLAY)
  PROCTOR_USER_AGENT      Reported client identification
  PROCTOR_METRICS_ADDR    Serve /metrics on this address when set
  PROCTOR_LOG_FILE        Log file (proctor.log)

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	logFile, err := tea.LogToFile(cfg.LogFile, "proctor")
	if err != nil {
		log.Fatalf("[main] open log file: %v", err)
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr)
	}

	// Step 1: Probe the host devices
	platform := device.NewPlatform(ctx, device.Options{
		FFmpeg:       cfg.FFmpeg,
		WebcamDevice: cfg.WebcamDevice,
		AudioDevice:  cfg.AudioDevice,
		Display:      cfg.Display,
		UserAgent:    cfg.UserAgent,
		Version:      version,
	})

	// Step 2: Uploads and the control channel share one cookie jar
	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("[main] cookie jar: %v", err)
	}

	var session *proctor.Session
	gateway := upload.NewGateway(cfg.UploadURL, jar, func() *domain.Identity {
		return session.Identity()
	})

	// Step 3: Create the media pipeline and the session view
	pipeline := media.NewPipeline(platform, gateway)
	view := tui.NewView()

	// Step 4: Create the session (implements domain.Handler and probe.Listener)
	session = proctor.New(cfg.LSID, view, pipeline, gateway)
	session.SetPlacementExam(cfg.PlacementExam)
	pipeline.OnEnded(session.TrackEnded)

	// Step 5: Create the control channel with the session as handler
	client := sigclient.NewClient(cfg.ChannelURL, cfg.LSID, session, jar)

	// Step 6: Complete the circular dependencies
	session.SetChannel(client)
	session.SetProber(probe.New(platform, client, pipeline, session))

	// Step 7: Run the session loop on its own context so shutdown can
	// still stop the recorders after ctx is cancelled
	sessionCtx, stopSession := context.WithCancel(context.Background())
	defer stopSession()
	go session.Run(sessionCtx)

	// Step 8: Connect the control channel (hello, then session state)
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("[main] channel connect: %v", err)
	}

	// Step 9: Run the terminal view until the student quits or a signal arrives
	program := tea.NewProgram(tui.New(session, cfg.ToolBaseURL), tea.WithAltScreen(), tea.WithContext(ctx))
	go view.Forward(ctx, program)
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		log.Printf("[main] view: %v", err)
	}
	log.Printf("[main] shutting down")

	session.Shutdown()
	gateway.Wait()
	client.Close()
	stopSession()

	log.Printf("[main] done")
}
