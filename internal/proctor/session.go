package proctor

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/mathops/proctor/internal/domain"
	"github.com/mathops/proctor/internal/metrics"
	"github.com/mathops/proctor/internal/signal"
	"github.com/mathops/proctor/internal/upload"
)

// Documents loaded into the tool frame on entering the assessment phase.
const (
	PlacementTool  = "placement.html"
	AssessmentTool = "exam.html"
)

// PlacementExam is the default exam id served by the placement tool.
const PlacementExam = "MPTRW"

// Pipeline is the slice of the media pipeline the session drives.
type Pipeline interface {
	StartAll() bool
	Stop(src domain.Source)
	Release()
	Snapshot(src domain.Source) ([]byte, error)
}

// Prober runs a capability probing round.
type Prober interface {
	Run(ctx context.Context)
}

// Uploader accepts artifacts for upload.
type Uploader interface {
	Send(item upload.Item)
}

// Session drives the student through the exam phases. Every mutation runs
// on the goroutine executing Run; channel, prober and pipeline callbacks and
// user actions are posted to it.
// It implements domain.Handler and probe.Listener.
type Session struct {
	lsid          string
	placementExam string

	view     domain.View
	pipeline Pipeline
	uploader Uploader
	channel  domain.Channel
	prober   Prober

	identity atomic.Pointer[domain.Identity]
	events   chan func()
	done     chan struct{}

	// Owned by the Run goroutine.
	ctx      context.Context
	phase    domain.Phase
	screen   domain.Region
	offer    domain.Offer
	main     bool
	catalog  domain.Catalog
	snapshot []byte
	confirm  bool
}

// New creates a Session for the login session lsid. Call SetChannel and
// SetProber before Run to complete the circular dependencies (the channel
// and the prober both report back to the session).
func New(lsid string, view domain.View, pipeline Pipeline, uploader Uploader) *Session {
	return &Session{
		lsid:          lsid,
		placementExam: PlacementExam,
		view:          view,
		pipeline:      pipeline,
		uploader:      uploader,
		events:        make(chan func(), 64),
		done:          make(chan struct{}),
		ctx:           context.Background(),
	}
}

// SetChannel injects the control channel.
func (s *Session) SetChannel(c domain.Channel) {
	s.channel = c
}

// SetProber injects the capability prober.
func (s *Session) SetProber(p Prober) {
	s.prober = p
}

// SetPlacementExam overrides the exam id that loads the placement tool.
func (s *Session) SetPlacementExam(id string) {
	if id != "" {
		s.placementExam = id
	}
}

// Identity returns the current session identity, or nil when there is none.
// It is safe to call from any goroutine.
func (s *Session) Identity() *domain.Identity {
	return s.identity.Load()
}

// Run processes posted events until ctx is done.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	defer close(s.done)

	s.showPreSession(domain.OfferStartSharing)

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.events:
			fn()
		}
	}
}

func (s *Session) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call posts fn and waits for it to run.
func (s *Session) call(fn func()) {
	ran := make(chan struct{})
	if !s.post(func() { fn(); close(ran) }) {
		return
	}
	select {
	case <-ran:
	case <-s.done:
	}
}

// Phase returns the current phase.
func (s *Session) Phase() domain.Phase {
	var p domain.Phase
	s.call(func() { p = s.phase })
	return p
}

// Screen returns the visible region of the main container.
func (s *Session) Screen() domain.Region {
	var sc domain.Region
	s.call(func() { sc = s.screen })
	return sc
}

// Offer returns the offer of the pre-session container and whether the
// main container is shown instead.
func (s *Session) Offer() (domain.Offer, bool) {
	var o domain.Offer
	var main bool
	s.call(func() { o, main = s.offer, s.main })
	return o, main
}

// Control channel events.

func (s *Session) OnOpen() {
	s.post(func() { log.Printf("[proctor] control channel open") })
}

func (s *Session) OnMessage(msg domain.Message) {
	s.post(func() { s.dispatch(msg) })
}

func (s *Session) OnClose(code int, reason string) {
	s.post(func() {
		log.Printf("[proctor] control channel closed: %d %s", code, reason)
		s.clearIdentity()
	})
}

func (s *Session) dispatch(msg domain.Message) {
	switch m := msg.(type) {
	case domain.ConnectedNoSession:
		s.clearIdentity()
		s.setCatalog(m.Catalog)
		s.setPhase(domain.PhaseNoSession)
		s.hideAll()
		s.showPreSession(domain.OfferStartSharing)

	case domain.Terminated:
		s.clearIdentity()
		s.setCatalog(m.Catalog)
		s.setPhase(domain.PhasePickExam)
		s.showScreen(domain.ScreenPickExam)
		s.showMain()

	case domain.ConnectedSession:
		log.Printf("[proctor] connected with session %s", m.Session.ProctoringSessionID)
		s.showPreSession(domain.OfferStartSharing)
		if !m.Session.Valid() {
			log.Printf("[proctor] invalid session payload: %+v", m.Session)
			return
		}
		s.enterSession(m.Session)

	case domain.SessionUpdate:
		if !m.Session.Valid() {
			log.Printf("[proctor] invalid session payload: %+v", m.Session)
			return
		}
		s.enterSession(m.Session)
		s.showMain()

	case domain.ServerError:
		log.Printf("[proctor] server error: %s", m.Text)
		s.clearIdentity()

	case domain.ServerClosed:
		log.Printf("[proctor] server closed the channel")
		s.clearIdentity()
	}
}

func (s *Session) enterSession(info domain.SessionInfo) {
	id := info.Identity()
	s.identity.Store(&id)
	s.enterPhase(domain.ParsePhase(info.State))
}

func (s *Session) enterPhase(p domain.Phase) {
	if p == domain.PhaseFinished {
		s.finish()
		return
	}

	s.setPhase(p)
	switch p {
	case domain.PhaseAwaitingPhoto:
		if id := s.identity.Load(); id != nil {
			s.uploader.Send(upload.Metadata(*id))
		}
		s.showScreen(domain.ScreenCapturePhoto)
		s.resetConfirm()
	case domain.PhaseAwaitingID:
		s.showScreen(domain.ScreenCaptureID)
		s.resetConfirm()
	case domain.PhaseEnvironment:
		s.showScreen(domain.ScreenEnvironment)
	case domain.PhaseInstructions:
		s.showScreen(domain.ScreenInstructions)
	case domain.PhaseAssessment:
		if id := s.identity.Load(); id != nil && id.ExamID == s.placementExam {
			s.showScreen(domain.ScreenPlacement)
			s.view.LoadTool(PlacementTool)
		} else {
			s.showScreen(domain.ScreenAssessment)
			s.view.LoadTool(AssessmentTool)
		}
	}
	s.startCapture()
}

func (s *Session) startCapture() {
	if s.pipeline.StartAll() {
		s.uploadEvent(upload.EventStartStreaming)
	}
}

// finish ends the session: the server is told, both recorders stop and
// both streams are released.
func (s *Session) finish() {
	s.send(signal.Finished)
	s.setPhase(domain.PhaseFinished)
	s.showScreen(domain.ScreenFinished)
	s.pipeline.Release()
}

// Capability prober results.

func (s *Session) OnFact(f domain.Fact, ok bool) {
	s.post(func() { s.view.ShowFact(f, ok) })
}

func (s *Session) OnNote(text string) {
	s.post(func() { s.view.ShowNote(text) })
}

func (s *Session) OnError(text string) {
	s.post(func() { s.view.ShowError(text) })
}

// OnCompatible moves on from a passed compatibility check. It is ignored
// once the student has left the check, by a stopped track or a session
// update that arrived while the checks ran.
func (s *Session) OnCompatible() {
	s.post(func() {
		if s.phase != domain.PhaseCompatCheck || s.main || s.offer != domain.OfferCompatCheck {
			log.Printf("[proctor] compatibility result ignored in phase %s", s.phase)
			return
		}
		if s.identity.Load() == nil {
			log.Printf("[proctor] system is compatible, no session")
			s.setPhase(domain.PhasePickExam)
			s.showPreSession(domain.OfferChooseExam)
			return
		}
		log.Printf("[proctor] system is compatible, existing session")
		s.setPhase(domain.PhaseExistingSession)
		s.showPreSession(domain.OfferExistingSession)
	})
}

// TrackEnded handles a source whose track ended on its own. The pipeline
// has already stopped the recorder; the student is sent back to the
// pre-session screen to share again.
func (s *Session) TrackEnded(src domain.Source) {
	s.post(func() {
		log.Printf("[proctor] %s stopped", src)
		s.hideAll()
		s.showPreSession(domain.OfferStartSharing)
	})
}

// User actions.

// StartSharing runs the capability checks. The round runs off the loop
// since it reports back through posted events.
func (s *Session) StartSharing() {
	s.post(func() {
		s.view.ClearMessages()
		s.setPhase(domain.PhaseCompatCheck)
		s.showPreSession(domain.OfferCompatCheck)
		if s.prober != nil {
			go s.prober.Run(s.ctx)
		}
	})
}

// OpenExamList shows the exam selection screen.
func (s *Session) OpenExamList() {
	s.post(func() {
		s.setPhase(domain.PhasePickExam)
		s.showScreen(domain.ScreenPickExam)
		s.showMain()
	})
}

// SelectExam asks the server to start a session for the exam id.
func (s *Session) SelectExam(id string) {
	s.post(func() {
		if _, ok := s.catalog.Lookup(id); !ok {
			log.Printf("[proctor] unknown exam %q ignored", id)
			return
		}
		log.Printf("[proctor] selected exam %s", id)
		s.send(signal.SelectExam(id))
	})
}

// TerminateExisting asks the server to terminate the existing session.
func (s *Session) TerminateExisting() {
	s.post(func() { s.send(signal.Terminate(s.lsid)) })
}

// RejoinExisting asks the server to resume the existing session.
func (s *Session) RejoinExisting() {
	s.post(func() { s.send(signal.Rejoin) })
}

// TakeSnapshot captures a webcam still for the photo or ID screen and
// enables its confirm action.
func (s *Session) TakeSnapshot() {
	s.post(func() {
		if s.screen != domain.ScreenCapturePhoto && s.screen != domain.ScreenCaptureID {
			return
		}
		jpeg, err := s.pipeline.Snapshot(domain.Webcam)
		if err != nil {
			log.Printf("[proctor] snapshot: %v", err)
			s.view.ShowError("Unable to capture an image from the webcam.")
			return
		}
		s.snapshot = jpeg
		s.view.ShowSnapshot(jpeg)
		s.setConfirm(true)
	})
}

// ConfirmPhoto submits the photo snapshot. It does nothing unless a
// snapshot was taken since the confirm action was last used.
func (s *Session) ConfirmPhoto() {
	s.post(func() {
		if s.screen != domain.ScreenCapturePhoto || !s.confirm {
			return
		}
		s.setConfirm(false)
		s.uploader.Send(upload.Photo(s.snapshot))
		s.send(signal.PhotoConfirmed)
	})
}

// ConfirmID submits the ID card snapshot, under the same rule as ConfirmPhoto.
func (s *Session) ConfirmID() {
	s.post(func() {
		if s.screen != domain.ScreenCaptureID || !s.confirm {
			return
		}
		s.setConfirm(false)
		s.uploader.Send(upload.IDImage(s.snapshot))
		s.send(signal.IDConfirmed)
	})
}

// BeginAssessment acknowledges the instructions.
func (s *Session) BeginAssessment() {
	s.post(func() { s.send(signal.BeginInstructions) })
}

// EnvironmentDone reports the environment scan complete.
func (s *Session) EnvironmentDone() {
	s.post(func() { s.send(signal.EnvironmentDone) })
}

// Finish ends the session on the student's request.
func (s *Session) Finish() {
	s.post(s.finish)
}

// ExamEnded handles the completion signal of the assessment tool.
func (s *Session) ExamEnded() {
	s.post(func() {
		s.finish()
		if s.channel != nil && s.channel.Open() {
			s.uploadEvent(upload.EventExamEnded)
		}
	})
}

// Shutdown stops both recorders and reports the client closing. It waits
// for the session loop to process it.
func (s *Session) Shutdown() {
	s.call(func() {
		for _, src := range domain.Sources {
			s.pipeline.Stop(src)
		}
		if s.channel != nil && s.channel.Open() {
			s.uploadEvent(upload.EventPageClosed)
		}
	})
}

func (s *Session) send(text string) {
	if s.channel == nil {
		log.Printf("[proctor] no control channel, dropping %q", text)
		return
	}
	s.channel.Send(text)
}

func (s *Session) uploadEvent(name string) {
	item := upload.Event(name)
	item.Terminal = s.phase == domain.PhaseFinished
	s.uploader.Send(item)
}

func (s *Session) clearIdentity() {
	s.identity.Store(nil)
}

func (s *Session) setCatalog(c domain.Catalog) {
	s.catalog = c
	s.view.ShowCatalog(c)
}

func (s *Session) setPhase(p domain.Phase) {
	if p == s.phase {
		return
	}
	log.Printf("[proctor] phase %s -> %s", s.phase, p)
	s.phase = p
	metrics.PhaseEntered(p.String())
}

func (s *Session) resetConfirm() {
	s.snapshot = nil
	s.setConfirm(false)
}

func (s *Session) setConfirm(enabled bool) {
	s.confirm = enabled
	s.view.EnableConfirm(enabled)
}

// hideAll clears the main container region and restores the chrome.
func (s *Session) hideAll() {
	s.showScreen(domain.ScreenNone)
}

func (s *Session) showScreen(sc domain.Region) {
	s.screen = sc
	s.view.ShowChrome(sc != domain.ScreenPlacement && sc != domain.ScreenAssessment)
	s.view.ShowScreen(sc)
}

func (s *Session) showPreSession(o domain.Offer) {
	s.offer = o
	s.main = false
	s.view.ShowPreSession(o)
}

func (s *Session) showMain() {
	s.main = true
	s.view.ShowMain()
}
