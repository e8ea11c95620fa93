package tui

import (
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/mathops/proctor/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
)

// Actions are the student actions the keys drive.
type Actions interface {
	StartSharing()
	OpenExamList()
	SelectExam(id string)
	TerminateExisting()
	RejoinExisting()
	TakeSnapshot()
	ConfirmPhoto()
	ConfirmID()
	BeginAssessment()
	EnvironmentDone()
	Finish()
	ExamEnded()
}

type message struct {
	text string
	err  bool
}

// Model is the bubbletea model of the session screens.
type Model struct {
	actions  Actions
	toolBase *url.URL

	offer  domain.Offer
	main   bool
	screen domain.Region
	chrome bool

	exams  []domain.ExamChoice
	groups []domain.CatalogGroup
	cursor int

	facts    domain.CapabilityStatus
	messages []message
	confirm  bool
	snapshot int
	tool     string
}

// New returns a model showing the start-sharing offer. Tool documents are
// resolved against toolBase.
func New(actions Actions, toolBase string) Model {
	base, err := url.Parse(toolBase)
	if err != nil {
		log.Printf("[tui] tool base %q: %v", toolBase, err)
		base = &url.URL{}
	}
	return Model{actions: actions, toolBase: base, chrome: true}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case preSessionMsg:
		if msg.offer == domain.OfferCompatCheck {
			m.facts = domain.CapabilityStatus{}
		}
		m.offer = msg.offer
		m.main = false
	case mainMsg:
		m.main = true
	case screenMsg:
		m.screen = msg.screen
		if m.screen == domain.ScreenCapturePhoto || m.screen == domain.ScreenCaptureID {
			m.snapshot = 0
		}
	case chromeMsg:
		m.chrome = msg.visible
	case catalogMsg:
		m.setCatalog(msg.catalog)
		m.cursor = 0
	case factMsg:
		m.facts.Set(msg.fact, msg.ok)
	case noteMsg:
		m.messages = append(m.messages, message{text: msg.text})
	case errorMsg:
		m.messages = append(m.messages, message{text: msg.text, err: true})
	case clearMsg:
		m.messages = nil
	case confirmMsg:
		m.confirm = msg.enabled
	case snapshotMsg:
		m.snapshot = msg.size
	case toolMsg:
		m.tool = m.resolve(msg.document)
	case stateMsg:
		m.restore(msg.state)
	}
	return m, nil
}

func (m *Model) setCatalog(c domain.Catalog) {
	m.groups = c.Groups
	m.exams = nil
	for _, g := range m.groups {
		m.exams = append(m.exams, g.Exams...)
	}
}

// restore applies a state snapshot. Facts and the snapshot status are only
// reset when the offer or the screen actually changed.
func (m *Model) restore(s viewState) {
	if s.offer != m.offer && s.offer == domain.OfferCompatCheck {
		m.facts = domain.CapabilityStatus{}
	}
	if s.screen != m.screen {
		m.snapshot = 0
	}
	m.offer, m.main, m.screen = s.offer, s.main, s.screen
	m.chrome, m.confirm = s.chrome, s.confirm

	m.setCatalog(s.catalog)
	if m.cursor >= len(m.exams) {
		m.cursor = 0
	}

	m.tool = ""
	if s.tool != "" {
		m.tool = m.resolve(s.tool)
	}
}

func (m Model) resolve(document string) string {
	ref, err := url.Parse(document)
	if err != nil {
		return document
	}
	return m.toolBase.ResolveReference(ref).String()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "q" {
		return m, tea.Quit
	}

	if !m.main {
		switch {
		case m.offer == domain.OfferStartSharing && key == "enter",
			m.offer == domain.OfferCompatCheck && key == "s":
			m.actions.StartSharing()
		case m.offer == domain.OfferChooseExam && key == "enter":
			m.actions.OpenExamList()
		case m.offer == domain.OfferExistingSession && key == "r":
			m.actions.RejoinExisting()
		case m.offer == domain.OfferExistingSession && key == "t":
			m.actions.TerminateExisting()
		}
		return m, nil
	}

	switch m.screen {
	case domain.ScreenPickExam:
		switch key {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.exams)-1 {
				m.cursor++
			}
		case "enter":
			if m.cursor < len(m.exams) {
				m.actions.SelectExam(m.exams[m.cursor].ID)
			}
		}
	case domain.ScreenCapturePhoto, domain.ScreenCaptureID:
		switch key {
		case "c":
			m.actions.TakeSnapshot()
		case "enter":
			if !m.confirm {
				break
			}
			if m.screen == domain.ScreenCapturePhoto {
				m.actions.ConfirmPhoto()
			} else {
				m.actions.ConfirmID()
			}
		}
	case domain.ScreenEnvironment:
		if key == "d" {
			m.actions.EnvironmentDone()
		}
	case domain.ScreenInstructions:
		if key == "a" {
			m.actions.BeginAssessment()
		}
	case domain.ScreenPlacement, domain.ScreenAssessment:
		if key == "e" {
			m.actions.ExamEnded()
		}
	}
	if key == "F" && m.screen != domain.ScreenFinished {
		m.actions.Finish()
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	if m.chrome {
		b.WriteString(titleStyle.Render("MathOps proctored exam"))
		b.WriteString("\n\n")
	}

	var hints []string
	if !m.main {
		hints = m.renderOffer(&b)
	} else {
		hints = m.renderScreen(&b)
	}

	if len(m.messages) > 0 {
		b.WriteString("\n")
		for _, msg := range m.messages {
			style := noteStyle
			if msg.err {
				style = failStyle
			}
			b.WriteString(style.Render(msg.text))
			b.WriteString("\n")
		}
	}

	hints = append(hints, "q quit")
	b.WriteString("\n")
	b.WriteString(hintStyle.Render(strings.Join(hints, "  ")))
	return panelStyle.Render(b.String())
}

func (m Model) renderOffer(b *strings.Builder) []string {
	switch m.offer {
	case domain.OfferStartSharing:
		b.WriteString(textStyle.Render("Share your webcam and screen to begin."))
		b.WriteString("\n")
		return []string{"enter start sharing"}
	case domain.OfferCompatCheck:
		b.WriteString(headingStyle.Render("Checking your system"))
		b.WriteString("\n")
		for _, f := range domain.Facts {
			b.WriteString(m.renderFact(f))
			b.WriteString("\n")
		}
		return []string{"s retry"}
	case domain.OfferChooseExam:
		b.WriteString(passStyle.Render("Your system is ready."))
		b.WriteString("\n")
		return []string{"enter choose an exam"}
	case domain.OfferExistingSession:
		b.WriteString(textStyle.Render("You have an exam session in progress."))
		b.WriteString("\n")
		return []string{"r rejoin", "t terminate"}
	}
	return nil
}

func (m Model) renderFact(f domain.Fact) string {
	switch {
	case m.facts.Known&f == 0:
		return pendingStyle.Render("… " + f.String())
	case m.facts.Passed&f != 0:
		return passStyle.Render("✓ " + f.String())
	default:
		return failStyle.Render("✗ " + f.String())
	}
}

func (m Model) renderScreen(b *strings.Builder) []string {
	line := func(s string) {
		b.WriteString(textStyle.Render(s))
		b.WriteString("\n")
	}

	switch m.screen {
	case domain.ScreenPickExam:
		if len(m.exams) == 0 {
			line("No exams are available.")
			return nil
		}
		i := 0
		for _, g := range m.groups {
			b.WriteString(headingStyle.Render(g.Title))
			b.WriteString("\n")
			for _, e := range g.Exams {
				label := "  " + e.Label
				if e.Note != "" {
					label += " (" + e.Note + ")"
				}
				if i == m.cursor {
					b.WriteString(cursorStyle.Render("> " + label[2:]))
				} else {
					b.WriteString(textStyle.Render(label))
				}
				b.WriteString("\n")
				i++
			}
		}
		return []string{"j/k move", "enter select"}
	case domain.ScreenCapturePhoto, domain.ScreenCaptureID:
		if m.screen == domain.ScreenCapturePhoto {
			line("Look into the webcam and take a photo of yourself.")
		} else {
			line("Hold your student ID card up to the webcam and take a photo.")
		}
		if m.snapshot > 0 {
			b.WriteString(noteStyle.Render(fmt.Sprintf("Snapshot captured (%d bytes).", m.snapshot)))
			b.WriteString("\n")
		}
		hints := []string{"c capture"}
		if m.confirm {
			hints = append(hints, "enter confirm")
		}
		return hints
	case domain.ScreenEnvironment:
		line("Slowly show the room around you to the webcam.")
		return []string{"d done"}
	case domain.ScreenInstructions:
		line("Read the exam instructions provided by your proctor.")
		return []string{"a begin"}
	case domain.ScreenPlacement, domain.ScreenAssessment:
		line("Open your exam: " + m.tool)
		return []string{"e exam finished", "F end session"}
	case domain.ScreenFinished:
		line("Your session has ended. You may close this window.")
	}
	return nil
}
