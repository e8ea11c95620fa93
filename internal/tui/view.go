package tui

import (
	"context"
	"log"
	"sync"

	"github.com/mathops/proctor/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
)

type factMsg struct {
	fact domain.Fact
	ok   bool
}

type (
	preSessionMsg struct{ offer domain.Offer }
	mainMsg       struct{}
	screenMsg     struct{ screen domain.Region }
	chromeMsg     struct{ visible bool }
	catalogMsg    struct{ catalog domain.Catalog }
	noteMsg       struct{ text string }
	errorMsg      struct{ text string }
	clearMsg      struct{}
	confirmMsg    struct{ enabled bool }
	snapshotMsg   struct{ size int }
	toolMsg       struct{ document string }
)

// stateMsg carries the latest container state after queued messages were
// dropped.
type stateMsg struct{ state viewState }

type viewState struct {
	offer   domain.Offer
	main    bool
	screen  domain.Region
	chrome  bool
	catalog domain.Catalog
	confirm bool
	tool    string
}

// Sender delivers messages to a running program.
type Sender interface {
	Send(msg tea.Msg)
}

// View implements domain.View by queueing messages for the program.
// Calls never wait for the program to draw. When the queue is full, note
// and error messages are dropped and container state is sent as one
// snapshot once the program catches up.
type View struct {
	msgs  chan tea.Msg
	stale chan struct{}

	mu    sync.Mutex
	state viewState
}

func NewView() *View {
	return &View{
		msgs:  make(chan tea.Msg, 256),
		stale: make(chan struct{}, 1),
		state: viewState{chrome: true},
	}
}

// Forward delivers queued messages to the program until ctx is done.
func (v *View) Forward(ctx context.Context, p Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-v.msgs:
			p.Send(msg)
		case <-v.stale:
			v.drain(p)
			v.mu.Lock()
			state := v.state
			v.mu.Unlock()
			p.Send(stateMsg{state})
		}
	}
}

// drain sends the messages queued before the snapshot.
func (v *View) drain(p Sender) {
	for {
		select {
		case msg := <-v.msgs:
			p.Send(msg)
		default:
			return
		}
	}
}

func (v *View) post(msg tea.Msg) {
	select {
	case v.msgs <- msg:
	default:
		log.Printf("[tui] queue full, dropped %T", msg)
	}
}

// update records a state change and queues msg for it, falling back to a
// snapshot when the queue is full.
func (v *View) update(msg tea.Msg, apply func(*viewState)) {
	v.mu.Lock()
	apply(&v.state)
	v.mu.Unlock()

	select {
	case v.msgs <- msg:
	default:
		select {
		case v.stale <- struct{}{}:
		default:
		}
	}
}

func (v *View) ShowPreSession(o domain.Offer) {
	v.update(preSessionMsg{o}, func(s *viewState) { s.offer, s.main = o, false })
}

func (v *View) ShowMain() {
	v.update(mainMsg{}, func(s *viewState) { s.main = true })
}

func (v *View) ShowScreen(r domain.Region) {
	v.update(screenMsg{r}, func(s *viewState) { s.screen = r })
}

func (v *View) ShowChrome(visible bool) {
	v.update(chromeMsg{visible}, func(s *viewState) { s.chrome = visible })
}

func (v *View) ShowCatalog(c domain.Catalog) {
	v.update(catalogMsg{c}, func(s *viewState) { s.catalog = c })
}

func (v *View) EnableConfirm(enabled bool) {
	v.update(confirmMsg{enabled}, func(s *viewState) { s.confirm = enabled })
}

func (v *View) LoadTool(document string) {
	v.update(toolMsg{document}, func(s *viewState) { s.tool = document })
}

func (v *View) ShowFact(f domain.Fact, ok bool) { v.post(factMsg{f, ok}) }
func (v *View) ShowNote(text string)            { v.post(noteMsg{text}) }
func (v *View) ShowError(text string)           { v.post(errorMsg{text}) }
func (v *View) ClearMessages()                  { v.post(clearMsg{}) }
func (v *View) ShowSnapshot(jpeg []byte)        { v.post(snapshotMsg{len(jpeg)}) }
