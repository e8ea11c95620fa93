package domain

// Identity identifies the proctoring session assigned by the server.
type Identity struct {
	ProctoringSessionID string
	StudentID           string
	CourseID            string
	ExamID              string
}

// Phase is the stage of the proctored exam workflow.
type Phase int

const (
	PhaseNoSession Phase = iota
	PhasePickExam
	PhaseExistingSession
	PhaseCompatCheck
	PhaseAwaitingPhoto
	PhaseAwaitingID
	PhaseEnvironment
	PhaseInstructions
	PhaseAssessment
	PhaseFinished
)

var phaseNames = [...]string{
	"NO_SESSION",
	"PICK_EXAM",
	"EXISTING_SESSION",
	"COMPAT_CHECK",
	"AWAITING_PHOTO",
	"AWAITING_ID",
	"ENVIRONMENT",
	"INSTRUCTIONS",
	"ASSESSMENT",
	"FINISHED",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

// ParsePhase maps a server state name to a phase. The server's long names
// and the short names are both accepted; anything else is PhaseFinished.
func ParsePhase(state string) Phase {
	switch state {
	case "AWAITING_STUDENT_PHOTO", "AWAITING_PHOTO":
		return PhaseAwaitingPhoto
	case "AWAITING_STUDENT_ID", "AWAITING_ID":
		return PhaseAwaitingID
	case "ENVIRONMENT":
		return PhaseEnvironment
	case "SHOWING_INSTRUCTIONS", "INSTRUCTIONS":
		return PhaseInstructions
	case "ASSESSMENT":
		return PhaseAssessment
	default:
		return PhaseFinished
	}
}

// Region is the part of the main container that is visible.
type Region int

const (
	ScreenNone Region = iota
	ScreenPickExam
	ScreenCapturePhoto
	ScreenCaptureID
	ScreenEnvironment
	ScreenInstructions
	ScreenPlacement
	ScreenAssessment
	ScreenFinished
)

var screenNames = [...]string{
	"none",
	"pick-exam",
	"capture-photo",
	"capture-id",
	"environment",
	"instructions",
	"placement",
	"assessment",
	"finished",
}

func (r Region) String() string {
	if r < 0 || int(r) >= len(screenNames) {
		return "unknown"
	}
	return screenNames[r]
}

// Offer is what the pre-session container presents to the student.
type Offer int

const (
	OfferStartSharing Offer = iota
	OfferCompatCheck
	OfferChooseExam
	OfferExistingSession
)

func (o Offer) String() string {
	switch o {
	case OfferStartSharing:
		return "start-sharing"
	case OfferCompatCheck:
		return "compatibility"
	case OfferChooseExam:
		return "choose-exam"
	case OfferExistingSession:
		return "existing-session"
	default:
		return "unknown"
	}
}

// ExamChoice is one selectable exam in the catalog.
type ExamChoice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Note  string `json:"note,omitempty"`
}

// CatalogGroup is a titled group of exam choices.
type CatalogGroup struct {
	Title string       `json:"title"`
	Exams []ExamChoice `json:"exams"`
}

// Catalog is the ordered list of exams the student may take.
type Catalog struct {
	Groups []CatalogGroup `json:"categories"`
}

// Empty reports whether the catalog offers no exams.
func (c Catalog) Empty() bool {
	for _, g := range c.Groups {
		if len(g.Exams) > 0 {
			return false
		}
	}
	return true
}

// Lookup returns the exam with the given id.
func (c Catalog) Lookup(id string) (ExamChoice, bool) {
	for _, g := range c.Groups {
		for _, e := range g.Exams {
			if e.ID == id {
				return e, true
			}
		}
	}
	return ExamChoice{}, false
}
