package domain

// Message is a decoded control channel frame received from the server.
// The set of implementations is closed.
type Message interface {
	isMessage()
}

// SessionInfo is the payload of CONNECTED-SESSION and SESSION frames.
type SessionInfo struct {
	ProctoringSessionID string `json:"psid"`
	StudentID           string `json:"stuid"`
	CourseID            string `json:"courseid"`
	ExamID              string `json:"examid"`
	State               string `json:"state"`
}

// Valid reports whether the payload carries a complete session identity.
func (s SessionInfo) Valid() bool {
	return s.ProctoringSessionID != "" && s.StudentID != "" && s.State != ""
}

// Identity returns the session identity carried by the payload.
func (s SessionInfo) Identity() Identity {
	return Identity{
		ProctoringSessionID: s.ProctoringSessionID,
		StudentID:           s.StudentID,
		CourseID:            s.CourseID,
		ExamID:              s.ExamID,
	}
}

// ConnectedNoSession reports that the student has no active session.
type ConnectedNoSession struct {
	Catalog Catalog
}

// ConnectedSession reports an active session found on connect.
type ConnectedSession struct {
	Session SessionInfo
}

// Terminated reports that the session was terminated.
type Terminated struct {
	Catalog Catalog
}

// SessionUpdate is a phase update for the current session.
type SessionUpdate struct {
	Session SessionInfo
}

// ServerError reports a server-side error.
type ServerError struct {
	Text string
}

// ServerClosed reports that the server is closing the channel.
type ServerClosed struct{}

func (ConnectedNoSession) isMessage() {}
func (ConnectedSession) isMessage()   {}
func (Terminated) isMessage()         {}
func (SessionUpdate) isMessage()      {}
func (ServerError) isMessage()        {}
func (ServerClosed) isMessage()       {}
