package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mathops/proctor/internal/domain"
)

var (
	// ErrUnrecognized is returned for frames with no known prefix.
	ErrUnrecognized = errors.New("unrecognized message")
	// ErrMalformed is returned when a frame's embedded JSON does not parse.
	ErrMalformed = errors.New("malformed message payload")
)

// Incoming frame prefixes, in match order. CONNECTED-SESSION must be tried
// before SESSION and CONNECTED-NO-SESSION before CONNECTED-SESSION.
const (
	PrefixConnectedNoSession = "CONNECTED-NO-SESSION"
	PrefixConnectedSession   = "CONNECTED-SESSION"
	PrefixTerminated         = "TERMINATED"
	PrefixSession            = "SESSION"
	PrefixError              = "ERROR"
	PrefixClosed             = "CLOSED"
)

var decoders = []struct {
	prefix string
	decode func(payload string) (domain.Message, error)
}{
	{PrefixConnectedNoSession, func(p string) (domain.Message, error) {
		c, err := decodeCatalog(p)
		return domain.ConnectedNoSession{Catalog: c}, err
	}},
	{PrefixConnectedSession, func(p string) (domain.Message, error) {
		s, err := decodeSession(p)
		return domain.ConnectedSession{Session: s}, err
	}},
	{PrefixTerminated, func(p string) (domain.Message, error) {
		c, err := decodeCatalog(p)
		return domain.Terminated{Catalog: c}, err
	}},
	{PrefixSession, func(p string) (domain.Message, error) {
		s, err := decodeSession(p)
		return domain.SessionUpdate{Session: s}, err
	}},
	{PrefixError, func(p string) (domain.Message, error) {
		return domain.ServerError{Text: strings.TrimSpace(p)}, nil
	}},
	{PrefixClosed, func(string) (domain.Message, error) {
		return domain.ServerClosed{}, nil
	}},
}

// Decode classifies a frame by its literal prefix and parses the JSON
// payload that follows it. The first matching prefix wins.
func Decode(text string) (domain.Message, error) {
	for _, d := range decoders {
		if strings.HasPrefix(text, d.prefix) {
			msg, err := d.decode(text[len(d.prefix):])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.prefix, err)
			}
			return msg, nil
		}
	}
	return nil, fmt.Errorf("%w: %.40q", ErrUnrecognized, text)
}

// Kind names a decoded message for logging and metrics.
func Kind(msg domain.Message) string {
	switch msg.(type) {
	case domain.ConnectedNoSession:
		return PrefixConnectedNoSession
	case domain.ConnectedSession:
		return PrefixConnectedSession
	case domain.Terminated:
		return PrefixTerminated
	case domain.SessionUpdate:
		return PrefixSession
	case domain.ServerError:
		return PrefixError
	case domain.ServerClosed:
		return PrefixClosed
	default:
		return "UNKNOWN"
	}
}

func decodeCatalog(payload string) (domain.Catalog, error) {
	var raw domain.Catalog
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return domain.Catalog{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// Groups without a title or without exams are not offered.
	var c domain.Catalog
	for _, g := range raw.Groups {
		if g.Title == "" || len(g.Exams) == 0 {
			continue
		}
		c.Groups = append(c.Groups, g)
	}
	return c, nil
}

func decodeSession(payload string) (domain.SessionInfo, error) {
	var s domain.SessionInfo
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return domain.SessionInfo{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}

// Outgoing commands.
const (
	PhotoConfirmed    = "P"
	IDConfirmed       = "I"
	BeginInstructions = "A"
	EnvironmentDone   = "E"
	Rejoin            = "R"
	Finished          = "F"
	Ping              = "."
)

// Hello attaches the channel to a login session.
func Hello(loginSessionID string) string {
	return "!" + loginSessionID
}

// SelectExam starts a new session for the exam.
func SelectExam(examID string) string {
	return "S" + examID
}

// Terminate ends the existing session for a login session.
func Terminate(loginSessionID string) string {
	return "X" + loginSessionID
}
