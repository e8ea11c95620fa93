package domain

// Fact is one independently checked precondition for a proctored session.
type Fact uint8

const (
	FactDeviceEnumeration Fact = 1 << iota
	FactScreenCaptureAPI
	FactRecordingAPI
	FactWebcamSelfTest
	FactScreenSelfTest
	FactChannelReachable
)

// AllFacts is the set of facts required to proceed past the compatibility check.
const AllFacts = FactDeviceEnumeration | FactScreenCaptureAPI | FactRecordingAPI |
	FactWebcamSelfTest | FactScreenSelfTest | FactChannelReachable

// Facts lists every fact in reporting order.
var Facts = [...]Fact{
	FactDeviceEnumeration,
	FactScreenCaptureAPI,
	FactRecordingAPI,
	FactWebcamSelfTest,
	FactScreenSelfTest,
	FactChannelReachable,
}

func (f Fact) String() string {
	switch f {
	case FactDeviceEnumeration:
		return "video-capture"
	case FactScreenCaptureAPI:
		return "screen-capture"
	case FactRecordingAPI:
		return "recording"
	case FactWebcamSelfTest:
		return "webcam"
	case FactScreenSelfTest:
		return "screen-sharing"
	case FactChannelReachable:
		return "connection"
	default:
		return "unknown"
	}
}

// CapabilityStatus records which facts are known and which passed.
type CapabilityStatus struct {
	Known  Fact
	Passed Fact
}

// Set records the outcome of a fact. It returns false if the fact was
// already known, leaving the status unchanged.
func (s *CapabilityStatus) Set(f Fact, ok bool) bool {
	if s.Known&f != 0 {
		return false
	}
	s.Known |= f
	if ok {
		s.Passed |= f
	}
	return true
}

// Complete reports whether all six facts are known.
func (s CapabilityStatus) Complete() bool {
	return s.Known == AllFacts
}

// Compatible reports whether all six facts passed.
func (s CapabilityStatus) Compatible() bool {
	return s.Passed == AllFacts
}
