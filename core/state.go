package core

// SubmissionState is the lifecycle position of a submission cycle.
type SubmissionState int

const (
	StateIdle SubmissionState = iota
	StateExporting
	StateAwaitingResponse
	StateSuccess
	StateFailure
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateExporting:        "exporting",
	StateAwaitingResponse: "awaiting_response",
	StateSuccess:          "success",
	StateFailure:          "failure",
}

func (s SubmissionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name in JSON payloads.
func (s SubmissionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
