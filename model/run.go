package model

type RunState int

const RUN_ACTIVE RunState = 1
const RUN_WAITING RunState = 2
const RUN_COMPLETED RunState = 3
const RUN_FAILED RunState = 4
const RUN_EXITED RunState = 5

func (s RunState) Terminal() bool {
	return s == RUN_COMPLETED || s == RUN_FAILED || s == RUN_EXITED
}

func (s RunState) String() string {
	switch s {
	case RUN_ACTIVE:
		return "ACTIVE"
	case RUN_WAITING:
		return "WAITING"
	case RUN_COMPLETED:
		return "COMPLETED"
	case RUN_FAILED:
		return "FAILED"
	case RUN_EXITED:
		return "EXITED"
	}
	return "UNKNOWN"
}

type HistoryEntry struct {
	StepId    string `json:"stepId"`
	EnteredAt int64  `json:"enteredAt"`
	Outcome   string `json:"outcome"`
}

// Run is one execution of a journey version for one subject. Version is the
// optimistic-concurrency counter checked by RunStore.Save - it has nothing to
// do with JourneyVersion.
type Run struct {
	Id             string         `json:"id"`
	Journey        string         `json:"journey"`
	JourneyVersion int            `json:"journeyVersion"`
	SubjectId      string         `json:"subjectId"`
	CurrentStep    string         `json:"currentStep"`
	State          RunState       `json:"state"`
	WaitUntil      int64          `json:"waitUntil,omitempty"`
	Data           map[string]any `json:"data"`
	History        []HistoryEntry `json:"history"`
	FailureReason  string         `json:"failureReason,omitempty"`
	Version        int64          `json:"version"`
}
