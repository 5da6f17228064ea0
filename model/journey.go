package model

type StepKind string

const STEP_KIND_TRIGGER StepKind = "trigger"
const STEP_KIND_DELAY StepKind = "delay"
const STEP_KIND_CONDITION StepKind = "condition"
const STEP_KIND_SENDEMAIL StepKind = "sendemail"
const STEP_KIND_EXIT StepKind = "exit"

const EDGE_DEFAULT string = "default"
const EDGE_TRUE string = "true"
const EDGE_FALSE string = "false"

// JourneyDef is the authored step graph. Activated versions are immutable -
// activation copies the draft under a new version number, so in-flight runs
// always reference a stable snapshot.
type JourneyDef struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	EntryStep string    `json:"entryStep"`
	Steps     []StepDef `json:"steps"`
}

type StepDef struct {
	Id           string              `json:"id"`
	Kind         StepKind            `json:"kind"`
	DelaySeconds int                 `json:"delaySeconds,omitempty"`
	Field        string              `json:"field,omitempty"`
	Operator     string              `json:"operator,omitempty"`
	Value        any                 `json:"value,omitempty"`
	Expression   string              `json:"expression,omitempty"`
	TemplateId   string              `json:"templateId,omitempty"`
	Params       map[string]any      `json:"params,omitempty"`
	Next         map[string][]string `json:"next,omitempty"`
}

func (d *JourneyDef) Step(id string) *StepDef {
	for i := range d.Steps {
		if d.Steps[i].Id == id {
			return &d.Steps[i]
		}
	}
	return nil
}
