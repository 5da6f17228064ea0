package step

import (
	"fmt"
	"time"

	"github.com/sendloop/journey/delivery"
	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/subject"
)

type InstructionKind int

const INSTRUCTION_GOTO InstructionKind = 1
const INSTRUCTION_WAIT InstructionKind = 2
const INSTRUCTION_TERMINATE InstructionKind = 3
const INSTRUCTION_FAIL InstructionKind = 4

// Instruction is the tagged transition decision an interpreter hands back to
// the scheduler.
type Instruction struct {
	Kind          InstructionKind
	NextStep      string
	WaitUntil     int64
	TerminalState model.RunState
	Reason        string
}

func GoTo(stepId string) Instruction {
	return Instruction{Kind: INSTRUCTION_GOTO, NextStep: stepId}
}

func WaitUntil(ts int64) Instruction {
	return Instruction{Kind: INSTRUCTION_WAIT, WaitUntil: ts}
}

func Terminate(state model.RunState) Instruction {
	return Instruction{Kind: INSTRUCTION_TERMINATE, TerminalState: state}
}

func Fail(reason string) Instruction {
	return Instruction{Kind: INSTRUCTION_FAIL, Reason: reason}
}

// Environment carries the collaborators interpreters may consult. An
// interpreter may record results into the run's data map, but state and step
// transitions flow only through the returned instruction.
type Environment struct {
	Lookup   subject.Lookup
	Delivery delivery.Service
}

type Step interface {
	GetId() string
	GetKind() model.StepKind
	GetNext() map[string][]string
	Interpret(run *model.Run, now time.Time, env *Environment) Instruction
}

type baseStep struct {
	id   string
	kind model.StepKind
	next map[string][]string
}

func (bs *baseStep) GetId() string {
	return bs.id
}

func (bs *baseStep) GetKind() model.StepKind {
	return bs.kind
}

func (bs *baseStep) GetNext() map[string][]string {
	return bs.next
}

// firstNext returns the first successor on the given edge label, or "".
func (bs *baseStep) firstNext(label string) string {
	successors := bs.next[label]
	if len(successors) == 0 {
		return ""
	}
	return successors[0]
}

// Build converts a StepDef into its interpreter. Definitions reaching here
// have passed validation, so an unknown kind is a programming error.
func Build(def model.StepDef) (Step, error) {
	base := baseStep{
		id:   def.Id,
		kind: def.Kind,
		next: def.Next,
	}
	switch def.Kind {
	case model.STEP_KIND_TRIGGER:
		return &triggerStep{baseStep: base}, nil
	case model.STEP_KIND_DELAY:
		return &delayStep{baseStep: base, delay: time.Duration(def.DelaySeconds) * time.Second}, nil
	case model.STEP_KIND_CONDITION:
		return &conditionStep{
			baseStep:   base,
			field:      def.Field,
			operator:   def.Operator,
			value:      def.Value,
			expression: def.Expression,
		}, nil
	case model.STEP_KIND_SENDEMAIL:
		return &sendEmailStep{baseStep: base, templateId: def.TemplateId, params: def.Params}, nil
	case model.STEP_KIND_EXIT:
		return &exitStep{baseStep: base}, nil
	}
	return nil, fmt.Errorf("unknown step kind %s", def.Kind)
}

// BuildAll converts every step of a definition, keyed by step id.
func BuildAll(def *model.JourneyDef) (map[string]Step, error) {
	steps := make(map[string]Step, len(def.Steps))
	for _, stepDef := range def.Steps {
		st, err := Build(stepDef)
		if err != nil {
			return nil, err
		}
		steps[stepDef.Id] = st
	}
	return steps, nil
}
