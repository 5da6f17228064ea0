package metadata

import (
	"fmt"

	"github.com/sendloop/journey/model"
)

const CODE_ENTRY_MISSING string = "entry_missing"
const CODE_DUPLICATE_STEP string = "duplicate_step"
const CODE_UNKNOWN_KIND string = "unknown_kind"
const CODE_DANGLING_EDGE string = "dangling_edge"
const CODE_MISSING_BRANCH string = "missing_branch"
const CODE_BAD_DELAY string = "bad_delay"
const CODE_MISSING_TEMPLATE string = "missing_template"
const CODE_NO_OUTGOING string = "no_outgoing"
const CODE_TIGHT_LOOP string = "tight_loop"

type StepError struct {
	StepId string `json:"stepId"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type ValidationResult struct {
	Valid  bool        `json:"valid"`
	Errors []StepError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(stepId string, code string, format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, StepError{
		StepId: stepId,
		Code:   code,
		Reason: fmt.Sprintf(format, args...),
	})
}

// Validate checks a definition for structural soundness. It is pure and never
// rejects by panicking or erroring - a malformed definition comes back as an
// Invalid result listing every offending step.
func Validate(def *model.JourneyDef) *ValidationResult {
	result := &ValidationResult{Valid: true}

	stepIds := make(map[string]bool)
	for _, stepDef := range def.Steps {
		if len(stepDef.Id) == 0 {
			result.add("", CODE_DUPLICATE_STEP, "step with empty id")
			continue
		}
		if stepIds[stepDef.Id] {
			result.add(stepDef.Id, CODE_DUPLICATE_STEP, "step id %s is duplicate", stepDef.Id)
			continue
		}
		stepIds[stepDef.Id] = true
	}

	if len(def.EntryStep) == 0 || !stepIds[def.EntryStep] {
		result.add(def.EntryStep, CODE_ENTRY_MISSING, "entry step %q not defined", def.EntryStep)
	}

	for _, stepDef := range def.Steps {
		validateStep(def, stepDef, stepIds, result)
	}

	checkCycles(def, stepIds, result)
	return result
}

func validateStep(def *model.JourneyDef, stepDef model.StepDef, stepIds map[string]bool, result *ValidationResult) {
	for label, successors := range stepDef.Next {
		if len(successors) == 0 {
			result.add(stepDef.Id, CODE_DANGLING_EDGE, "edge %q has no target", label)
		}
		for _, to := range successors {
			if !stepIds[to] {
				result.add(stepDef.Id, CODE_DANGLING_EDGE, "edge %q references unknown step %s", label, to)
			}
		}
	}

	switch stepDef.Kind {
	case model.STEP_KIND_TRIGGER, model.STEP_KIND_DELAY:
		if len(stepDef.Next[model.EDGE_DEFAULT]) == 0 {
			result.add(stepDef.Id, CODE_NO_OUTGOING, "%s step needs a default edge", stepDef.Kind)
		}
	case model.STEP_KIND_SENDEMAIL:
		// a sendemail step without successors is a valid journey end; the
		// run completes after the send
	case model.STEP_KIND_CONDITION:
		for _, label := range []string{model.EDGE_TRUE, model.EDGE_FALSE} {
			if len(stepDef.Next[label]) == 0 {
				result.add(stepDef.Id, CODE_MISSING_BRANCH, "condition step needs a %q edge", label)
			}
		}
	case model.STEP_KIND_EXIT:
	default:
		result.add(stepDef.Id, CODE_UNKNOWN_KIND, "unknown step kind %q", stepDef.Kind)
	}

	if stepDef.Kind == model.STEP_KIND_DELAY && stepDef.DelaySeconds <= 0 {
		result.add(stepDef.Id, CODE_BAD_DELAY, "delay of %d seconds", stepDef.DelaySeconds)
	}
	if stepDef.Kind == model.STEP_KIND_SENDEMAIL && len(stepDef.TemplateId) == 0 {
		result.add(stepDef.Id, CODE_MISSING_TEMPLATE, "sendemail step without a template")
	}
}

// checkCycles walks the subgraph reachable from the entry step and flags any
// strongly connected component that cycles without passing a delay step. A
// loop with no delay member would spin a run through its members in a single
// tick, forever.
func checkCycles(def *model.JourneyDef, stepIds map[string]bool, result *ValidationResult) {
	if !stepIds[def.EntryStep] {
		return
	}

	reachable := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		stepDef := def.Step(id)
		if stepDef == nil {
			return
		}
		for _, successors := range stepDef.Next {
			for _, to := range successors {
				if stepIds[to] {
					visit(to)
				}
			}
		}
	}
	visit(def.EntryStep)

	for _, component := range stronglyConnected(def, reachable) {
		if !cyclic(def, component) {
			continue
		}
		hasDelay := false
		for id := range component {
			if stepDef := def.Step(id); stepDef != nil && stepDef.Kind == model.STEP_KIND_DELAY {
				hasDelay = true
				break
			}
		}
		if !hasDelay {
			for id := range component {
				result.add(id, CODE_TIGHT_LOOP, "cycle without a delay step")
			}
		}
	}
}

// stronglyConnected is Tarjan's algorithm restricted to the reachable steps.
func stronglyConnected(def *model.JourneyDef, reachable map[string]bool) []map[string]bool {
	index := 0
	indexes := make(map[string]int)
	lowlinks := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var components []map[string]bool

	var strongConnect func(id string)
	strongConnect = func(id string) {
		indexes[id] = index
		lowlinks[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		stepDef := def.Step(id)
		if stepDef != nil {
			for _, successors := range stepDef.Next {
				for _, to := range successors {
					if !reachable[to] {
						continue
					}
					if _, seen := indexes[to]; !seen {
						strongConnect(to)
						if lowlinks[to] < lowlinks[id] {
							lowlinks[id] = lowlinks[to]
						}
					} else if onStack[to] && indexes[to] < lowlinks[id] {
						lowlinks[id] = indexes[to]
					}
				}
			}
		}

		if lowlinks[id] == indexes[id] {
			component := make(map[string]bool)
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				component[top] = true
				if top == id {
					break
				}
			}
			components = append(components, component)
		}
	}

	for id := range reachable {
		if _, seen := indexes[id]; !seen {
			strongConnect(id)
		}
	}
	return components
}

// cyclic reports whether the component actually contains a cycle: more than
// one member, or a single member with a self edge.
func cyclic(def *model.JourneyDef, component map[string]bool) bool {
	if len(component) > 1 {
		return true
	}
	for id := range component {
		stepDef := def.Step(id)
		if stepDef == nil {
			return false
		}
		for _, successors := range stepDef.Next {
			for _, to := range successors {
				if to == id {
					return true
				}
			}
		}
	}
	return false
}
