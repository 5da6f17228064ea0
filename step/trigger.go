package step

import (
	"time"

	"github.com/sendloop/journey/model"
)

var _ Step = new(triggerStep)

// triggerStep is the entry node of every journey. A run passes through it
// exactly once; re-evaluation never happens because the scheduler only admits
// a subject at the entry step.
type triggerStep struct {
	baseStep
}

func (t *triggerStep) Interpret(run *model.Run, now time.Time, env *Environment) Instruction {
	next := t.firstNext(model.EDGE_DEFAULT)
	if len(next) == 0 {
		return Terminate(model.RUN_COMPLETED)
	}
	return GoTo(next)
}
