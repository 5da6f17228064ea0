package step

import (
	"time"

	"github.com/sendloop/journey/model"
)

var _ Step = new(exitStep)

type exitStep struct {
	baseStep
}

func (e *exitStep) Interpret(run *model.Run, now time.Time, env *Environment) Instruction {
	return Terminate(model.RUN_EXITED)
}
