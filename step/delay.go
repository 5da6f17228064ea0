package step

import (
	"time"

	"github.com/sendloop/journey/model"
)

var _ Step = new(delayStep)

type delayStep struct {
	baseStep
	delay time.Duration
}

func (d *delayStep) Interpret(run *model.Run, now time.Time, env *Environment) Instruction {
	// Re-entry after a wake: the run is parked on this step and its wake
	// time has passed.
	if run.State == model.RUN_WAITING && run.WaitUntil > 0 {
		if now.UnixMilli() >= run.WaitUntil {
			next := d.firstNext(model.EDGE_DEFAULT)
			if len(next) == 0 {
				return Terminate(model.RUN_COMPLETED)
			}
			return GoTo(next)
		}
		return WaitUntil(run.WaitUntil)
	}
	return WaitUntil(now.Add(d.delay).UnixMilli())
}
