package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/metadata"
	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/persistence"
	"github.com/sendloop/journey/step"
	"go.uber.org/zap"
)

var ErrAlreadyActive = errors.New("subject already in an active run of this journey")
var ErrRunFinished = errors.New("run already finished")

// maxSaveAttempts bounds the read-interpret-save retries on a version
// conflict before the conflict is surfaced to the caller.
const maxSaveAttempts = 3

// maxTransitionsPerTick caps how many steps a single advance may chain in one
// logical tick. The validator rejects delay-less cycles, so tripping this
// means the stored definition and validator disagree.
const maxTransitionsPerTick = 256

type Engine struct {
	runs     persistence.RunStore
	wakes    persistence.WakeQueue
	metadata metadata.MetadataService
	env      *step.Environment
}

func New(runs persistence.RunStore, wakes persistence.WakeQueue, metadataService metadata.MetadataService, env *step.Environment) *Engine {
	return &Engine{
		runs:     runs,
		wakes:    wakes,
		metadata: metadataService,
		env:      env,
	}
}

// Admit creates a run of the journey's active version for the subject and
// advances it immediately. At most one ACTIVE/WAITING run may exist per
// (journey, subject) pair; a second admission returns ErrAlreadyActive.
func (e *Engine) Admit(journey string, subjectId string, triggerData map[string]any, now time.Time) (string, error) {
	if _, err := e.runs.FindActive(journey, subjectId); err == nil {
		return "", ErrAlreadyActive
	}
	def, err := e.metadata.GetActive(journey)
	if err != nil {
		logger.Error("journey definition not found", zap.String("journey", journey), zap.Error(err))
		return "", err
	}
	if triggerData == nil {
		triggerData = map[string]any{}
	}
	run := &model.Run{
		Id:             uuid.New().String(),
		Journey:        journey,
		JourneyVersion: def.Version,
		SubjectId:      subjectId,
		CurrentStep:    def.EntryStep,
		State:          model.RUN_ACTIVE,
		Data:           map[string]any{"trigger": triggerData},
		History: []model.HistoryEntry{
			{StepId: def.EntryStep, EnteredAt: now.UnixMilli(), Outcome: "admitted"},
		},
	}
	if err := e.runs.Create(run); err != nil {
		if errors.Is(err, persistence.ErrDuplicateActive) {
			return "", ErrAlreadyActive
		}
		return "", err
	}
	logger.Info("run admitted", zap.String("journey", journey), zap.String("subject", subjectId), zap.String("runId", run.Id))
	// the run exists and is queryable from here on; a failed first advance
	// is recorded on the run itself (or swept up by the next due scan), so
	// it does not turn a successful admission into an error
	if err := e.Advance(run.Id, now); err != nil {
		logger.Error("error on first advance after admission", zap.String("runId", run.Id), zap.Error(err))
	}
	return run.Id, nil
}

// Advance moves a run forward until it parks, terminates or fails. The save
// is version-checked, so two workers advancing the same run concurrently
// resolve to one winner; the loser re-reads and retries.
func (e *Engine) Advance(runId string, now time.Time) error {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		run, err := e.runs.Get(runId)
		if err != nil {
			return err
		}
		if run.State.Terminal() {
			return ErrRunFinished
		}
		expected := run.Version
		def, err := e.metadata.GetVersion(run.Journey, run.JourneyVersion)
		if err != nil {
			logger.Error("journey version not found", zap.String("journey", run.Journey), zap.Int("version", run.JourneyVersion), zap.Error(err))
			return err
		}
		steps, err := step.BuildAll(def)
		if err != nil {
			return err
		}

		e.interpret(run, steps, now)

		err = e.runs.Save(run, expected)
		if errors.Is(err, persistence.ErrVersionConflict) {
			logger.Debug("run version conflict, retrying advance", zap.String("runId", runId))
			continue
		}
		if err != nil {
			return err
		}
		if run.State == model.RUN_WAITING {
			if err := e.wakes.Push(run.Id, time.UnixMilli(run.WaitUntil)); err != nil {
				logger.Error("error scheduling wake", zap.String("runId", run.Id), zap.Error(err))
			}
		} else {
			e.wakes.Cancel(run.Id)
		}
		if run.State.Terminal() {
			logger.Info("run finished", zap.String("runId", run.Id), zap.String("state", run.State.String()))
		}
		return nil
	}
	return persistence.ErrVersionConflict
}

// interpret chains step transitions for one run within one logical tick,
// mutating the run in memory. Transitions of a single run are strictly
// sequential; the caller persists the result.
func (e *Engine) interpret(run *model.Run, steps map[string]step.Step, now time.Time) {
	for i := 0; i < maxTransitionsPerTick; i++ {
		current, ok := steps[run.CurrentStep]
		if !ok {
			e.fail(run, now, fmt.Sprintf("step %s not in journey definition", run.CurrentStep))
			return
		}
		in := current.Interpret(run, now, e.env)
		switch in.Kind {
		case step.INSTRUCTION_GOTO:
			e.appendHistory(run, now, fmt.Sprintf("goto:%s", in.NextStep))
			run.CurrentStep = in.NextStep
			run.State = model.RUN_ACTIVE
			run.WaitUntil = 0
		case step.INSTRUCTION_WAIT:
			if run.State == model.RUN_WAITING && run.WaitUntil == in.WaitUntil {
				return
			}
			run.State = model.RUN_WAITING
			run.WaitUntil = in.WaitUntil
			e.appendHistory(run, now, "waiting")
			return
		case step.INSTRUCTION_TERMINATE:
			run.State = in.TerminalState
			run.WaitUntil = 0
			e.appendHistory(run, now, run.State.String())
			return
		case step.INSTRUCTION_FAIL:
			e.fail(run, now, in.Reason)
			return
		}
	}
	e.fail(run, now, "too many step transitions in one tick")
}

func (e *Engine) fail(run *model.Run, now time.Time, reason string) {
	run.State = model.RUN_FAILED
	run.WaitUntil = 0
	run.FailureReason = reason
	e.appendHistory(run, now, fmt.Sprintf("failed: %s", reason))
	logger.Error("run failed", zap.String("runId", run.Id), zap.String("reason", reason))
}

func (e *Engine) appendHistory(run *model.Run, now time.Time, outcome string) {
	run.History = append(run.History, model.HistoryEntry{
		StepId:    run.CurrentStep,
		EnteredAt: now.UnixMilli(),
		Outcome:   outcome,
	})
}

// ResumeDue advances every run whose wake time has passed. Runs are
// independent: one run's failure is logged and the rest of the batch still
// advances.
func (e *Engine) ResumeDue(now time.Time, batchSize int) []string {
	due, err := e.runs.FindDueBefore(now.UnixMilli(), batchSize)
	if err != nil {
		logger.Error("error scanning due runs", zap.Error(err))
		return nil
	}
	var advanced []string
	for _, runId := range due {
		if err := e.Advance(runId, now); err != nil {
			logger.Error("error advancing due run", zap.String("runId", runId), zap.Error(err))
			continue
		}
		advanced = append(advanced, runId)
	}
	return advanced
}

// Stop transitions an ACTIVE or WAITING run to EXITED and cancels its pending
// wake. Terminal runs are left untouched.
func (e *Engine) Stop(runId string, now time.Time) error {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		run, err := e.runs.Get(runId)
		if err != nil {
			return err
		}
		if run.State.Terminal() {
			return ErrRunFinished
		}
		expected := run.Version
		run.State = model.RUN_EXITED
		run.WaitUntil = 0
		e.appendHistory(run, now, "stopped")
		err = e.runs.Save(run, expected)
		if errors.Is(err, persistence.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}
		e.wakes.Cancel(runId)
		logger.Info("run stopped", zap.String("runId", runId))
		return nil
	}
	return persistence.ErrVersionConflict
}

func (e *Engine) GetRun(runId string) (*model.Run, error) {
	return e.runs.Get(runId)
}
