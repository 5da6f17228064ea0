package engine

import (
	"testing"
	"time"

	"github.com/sendloop/journey/delivery"
	"github.com/sendloop/journey/metadata"
	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/persistence"
	"github.com/sendloop/journey/persistence/memory"
	"github.com/sendloop/journey/step"
	"github.com/sendloop/journey/subject"
	"github.com/sendloop/journey/util"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine    *Engine
	runs      *memory.RunStore
	wakes     *memory.WakeQueue
	sends     *memory.SendQueue
	lookup    *subject.StaticLookup
	metadata  metadata.MetadataService
	sendCodec util.EncoderDecoder[model.SendRequest]
}

func newFixture(t *testing.T, def model.JourneyDef) *fixture {
	t.Helper()
	runs := memory.NewRunStore()
	wakes := memory.NewWakeQueue()
	sends := memory.NewSendQueue()
	lookup := subject.NewStaticLookup()
	metadataService := metadata.NewMetadataService(memory.NewDefinitionStore())

	_, err := metadataService.SaveDraft(def)
	require.NoError(t, err)
	_, _, err = metadataService.Activate(def.Name)
	require.NoError(t, err)

	env := &step.Environment{
		Lookup:   lookup,
		Delivery: delivery.NewQueueService(sends),
	}
	return &fixture{
		engine:    New(runs, wakes, metadataService, env),
		runs:      runs,
		wakes:     wakes,
		sends:     sends,
		lookup:    lookup,
		metadata:  metadataService,
		sendCodec: util.NewJsonEncoderDecoder[model.SendRequest](),
	}
}

func welcomeDripDef() model.JourneyDef {
	return model.JourneyDef{
		Name:      "welcome",
		EntryStep: "start",
		Steps: []model.StepDef{
			{Id: "start", Kind: model.STEP_KIND_TRIGGER, Next: map[string][]string{"default": {"wait"}}},
			{Id: "wait", Kind: model.STEP_KIND_DELAY, DelaySeconds: 86400, Next: map[string][]string{"default": {"send"}}},
			{Id: "send", Kind: model.STEP_KIND_SENDEMAIL, TemplateId: "welcome-template"},
		},
	}
}

func countryBranchDef() model.JourneyDef {
	return model.JourneyDef{
		Name:      "localized",
		EntryStep: "start",
		Steps: []model.StepDef{
			{Id: "start", Kind: model.STEP_KIND_TRIGGER, Next: map[string][]string{"default": {"check"}}},
			{Id: "check", Kind: model.STEP_KIND_CONDITION, Field: "country", Operator: "eq", Value: "TR",
				Next: map[string][]string{"true": {"send-tr"}, "false": {"send-intl"}}},
			{Id: "send-tr", Kind: model.STEP_KIND_SENDEMAIL, TemplateId: "tr-template", Next: map[string][]string{"default": {"end"}}},
			{Id: "send-intl", Kind: model.STEP_KIND_SENDEMAIL, TemplateId: "intl-template", Next: map[string][]string{"default": {"end"}}},
			{Id: "end", Kind: model.STEP_KIND_EXIT},
		},
	}
}

// Scenario: trigger -> delay(1d) -> sendemail. The run parks for a day, is
// not woken early, and completes after the due sweep sends the email.
func TestWelcomeDrip(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	f.lookup.Set("sub-1", "email", "a@example.com")

	t0 := time.Now()
	runId, err := f.engine.Admit("welcome", "sub-1", map[string]any{}, t0)
	require.NoError(t, err)

	run, err := f.engine.GetRun(runId)
	require.NoError(t, err)
	require.Equal(t, model.RUN_WAITING, run.State)
	require.Equal(t, t0.Add(24*time.Hour).UnixMilli(), run.WaitUntil)
	require.Equal(t, "wait", run.CurrentStep)

	// an hour later nothing is due
	advanced := f.engine.ResumeDue(t0.Add(time.Hour), 100)
	require.Empty(t, advanced)
	run, _ = f.engine.GetRun(runId)
	require.Equal(t, model.RUN_WAITING, run.State)

	// a day later the run sends and completes
	advanced = f.engine.ResumeDue(t0.Add(24*time.Hour), 100)
	require.Equal(t, []string{runId}, advanced)

	run, err = f.engine.GetRun(runId)
	require.NoError(t, err)
	require.Equal(t, model.RUN_COMPLETED, run.State)
	require.NotEmpty(t, run.Data[step.LAST_SEND_ID_KEY])

	msgs, err := f.sends.Pop(10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	send, err := f.sendCodec.Decode([]byte(msgs[0]))
	require.NoError(t, err)
	require.Equal(t, "welcome-template", send.TemplateId)
	require.Equal(t, "a@example.com", send.Recipient)
}

// Admitting a subject already in an active run returns ErrAlreadyActive and
// leaves the existing run untouched.
func TestAdmitDedup(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	f.lookup.Set("sub-1", "email", "a@example.com")

	t0 := time.Now()
	runId, err := f.engine.Admit("welcome", "sub-1", nil, t0)
	require.NoError(t, err)

	before, err := f.engine.GetRun(runId)
	require.NoError(t, err)

	_, err = f.engine.Admit("welcome", "sub-1", nil, t0.Add(time.Minute))
	require.ErrorIs(t, err, ErrAlreadyActive)

	after, err := f.engine.GetRun(runId)
	require.NoError(t, err)
	require.Equal(t, before.History, after.History)
	require.Equal(t, before.Version, after.Version)

	// a different subject is admitted fine
	_, err = f.engine.Admit("welcome", "sub-2", nil, t0)
	require.NoError(t, err)

	// once the first run finished, the subject may re-enter
	f.engine.ResumeDue(t0.Add(24*time.Hour), 100)
	run, _ := f.engine.GetRun(runId)
	require.True(t, run.State.Terminal())

	_, err = f.engine.Admit("welcome", "sub-1", nil, t0.Add(25*time.Hour))
	require.NoError(t, err)
}

// Scenario: condition branch on country. A TR subject goes down the
// tr-template branch and lastSendId references that send.
func TestCountryBranch(t *testing.T) {
	f := newFixture(t, countryBranchDef())
	f.lookup.Set("sub-tr", "email", "tr@example.com")
	f.lookup.Set("sub-tr", "country", "TR")
	f.lookup.Set("sub-de", "email", "de@example.com")
	f.lookup.Set("sub-de", "country", "DE")

	now := time.Now()
	trRun, err := f.engine.Admit("localized", "sub-tr", nil, now)
	require.NoError(t, err)
	deRun, err := f.engine.Admit("localized", "sub-de", nil, now)
	require.NoError(t, err)

	run, err := f.engine.GetRun(trRun)
	require.NoError(t, err)
	require.Equal(t, model.RUN_EXITED, run.State)

	msgs, err := f.sends.Pop(10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	sendsById := make(map[string]string)
	for _, msg := range msgs {
		send, err := f.sendCodec.Decode([]byte(msg))
		require.NoError(t, err)
		sendsById[send.SendId] = send.TemplateId
	}
	require.Equal(t, "tr-template", sendsById[run.Data[step.LAST_SEND_ID_KEY].(string)])

	run, err = f.engine.GetRun(deRun)
	require.NoError(t, err)
	require.Equal(t, "intl-template", sendsById[run.Data[step.LAST_SEND_ID_KEY].(string)])
}

// A condition over a field nobody can resolve takes the false edge instead of
// failing the run.
func TestConditionFailClosed(t *testing.T) {
	f := newFixture(t, countryBranchDef())
	f.lookup.Set("sub-x", "email", "x@example.com")

	now := time.Now()
	runId, err := f.engine.Admit("localized", "sub-x", nil, now)
	require.NoError(t, err)

	run, err := f.engine.GetRun(runId)
	require.NoError(t, err)
	require.Equal(t, model.RUN_EXITED, run.State)

	msgs, _ := f.sends.Pop(10)
	require.Len(t, msgs, 1)
	send, err := f.sendCodec.Decode([]byte(msgs[0]))
	require.NoError(t, err)
	require.Equal(t, "intl-template", send.TemplateId)
}

// One run's rejected send must not keep the rest of a due batch from
// advancing.
func TestResumeDueIndependentFailure(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	t0 := time.Now()

	subjects := []string{"sub-1", "sub-2", "sub-3"}
	runIds := make(map[string]string)
	for _, s := range subjects {
		id, err := f.engine.Admit("welcome", s, nil, t0)
		require.NoError(t, err)
		runIds[s] = id
	}
	// sub-2 has no email on file, its send will be rejected
	f.lookup.Set("sub-1", "email", "one@example.com")
	f.lookup.Set("sub-3", "email", "three@example.com")

	advanced := f.engine.ResumeDue(t0.Add(24*time.Hour), 100)
	require.Len(t, advanced, 3)

	for s, expected := range map[string]model.RunState{
		"sub-1": model.RUN_COMPLETED,
		"sub-2": model.RUN_FAILED,
		"sub-3": model.RUN_COMPLETED,
	} {
		run, err := f.engine.GetRun(runIds[s])
		require.NoError(t, err)
		require.Equal(t, expected, run.State, "subject %s", s)
	}

	failed, err := f.engine.GetRun(runIds["sub-2"])
	require.NoError(t, err)
	require.NotEmpty(t, failed.FailureReason)
	require.NotEmpty(t, failed.History)
}

func TestStopRun(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	t0 := time.Now()

	runId, err := f.engine.Admit("welcome", "sub-1", nil, t0)
	require.NoError(t, err)

	require.NoError(t, f.engine.Stop(runId, t0.Add(time.Minute)))

	run, err := f.engine.GetRun(runId)
	require.NoError(t, err)
	require.Equal(t, model.RUN_EXITED, run.State)
	require.Equal(t, "stopped", run.History[len(run.History)-1].Outcome)

	// cancelled wake: the due sweep finds nothing
	advanced := f.engine.ResumeDue(t0.Add(24*time.Hour), 100)
	require.Empty(t, advanced)

	// stopping a finished run is rejected
	require.ErrorIs(t, f.engine.Stop(runId, t0), ErrRunFinished)
}

func TestStoppedSubjectMayReenter(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	t0 := time.Now()

	runId, err := f.engine.Admit("welcome", "sub-1", nil, t0)
	require.NoError(t, err)
	require.NoError(t, f.engine.Stop(runId, t0))

	_, err = f.engine.Admit("welcome", "sub-1", nil, t0.Add(time.Second))
	require.NoError(t, err)
}

// In-flight runs keep executing the version they were admitted on even after
// a new activation.
func TestRunPinnedToVersion(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	f.lookup.Set("sub-1", "email", "a@example.com")

	t0 := time.Now()
	runId, err := f.engine.Admit("welcome", "sub-1", nil, t0)
	require.NoError(t, err)

	// re-activate with a different template
	def := welcomeDripDef()
	def.Steps[2].TemplateId = "welcome-v2"
	_, err = f.metadata.SaveDraft(def)
	require.NoError(t, err)
	version, _, err := f.metadata.Activate("welcome")
	require.NoError(t, err)
	require.Equal(t, 2, version)

	f.engine.ResumeDue(t0.Add(24*time.Hour), 100)

	run, err := f.engine.GetRun(runId)
	require.NoError(t, err)
	require.Equal(t, model.RUN_COMPLETED, run.State)
	require.Equal(t, 1, run.JourneyVersion)

	msgs, _ := f.sends.Pop(10)
	require.Len(t, msgs, 1)
	send, err := f.sendCodec.Decode([]byte(msgs[0]))
	require.NoError(t, err)
	require.Equal(t, "welcome-template", send.TemplateId)
}

// conflictingStore injects version conflicts into the first saves, the way a
// concurrent worker would.
type conflictingStore struct {
	*memory.RunStore
	conflicts int
}

func (s *conflictingStore) Save(run *model.Run, expectedVersion int64) error {
	if s.conflicts > 0 {
		s.conflicts--
		return persistence.ErrVersionConflict
	}
	return s.RunStore.Save(run, expectedVersion)
}

func TestAdvanceConflictRetries(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	f.lookup.Set("sub-1", "email", "a@example.com")
	t0 := time.Now()

	runId, err := f.engine.Admit("welcome", "sub-1", nil, t0)
	require.NoError(t, err)

	store := &conflictingStore{RunStore: f.runs, conflicts: 2}
	env := &step.Environment{Lookup: f.lookup, Delivery: delivery.NewQueueService(f.sends)}
	eng := New(store, f.wakes, f.metadata, env)

	require.NoError(t, eng.Advance(runId, t0.Add(24*time.Hour)))

	run, err := eng.GetRun(runId)
	require.NoError(t, err)
	require.Equal(t, model.RUN_COMPLETED, run.State)
}

func TestAdvanceConflictSurfacesAfterRetries(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	f.lookup.Set("sub-1", "email", "a@example.com")
	t0 := time.Now()

	runId, err := f.engine.Admit("welcome", "sub-1", nil, t0)
	require.NoError(t, err)

	store := &conflictingStore{RunStore: f.runs, conflicts: 10}
	env := &step.Environment{Lookup: f.lookup, Delivery: delivery.NewQueueService(f.sends)}
	eng := New(store, f.wakes, f.metadata, env)

	err = eng.Advance(runId, t0.Add(24*time.Hour))
	require.ErrorIs(t, err, persistence.ErrVersionConflict)
}

// An admission whose first advance cannot save still hands back the run id;
// the run stays queryable at the entry step.
func TestAdmitSurvivesFirstAdvanceError(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	store := &conflictingStore{RunStore: f.runs, conflicts: 10}
	env := &step.Environment{Lookup: f.lookup, Delivery: delivery.NewQueueService(f.sends)}
	eng := New(store, f.wakes, f.metadata, env)

	runId, err := eng.Admit("welcome", "sub-1", nil, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, runId)

	run, err := eng.GetRun(runId)
	require.NoError(t, err)
	require.Equal(t, model.RUN_ACTIVE, run.State)
	require.Equal(t, "start", run.CurrentStep)
}

func TestHistoryTrail(t *testing.T) {
	f := newFixture(t, welcomeDripDef())
	f.lookup.Set("sub-1", "email", "a@example.com")
	t0 := time.Now()

	runId, err := f.engine.Admit("welcome", "sub-1", nil, t0)
	require.NoError(t, err)
	f.engine.ResumeDue(t0.Add(24*time.Hour), 100)

	run, err := f.engine.GetRun(runId)
	require.NoError(t, err)

	var outcomes []string
	for _, entry := range run.History {
		outcomes = append(outcomes, entry.Outcome)
	}
	require.Equal(t, []string{
		"admitted",
		"goto:wait",
		"waiting",
		"goto:send",
		"COMPLETED",
	}, outcomes)
}
