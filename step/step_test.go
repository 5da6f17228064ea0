package step

import (
	"errors"
	"testing"
	"time"

	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/subject"
	"github.com/stretchr/testify/require"
)

type fakeDelivery struct {
	sends    []string
	rejected bool
}

func (f *fakeDelivery) EnqueueSend(templateId string, recipient string, metadata map[string]any) (string, error) {
	if f.rejected {
		return "", errors.New("template not found")
	}
	f.sends = append(f.sends, templateId)
	return "send-1", nil
}

func testEnv() (*Environment, *subject.StaticLookup, *fakeDelivery) {
	lookup := subject.NewStaticLookup()
	dlv := &fakeDelivery{}
	return &Environment{Lookup: lookup, Delivery: dlv}, lookup, dlv
}

func testRun() *model.Run {
	return &model.Run{
		Id:          "r1",
		Journey:     "welcome",
		SubjectId:   "sub-1",
		CurrentStep: "s1",
		State:       model.RUN_ACTIVE,
		Data:        map[string]any{},
	}
}

func TestDelayFirstEntry(t *testing.T) {
	env, _, _ := testEnv()
	st, err := Build(model.StepDef{
		Id:           "d1",
		Kind:         model.STEP_KIND_DELAY,
		DelaySeconds: 7200,
		Next:         map[string][]string{"default": {"s2"}},
	})
	require.NoError(t, err)

	now := time.Now()
	in := st.Interpret(testRun(), now, env)
	require.Equal(t, INSTRUCTION_WAIT, in.Kind)
	require.Equal(t, now.Add(2*time.Hour).UnixMilli(), in.WaitUntil)
}

func TestDelayReEntry(t *testing.T) {
	env, _, _ := testEnv()
	st, err := Build(model.StepDef{
		Id:           "d1",
		Kind:         model.STEP_KIND_DELAY,
		DelaySeconds: 60,
		Next:         map[string][]string{"default": {"s2"}},
	})
	require.NoError(t, err)

	now := time.Now()
	run := testRun()
	run.State = model.RUN_WAITING
	run.WaitUntil = now.Add(-time.Second).UnixMilli()

	in := st.Interpret(run, now, env)
	require.Equal(t, INSTRUCTION_GOTO, in.Kind)
	require.Equal(t, "s2", in.NextStep)
}

func TestDelayNotYetDue(t *testing.T) {
	env, _, _ := testEnv()
	st, err := Build(model.StepDef{
		Id:           "d1",
		Kind:         model.STEP_KIND_DELAY,
		DelaySeconds: 60,
		Next:         map[string][]string{"default": {"s2"}},
	})
	require.NoError(t, err)

	now := time.Now()
	run := testRun()
	run.State = model.RUN_WAITING
	run.WaitUntil = now.Add(time.Minute).UnixMilli()

	in := st.Interpret(run, now, env)
	require.Equal(t, INSTRUCTION_WAIT, in.Kind)
	require.Equal(t, run.WaitUntil, in.WaitUntil)
}

func TestConditionOperators(t *testing.T) {
	env, lookup, _ := testEnv()
	lookup.Set("sub-1", "country", "TR")
	lookup.Set("sub-1", "age", "30")

	for scenario, tc := range map[string]struct {
		def  model.StepDef
		next string
	}{
		"eq match takes true edge": {
			def:  model.StepDef{Field: "country", Operator: "eq", Value: "TR"},
			next: "yes",
		},
		"eq mismatch takes false edge": {
			def:  model.StepDef{Field: "country", Operator: "eq", Value: "DE"},
			next: "no",
		},
		"neq takes true edge": {
			def:  model.StepDef{Field: "country", Operator: "neq", Value: "DE"},
			next: "yes",
		},
		"numeric gt": {
			def:  model.StepDef{Field: "age", Operator: "gt", Value: 18},
			next: "yes",
		},
		"numeric lte fails closed on string": {
			def:  model.StepDef{Field: "country", Operator: "lte", Value: 10},
			next: "no",
		},
		"contains": {
			def:  model.StepDef{Field: "country", Operator: "contains", Value: "T"},
			next: "yes",
		},
		"exists": {
			def:  model.StepDef{Field: "country", Operator: "exists"},
			next: "yes",
		},
		"missing field fails closed": {
			def:  model.StepDef{Field: "plan", Operator: "eq", Value: "pro"},
			next: "no",
		},
		"context jsonpath field": {
			def:  model.StepDef{Field: "$.trigger.segment", Operator: "eq", Value: "vip"},
			next: "yes",
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			def := tc.def
			def.Id = "c1"
			def.Kind = model.STEP_KIND_CONDITION
			def.Next = map[string][]string{"true": {"yes"}, "false": {"no"}}
			st, err := Build(def)
			require.NoError(t, err)

			run := testRun()
			run.Data["trigger"] = map[string]any{"segment": "vip"}
			in := st.Interpret(run, time.Now(), env)
			require.Equal(t, INSTRUCTION_GOTO, in.Kind)
			require.Equal(t, tc.next, in.NextStep)
		})
	}
}

func TestConditionExpression(t *testing.T) {
	env, lookup, _ := testEnv()
	lookup.Set("sub-1", "country", "TR")

	st, err := Build(model.StepDef{
		Id:         "c1",
		Kind:       model.STEP_KIND_CONDITION,
		Expression: `subject("country") === "TR" && $.trigger.score > 5`,
		Next:       map[string][]string{"true": {"yes"}, "false": {"no"}},
	})
	require.NoError(t, err)

	run := testRun()
	run.Data["trigger"] = map[string]any{"score": 9}
	in := st.Interpret(run, time.Now(), env)
	require.Equal(t, "yes", in.NextStep)

	run.Data["trigger"] = map[string]any{"score": 1}
	in = st.Interpret(run, time.Now(), env)
	require.Equal(t, "no", in.NextStep)
}

func TestConditionExpressionErrorFailsClosed(t *testing.T) {
	env, _, _ := testEnv()
	st, err := Build(model.StepDef{
		Id:         "c1",
		Kind:       model.STEP_KIND_CONDITION,
		Expression: `throw new Error("boom")`,
		Next:       map[string][]string{"true": {"yes"}, "false": {"no"}},
	})
	require.NoError(t, err)

	in := st.Interpret(testRun(), time.Now(), env)
	require.Equal(t, "no", in.NextStep)
}

func TestSendEmail(t *testing.T) {
	env, lookup, dlv := testEnv()
	lookup.Set("sub-1", "email", "a@example.com")

	st, err := Build(model.StepDef{
		Id:         "m1",
		Kind:       model.STEP_KIND_SENDEMAIL,
		TemplateId: "welcome",
		Next:       map[string][]string{"default": {"s2"}},
	})
	require.NoError(t, err)

	run := testRun()
	in := st.Interpret(run, time.Now(), env)
	require.Equal(t, INSTRUCTION_GOTO, in.Kind)
	require.Equal(t, "s2", in.NextStep)
	require.Equal(t, "send-1", run.Data[LAST_SEND_ID_KEY])
	require.Equal(t, []string{"welcome"}, dlv.sends)
}

func TestSendEmailRejected(t *testing.T) {
	env, lookup, dlv := testEnv()
	lookup.Set("sub-1", "email", "a@example.com")
	dlv.rejected = true

	st, err := Build(model.StepDef{
		Id:         "m1",
		Kind:       model.STEP_KIND_SENDEMAIL,
		TemplateId: "welcome",
		Next:       map[string][]string{"default": {"s2"}},
	})
	require.NoError(t, err)

	in := st.Interpret(testRun(), time.Now(), env)
	require.Equal(t, INSTRUCTION_FAIL, in.Kind)
}

func TestSendEmailNoRecipient(t *testing.T) {
	env, _, _ := testEnv()
	st, err := Build(model.StepDef{
		Id:         "m1",
		Kind:       model.STEP_KIND_SENDEMAIL,
		TemplateId: "welcome",
		Next:       map[string][]string{"default": {"s2"}},
	})
	require.NoError(t, err)

	in := st.Interpret(testRun(), time.Now(), env)
	require.Equal(t, INSTRUCTION_FAIL, in.Kind)
}

func TestExit(t *testing.T) {
	env, _, _ := testEnv()
	st, err := Build(model.StepDef{Id: "x1", Kind: model.STEP_KIND_EXIT})
	require.NoError(t, err)

	in := st.Interpret(testRun(), time.Now(), env)
	require.Equal(t, INSTRUCTION_TERMINATE, in.Kind)
	require.Equal(t, model.RUN_EXITED, in.TerminalState)
}
