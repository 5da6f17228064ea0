package step

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/oliveagle/jsonpath"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/model"
	"go.uber.org/zap"
)

var _ Step = new(conditionStep)

// conditionStep branches on a subject/context field comparison, or on a
// javascript expression when one is configured. Anything that cannot be
// resolved or evaluated takes the false edge - conditions fail closed, they
// never fail a run.
type conditionStep struct {
	baseStep
	field      string
	operator   string
	value      any
	expression string
}

func (c *conditionStep) Interpret(run *model.Run, now time.Time, env *Environment) Instruction {
	var outcome bool
	if len(c.expression) > 0 {
		outcome = c.evaluateExpression(run, env)
	} else {
		outcome = c.evaluateComparison(run, env)
	}
	label := model.EDGE_FALSE
	if outcome {
		label = model.EDGE_TRUE
	}
	next := c.firstNext(label)
	if len(next) == 0 {
		return Terminate(model.RUN_COMPLETED)
	}
	return GoTo(next)
}

func (c *conditionStep) resolveField(run *model.Run, env *Environment) (any, bool) {
	if strings.HasPrefix(c.field, "$") {
		value, err := jsonpath.JsonPathLookup(run.Data, c.field)
		if err != nil || value == nil {
			return nil, false
		}
		return value, true
	}
	value, err := env.Lookup.ResolveField(run.SubjectId, c.field)
	if err != nil {
		return nil, false
	}
	return value, true
}

func (c *conditionStep) evaluateComparison(run *model.Run, env *Environment) bool {
	resolved, ok := c.resolveField(run, env)
	if !ok {
		return false
	}
	switch c.operator {
	case "exists":
		return true
	case "eq":
		return equals(resolved, c.value)
	case "neq":
		return !equals(resolved, c.value)
	case "contains":
		return strings.Contains(toString(resolved), toString(c.value))
	case "gt", "lt", "gte", "lte":
		left, lok := toNumber(resolved)
		right, rok := toNumber(c.value)
		if !lok || !rok {
			return false
		}
		switch c.operator {
		case "gt":
			return left > right
		case "lt":
			return left < right
		case "gte":
			return left >= right
		default:
			return left <= right
		}
	}
	return false
}

func (c *conditionStep) evaluateExpression(run *model.Run, env *Environment) bool {
	vm := goja.New()
	if err := vm.Set("$", run.Data); err != nil {
		return false
	}
	err := vm.Set("subject", func(field string) string {
		value, err := env.Lookup.ResolveField(run.SubjectId, field)
		if err != nil {
			return ""
		}
		return value
	})
	if err != nil {
		return false
	}
	value, err := vm.RunString(c.expression)
	if err != nil {
		logger.Debug("condition expression failed, taking false edge", zap.String("step", c.id), zap.Error(err))
		return false
	}
	outcome, ok := value.Export().(bool)
	return ok && outcome
}

func equals(left any, right any) bool {
	if ln, lok := toNumber(left); lok {
		if rn, rok := toNumber(right); rok {
			return ln == rn
		}
	}
	return toString(left) == toString(right)
}

func toString(v any) string {
	return fmt.Sprintf("%v", v)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
